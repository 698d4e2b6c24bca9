package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/specialistvlad/stagegrid/internal/ctxlog"
	"github.com/specialistvlad/stagegrid/internal/secrets"
)

// DefaultShell wraps commands that do not name a shell.
const DefaultShell = "sh"

// waitDelay bounds how long output pipes are drained after a step is killed.
const waitDelay = 2 * time.Second

// Shell runs step commands through `<shell> -c`.
type Shell struct {
	// Secrets resolves step secret handles. Steps declaring secrets fail
	// when it is nil.
	Secrets secrets.Resolver
	// Dir is the base for relative step working directories.
	Dir string
	// Output, when set, receives raw step output in addition to the log.
	Output io.Writer
	// InheritEnv passes the parent process environment to steps.
	InheritEnv bool
}

// NewShell creates a Shell executor that inherits the process environment.
func NewShell(resolver secrets.Resolver) *Shell {
	return &Shell{Secrets: resolver, InheritEnv: true}
}

// Execute implements StepExecutor.
func (s *Shell) Execute(ctx context.Context, inv Invocation) (ExitStatus, error) {
	logger := ctxlog.FromContext(ctx).With("instance", inv.Instance, "step", inv.StepName())

	env, err := s.environ(ctx, inv)
	if err != nil {
		return ExitStatus{Code: -1}, err
	}

	runCtx := ctx
	if inv.Step.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, inv.Step.Timeout)
		defer cancel()
	}

	shell := inv.Step.Shell
	if shell == "" {
		shell = DefaultShell
	}
	cmd := exec.CommandContext(runCtx, shell, "-c", inv.Command)
	cmd.Env = env
	cmd.Dir = s.workingDir(inv.Step.WorkingDir)
	cmd.WaitDelay = waitDelay

	out := newLineLogger(logger)
	var w io.Writer = out
	if s.Output != nil {
		w = io.MultiWriter(out, s.Output)
	}
	cmd.Stdout = w
	cmd.Stderr = w

	logger.Debug("Starting step.", "command", inv.Command, "dir", cmd.Dir)
	runErr := cmd.Run()
	out.Flush()

	if runErr == nil {
		return ExitStatus{}, nil
	}
	if ctx.Err() != nil {
		return ExitStatus{Code: -1}, fmt.Errorf("step %q interrupted: %w", inv.StepName(), ctx.Err())
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return ExitStatus{Code: -1}, fmt.Errorf("step %q timed out after %s", inv.StepName(), inv.Step.Timeout)
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return ExitStatus{Code: exitErr.ExitCode()}, nil
	}
	return ExitStatus{Code: -1}, fmt.Errorf("failed to start step %q: %w", inv.StepName(), runErr)
}

func (s *Shell) workingDir(dir string) string {
	switch {
	case dir == "":
		return s.Dir
	case filepath.IsAbs(dir) || s.Dir == "":
		return dir
	default:
		return filepath.Join(s.Dir, dir)
	}
}

// environ builds the process environment. Later entries win, and secrets are
// applied last so that plain env cannot shadow them.
func (s *Shell) environ(ctx context.Context, inv Invocation) ([]string, error) {
	var env []string
	if s.InheritEnv {
		env = os.Environ()
	}

	keys := make([]string, 0, len(inv.Env))
	for k := range inv.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+inv.Env[k])
	}

	if len(inv.Secrets) == 0 {
		return env, nil
	}
	if s.Secrets == nil {
		return nil, fmt.Errorf("step %q declares secrets but no secret store is configured", inv.StepName())
	}
	values, err := secrets.ResolveAll(ctx, s.Secrets, inv.Secrets)
	if err != nil {
		return nil, fmt.Errorf("step %q: %w", inv.StepName(), err)
	}
	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		env = append(env, k+"="+values[k])
	}
	return env, nil
}
