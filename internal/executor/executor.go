// Package executor runs the steps of a job instance. The scheduler only sees
// the StepExecutor interface; this package provides the shell-backed
// implementation used by the CLI plus small adapters for tests and dry runs.
package executor

import (
	"context"
	"fmt"

	"github.com/specialistvlad/stagegrid/internal/ctxlog"
	"github.com/specialistvlad/stagegrid/internal/pipeline"
)

// Invocation is everything needed to run one step of one instance.
type Invocation struct {
	RunID string
	// Instance is the job instance id, e.g. "build[target=x86_64]".
	Instance  string
	StepIndex int
	Step      pipeline.Step
	// Command is the step command with matrix placeholders substituted.
	Command string
	// Env is the merged pipeline, stage, step and matrix environment.
	Env map[string]string
	// Secrets maps env var names to unresolved handles.
	Secrets map[string]pipeline.SecretRef
}

// StepName returns the display name of the step.
func (inv Invocation) StepName() string {
	return inv.Step.DisplayName(inv.StepIndex)
}

// ExitStatus is the outcome of a step that ran.
type ExitStatus struct {
	Code int
}

// Success reports whether the step exited with code 0.
func (s ExitStatus) Success() bool { return s.Code == 0 }

// StepExecutor runs a single step. A non-nil error means the step could not
// be run at all (or was interrupted); a non-zero exit code means it ran and
// failed. Both fail the instance.
type StepExecutor interface {
	Execute(ctx context.Context, inv Invocation) (ExitStatus, error)
}

// Func adapts a function to StepExecutor.
type Func func(ctx context.Context, inv Invocation) (ExitStatus, error)

// Execute implements StepExecutor.
func (f Func) Execute(ctx context.Context, inv Invocation) (ExitStatus, error) {
	return f(ctx, inv)
}

// DryRun logs every step instead of running it and reports success.
type DryRun struct{}

// Execute implements StepExecutor.
func (DryRun) Execute(ctx context.Context, inv Invocation) (ExitStatus, error) {
	if err := ctx.Err(); err != nil {
		return ExitStatus{Code: -1}, fmt.Errorf("step %q not started: %w", inv.StepName(), err)
	}
	ctxlog.FromContext(ctx).Info("Dry run, step not executed.",
		"instance", inv.Instance,
		"step", inv.StepName(),
		"command", inv.Command,
		"secrets", len(inv.Secrets),
	)
	return ExitStatus{}, nil
}
