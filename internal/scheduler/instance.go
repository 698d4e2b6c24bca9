package scheduler

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/specialistvlad/stagegrid/internal/ctxlog"
	"github.com/specialistvlad/stagegrid/internal/executor"
	"github.com/specialistvlad/stagegrid/internal/job"
	"github.com/specialistvlad/stagegrid/internal/pipeline"
)

var errNoCommand = errors.New("step has no command")

// runInstance executes the steps of inst in order, stopping at the first
// failure. It always leaves inst in a terminal state.
func (r *run) runInstance(ctx context.Context, inst *job.Instance) {
	logger := ctxlog.FromContext(ctx).With("instance", inst.ID)
	ctx = ctxlog.WithLogger(ctx, logger)

	if r.sem != nil {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			r.finish(inst, job.Aborted, "cancelled before start")
			return
		}
		defer r.sem.Release(1)
	}
	if ctx.Err() != nil {
		r.finish(inst, job.Aborted, "cancelled before start")
		return
	}

	inst.Transition(job.Running, r.s.now())
	logger.Debug("Instance started.")
	r.s.emit(Event{Kind: InstanceStarted, RunID: r.rc.RunID(), Stage: inst.Stage.Name, Instance: inst.ID, Status: job.Running})

	for i, step := range inst.Stage.Steps {
		name := step.DisplayName(i)
		if ctx.Err() != nil {
			r.finish(inst, job.Aborted, fmt.Sprintf("cancelled before step %q", name))
			return
		}

		command, err := renderCommand(step, inst.Combination)
		if err != nil {
			r.fail(ctx, inst, job.Failure{StepIndex: i, StepName: name, ExitCode: -1, Err: err})
			return
		}

		inv := executor.Invocation{
			RunID:     r.rc.RunID(),
			Instance:  inst.ID,
			StepIndex: i,
			Step:      step,
			Command:   command,
			Env:       r.stepEnv(inst, step),
			Secrets:   r.stepSecrets(step),
		}
		logger.Debug("Running step.", "step", name)
		status, err := r.s.exec.Execute(ctx, inv)
		if err == nil && status.Success() {
			continue
		}
		if ctx.Err() != nil {
			r.finish(inst, job.Aborted, fmt.Sprintf("cancelled during step %q", name))
			return
		}
		r.fail(ctx, inst, job.Failure{StepIndex: i, StepName: name, ExitCode: status.Code, Err: err})
		return
	}

	r.finish(inst, job.Succeeded, "")
}

func (r *run) finish(inst *job.Instance, status job.Status, reason string) {
	inst.Finish(status, reason, r.s.now())
	r.s.emit(Event{Kind: InstanceFinished, RunID: r.rc.RunID(), Stage: inst.Stage.Name, Instance: inst.ID, Status: status})
}

func (r *run) fail(ctx context.Context, inst *job.Instance, f job.Failure) {
	ctxlog.FromContext(ctx).Error("Step failed.", "step", f.StepName, "exit_code", f.ExitCode, "error", f.Err)
	inst.Fail(f, r.s.now())
	r.s.emit(Event{Kind: InstanceFinished, RunID: r.rc.RunID(), Stage: inst.Stage.Name, Instance: inst.ID, Status: job.Failed})
}

func renderCommand(step pipeline.Step, combo pipeline.Combination) (string, error) {
	if step.Run == nil {
		return "", errNoCommand
	}
	return step.Run.Render(combo)
}

// stepEnv merges, lowest precedence first: run env, stage env, step env,
// matrix values and the built-in STAGEGRID_* variables.
func (r *run) stepEnv(inst *job.Instance, step pipeline.Step) map[string]string {
	env := r.rc.Env()
	if env == nil {
		env = make(map[string]string)
	}
	maps.Copy(env, inst.Stage.Env)
	maps.Copy(env, step.Env)
	for _, p := range inst.Combination {
		env[MatrixEnvName(p.Axis)] = p.Value
	}
	env["STAGEGRID_RUN_ID"] = r.rc.RunID()
	env["STAGEGRID_REF"] = r.rc.Ref()
	env["STAGEGRID_REF_NAME"] = r.rc.RefName()
	env["STAGEGRID_STAGE"] = inst.Stage.Name
	env["STAGEGRID_INSTANCE"] = inst.ID
	return env
}

func (r *run) stepSecrets(step pipeline.Step) map[string]pipeline.SecretRef {
	refs := r.rc.Secrets()
	if len(step.Secrets) == 0 {
		return refs
	}
	if refs == nil {
		refs = make(map[string]pipeline.SecretRef, len(step.Secrets))
	}
	maps.Copy(refs, step.Secrets)
	return refs
}

// MatrixEnvName is the variable a matrix axis is exported as, e.g.
// "rust-version" becomes MATRIX_RUST_VERSION.
func MatrixEnvName(axis string) string {
	return "MATRIX_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(axis))
}
