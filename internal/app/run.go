package app

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/specialistvlad/stagegrid/internal/ctxlog"
	"github.com/specialistvlad/stagegrid/internal/executor"
	"github.com/specialistvlad/stagegrid/internal/graph"
	"github.com/specialistvlad/stagegrid/internal/report"
	"github.com/specialistvlad/stagegrid/internal/runctx"
	"github.com/specialistvlad/stagegrid/internal/scheduler"
	"github.com/specialistvlad/stagegrid/internal/secrets"
	"github.com/specialistvlad/stagegrid/internal/trigger"
)

// Run executes one pipeline run and returns the process exit code. An error
// means the run never started (bad definition, unusable configuration); the
// exit code is then report.ExitFailed.
func (a *App) Run(ctx context.Context) (int, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if err := a.startHealthCheckServer(ctx); err != nil {
		return report.ExitFailed, err
	}
	defer a.closeHealthCheckServer(ctx)

	def, err := a.loader.Load(ctx, a.config.PipelinePaths...)
	if err != nil {
		return report.ExitFailed, fmt.Errorf("failed to load pipeline: %w", err)
	}
	g, err := graph.FromDefinition(def)
	if err != nil {
		return report.ExitFailed, fmt.Errorf("invalid pipeline: %w", err)
	}
	a.logger.Debug("Job graph built.", "pipeline", def.Name, "stages", g.Len())

	trig, err := a.resolveTrigger(ctx)
	if err != nil {
		return report.ExitFailed, err
	}

	env := maps.Clone(def.Env)
	if env == nil {
		env = map[string]string{}
	}
	maps.Copy(env, a.config.Env)
	rc := runctx.New(runctx.Options{Ref: trig.Ref, Env: env})

	exec, err := a.stepExecutor(ctx)
	if err != nil {
		return report.ExitFailed, err
	}

	if a.config.DryRun {
		if err := a.logPlan(g); err != nil {
			return report.ExitFailed, fmt.Errorf("invalid pipeline: %w", err)
		}
	}

	a.logger.Info("Starting pipeline run.", "pipeline", def.Name, "run_id", rc.RunID(), "ref", rc.Ref(), "kind", rc.Kind())
	sched := scheduler.New(exec,
		scheduler.WithMaxParallel(a.config.WorkerCount),
		scheduler.WithObserver(a.status.observe),
	)
	rep, err := sched.Run(ctx, g, rc)
	if err != nil {
		return report.ExitFailed, fmt.Errorf("invalid pipeline: %w", err)
	}
	rep.Pipeline = def.Name
	a.logger.Info("Pipeline run finished.", "run_id", rep.RunID, "status", rep.Status, "duration", rep.Duration())

	if err := rep.WriteText(a.outW); err != nil {
		return report.ExitFailed, fmt.Errorf("failed to write report: %w", err)
	}
	if err := a.saveReport(rep); err != nil {
		return report.ExitFailed, err
	}

	a.logger.Debug("App.Run method finished.")
	return rep.ExitCode(), nil
}

// resolveTrigger finds the ref from the flag, then the environment, then the
// git checkout. A run without any ref still proceeds; ref-gated stages are
// then skipped.
func (a *App) resolveTrigger(ctx context.Context) (trigger.Trigger, error) {
	src := a.trigger
	if src == nil {
		src = trigger.Chain{
			trigger.Static{Ref: a.config.Ref},
			trigger.Env{Settings: a.settings},
			trigger.Git{Path: a.config.GitRepo},
		}
	}
	t, err := src.Trigger(ctx)
	if errors.Is(err, trigger.ErrNoTrigger) {
		a.logger.Warn("No trigger ref found, ref-gated stages will be skipped.")
		return trigger.Trigger{}, nil
	}
	if err != nil {
		return trigger.Trigger{}, fmt.Errorf("failed to resolve trigger ref: %w", err)
	}
	return t, nil
}

// stepExecutor picks the executor for the run: an injected one, the dry
// run, or a shell backed by the configured secret stores.
func (a *App) stepExecutor(ctx context.Context) (executor.StepExecutor, error) {
	if a.executor != nil {
		return a.executor, nil
	}
	if a.config.DryRun {
		return executor.DryRun{}, nil
	}

	reg := secrets.NewRegistry(secrets.NewEnvStore())
	if a.config.SecretsRegion != "" {
		store, err := secrets.NewAWSStore(ctx, secrets.WithRegion(a.config.SecretsRegion))
		if err != nil {
			return nil, fmt.Errorf("failed to configure secret store: %w", err)
		}
		reg.Register(store)
	}
	for _, s := range a.stores {
		reg.Register(s)
	}
	a.logger.Debug("Secret stores configured.", "providers", reg.Providers())
	return executor.NewShell(reg), nil
}

func (a *App) logPlan(g *graph.Graph) error {
	plans, err := scheduler.Plan(g)
	if err != nil {
		return err
	}
	for _, p := range plans {
		a.logger.Info("Planned stage.", "stage", p.Stage.Name, "needs", p.Stage.Needs, "instances", len(p.Combinations), "condition", p.Stage.EffectiveCondition().Describe())
	}
	return nil
}

func (a *App) saveReport(rep *report.RunReport) error {
	path := a.config.ReportPath
	if path == "" {
		return nil
	}
	if path == ReportAuto {
		p, err := report.DefaultPath(rep.RunID)
		if err != nil {
			return fmt.Errorf("failed to resolve report path: %w", err)
		}
		path = p
	}
	if err := rep.Save(path); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	a.logger.Info("Report saved.", "path", path)
	return nil
}
