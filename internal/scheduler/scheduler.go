package scheduler

import (
	"context"
	"time"

	"github.com/specialistvlad/stagegrid/internal/executor"
	"github.com/specialistvlad/stagegrid/internal/graph"
	"github.com/specialistvlad/stagegrid/internal/matrix"
	"github.com/specialistvlad/stagegrid/internal/pipeline"
	"github.com/specialistvlad/stagegrid/internal/report"
	"github.com/specialistvlad/stagegrid/internal/runctx"
)

// Scheduler runs job graphs against a step executor. A Scheduler holds no
// per-run state and may be reused.
type Scheduler struct {
	exec        executor.StepExecutor
	maxParallel int64
	observer    func(Event)
	now         func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMaxParallel bounds the number of instances running at once across the
// whole run. Zero or less means unbounded.
func WithMaxParallel(n int) Option {
	return func(s *Scheduler) { s.maxParallel = int64(n) }
}

// WithObserver registers a callback for progress events. It is called from
// many goroutines and must be safe for concurrent use.
func WithObserver(fn func(Event)) Option {
	return func(s *Scheduler) { s.observer = fn }
}

// WithClock overrides time.Now, for deterministic reports in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a Scheduler.
func New(exec executor.StepExecutor, opts ...Option) *Scheduler {
	if exec == nil {
		panic("scheduler: nil step executor")
	}
	s := &Scheduler{exec: exec, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StagePlan is the expansion of one stage, computed before anything runs.
type StagePlan struct {
	Stage        *pipeline.Stage
	Combinations []pipeline.Combination
}

// Plan validates g and expands every matrix without running anything. It is
// what Run checks before scheduling, and what a dry run prints.
func Plan(g *graph.Graph) ([]StagePlan, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	stages := g.Stages()
	plans := make([]StagePlan, 0, len(stages))
	for _, st := range stages {
		combos, err := matrix.Combinations(st.Name, st.Matrix)
		if err != nil {
			return nil, err
		}
		plans = append(plans, StagePlan{Stage: st, Combinations: combos})
	}
	return plans, nil
}

// Run executes g. It returns an error only when g or one of its matrices is
// invalid, in which case nothing runs. Cancelling ctx aborts the run; the
// returned report then has status Aborted.
func (s *Scheduler) Run(ctx context.Context, g *graph.Graph, rc *runctx.RunContext) (*report.RunReport, error) {
	plans, err := Plan(g)
	if err != nil {
		return nil, err
	}
	r := newRun(s, g, rc, plans)
	return r.execute(ctx), nil
}

func (s *Scheduler) emit(e Event) {
	if s.observer == nil {
		return
	}
	if e.At.IsZero() {
		e.At = s.now()
	}
	s.observer(e)
}
