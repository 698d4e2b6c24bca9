package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/specialistvlad/stagegrid/internal/condition"
	"github.com/specialistvlad/stagegrid/internal/ctxlog"
	"github.com/specialistvlad/stagegrid/internal/graph"
	"github.com/specialistvlad/stagegrid/internal/job"
	"github.com/specialistvlad/stagegrid/internal/pipeline"
	"github.com/specialistvlad/stagegrid/internal/report"
	"github.com/specialistvlad/stagegrid/internal/runctx"
	"golang.org/x/sync/semaphore"
)

// stageRun is the scheduler's record of one stage. Fields are written either
// by the scheduler loop or by the stage goroutine before it reports on the
// done channel, never concurrently.
type stageRun struct {
	stage     *pipeline.Stage
	combos    []pipeline.Combination
	instances []*job.Instance
	status    job.Status
	reason    string
}

// run is the state of a single Scheduler.Run call.
type run struct {
	s      *Scheduler
	g      *graph.Graph
	rc     *runctx.RunContext
	stages map[string]*stageRun
	sem    *semaphore.Weighted

	cancelRun context.CancelFunc
	abortOnce sync.Once
}

func newRun(s *Scheduler, g *graph.Graph, rc *runctx.RunContext, plans []StagePlan) *run {
	r := &run{
		s:      s,
		g:      g,
		rc:     rc,
		stages: make(map[string]*stageRun, len(plans)),
	}
	for _, p := range plans {
		r.stages[p.Stage.Name] = &stageRun{stage: p.Stage, combos: p.Combinations, status: job.Pending}
	}
	if s.maxParallel > 0 {
		r.sem = semaphore.NewWeighted(s.maxParallel)
	}
	return r
}

// execute drives the frontier until every stage is terminal.
func (r *run) execute(ctx context.Context) *report.RunReport {
	logger := ctxlog.FromContext(ctx).With("run_id", r.rc.RunID())
	ctx = ctxlog.WithLogger(ctx, logger)
	started := r.s.now()
	logger.Info("Starting run.", "ref", r.rc.Ref(), "stages", r.g.Len())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.cancelRun = cancel

	completed := make(map[string]bool, len(r.stages))
	launched := make(map[string]bool, len(r.stages))
	done := make(chan *stageRun)
	inflight := 0

	for {
		progressed := false
		for _, st := range r.g.ReadyStages(completed) {
			if launched[st.Name] {
				continue
			}
			launched[st.Name] = true
			sr := r.stages[st.Name]

			if need, status := r.failedNeed(st); need != "" {
				r.resolve(ctx, sr, job.SkippedDependencyFailed, fmt.Sprintf("dependency %s %s", need, status))
				completed[st.Name], progressed = true, true
				continue
			}
			if runCtx.Err() != nil {
				r.resolve(ctx, sr, job.Aborted, "run aborted before stage started")
				completed[st.Name], progressed = true, true
				continue
			}
			if !condition.ShouldRun(ctx, st, r.rc) {
				r.resolve(ctx, sr, job.Skipped, "condition not met: "+st.EffectiveCondition().Describe())
				completed[st.Name], progressed = true, true
				continue
			}

			inflight++
			go r.runStage(runCtx, sr, done)
		}
		if progressed {
			continue
		}
		if inflight == 0 {
			break
		}
		sr := <-done
		inflight--
		completed[sr.stage.Name] = true
	}

	rep := r.report(ctx, started)
	logger.Info("Run finished.", "status", rep.Status, "duration", rep.Duration())
	r.s.emit(Event{Kind: RunFinished, RunID: rep.RunID, Status: rep.Status, At: rep.Finished})
	return rep
}

// failedNeed returns the first need of st that ended in a failure state.
func (r *run) failedNeed(st *pipeline.Stage) (string, job.Status) {
	for _, need := range st.Needs {
		status := r.stages[need].status
		if blocksDependents(status) {
			return need, status
		}
	}
	return "", job.Pending
}

// blocksDependents reports whether a terminal need stops its dependents. An
// aborted need does not: the run is already cancelled and dependents end
// Aborted themselves.
func blocksDependents(status job.Status) bool {
	return !status.Satisfies() && status != job.Aborted
}

// resolve settles a stage that will not execute. Its report still lists one
// instance per matrix point.
func (r *run) resolve(ctx context.Context, sr *stageRun, status job.Status, reason string) {
	logger := ctxlog.FromContext(ctx).With("stage", sr.stage.Name)
	switch status {
	case job.Aborted:
		logger.Warn("Stage aborted before it started.")
	default:
		logger.Info("Skipping stage.", "status", status, "reason", reason)
		r.s.emit(Event{Kind: StageSkipped, RunID: r.rc.RunID(), Stage: sr.stage.Name, Status: status})
	}

	now := r.s.now()
	sr.instances = make([]*job.Instance, 0, len(sr.combos))
	for i, c := range sr.combos {
		inst := job.NewInstance(sr.stage, i, c)
		inst.Finish(status, reason, now)
		sr.instances = append(sr.instances, inst)
	}
	sr.status = status
	sr.reason = reason
	r.s.emit(Event{Kind: StageFinished, RunID: r.rc.RunID(), Stage: sr.stage.Name, Status: status})
}

// runStage runs every instance of a stage concurrently and reports the stage
// on done once all of them are terminal.
func (r *run) runStage(ctx context.Context, sr *stageRun, done chan<- *stageRun) {
	logger := ctxlog.FromContext(ctx).With("stage", sr.stage.Name)
	ctx = ctxlog.WithLogger(ctx, logger)
	failFast := sr.stage.FailFastEnabled()

	sr.instances = make([]*job.Instance, 0, len(sr.combos))
	for i, c := range sr.combos {
		sr.instances = append(sr.instances, job.NewInstance(sr.stage, i, c))
	}
	logger.Info("Stage started.", "instances", len(sr.instances), "fail_fast", failFast)
	r.s.emit(Event{Kind: StageStarted, RunID: r.rc.RunID(), Stage: sr.stage.Name, Status: job.Running})

	var wg sync.WaitGroup
	for _, inst := range sr.instances {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.runInstance(ctx, inst)
			if failFast && inst.Status() == job.Failed {
				r.abort(ctx, inst.ID)
			}
		}()
	}
	wg.Wait()

	sr.status = stageStatus(sr.instances)
	logger.Info("Stage finished.", "status", sr.status)
	r.s.emit(Event{Kind: StageFinished, RunID: r.rc.RunID(), Stage: sr.stage.Name, Status: sr.status})
	done <- sr
}

// abort cancels the whole run after a fail-fast failure.
func (r *run) abort(ctx context.Context, instance string) {
	r.abortOnce.Do(func() {
		ctxlog.FromContext(ctx).Warn("Instance failed with fail-fast enabled, aborting run.", "instance", instance)
		r.cancelRun()
	})
}

func stageStatus(instances []*job.Instance) job.Status {
	status := job.Succeeded
	for _, inst := range instances {
		switch inst.Status() {
		case job.Failed:
			return job.Failed
		case job.Aborted:
			status = job.Aborted
		}
	}
	return status
}

// report assembles the final report in stage declaration order.
func (r *run) report(ctx context.Context, started time.Time) *report.RunReport {
	rep := &report.RunReport{
		RunID:   r.rc.RunID(),
		Ref:     r.rc.Ref(),
		Started: started,
	}

	var failed, aborted bool
	for _, st := range r.g.Stages() {
		sr := r.stages[st.Name]
		switch sr.status {
		case job.Failed:
			failed = true
		case job.Aborted:
			aborted = true
		}
		stageRep := report.StageReport{
			Name:      st.Name,
			Status:    sr.status,
			Condition: st.EffectiveCondition().Describe(),
			Reason:    sr.reason,
			Instances: make([]report.InstanceReport, 0, len(sr.instances)),
		}
		for _, inst := range sr.instances {
			stageRep.Instances = append(stageRep.Instances, report.InstanceFromSnapshot(inst.Snapshot()))
		}
		rep.Stages = append(rep.Stages, stageRep)
	}

	switch {
	case aborted && ctx.Err() != nil:
		rep.Status = job.Aborted
	case failed:
		rep.Status = job.Failed
	case aborted:
		rep.Status = job.Aborted
	default:
		rep.Status = job.Succeeded
	}
	rep.Finished = r.s.now()
	return rep
}
