package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/specialistvlad/stagegrid/internal/executor"
	"github.com/specialistvlad/stagegrid/internal/graph"
	"github.com/specialistvlad/stagegrid/internal/job"
	"github.com/specialistvlad/stagegrid/internal/matrix"
	"github.com/specialistvlad/stagegrid/internal/pipeline"
	"github.com/specialistvlad/stagegrid/internal/report"
	"github.com/specialistvlad/stagegrid/internal/runctx"
	"github.com/specialistvlad/stagegrid/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stage(name string, needs ...string) *pipeline.Stage {
	return &pipeline.Stage{
		Name:  name,
		Needs: needs,
		Steps: []pipeline.Step{{Name: "run", Run: pipeline.Literal("echo " + name)}},
	}
}

func withMatrix(s *pipeline.Stage, axis string, values ...string) *pipeline.Stage {
	s.Matrix = &pipeline.Matrix{Axes: []pipeline.Axis{{Name: axis, Values: values}}}
	return s
}

func buildGraph(t *testing.T, stages ...*pipeline.Stage) *graph.Graph {
	t.Helper()
	def := pipeline.NewDefinition("test")
	def.Stages = stages
	g, err := graph.FromDefinition(def)
	require.NoError(t, err)
	return g
}

func branchRun() *runctx.RunContext {
	return runctx.New(runctx.Options{Ref: "refs/heads/main", RunID: "test-run"})
}

func runGraph(t *testing.T, ctx context.Context, exec executor.StepExecutor, g *graph.Graph, rc *runctx.RunContext, opts ...Option) *report.RunReport {
	t.Helper()
	rep, err := New(exec, opts...).Run(ctx, g, rc)
	require.NoError(t, err)
	require.NotNil(t, rep)
	for _, s := range rep.Stages {
		assert.True(t, s.Status.Terminal(), "stage %s not terminal: %s", s.Name, s.Status)
		for _, i := range s.Instances {
			assert.True(t, i.Status.Terminal(), "instance %s not terminal: %s", i.ID, i.Status)
		}
	}
	return rep
}

func stageStatusOf(t *testing.T, rep *report.RunReport, name string) job.Status {
	t.Helper()
	s, ok := rep.Stage(name)
	require.True(t, ok, "stage %s missing from report", name)
	return s.Status
}

func instanceStatusOf(t *testing.T, rep *report.RunReport, id string) job.Status {
	t.Helper()
	i, ok := rep.Instance(id)
	require.True(t, ok, "instance %s missing from report", id)
	return i.Status
}

func TestRun_ReleasePipeline(t *testing.T) {
	newGraph := func(t *testing.T) *graph.Graph {
		publish := stage("publish", "build")
		publish.Condition = pipeline.IsTag{}
		return buildGraph(t,
			stage("lint"),
			withMatrix(stage("build", "lint"), "target", "x86_64", "aarch64"),
			publish,
		)
	}

	t.Run("branch push skips publish", func(t *testing.T) {
		exec := testutil.NewScriptedExecutor()
		rep := runGraph(t, testutil.QuietContext(), exec, newGraph(t), branchRun())

		assert.Equal(t, job.Succeeded, rep.Status)
		assert.Equal(t, 0, rep.ExitCode())
		assert.Equal(t, job.Succeeded, stageStatusOf(t, rep, "lint"))
		assert.Equal(t, job.Succeeded, instanceStatusOf(t, rep, "build[target=x86_64]"))
		assert.Equal(t, job.Succeeded, instanceStatusOf(t, rep, "build[target=aarch64]"))
		assert.Equal(t, job.Skipped, stageStatusOf(t, rep, "publish"))
		assert.Equal(t, job.Skipped, instanceStatusOf(t, rep, "publish"))
		assert.False(t, exec.Ran("publish"))
	})

	t.Run("tag push publishes", func(t *testing.T) {
		exec := testutil.NewScriptedExecutor()
		rc := runctx.New(runctx.Options{Ref: "refs/tags/v2.0.0"})
		rep := runGraph(t, testutil.QuietContext(), exec, newGraph(t), rc)

		assert.Equal(t, job.Succeeded, rep.Status)
		assert.Equal(t, job.Succeeded, stageStatusOf(t, rep, "publish"))
		assert.True(t, exec.Ran("publish"))
		assert.Len(t, exec.Calls(), 4)
	})
}

func TestRun_DependencyGating(t *testing.T) {
	for i := 0; i < 10; i++ {
		exec := testutil.NewScriptedExecutor().
			Delay("lint", 20*time.Millisecond).
			Delay("build[target=x86_64]", 5*time.Millisecond)
		g := buildGraph(t,
			stage("lint"),
			withMatrix(stage("build", "lint"), "target", "x86_64", "aarch64"),
			stage("package", "build"),
		)
		rep := runGraph(t, testutil.QuietContext(), exec, g, branchRun())
		require.Equal(t, job.Succeeded, rep.Status)

		lint, ok := exec.Record("lint")
		require.True(t, ok)
		pkg, ok := exec.Record("package")
		require.True(t, ok)
		for _, id := range []string{"build[target=x86_64]", "build[target=aarch64]"} {
			b, ok := exec.Record(id)
			require.True(t, ok)
			assert.False(t, b.Start.Before(lint.End), "%s started before lint finished", id)
			assert.False(t, pkg.Start.Before(b.End), "package started before %s finished", id)
		}
	}
}

func TestRun_IndependentStagesRunConcurrently(t *testing.T) {
	exec := testutil.NewScriptedExecutor().Block("a").Block("b")
	started := make(chan string, 2)
	observer := func(e Event) {
		if e.Kind == InstanceStarted {
			started <- e.Instance
		}
	}

	var rep *report.RunReport
	done := make(chan struct{})
	go func() {
		defer close(done)
		rep, _ = New(exec, WithObserver(observer)).Run(testutil.QuietContext(), buildGraph(t, stage("a"), stage("b")), branchRun())
	}()

	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case id := <-started:
			seen[id] = true
		case <-time.After(5 * time.Second):
			t.Fatal("both leaf stages should be running at the same time")
		}
	}
	exec.Release("a")
	exec.Release("b")
	<-done
	require.NotNil(t, rep)
	assert.Equal(t, job.Succeeded, rep.Status)
}

func TestRun_FailFastDisabled(t *testing.T) {
	build := withMatrix(stage("build"), "target", "a", "b")
	build.FailFast = pipeline.Bool(false)
	exec := testutil.NewScriptedExecutor().
		ExitWith("build[target=a]", 1).
		Delay("build[target=b]", 30*time.Millisecond)

	rep := runGraph(t, testutil.QuietContext(), exec, buildGraph(t, build, stage("publish", "build")), branchRun())

	assert.Equal(t, job.Failed, rep.Status)
	assert.Equal(t, 1, rep.ExitCode())
	assert.Equal(t, job.Failed, stageStatusOf(t, rep, "build"))
	assert.Equal(t, job.Failed, instanceStatusOf(t, rep, "build[target=a]"))
	assert.Equal(t, job.Succeeded, instanceStatusOf(t, rep, "build[target=b]"))
	assert.Equal(t, job.SkippedDependencyFailed, stageStatusOf(t, rep, "publish"))
	assert.False(t, exec.Ran("publish"))

	publish, _ := rep.Stage("publish")
	assert.Equal(t, "dependency build failed", publish.Reason)
}

func TestRun_FailFastEnabled(t *testing.T) {
	exec := testutil.NewScriptedExecutor().
		ExitWith("build[target=a]", 1).
		Block("build[target=b]").
		Block("docs")
	g := buildGraph(t,
		withMatrix(stage("build"), "target", "a", "b"),
		stage("docs"),
		stage("publish", "build"),
		stage("archive", "docs"),
		stage("notify", "publish"),
	)

	rep := runGraph(t, testutil.QuietContext(), exec, g, branchRun())

	assert.Equal(t, job.Failed, rep.Status)
	assert.Equal(t, job.Failed, stageStatusOf(t, rep, "build"))
	assert.Equal(t, job.Failed, instanceStatusOf(t, rep, "build[target=a]"))
	assert.Equal(t, job.Aborted, instanceStatusOf(t, rep, "build[target=b]"))
	assert.Equal(t, job.Aborted, stageStatusOf(t, rep, "docs"))
	assert.Equal(t, job.SkippedDependencyFailed, stageStatusOf(t, rep, "publish"))
	assert.Equal(t, job.SkippedDependencyFailed, stageStatusOf(t, rep, "notify"))
	assert.Equal(t, job.Aborted, stageStatusOf(t, rep, "archive"))
	assert.False(t, exec.Ran("archive"))
}

func TestRun_StepsStopAtFirstFailure(t *testing.T) {
	s := stage("test")
	s.Steps = []pipeline.Step{
		{Name: "fmt", Run: pipeline.Literal("cargo fmt --check")},
		{Name: "clippy", Run: pipeline.Literal("cargo clippy")},
		{Name: "test", Run: pipeline.Literal("cargo test")},
	}
	exec := testutil.NewScriptedExecutor().ExitWith("test#clippy", 101)

	rep := runGraph(t, testutil.QuietContext(), exec, buildGraph(t, s), branchRun())

	inst, ok := rep.Instance("test")
	require.True(t, ok)
	assert.Equal(t, job.Failed, inst.Status)
	require.NotNil(t, inst.FailedStep)
	assert.Equal(t, 1, *inst.FailedStep)
	assert.Equal(t, "clippy", inst.FailedStepName)
	require.NotNil(t, inst.ExitCode)
	assert.Equal(t, 101, *inst.ExitCode)

	calls := exec.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "cargo clippy", calls[1].Command)
}

func TestRun_ExecutorErrorFailsInstance(t *testing.T) {
	exec := testutil.NewScriptedExecutor().ErrorWith("build", testutil.ErrScripted)
	rep := runGraph(t, testutil.QuietContext(), exec, buildGraph(t, stage("build")), branchRun())

	inst, ok := rep.Instance("build")
	require.True(t, ok)
	assert.Equal(t, job.Failed, inst.Status)
	assert.Equal(t, testutil.ErrScripted.Error(), inst.Error)
	assert.Equal(t, -1, *inst.ExitCode)
}

func TestRun_ExternalCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(testutil.QuietContext())
	defer cancel()
	exec := testutil.NewScriptedExecutor().Block("deploy")
	observer := func(e Event) {
		if e.Kind == InstanceStarted && e.Instance == "deploy" {
			cancel()
		}
	}

	g := buildGraph(t, stage("deploy"), stage("verify", "deploy"))
	rep := runGraph(t, ctx, exec, g, branchRun(), WithObserver(observer))

	assert.Equal(t, job.Aborted, rep.Status)
	assert.Equal(t, 130, rep.ExitCode())
	assert.Equal(t, job.Aborted, instanceStatusOf(t, rep, "deploy"))
	assert.Equal(t, job.Aborted, stageStatusOf(t, rep, "verify"))
	assert.False(t, exec.Ran("verify"))
}

func TestRun_SkippedStageSatisfiesDependents(t *testing.T) {
	gated := stage("gated")
	gated.Condition = pipeline.RefPrefix{Prefix: "refs/heads/release/"}
	exec := testutil.NewScriptedExecutor()

	rep := runGraph(t, testutil.QuietContext(), exec, buildGraph(t, gated, stage("after", "gated")), branchRun())

	assert.Equal(t, job.Succeeded, rep.Status)
	assert.Equal(t, job.Skipped, stageStatusOf(t, rep, "gated"))
	assert.Equal(t, job.Succeeded, stageStatusOf(t, rep, "after"))
}

func TestRun_InvocationEnvironment(t *testing.T) {
	s := withMatrix(stage("build"), "rust-version", "1.80")
	s.Env = map[string]string{"LEVEL": "stage", "STAGE_ONLY": "1"}
	s.Steps = []pipeline.Step{{
		Name:    "compile",
		Run:     pipeline.Literal("cargo +${{ matrix.rust-version }} build"),
		Env:     map[string]string{"LEVEL": "step"},
		Secrets: map[string]pipeline.SecretRef{"TOKEN": {Provider: "env", Path: "CARGO_TOKEN"}},
	}}
	rc := runctx.New(runctx.Options{
		Ref:     "refs/heads/main",
		RunID:   "run-7",
		Env:     map[string]string{"LEVEL": "run", "CI": "true"},
		Secrets: map[string]pipeline.SecretRef{"GLOBAL": {Path: "global"}},
	})
	exec := testutil.NewScriptedExecutor()
	runGraph(t, testutil.QuietContext(), exec, buildGraph(t, s), rc)

	calls := exec.Calls()
	require.Len(t, calls, 1)
	inv := calls[0]
	assert.Equal(t, "cargo +1.80 build", inv.Command)
	assert.Equal(t, "build[rust-version=1.80]", inv.Instance)
	assert.Equal(t, "run-7", inv.RunID)
	assert.Equal(t, "step", inv.Env["LEVEL"])
	assert.Equal(t, "1", inv.Env["STAGE_ONLY"])
	assert.Equal(t, "true", inv.Env["CI"])
	assert.Equal(t, "1.80", inv.Env["MATRIX_RUST_VERSION"])
	assert.Equal(t, "main", inv.Env["STAGEGRID_REF_NAME"])
	assert.Len(t, inv.Secrets, 2)
}

func TestRun_UnknownPlaceholderFailsInstance(t *testing.T) {
	s := stage("build")
	s.Steps = []pipeline.Step{{Run: pipeline.Literal("make ${{ matrix.os }}")}}
	exec := testutil.NewScriptedExecutor()

	rep := runGraph(t, testutil.QuietContext(), exec, buildGraph(t, s), branchRun())
	inst, _ := rep.Instance("build")
	assert.Equal(t, job.Failed, inst.Status)
	assert.Contains(t, inst.Error, "unknown matrix axis")
	assert.Empty(t, exec.Calls())
}

func TestRun_MaxParallel(t *testing.T) {
	var current, peak atomic.Int32
	exec := executor.Func(func(ctx context.Context, inv executor.Invocation) (executor.ExitStatus, error) {
		n := current.Add(1)
		defer current.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return executor.ExitStatus{}, nil
	})
	g := buildGraph(t, withMatrix(stage("test"), "shard", "1", "2", "3", "4", "5", "6"))

	rep := runGraph(t, testutil.QuietContext(), exec, g, branchRun(), WithMaxParallel(2))
	assert.Equal(t, job.Succeeded, rep.Status)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRun_InvalidInput(t *testing.T) {
	t.Run("cycle", func(t *testing.T) {
		g := graph.New()
		require.NoError(t, g.AddStage(stage("a", "b")))
		require.NoError(t, g.AddStage(stage("b", "a")))
		exec := testutil.NewScriptedExecutor()

		rep, err := New(exec).Run(testutil.QuietContext(), g, branchRun())
		var cycleErr *graph.CycleError
		require.ErrorAs(t, err, &cycleErr)
		assert.Nil(t, rep)
		assert.Empty(t, exec.Calls())
	})

	t.Run("bad matrix", func(t *testing.T) {
		bad := stage("build")
		bad.Matrix = &pipeline.Matrix{Axes: []pipeline.Axis{{Name: "os"}}}
		exec := testutil.NewScriptedExecutor()

		_, err := New(exec).Run(testutil.QuietContext(), buildGraph(t, stage("lint"), bad), branchRun())
		var axisErr *matrix.AxisError
		require.ErrorAs(t, err, &axisErr)
		assert.Equal(t, "os", axisErr.Axis)
		assert.Empty(t, exec.Calls())
	})
}

func TestRun_EventsAndClock(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	var mu sync.Mutex
	kinds := map[EventKind]int{}
	observer := func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		kinds[e.Kind]++
		assert.Equal(t, at, e.At)
	}
	gated := stage("gated")
	gated.Condition = pipeline.Never{}

	rep := runGraph(t, testutil.QuietContext(), testutil.NewScriptedExecutor(),
		buildGraph(t, withMatrix(stage("a"), "n", "1", "2"), gated), branchRun(),
		WithObserver(observer), WithClock(func() time.Time { return at }))

	assert.Equal(t, at, rep.Started)
	assert.Equal(t, at, rep.Finished)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, kinds[StageStarted])
	assert.Equal(t, 1, kinds[StageSkipped])
	assert.Equal(t, 2, kinds[InstanceStarted])
	assert.Equal(t, 2, kinds[InstanceFinished])
	assert.Equal(t, 2, kinds[StageFinished])
	assert.Equal(t, 1, kinds[RunFinished])
}

func TestPlan(t *testing.T) {
	g := buildGraph(t, stage("lint"), withMatrix(stage("build", "lint"), "os", "linux", "darwin"))
	plans, err := Plan(g)
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Len(t, plans[0].Combinations, 1)
	assert.Len(t, plans[1].Combinations, 2)
}

func TestMatrixEnvName(t *testing.T) {
	assert.Equal(t, "MATRIX_OS", MatrixEnvName("os"))
	assert.Equal(t, "MATRIX_RUST_VERSION", MatrixEnvName("rust-version"))
}

func TestBlocksDependents(t *testing.T) {
	tests := []struct {
		status job.Status
		want   bool
	}{
		{job.Succeeded, false},
		{job.Skipped, false},
		{job.Aborted, false},
		{job.Failed, true},
		{job.SkippedDependencyFailed, true},
	}
	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, blocksDependents(tt.status))
		})
	}
}
