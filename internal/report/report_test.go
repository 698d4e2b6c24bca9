package report

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/adrg/xdg"
	"github.com/specialistvlad/stagegrid/internal/job"
	"github.com/specialistvlad/stagegrid/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() *RunReport {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	failed := InstanceFromSnapshot(job.Snapshot{
		ID:          "build[target=aarch64]",
		Stage:       "build",
		Combination: pipeline.Combination{{Axis: "target", Value: "aarch64"}},
		Status:      job.Failed,
		Failure:     &job.Failure{StepIndex: 1, StepName: "compile", ExitCode: 2, Err: errors.New("boom")},
	})
	return &RunReport{
		RunID:    "run-1",
		Ref:      "refs/heads/main",
		Status:   job.Failed,
		Started:  start,
		Finished: start.Add(1500 * time.Millisecond),
		Stages: []StageReport{
			{Name: "lint", Status: job.Succeeded, Instances: []InstanceReport{{ID: "lint", Status: job.Succeeded}}},
			{Name: "build", Status: job.Failed, Instances: []InstanceReport{
				{ID: "build[target=x86_64]", Combination: map[string]string{"target": "x86_64"}, Status: job.Succeeded},
				failed,
			}},
			{Name: "publish", Status: job.SkippedDependencyFailed, Condition: "tag satisfies \"*\"", Instances: []InstanceReport{
				{ID: "publish", Status: job.SkippedDependencyFailed, Reason: "dependency build failed"},
			}},
		},
	}
}

func TestInstanceFromSnapshot(t *testing.T) {
	r := sampleReport()
	inst, ok := r.Instance("build[target=aarch64]")
	require.True(t, ok)
	require.NotNil(t, inst.FailedStep)
	assert.Equal(t, 1, *inst.FailedStep)
	assert.Equal(t, "compile", inst.FailedStepName)
	require.NotNil(t, inst.ExitCode)
	assert.Equal(t, 2, *inst.ExitCode)
	assert.Equal(t, "boom", inst.Error)
	assert.Equal(t, map[string]string{"target": "aarch64"}, inst.Combination)

	_, ok = r.Instance("nope")
	assert.False(t, ok)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		status job.Status
		want   int
	}{
		{job.Succeeded, 0},
		{job.Failed, 1},
		{job.Aborted, 130},
	}
	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			r := &RunReport{Status: tt.status}
			assert.Equal(t, tt.want, r.ExitCode())
		})
	}
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleReport().WriteText(&buf))
	out := buf.String()

	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "1.5s")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 6)
	assert.Contains(t, lines[4], "step 2 (compile) exited 2: boom")
	assert.Contains(t, lines[5], "skipped-dependency-failed")
	assert.Contains(t, lines[5], "dependency build failed")
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "run.json")
	want := sampleReport()
	require.NoError(t, want.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want.RunID, got.RunID)
	assert.Equal(t, want.Status, got.Status)
	assert.True(t, want.Started.Equal(got.Started))

	stage, ok := got.Stage("publish")
	require.True(t, ok)
	assert.Equal(t, job.SkippedDependencyFailed, stage.Status)
	assert.Equal(t, map[job.Status]int{job.Succeeded: 2, job.Failed: 1, job.SkippedDependencyFailed: 1}, got.Counts())
}

func TestDefaultPath(t *testing.T) {
	t.Cleanup(xdg.Reload)
	state := t.TempDir()
	t.Setenv("XDG_STATE_HOME", state)
	xdg.Reload()

	p, err := DefaultPath("run-42")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(state, "stagegrid", "runs", "run-42.json"), p)
}
