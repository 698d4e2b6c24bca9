package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/specialistvlad/stagegrid/internal/job"
	"github.com/specialistvlad/stagegrid/internal/report"
	"github.com/specialistvlad/stagegrid/internal/scheduler"
	"github.com/specialistvlad/stagegrid/internal/secrets"
	"github.com/specialistvlad/stagegrid/internal/settings"
	"github.com/specialistvlad/stagegrid/internal/testutil"
	"github.com/specialistvlad/stagegrid/internal/trigger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const releasePipeline = `
name: release
env:
  PROFILE: debug
jobs:
  lint:
    steps:
      - run: cargo clippy
  build:
    needs: lint
    strategy:
      matrix:
        target: [x86_64, aarch64]
    steps:
      - run: cargo build --target ${{ matrix.target }}
  publish:
    needs: build
    if: github.ref_type == 'tag'
    steps:
      - run: cargo publish
`

func writePipeline(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "release.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// setupApp creates an app whose settings ignore the process environment.
func setupApp(t *testing.T, cfg Config, opts ...Option) (*App, *bytes.Buffer, *testutil.SafeBuffer) {
	t.Helper()
	cfg.LogLevel = "debug"
	c, err := NewConfig(cfg)
	require.NoError(t, err)

	out := &bytes.Buffer{}
	logs := &testutil.SafeBuffer{}
	opts = append([]Option{WithSettings(NewSettings(settings.MapSource{}))}, opts...)
	a := NewApp(out, logs, c, opts...)

	t.Cleanup(func() {
		if os.Getenv("STAGEGRID_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logs.String())
		}
	})
	return a, out, logs
}

func TestNewConfig(t *testing.T) {
	_, err := NewConfig(Config{})
	assert.ErrorContains(t, err, "pipeline path is required")

	_, err = NewConfig(Config{PipelinePaths: []string{"p"}, WorkerCount: -1})
	assert.ErrorContains(t, err, "worker count")

	_, err = NewConfig(Config{PipelinePaths: []string{"p"}, LogFormat: "xml"})
	assert.ErrorContains(t, err, "invalid log format")

	_, err = NewConfig(Config{PipelinePaths: []string{"p"}, LogLevel: "trace"})
	assert.ErrorContains(t, err, "invalid log level")

	_, err = NewConfig(Config{PipelinePaths: []string{"p"}, HealthcheckPort: 70000})
	assert.ErrorContains(t, err, "healthcheck port")

	cfg, err := NewConfig(Config{PipelinePaths: []string{"p"}, WorkerCount: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.WorkerCount)
}

func TestNewSettings(t *testing.T) {
	s := NewSettings(settings.MapSource{"workers": "4", "log_level": "debug"})

	workers, err := s.RequireInt("workers")
	require.NoError(t, err)
	assert.Equal(t, 4, workers)

	level, err := s.RequireString("log_level")
	require.NoError(t, err)
	assert.Equal(t, "debug", level)

	format, err := s.RequireString("log_format")
	require.NoError(t, err)
	assert.Equal(t, "text", format)

	_, ok, err := s.GetString("ref")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApp_Run(t *testing.T) {
	t.Run("tag run publishes and saves the report", func(t *testing.T) {
		exec := testutil.NewScriptedExecutor()
		reportPath := filepath.Join(t.TempDir(), "reports", "run.json")
		a, out, _ := setupApp(t, Config{
			PipelinePaths: []string{writePipeline(t, releasePipeline)},
			Env:           map[string]string{"PROFILE": "release"},
			ReportPath:    reportPath,
		},
			WithExecutor(exec),
			WithTriggerSource(trigger.Static{Ref: "refs/tags/v1.0.0"}),
		)

		code, err := a.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, report.ExitSucceeded, code)
		assert.True(t, exec.Ran("publish"))
		assert.Contains(t, out.String(), "publish")

		for _, inv := range exec.Calls() {
			assert.Equal(t, "release", inv.Env["PROFILE"], "CLI env overrides the pipeline env")
			assert.Equal(t, "refs/tags/v1.0.0", inv.Env["STAGEGRID_REF"])
		}

		saved, err := report.Load(reportPath)
		require.NoError(t, err)
		assert.Equal(t, "release", saved.Pipeline)
		assert.Equal(t, job.Succeeded, saved.Status)
		assert.Len(t, saved.Stages, 3)
	})

	t.Run("branch run skips publish", func(t *testing.T) {
		exec := testutil.NewScriptedExecutor()
		a, _, _ := setupApp(t, Config{PipelinePaths: []string{writePipeline(t, releasePipeline)}},
			WithExecutor(exec),
			WithTriggerSource(trigger.Static{Ref: "refs/heads/main"}),
		)

		code, err := a.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, report.ExitSucceeded, code)
		assert.False(t, exec.Ran("publish"))
		assert.True(t, exec.Ran("build[target=aarch64]"))
	})

	t.Run("failed step sets exit code", func(t *testing.T) {
		exec := testutil.NewScriptedExecutor().ExitWith("build[target=aarch64]", 101)
		a, out, _ := setupApp(t, Config{PipelinePaths: []string{writePipeline(t, releasePipeline)}},
			WithExecutor(exec),
			WithTriggerSource(trigger.Static{Ref: "refs/tags/v1.0.0"}),
		)

		code, err := a.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, report.ExitFailed, code)
		assert.False(t, exec.Ran("publish"))
		assert.Contains(t, out.String(), "exited 101")
	})

	t.Run("cancelled run is aborted", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		a, _, _ := setupApp(t, Config{PipelinePaths: []string{writePipeline(t, releasePipeline)}},
			WithExecutor(testutil.NewScriptedExecutor()),
			WithTriggerSource(trigger.Static{Ref: "refs/heads/main"}),
		)

		code, err := a.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, report.ExitAborted, code)
	})

	t.Run("missing trigger still runs", func(t *testing.T) {
		exec := testutil.NewScriptedExecutor()
		a, _, logs := setupApp(t, Config{PipelinePaths: []string{writePipeline(t, releasePipeline)}},
			WithExecutor(exec),
			WithTriggerSource(trigger.Chain{}),
		)

		code, err := a.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, report.ExitSucceeded, code)
		assert.False(t, exec.Ran("publish"))
		assert.Contains(t, logs.String(), "No trigger ref found")
	})

	t.Run("dry run executes nothing", func(t *testing.T) {
		a, out, logs := setupApp(t, Config{
			PipelinePaths: []string{writePipeline(t, releasePipeline)},
			DryRun:        true,
		}, WithTriggerSource(trigger.Static{Ref: "refs/heads/main"}))

		code, err := a.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, report.ExitSucceeded, code)
		assert.Contains(t, logs.String(), "Planned stage.")
		assert.Contains(t, logs.String(), "Dry run, step not executed.")
		assert.Contains(t, out.String(), "SUCCEEDED")
	})

	t.Run("invalid pipeline never starts", func(t *testing.T) {
		exec := testutil.NewScriptedExecutor()
		cyclic := "jobs:\n  a:\n    needs: b\n    steps: [{run: x}]\n  b:\n    needs: a\n    steps: [{run: y}]\n"
		a, _, _ := setupApp(t, Config{PipelinePaths: []string{writePipeline(t, cyclic)}},
			WithExecutor(exec),
			WithTriggerSource(trigger.Static{Ref: "refs/heads/main"}),
		)

		code, err := a.Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid pipeline")
		assert.Equal(t, report.ExitFailed, code)
		assert.Empty(t, exec.Calls())
	})

	t.Run("missing file", func(t *testing.T) {
		a, _, _ := setupApp(t, Config{PipelinePaths: []string{filepath.Join(t.TempDir(), "nope.yaml")}})
		_, err := a.Run(context.Background())
		assert.ErrorContains(t, err, "failed to load pipeline")
	})
}

func TestApp_ShellWithSecrets(t *testing.T) {
	pipeline := `
jobs:
  deploy:
    steps:
      - run: test "$TOKEN" = "s3cret" && test "$PROFILE" = "ci"
        env:
          PROFILE: ci
        secrets:
          TOKEN: vault://deploy/token
`
	a, _, _ := setupApp(t, Config{PipelinePaths: []string{writePipeline(t, pipeline)}},
		WithSecretStore(secrets.NewMemoryStore("vault", map[string]string{"deploy/token": "s3cret"})),
		WithTriggerSource(trigger.Static{Ref: "refs/heads/main"}),
	)

	code, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, report.ExitSucceeded, code)
}

func TestStatusServer(t *testing.T) {
	a, _, _ := setupApp(t, Config{PipelinePaths: []string{"unused"}})
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a.status.observe(scheduler.Event{Kind: scheduler.StageStarted, RunID: "r1", Stage: "build", At: at})
	a.status.observe(scheduler.Event{Kind: scheduler.InstanceStarted, RunID: "r1", Stage: "build", Instance: "build[os=linux]", At: at})
	a.status.observe(scheduler.Event{Kind: scheduler.InstanceFinished, RunID: "r1", Stage: "build", Instance: "build[os=linux]", Status: job.Failed, At: at})

	resp, err = http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var snap StatusSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "r1", snap.RunID)
	assert.Equal(t, "running", snap.Status)
	assert.Equal(t, map[string]string{"build": "running"}, snap.Stages)
	assert.Equal(t, map[string]string{"build[os=linux]": "failed"}, snap.Instances)

	a.status.observe(scheduler.Event{Kind: scheduler.RunFinished, RunID: "r1", Status: job.Failed, At: at})
	assert.Equal(t, "failed", a.status.snapshot().Status)
}

func TestHealthCheckServerLifecycle(t *testing.T) {
	ln, err := (&net.ListenConfig{}).Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	a, _, _ := setupApp(t, Config{PipelinePaths: []string{"unused"}, HealthcheckPort: port})
	ctx := context.Background()
	require.NoError(t, a.startHealthCheckServer(ctx))

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, a.closeHealthCheckServer(ctx))
}
