package app

import (
	"errors"
	"fmt"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	PipelinePaths []string // hcl or yaml files, or directories

	// Ref overrides trigger detection when set.
	Ref string
	// GitRepo is the checkout used to detect the ref when Ref is empty.
	GitRepo string
	// Env is layered over the pipeline's own env.
	Env map[string]string

	LogFormat       string
	LogLevel        string
	HealthcheckPort int
	// WorkerCount caps concurrently running instances. 0 means unlimited.
	WorkerCount int

	// ReportPath is where the JSON report is saved. "auto" selects the
	// XDG state dir; empty disables saving.
	ReportPath    string
	DryRun        bool
	SecretsRegion string
}

// ReportAuto selects report.DefaultPath for the run.
const ReportAuto = "auto"

func NewConfig(cfg Config) (*Config, error) {
	if len(cfg.PipelinePaths) == 0 {
		return nil, errors.New("at least one pipeline path is required")
	}
	if cfg.WorkerCount < 0 {
		return nil, fmt.Errorf("worker count must not be negative, got %d", cfg.WorkerCount)
	}
	if cfg.HealthcheckPort < 0 || cfg.HealthcheckPort > 65535 {
		return nil, fmt.Errorf("healthcheck port out of range: %d", cfg.HealthcheckPort)
	}
	switch cfg.LogFormat {
	case "", "text", "json":
	default:
		return nil, fmt.Errorf("invalid log format %q: must be 'text' or 'json'", cfg.LogFormat)
	}
	switch cfg.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.LogLevel)
	}
	return &cfg, nil
}
