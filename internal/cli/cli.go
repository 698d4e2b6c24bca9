package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/specialistvlad/stagegrid/internal/app"
	"github.com/specialistvlad/stagegrid/internal/settings"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// ExitUsage is the exit code for invalid command-line usage.
const ExitUsage = 2

func usageError(format string, args ...any) *ExitError {
	return &ExitError{Code: ExitUsage, Message: fmt.Sprintf(format, args...)}
}

// envFlag collects repeated -env KEY=VALUE flags.
type envFlag map[string]string

func (e envFlag) String() string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+e[k])
	}
	return strings.Join(pairs, ",")
}

func (e envFlag) Set(v string) error {
	key, value, ok := strings.Cut(v, "=")
	if !ok || key == "" {
		return fmt.Errorf("expected KEY=VALUE, got %q", v)
	}
	e[key] = value
	return nil
}

// Parse processes command-line arguments. Flag defaults come from env
// settings (STAGEGRID_*). It returns a populated Config, a boolean
// indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer, env *settings.Settings) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	defaults, err := readDefaults(env)
	if err != nil {
		return nil, false, usageError("invalid environment setting: %v", err)
	}

	flagSet := flag.NewFlagSet("stagegrid", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
stagegrid - runs a pipeline of stages as a dependency graph, expanding
matrix stages into parallel job instances.

Usage:
  stagegrid [options] [PIPELINE_PATH...]

Arguments:
  PIPELINE_PATH
    Path to a .hcl, .yaml or .yml file, or a directory containing them.

Options:
`)
		flagSet.PrintDefaults()
		fmt.Fprint(output, `
Every option with a default can also be set from the environment, e.g.
STAGEGRID_WORKERS=4 or STAGEGRID_REF=refs/tags/v1.0.0.
`)
	}

	envVars := envFlag{}
	pipelineFlag := flagSet.String("pipeline", "", "Path to the pipeline file or directory.")
	pFlag := flagSet.String("p", "", "Path to the pipeline file or directory (shorthand).")
	refFlag := flagSet.String("ref", defaults.ref, "Trigger ref, e.g. refs/heads/main or refs/tags/v1.0.0. Detected from the environment or git when empty.")
	gitRepoFlag := flagSet.String("git-repo", ".", "Git checkout used to detect the trigger ref.")
	flagSet.Var(envVars, "env", "Environment variable KEY=VALUE passed to every step. Repeatable.")
	workersFlag := flagSet.Int("workers", defaults.workers, "Maximum number of concurrently running job instances. 0 is unlimited.")
	logLevelFlag := flagSet.String("log-level", defaults.logLevel, "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	logFormatFlag := flagSet.String("log-format", defaults.logFormat, "Log output format. Options: 'text' or 'json'.")
	healthPortFlag := flagSet.Int("healthcheck-port", defaults.healthcheckPort, "Port for the HTTP health and status server. 0 is disabled.")
	reportFlag := flagSet.String("report", defaults.report, "Write the JSON run report to this path. 'auto' uses the XDG state directory.")
	dryRunFlag := flagSet.Bool("dry-run", false, "Evaluate conditions and print the plan without executing steps.")
	secretsRegionFlag := flagSet.String("secrets-region", defaults.secretsRegion, "AWS region of the Secrets Manager store. Empty disables the aws:// provider.")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: ExitUsage, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	var paths []string
	switch {
	case *pipelineFlag != "":
		paths = append(paths, *pipelineFlag)
	case *pFlag != "":
		paths = append(paths, *pFlag)
	}
	paths = append(paths, flagSet.Args()...)
	slog.Debug("Pipeline paths determined.", "paths", paths)

	if len(paths) == 0 {
		slog.Debug("No pipeline path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, usageError("invalid log-format: must be 'text' or 'json'")
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, usageError("invalid log-level: must be 'debug', 'info', 'warn', or 'error'")
	}
	slog.Debug("CLI parameter validation complete.")

	config, err := app.NewConfig(app.Config{
		PipelinePaths:   paths,
		Ref:             *refFlag,
		GitRepo:         *gitRepoFlag,
		Env:             envVars,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		HealthcheckPort: *healthPortFlag,
		WorkerCount:     *workersFlag,
		ReportPath:      *reportFlag,
		DryRun:          *dryRunFlag,
		SecretsRegion:   *secretsRegionFlag,
	})
	if err != nil {
		return nil, false, &ExitError{Code: ExitUsage, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}

type flagDefaults struct {
	ref             string
	logLevel        string
	logFormat       string
	workers         int
	healthcheckPort int
	report          string
	secretsRegion   string
}

func readDefaults(s *settings.Settings) (flagDefaults, error) {
	var d flagDefaults
	if s == nil {
		s = app.NewSettings(settings.MapSource{})
	}
	var err error
	str := func(key string) string {
		if err != nil {
			return ""
		}
		var v string
		v, _, err = s.GetString(key)
		return v
	}
	num := func(key string) int {
		if err != nil {
			return 0
		}
		var v int
		v, _, err = s.GetInt(key)
		return v
	}
	d.ref = str("ref")
	d.logLevel = str("log_level")
	d.logFormat = str("log_format")
	d.workers = num("workers")
	d.healthcheckPort = num("healthcheck_port")
	d.report = str("report")
	d.secretsRegion = str("secrets_region")
	return d, err
}
