package app

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/specialistvlad/stagegrid/internal/executor"
	"github.com/specialistvlad/stagegrid/internal/loader"
	"github.com/specialistvlad/stagegrid/internal/secrets"
	"github.com/specialistvlad/stagegrid/internal/settings"
	"github.com/specialistvlad/stagegrid/internal/trigger"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	config   *Config
	settings *settings.Settings

	loader   loader.Loader
	executor executor.StepExecutor
	trigger  trigger.Source
	stores   []secrets.Store

	status     *statusTracker
	httpServer *http.Server
}

// Option customizes an App. Options exist mostly for tests and embedding;
// the CLI uses the defaults.
type Option func(*App)

// WithLoader replaces the format-detecting loader.
func WithLoader(l loader.Loader) Option {
	return func(a *App) { a.loader = l }
}

// WithExecutor replaces the shell executor. It takes precedence over
// Config.DryRun.
func WithExecutor(e executor.StepExecutor) Option {
	return func(a *App) { a.executor = e }
}

// WithTriggerSource replaces the flag, env and git source chain.
func WithTriggerSource(s trigger.Source) Option {
	return func(a *App) { a.trigger = s }
}

// WithSettings replaces the process environment settings.
func WithSettings(s *settings.Settings) Option {
	return func(a *App) { a.settings = s }
}

// WithSecretStore registers an additional secret store. Stores registered
// this way override built-in stores of the same name.
func WithSecretStore(s secrets.Store) Option {
	return func(a *App) { a.stores = append(a.stores, s) }
}

// NewApp is the constructor for the main application. Run output (the
// report table) goes to outW, logs go to logW.
func NewApp(outW, logW io.Writer, cfg *Config, opts ...Option) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, logW)
	logger.Debug("Logger configured successfully.")

	a := &App{
		outW:   outW,
		logger: logger,
		config: cfg,
		loader: loader.Auto{},
		status: newStatusTracker(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.settings == nil {
		a.settings = NewSettings(nil)
	}
	return a
}
