package cli

import (
	"context"
	"os"

	"github.com/cloo-solutions/creditrust/internal/app"
	"github.com/cloo-solutions/creditrust/internal/config"
	"github.com/cloo-solutions/creditrust/internal/logger"
	"github.com/cloo-solutions/creditrust/internal/telemetry"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Runtime is the loaded configuration plus the process-wide logger and
// telemetry shutdown hook.
type Runtime struct {
	Config   *config.Config
	Log      zerolog.Logger
	shutdown func()
}

// Load reads configuration from the environment and starts logging and
// telemetry. Callers must call Close.
func Load() (*Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if cfg.Debug {
		level = "debug"
	}
	log := logger.New(logger.Config{
		Level:      level,
		Pretty:     cfg.LogPretty || term.IsTerminal(int(os.Stderr.Fd())),
		WithCaller: cfg.Debug,
	})

	shutdown, err := telemetry.Init(telemetry.Config{
		DSN:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		TracesSampleRate: telemetry.SampleRateFor(cfg.Environment),
		Debug:            cfg.Debug,
		Logger:           log,
	})
	if err != nil {
		log.Warn().Err(err).Msg("telemetry init failed (continuing without tracing)")
		shutdown = func() {}
	}

	return &Runtime{Config: cfg, Log: log, shutdown: shutdown}, nil
}

// App builds the application dependencies from the runtime configuration.
func (r *Runtime) App(ctx context.Context, opts ...app.Option) (*app.App, error) {
	return app.New(ctx, r.Config, r.Log, opts...)
}

func (r *Runtime) Close() {
	r.shutdown()
}
