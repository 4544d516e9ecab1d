// Package app initializes and holds the long-lived services of a link check
// invocation: the logger, the result hub and its sinks.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkcheck/internal/config"
	"github.com/JakeFAU/linkcheck/internal/engine"
	"github.com/JakeFAU/linkcheck/internal/results"
	"github.com/JakeFAU/linkcheck/internal/results/sinks"
)

const closeTimeout = 30 * time.Second

// App holds the shared services for one command run. It is initialized once
// and closed by a Cobra hook after the command finishes.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	hub    *results.Hub
	memory *sinks.MemorySink
	sqlite *sinks.SQLiteSink
}

// Option customizes NewApp.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
}

// WithRegisterer sets where the Prometheus result sink registers. Without it
// the default registerer is used, and only when the status server is on.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// NewApp builds the sinks named in cfg and the hub that feeds them. It fails
// fast when any configured sink cannot be initialized.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{cfg: cfg, logger: logger}

	var resultSinks []results.Sink
	closeAll := func() {
		for _, s := range resultSinks {
			if err := s.Close(ctx); err != nil {
				logger.Warn("Error closing result sink", zap.Error(err))
			}
		}
	}
	for _, name := range cfg.Output.Sinks {
		switch name {
		case config.SinkLog:
			resultSinks = append(resultSinks, sinks.NewLogSink(logger))
		case config.SinkMemory:
			if a.memory == nil {
				a.memory = sinks.NewMemorySink()
				resultSinks = append(resultSinks, a.memory)
			}
		case config.SinkPostgres:
			logger.Info("Connecting to PostgreSQL result sink", zap.String("table", cfg.Output.Postgres.Table))
			pg, err := sinks.NewPostgresSink(ctx, sinks.PostgresConfig{
				DSN:             cfg.Output.Postgres.DSN,
				Table:           cfg.Output.Postgres.Table,
				MaxConns:        cfg.Output.Postgres.MaxConns,
				MaxConnLifetime: cfg.Output.Postgres.MaxConnLifetime,
				CreateTable:     cfg.Output.Postgres.CreateTable,
			}, logger)
			if err != nil {
				closeAll()
				return nil, fmt.Errorf("failed to initialize postgres sink: %w", err)
			}
			resultSinks = append(resultSinks, pg)
		case config.SinkSQLite:
			logger.Info("Opening SQLite result sink", zap.String("path", cfg.Output.SQLite.Path))
			lite, err := sinks.NewSQLiteSink(ctx, cfg.Output.SQLite.Path, cfg.Output.SQLite.Table, logger)
			if err != nil {
				closeAll()
				return nil, fmt.Errorf("failed to initialize sqlite sink: %w", err)
			}
			a.sqlite = lite
			resultSinks = append(resultSinks, lite)
		default:
			closeAll()
			return nil, fmt.Errorf("unknown result sink: %s", name)
		}
	}

	reg := o.registerer
	if reg == nil && cfg.Server.Listen != "" {
		reg = prometheus.DefaultRegisterer
	}
	if reg != nil {
		prom, err := sinks.NewPrometheusSink(reg)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("failed to initialize prometheus sink: %w", err)
		}
		resultSinks = append(resultSinks, prom)
	}

	a.hub = results.NewHub(results.Config{Logger: logger}, resultSinks...)
	logger.Debug("Application services initialized", zap.Int("sinks", len(resultSinks)))
	return a, nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Hub returns the result hub; it satisfies engine.Emitter.
func (a *App) Hub() *results.Hub { return a.hub }

// Emitter returns the hub as the engine's record emitter.
func (a *App) Emitter() engine.Emitter { return a.hub }

// Broken returns the broken records collected by the memory sink so far.
// It is empty when the memory sink is not configured.
func (a *App) Broken() []results.Event {
	if a.memory == nil {
		return nil
	}
	return a.memory.Broken()
}

// Memory returns the in-memory sink, or nil when it is not configured.
func (a *App) Memory() *sinks.MemorySink { return a.memory }

// SQLite returns the SQLite sink, or nil when it is not configured.
func (a *App) SQLite() *sinks.SQLiteSink { return a.sqlite }

// Flush drains the hub so every emitted record reaches the sinks, then
// closes them. The App is unusable for new results afterwards.
func (a *App) Flush(ctx context.Context) error {
	if err := a.hub.Close(ctx); err != nil {
		return fmt.Errorf("flush results: %w", err)
	}
	if n := a.hub.Failures(); n > 0 {
		a.logger.Warn("Result sinks reported failures", zap.Int64("failures", n))
	}
	return nil
}

// Close flushes remaining results and syncs the logger.
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := a.Flush(ctx); err != nil {
		a.logger.Warn("Error flushing results on shutdown", zap.Error(err))
	}
	// Syncing stderr-backed loggers fails on some platforms; nothing to do then.
	_ = a.logger.Sync()
}
