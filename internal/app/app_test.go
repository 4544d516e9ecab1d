// Package app_test contains unit tests for the app package.
package app_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkcheck/internal/app"
	"github.com/JakeFAU/linkcheck/internal/checker"
	"github.com/JakeFAU/linkcheck/internal/config"
)

func baseConfig(sinks ...string) config.Config {
	return config.Config{
		Output: config.OutputConfig{Sinks: sinks},
	}
}

func doneRecord(url string, valid bool) checker.Record {
	rec := checker.Record{
		Raw:      url,
		Resolved: url,
		Scheme:   "http",
		State:    checker.StateDone,
		Kind:     checker.KindOK,
		Valid:    true,
		Message:  "200 OK",
	}
	if !valid {
		rec.State = checker.StateError
		rec.Kind = checker.KindConnection
		rec.Valid = false
		rec.Message = "404 Not Found"
	}
	return rec
}

func TestNewAppMemoryAndSQLite(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(config.SinkLog, config.SinkMemory, config.SinkSQLite)
	cfg.Output.SQLite.Path = filepath.Join(t.TempDir(), "results.db")

	ctx := context.Background()
	a, err := app.NewApp(ctx, cfg, zap.NewNop(), app.WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	require.NotNil(t, a.Memory())
	require.NotNil(t, a.SQLite())

	a.Hub().Emit("run-1", doneRecord("http://site.test/", true))
	a.Hub().Emit("run-1", doneRecord("http://site.test/gone", false))

	require.NoError(t, a.Hub().Close(ctx))
	assert.Len(t, a.Memory().Events(), 2)
	assert.Len(t, a.Memory().Broken(), 1)
	a.Close()
}

func TestNewAppPersistsToSQLiteFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "results.db")
	cfg := baseConfig(config.SinkSQLite)
	cfg.Output.SQLite.Path = path

	ctx := context.Background()
	a, err := app.NewApp(ctx, cfg, nil)
	require.NoError(t, err)
	a.Hub().Emit("run-7", doneRecord("http://site.test/", true))
	a.Close()

	reopened, err := app.NewApp(ctx, cfg, nil)
	require.NoError(t, err)
	defer reopened.Close()
	rows, err := reopened.SQLite().Load(ctx, "run-7")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "http://site.test/", rows[0].URL)
}

func TestNewAppRejectsUnknownSink(t *testing.T) {
	t.Parallel()

	_, err := app.NewApp(context.Background(), baseConfig("kafka"), nil)
	require.ErrorContains(t, err, "unknown result sink")
}

func TestNewAppPostgresFailureIsFatal(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(config.SinkMemory, config.SinkPostgres)
	cfg.Output.Postgres.DSN = "postgres://nobody@127.0.0.1:1/none?connect_timeout=1"
	cfg.Output.Postgres.CreateTable = true

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := app.NewApp(ctx, cfg, nil)
	require.ErrorContains(t, err, "postgres sink")
}

func TestNewAppDoubleRegistrationFails(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	a, err := app.NewApp(context.Background(), baseConfig(config.SinkMemory), nil, app.WithRegisterer(reg))
	require.NoError(t, err)
	defer a.Close()

	_, err = app.NewApp(context.Background(), baseConfig(config.SinkMemory), nil, app.WithRegisterer(reg))
	require.ErrorContains(t, err, "prometheus sink")
}
