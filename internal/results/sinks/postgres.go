package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkcheck/internal/results"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "link_results"

// PostgresConfig controls the connection pool used for result rows.
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// CreateTable issues CREATE TABLE IF NOT EXISTS on startup.
	CreateTable bool
}

type txPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// PostgresSink writes one row per record, one transaction per batch.
type PostgresSink struct {
	pool   txPool
	table  string
	logger *zap.Logger
}

// NewPostgresSink connects to Postgres using cfg.
func NewPostgresSink(ctx context.Context, cfg PostgresConfig, logger *zap.Logger) (*PostgresSink, error) {
	if cfg.DSN == "" {
		return nil, errors.New("output.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewPostgresSinkWithPool(pool, cfg.Table, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if cfg.CreateTable {
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewPostgresSinkWithPool builds a sink on an existing pool.
func NewPostgresSinkWithPool(pool txPool, table string, logger *zap.Logger) (*PostgresSink, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresSink{pool: pool, table: table, logger: logger}, nil
}

// EnsureSchema creates the result table when missing.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id            BIGSERIAL PRIMARY KEY,
	run_id        TEXT NOT NULL,
	checked_at    TIMESTAMPTZ NOT NULL,
	url           TEXT NOT NULL,
	raw_url       TEXT NOT NULL,
	parent_url    TEXT,
	line          INTEGER,
	col           INTEGER,
	depth         INTEGER NOT NULL,
	cache_key     TEXT,
	cached        BOOLEAN NOT NULL,
	valid         BOOLEAN NOT NULL,
	kind          TEXT NOT NULL,
	result        TEXT NOT NULL,
	warnings      JSONB NOT NULL,
	infos         JSONB NOT NULL,
	real_url      TEXT,
	content_type  TEXT,
	size_bytes    BIGINT,
	download_ms   BIGINT,
	check_ms      BIGINT
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Consume inserts the batch in a single transaction.
func (s *PostgresSink) Consume(ctx context.Context, batch []results.Event) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin result batch: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id, checked_at, url, raw_url, parent_url, line, col, depth,
	cache_key, cached, valid, kind, result, warnings, infos,
	real_url, content_type, size_bytes, download_ms, check_ms
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20
)`, s.table)
	for _, evt := range batch {
		args, err := rowArgs(evt)
		if err != nil {
			s.rollback(ctx, tx)
			return err
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			s.rollback(ctx, tx)
			return fmt.Errorf("insert result %s: %w", evt.Record.Resolved, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit result batch: %w", err)
	}
	return nil
}

func (s *PostgresSink) rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		s.logger.Warn("Failed to roll back result batch", zap.Error(err))
	}
}

// Close releases the pool.
func (s *PostgresSink) Close(context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// rowArgs flattens an event into insert arguments, shared by the SQL sinks.
func rowArgs(evt results.Event) ([]any, error) {
	rec := evt.Record
	warnings, err := json.Marshal(nonNil(rec.Warnings))
	if err != nil {
		return nil, fmt.Errorf("marshal warnings: %w", err)
	}
	infos, err := json.Marshal(nonNil(rec.Infos))
	if err != nil {
		return nil, fmt.Errorf("marshal infos: %w", err)
	}
	return []any{
		evt.RunID,
		evt.TS,
		rec.Resolved,
		rec.Raw,
		rec.Parent,
		rec.Line,
		rec.Column,
		rec.Depth,
		rec.CacheKey,
		rec.Cached,
		rec.Valid,
		rec.Kind.String(),
		rec.Message,
		warnings,
		infos,
		rec.RealURL,
		rec.ContentType,
		rec.Size,
		rec.DownloadTime.Milliseconds(),
		rec.CheckTime.Milliseconds(),
	}, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
