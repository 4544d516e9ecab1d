package sinks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/linkcheck/internal/checker"
	"github.com/JakeFAU/linkcheck/internal/results"
)

// SQLiteSink stores results in a local SQLite file. It is the default
// persistent output when no Postgres DSN is configured.
type SQLiteSink struct {
	db     *sql.DB
	table  string
	logger *zap.Logger
}

// StoredResult is one row read back from a SQLiteSink.
type StoredResult struct {
	RunID       string
	CheckedAt   time.Time
	URL         string
	Parent      string
	Line        int
	Column      int
	Depth       int
	Cached      bool
	Valid       bool
	Kind        string
	Result      string
	Warnings    []checker.Warning
	Infos       []string
	RealURL     string
	ContentType string
	Size        int64
}

// NewSQLiteSink opens (or creates) the database at path. Use ":memory:" for
// a throwaway database.
func NewSQLiteSink(ctx context.Context, path, table string, logger *zap.Logger) (*SQLiteSink, error) {
	if path == "" {
		return nil, errors.New("output.sqlite.path is required")
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
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer; an in-memory database also lives on a single connection.
	db.SetMaxOpenConns(1)
	s := &SQLiteSink{db: db, table: table, logger: logger}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	checked_at   TEXT NOT NULL,
	url          TEXT NOT NULL,
	raw_url      TEXT NOT NULL,
	parent_url   TEXT,
	line         INTEGER,
	col          INTEGER,
	depth        INTEGER NOT NULL,
	cache_key    TEXT,
	cached       INTEGER NOT NULL,
	valid        INTEGER NOT NULL,
	kind         TEXT NOT NULL,
	result       TEXT NOT NULL,
	warnings     TEXT NOT NULL,
	infos        TEXT NOT NULL,
	real_url     TEXT,
	content_type TEXT,
	size_bytes   INTEGER,
	download_ms  INTEGER,
	check_ms     INTEGER
)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_run_id ON %s (run_id)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create sqlite schema: %w", err)
		}
	}
	return nil
}

// Consume inserts the batch in a single transaction.
func (s *SQLiteSink) Consume(ctx context.Context, batch []results.Event) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin result batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
INSERT INTO %s (
	run_id, checked_at, url, raw_url, parent_url, line, col, depth,
	cache_key, cached, valid, kind, result, warnings, infos,
	real_url, content_type, size_bytes, download_ms, check_ms
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, s.table))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare result insert: %w", err)
	}
	defer stmt.Close()
	for _, evt := range batch {
		args, err := rowArgs(evt)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		args[1] = evt.TS.UTC().Format(time.RFC3339Nano)
		args[13] = string(args[13].([]byte))
		args[14] = string(args[14].([]byte))
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Warn("Failed to roll back result batch", zap.Error(rbErr))
			}
			return fmt.Errorf("insert result %s: %w", evt.Record.Resolved, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit result batch: %w", err)
	}
	return nil
}

// Load returns the stored rows of runID in insertion order.
func (s *SQLiteSink) Load(ctx context.Context, runID string) ([]StoredResult, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
SELECT run_id, checked_at, url, parent_url, line, col, depth, cached, valid,
	kind, result, warnings, infos, real_url, content_type, size_bytes
FROM %s WHERE run_id = ? ORDER BY id`, s.table), runID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []StoredResult
	for rows.Next() {
		var (
			r               StoredResult
			checkedAt       string
			warnings, infos string
			parent, realURL sql.NullString
			contentType     sql.NullString
			line, col       sql.NullInt64
			size            sql.NullInt64
		)
		if err := rows.Scan(&r.RunID, &checkedAt, &r.URL, &parent, &line, &col, &r.Depth,
			&r.Cached, &r.Valid, &r.Kind, &r.Result, &warnings, &infos,
			&realURL, &contentType, &size); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if r.CheckedAt, err = time.Parse(time.RFC3339Nano, checkedAt); err != nil {
			return nil, fmt.Errorf("parse checked_at: %w", err)
		}
		if err := json.Unmarshal([]byte(warnings), &r.Warnings); err != nil {
			return nil, fmt.Errorf("decode warnings: %w", err)
		}
		if err := json.Unmarshal([]byte(infos), &r.Infos); err != nil {
			return nil, fmt.Errorf("decode infos: %w", err)
		}
		r.Parent = parent.String
		r.Line = int(line.Int64)
		r.Column = int(col.Int64)
		r.RealURL = realURL.String
		r.ContentType = contentType.String
		r.Size = size.Int64
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (s *SQLiteSink) Close(context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}
