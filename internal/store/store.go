// Package store persists all pulse collections in a document-style layout:
// one table per collection, a JSON doc column holding the full record and a
// few indexed scalar columns driving range scans. SQLite is the default
// backend; the same store runs against Postgres for deployments.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// tsLayout is the fixed-width UTC timestamp encoding. Fixed width keeps
// lexical order equal to chronological order, so range scans work on both
// backends without backend-specific time types.
const tsLayout = "2006-01-02T15:04:05.000Z"

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// Store is the document store shared by every component.
type Store struct {
	db      *sql.DB
	dialect dialect
	path    string
}

// NewStore creates a SQLite-backed store under dataDir.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "pulse.db")
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, dialect: dialectSQLite, path: dbPath}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return s, nil
}

// OpenPostgres opens the store against a Postgres DSN.
func OpenPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}

	s := &Store{db: db, dialect: dialectPostgres}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return s, nil
}

// initialize creates the collection tables and required indexes.
func (s *Store) initialize() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			start_time TEXT NOT NULL,
			last_updated_at TEXT NOT NULL,
			doc TEXT NOT NULL,
			raw TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS event_series (
			id TEXT PRIMARY KEY,
			host_id TEXT NOT NULL,
			category_id TEXT NOT NULL DEFAULT '',
			next_start_time TEXT,
			doc TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS event_categories (
			id TEXT PRIMARY KEY,
			host_id TEXT NOT NULL,
			name_key TEXT NOT NULL,
			doc TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tag_proposals (
			slug TEXT PRIMARY KEY,
			occurrence_count INTEGER NOT NULL,
			last_seen_at TEXT NOT NULL,
			doc TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS interactions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			ts TEXT NOT NULL,
			doc TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS pinned_events (
			user_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			event_start_time TEXT NOT NULL,
			doc TEXT NOT NULL,
			PRIMARY KEY (user_id, event_id)
		);`,
		`CREATE TABLE IF NOT EXISTS pinned_series (
			user_id TEXT NOT NULL,
			series_id TEXT NOT NULL,
			doc TEXT NOT NULL,
			PRIMARY KEY (user_id, series_id)
		);`,
		`CREATE TABLE IF NOT EXISTS category_bundle_state (
			user_id TEXT NOT NULL,
			category_id TEXT NOT NULL,
			last_seen_version INTEGER NOT NULL,
			last_seen_at TEXT NOT NULL,
			PRIMARY KEY (user_id, category_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_start_time ON events (start_time, id);`,
		`CREATE INDEX IF NOT EXISTS idx_series_next_start ON event_series (next_start_time);`,
		`CREATE INDEX IF NOT EXISTS idx_categories_host ON event_categories (host_id, name_key);`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_user_ts ON interactions (user_id, ts DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_proposals_count ON tag_proposals (occurrence_count DESC, last_seen_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_pinned_events_start ON pinned_events (user_id, event_start_time, event_id);`,
	}

	for _, stmt := range tables {
		if _, err := s.db.Exec(s.rebind(stmt)); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// rebind converts ? placeholders to $n for the Postgres backend.
func (s *Store) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

// withTx runs fn in a transaction, retrying once on contention. Persistent
// failure propagates to the caller as an upstream error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		lastErr = s.runTx(ctx, fn)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("transaction failed after retry: %w", lastErr)
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func isRetryable(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "could not serialize") ||
		strings.Contains(msg, "deadlock detected")
}

// encodeTime renders a timestamp in the store's sortable UTC encoding.
func encodeTime(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

// decodeTime parses the store encoding back to UTC.
func decodeTime(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed stored timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// Ping reports backend reachability for the status endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
