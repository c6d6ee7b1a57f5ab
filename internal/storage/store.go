// Package storage persists jobs and their execution attempts in an embedded
// SQLite database. All coordination between concurrent workers — in-process
// goroutines or separate OS processes pointing at the same file — happens
// through short immediate-mode write transactions; no other locking exists.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver, registers as "sqlite"
)

// Store provides methods to persist and retrieve jobs.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the SQLite database at path and ensures the
// schema exists. The DSN enables WAL, a busy timeout, and immediate write
// transactions: BEGIN IMMEDIATE takes the write lock at transaction start,
// which is what makes two workers racing on the same claim produce exactly
// one winner.
func NewStore(path string) (*Store, error) {
	dsn := "file:" + path + "?" + url.Values{
		"_txlock": {"immediate"},
		"_pragma": {
			"busy_timeout(5000)",
			"journal_mode(WAL)",
			"foreign_keys(1)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the jobs and job_executions tables if they don't exist.
func (s *Store) migrate() error {
	q := `
	CREATE TABLE IF NOT EXISTS jobs (
		id                    TEXT PRIMARY KEY,
		name                  TEXT NOT NULL,
		function_identifier   TEXT NOT NULL,
		parameters            BLOB,
		priority              INTEGER NOT NULL DEFAULT 0,
		dependencies          BLOB,
		max_attempts          INTEGER NOT NULL,
		attempts              INTEGER NOT NULL DEFAULT 0,
		timeout_seconds       INTEGER NOT NULL,
		status                TEXT NOT NULL,
		description           TEXT NOT NULL DEFAULT '',
		created_at            TEXT NOT NULL,
		updated_at            TEXT NOT NULL,
		started_at            TEXT,
		completed_at          TEXT,
		worker_id             TEXT,
		result                BLOB,
		error                 TEXT,
		executing_workflow_id TEXT
	);
	CREATE INDEX IF NOT EXISTS jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS jobs_workflow ON jobs(executing_workflow_id);

	CREATE TABLE IF NOT EXISTS job_executions (
		id           TEXT PRIMARY KEY,
		job_id       TEXT NOT NULL REFERENCES jobs(id),
		worker_id    TEXT NOT NULL,
		started_at   TEXT NOT NULL,
		completed_at TEXT,
		status       TEXT NOT NULL,
		result       BLOB,
		error        TEXT
	);
	CREATE INDEX IF NOT EXISTS executions_job ON job_executions(job_id);
	`
	if _, err := s.db.Exec(q); err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	return nil
}

// ── time columns ─────────────────────────────────────────────────

// timeLayout is the storage format for all timestamp columns: UTC RFC 3339
// with a fixed nine-digit fraction. Lexicographic order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// nullable turns an empty string into NULL for optional text columns.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullableBytes turns an empty blob into NULL.
func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
