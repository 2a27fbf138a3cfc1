// Package store is the SQLite persistence layer for sandboxes, sessions,
// workspaces and idempotency keys.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Sentinel errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
)

// isBusyLock reports whether err indicates SQLite database lock (SQLITE_BUSY).
// Handles wrapped errors from database/sql.
func isBusyLock(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") || strings.Contains(s, "SQLITE_BUSY")
}

// isUniqueViolation reports whether err is a unique-constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "UNIQUE constraint failed") || strings.Contains(s, "SQLITE_CONSTRAINT")
}

// retryOnBusy runs fn and retries on SQLITE_BUSY with exponential backoff.
func retryOnBusy(fn func() error) error {
	const maxAttempts = 4
	backoff := 25 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isBusyLock(lastErr) {
			return lastErr
		}
		if attempt < maxAttempts-1 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return lastErr
}

type Store struct {
	db *sql.DB
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS sandboxes (
	id                 TEXT PRIMARY KEY,
	owner              TEXT NOT NULL,
	profile_id         TEXT NOT NULL,
	workspace_id       TEXT NOT NULL,
	current_session_id TEXT,
	expires_at         DATETIME,
	idle_expires_at    DATETIME,
	last_active_at     DATETIME NOT NULL,
	created_at         DATETIME NOT NULL,
	deleted_at         DATETIME
);
CREATE INDEX IF NOT EXISTS idx_sandboxes_owner_id ON sandboxes(owner, id) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_sandboxes_expires_at ON sandboxes(expires_at);

CREATE TABLE IF NOT EXISTS sessions (
	id               TEXT PRIMARY KEY,
	sandbox_id       TEXT NOT NULL,
	runtime_type     TEXT NOT NULL DEFAULT 'ship',
	profile_id       TEXT NOT NULL,
	container_id     TEXT,
	endpoint         TEXT,
	desired_state    TEXT NOT NULL DEFAULT 'pending',
	observed_state   TEXT NOT NULL DEFAULT 'pending',
	created_at       DATETIME NOT NULL,
	last_active_at   DATETIME NOT NULL,
	last_observed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_sessions_sandbox_id ON sessions(sandbox_id);
CREATE INDEX IF NOT EXISTS idx_sessions_observed_state ON sessions(observed_state);

CREATE TABLE IF NOT EXISTS workspaces (
	id                    TEXT PRIMARY KEY,
	owner                 TEXT NOT NULL,
	managed               INTEGER NOT NULL DEFAULT 0,
	managed_by_sandbox_id TEXT,
	driver_ref            TEXT NOT NULL,
	size_limit_mb         INTEGER NOT NULL DEFAULT 1024,
	created_at            DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_workspaces_owner ON workspaces(owner);

CREATE TABLE IF NOT EXISTS idempotency_keys (
	owner               TEXT NOT NULL,
	key                 TEXT NOT NULL,
	request_fingerprint TEXT NOT NULL,
	response_snapshot   TEXT NOT NULL,
	status_code         INTEGER NOT NULL,
	created_at          DATETIME NOT NULL,
	expires_at          DATETIME NOT NULL,
	PRIMARY KEY (owner, key)
);
CREATE INDEX IF NOT EXISTS idx_idempotency_expires_at ON idempotency_keys(expires_at);
`

// DefaultMaxOpenConns is the default connection pool size for concurrent reads.
// WAL mode allows multiple readers + 1 writer; more conns improve read throughput.
const DefaultMaxOpenConns = 4

// dsnWithPragmas returns a connection string with WAL, busy_timeout, and perf
// pragmas applied to every new connection. PRAGMAs in the DSN are applied
// per-connection by the driver.
func dsnWithPragmas(dbPath string) string {
	// busy_timeout: 15s wait on lock (API + reaper overlap)
	// journal_mode=WAL: concurrent reads during writes
	// synchronous=NORMAL: safe in WAL, much faster writes than FULL
	return dbPath + "?_pragma=busy_timeout(15000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=cache_size(-64000)" +
		"&_pragma=temp_store(MEMORY)"
}

// New opens the store. maxOpenConns controls the connection pool size
// (0 = default 4). SQLite remains single-writer; for very high write
// throughput, consider PostgreSQL.
func New(dbPath string, maxOpenConns int) (*Store, error) {
	dsn := dsnWithPragmas(dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if maxOpenConns <= 0 {
		maxOpenConns = DefaultMaxOpenConns
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type scannable interface {
	Scan(dest ...any) error
}

func checkRowAffected(result sql.Result, what, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
