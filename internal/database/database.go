// Package database owns the single SQLite database shared by every
// Luminary store: connection setup, the schema, ids, and timestamps.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// TimeLayout is the fixed-width UTC layout used for every stored
// timestamp, so that text comparison in SQL matches time order.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// BusyTimeout is how long a connection waits on a locked database
// before failing.
const BusyTimeout = 30 * time.Second

// Open creates the parent directory, opens the SQLite file in WAL
// mode with a busy timeout, and applies the schema.
func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on",
		path, BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer; readers queue behind it rather than racing for locks.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Migrate applies pragmas and creates all tables and indexes. It is
// idempotent and safe to run on every start.
func Migrate(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA busy_timeout = %d", BusyTimeout.Milliseconds()),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	// Superseded soul rows predate in-place identity updates.
	if _, err := db.Exec(`DELETE FROM memory_notes WHERE kind = 'soul' AND superseded_by IS NOT NULL`); err != nil {
		return fmt.Errorf("clean legacy soul notes: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id             TEXT PRIMARY KEY,
	display_name   TEXT NOT NULL,
	preferred_name TEXT,
	locale         TEXT NOT NULL DEFAULT 'en',
	timezone       TEXT NOT NULL DEFAULT 'UTC',
	preferences    TEXT NOT NULL DEFAULT '{}',
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS routines (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	goal         TEXT NOT NULL,
	trigger_type TEXT NOT NULL DEFAULT 'manual' CHECK (trigger_type IN ('manual','schedule','event')),
	tools        TEXT NOT NULL DEFAULT '[]',
	enabled      INTEGER NOT NULL DEFAULT 1,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS schedules (
	id          TEXT PRIMARY KEY,
	routine_id  TEXT REFERENCES routines(id) ON DELETE CASCADE,
	action_type TEXT NOT NULL DEFAULT 'routine' CHECK (action_type IN ('routine','tool_call')),
	tool_name   TEXT,
	tool_input  TEXT NOT NULL DEFAULT '{}',
	cron_expr   TEXT NOT NULL,
	enabled     INTEGER NOT NULL DEFAULT 1,
	user_id     TEXT,
	last_run_at TEXT,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	routine_id   TEXT,
	tool_name    TEXT,
	tool_input   TEXT NOT NULL DEFAULT '{}',
	trigger_type TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'queued' CHECK (status IN ('queued','running','succeeded','failed','canceled')),
	input        TEXT NOT NULL DEFAULT '{}',
	result       TEXT,
	error        TEXT,
	user_id      TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	started_at   TEXT,
	completed_at TEXT
);

CREATE TABLE IF NOT EXISTS step_runs (
	id            TEXT PRIMARY KEY,
	job_id        TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	tool_name     TEXT NOT NULL,
	input         TEXT NOT NULL DEFAULT '{}',
	output        TEXT,
	error         TEXT,
	artifact_path TEXT,
	started_at    TEXT NOT NULL,
	completed_at  TEXT
);

CREATE TABLE IF NOT EXISTS memory_notes (
	id            TEXT PRIMARY KEY,
	kind          TEXT NOT NULL CHECK (kind IN ('log','summary','rule','soul','agent','user')),
	content       TEXT NOT NULL,
	scope         TEXT NOT NULL DEFAULT 'user',
	user_id       TEXT,
	tags          TEXT NOT NULL DEFAULT '[]',
	confidence    REAL NOT NULL DEFAULT 1.0,
	stability     TEXT NOT NULL DEFAULT 'stable' CHECK (stability IN ('volatile','stable','permanent')),
	ttl_days      INTEGER,
	expires_at    TEXT,
	sensitivity   TEXT NOT NULL DEFAULT 'normal' CHECK (sensitivity IN ('normal','sensitive')),
	evidence      TEXT NOT NULL DEFAULT '[]',
	job_id        TEXT,
	superseded_by TEXT,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	role        TEXT NOT NULL CHECK (role IN ('user','assistant','assistant_tool_calls','tool_results')),
	content     TEXT NOT NULL,
	tool_use_id TEXT,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS vec_note_map (
	rowid   INTEGER PRIMARY KEY AUTOINCREMENT,
	note_id TEXT UNIQUE NOT NULL
);

CREATE TABLE IF NOT EXISTS vec_notes (
	rowid     INTEGER PRIMARY KEY,
	embedding BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_schedules_enabled ON schedules(enabled);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_routine_id ON jobs(routine_id);
CREATE INDEX IF NOT EXISTS idx_step_runs_job_id ON step_runs(job_id);
CREATE INDEX IF NOT EXISTS idx_notes_user_kind ON memory_notes(user_id, kind);
CREATE INDEX IF NOT EXISTS idx_notes_expires_at ON memory_notes(expires_at);
CREATE INDEX IF NOT EXISTS idx_conversations_user_id ON conversations(user_id);
CREATE INDEX IF NOT EXISTS idx_conversations_created_at ON conversations(created_at);
`

// NewID generates a new UUIDv7.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to v4 if v7 fails
		return uuid.New().String()
	}
	return id.String()
}

// FormatTime renders t in [TimeLayout].
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a stored timestamp. RFC 3339 values written by
// older builds or by SQLite's datetime() are accepted too.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range []string{TimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// NullTime converts a nullable column into a *time.Time.
func NullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := ParseTime(ns.String)
	if err != nil {
		return nil
	}
	return &t
}

// NullString maps "" to SQL NULL.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// TimeOrNull maps a nil or zero time to SQL NULL.
func TimeOrNull(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: FormatTime(*t), Valid: true}
}

// WithTx runs fn inside a transaction, committing when fn returns nil
// and rolling back otherwise. fn must use tx exclusively; with a single
// connection pool a call on the outer *sql.DB would block forever.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
