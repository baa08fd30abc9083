// Package sqlite provides SQLite-backed implementations of the storage,
// audit and approval ports using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Open opens the database at dsn and ensures the schema exists.
// The pool is limited to one connection: SQLite has a single writer, and an
// in-memory database only exists on the connection that created it.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS candidates (
			tweet_id TEXT PRIMARY KEY,
			tweet_json TEXT NOT NULL,
			query TEXT NOT NULL,
			score REAL NOT NULL,
			matched_json TEXT,
			status TEXT NOT NULL,
			discovered_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_candidates_score ON candidates(score DESC);

		CREATE TABLE IF NOT EXISTS drafts (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			draft_json TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_drafts_created ON drafts(created_at DESC);

		CREATE TABLE IF NOT EXISTS thread_plans (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			scheduled_at INTEGER NOT NULL,
			plan_json TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_thread_plans_due ON thread_plans(status, scheduled_at);

		CREATE TABLE IF NOT EXISTS cursors (
			name TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS telemetry_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			source TEXT NOT NULL,
			name TEXT NOT NULL,
			result TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			error_text TEXT,
			details_json TEXT,
			at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_telemetry_name ON telemetry_events(source, name);

		CREATE TABLE IF NOT EXISTS mutation_audit (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			request_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			fingerprint TEXT,
			tool TEXT NOT NULL,
			category TEXT,
			actor TEXT NOT NULL,
			actor_type TEXT NOT NULL,
			decision TEXT NOT NULL,
			reason TEXT NOT NULL,
			rule_id TEXT,
			outcome TEXT NOT NULL,
			error_code TEXT,
			platform_id TEXT,
			approval_id TEXT,
			ts INTEGER NOT NULL,
			args_json TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_mutation_audit_request ON mutation_audit(request_id);
		CREATE INDEX IF NOT EXISTS idx_mutation_audit_tool ON mutation_audit(tool, ts);

		CREATE TRIGGER IF NOT EXISTS mutation_audit_no_update BEFORE UPDATE ON mutation_audit
		BEGIN SELECT RAISE(ABORT, 'mutation_audit is append-only'); END;
		CREATE TRIGGER IF NOT EXISTS mutation_audit_no_delete BEFORE DELETE ON mutation_audit
		BEGIN SELECT RAISE(ABORT, 'mutation_audit is append-only'); END;

		CREATE TABLE IF NOT EXISTS approval_items (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			tool TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			item_json TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_approval_items_status ON approval_items(status, created_at);

		CREATE TRIGGER IF NOT EXISTS approval_items_no_delete BEFORE DELETE ON approval_items
		BEGIN SELECT RAISE(ABORT, 'approval items are never deleted'); END;
	`)
	return err
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// where builds a WHERE clause from non-empty conditions.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, value any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, value)
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	s := " WHERE " + w.clauses[0]
	for _, c := range w.clauses[1:] {
		s += " AND " + c
	}
	return s
}
