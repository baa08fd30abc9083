package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kestrel-social/kestrel/internal/domain/storage"
)

// Store implements storage.Store on SQLite.
type Store struct {
	db *sql.DB
}

// NewStore wraps a database opened with Open.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	return &Store{db: db}, nil
}

func (s *Store) SaveCandidates(ctx context.Context, candidates []storage.Candidate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range candidates {
		tweet, err := encodeJSON(c.Tweet)
		if err != nil {
			return err
		}
		matched, err := encodeJSON(c.Matched)
		if err != nil {
			return err
		}
		// On conflict the workflow status and first discovery time are kept.
		_, err = tx.ExecContext(ctx, `
			INSERT INTO candidates (tweet_id, tweet_json, query, score, matched_json, status, discovered_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(tweet_id) DO UPDATE SET
				tweet_json = excluded.tweet_json,
				query = excluded.query,
				score = excluded.score,
				matched_json = excluded.matched_json
		`, c.TweetID, tweet, c.Query, c.Score, matched, string(c.Status), millis(c.DiscoveredAt))
		if err != nil {
			return fmt.Errorf("save candidate %s: %w", c.TweetID, err)
		}
	}
	return tx.Commit()
}

const candidateColumns = "tweet_id, tweet_json, query, score, matched_json, status, discovered_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanCandidate(row scanner) (storage.Candidate, error) {
	var (
		c          storage.Candidate
		tweetJSON  string
		matched    sql.NullString
		status     string
		discovered int64
	)
	if err := row.Scan(&c.TweetID, &tweetJSON, &c.Query, &c.Score, &matched, &status, &discovered); err != nil {
		return c, err
	}
	if err := json.Unmarshal([]byte(tweetJSON), &c.Tweet); err != nil {
		return c, err
	}
	if matched.Valid && matched.String != "" {
		if err := json.Unmarshal([]byte(matched.String), &c.Matched); err != nil {
			return c, err
		}
	}
	c.Status = storage.CandidateStatus(status)
	c.DiscoveredAt = fromMillis(discovered)
	return c, nil
}

func (s *Store) GetCandidate(ctx context.Context, tweetID string) (*storage.Candidate, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+candidateColumns+" FROM candidates WHERE tweet_id = ?", tweetID)
	c, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("candidate %s: %w", tweetID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListCandidates(ctx context.Context, opts storage.ListOptions) ([]storage.Candidate, error) {
	var w where
	if opts.Status != "" {
		w.add("status = ?", opts.Status)
	}
	query := "SELECT " + candidateColumns + " FROM candidates" + w.String() + " ORDER BY score DESC, tweet_id DESC LIMIT ?"
	rows, err := s.db.QueryContext(ctx, query, append(w.args, opts.EffectiveLimit())...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) SetCandidateStatus(ctx context.Context, tweetID string, status storage.CandidateStatus) error {
	res, err := s.db.ExecContext(ctx, "UPDATE candidates SET status = ? WHERE tweet_id = ?", string(status), tweetID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("candidate %s: %w", tweetID, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) SaveDraft(ctx context.Context, d *storage.Draft) error {
	payload, err := encodeJSON(d)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO drafts (id, status, created_at, draft_json) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, draft_json = excluded.draft_json
	`, d.ID, string(d.Status), millis(d.CreatedAt), payload)
	return err
}

func (s *Store) GetDraft(ctx context.Context, id string) (*storage.Draft, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT draft_json FROM drafts WHERE id = ?", id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("draft %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var d storage.Draft
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) ListDrafts(ctx context.Context, opts storage.ListOptions) ([]storage.Draft, error) {
	var w where
	if opts.Status != "" {
		w.add("status = ?", opts.Status)
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT draft_json FROM drafts"+w.String()+" ORDER BY created_at DESC, id DESC LIMIT ?",
		append(w.args, opts.EffectiveLimit())...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJSONRows[storage.Draft](rows)
}

func (s *Store) SaveThreadPlan(ctx context.Context, p *storage.ThreadPlan) error {
	payload, err := encodeJSON(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO thread_plans (id, status, scheduled_at, plan_json) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			scheduled_at = excluded.scheduled_at,
			plan_json = excluded.plan_json
	`, p.ID, string(p.Status), millis(p.ScheduledAt), payload)
	return err
}

func (s *Store) GetThreadPlan(ctx context.Context, id string) (*storage.ThreadPlan, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT plan_json FROM thread_plans WHERE id = ?", id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("thread plan %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var p storage.ThreadPlan
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListThreadPlans(ctx context.Context, opts storage.ListOptions) ([]storage.ThreadPlan, error) {
	var w where
	if opts.Status != "" {
		w.add("status = ?", opts.Status)
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT plan_json FROM thread_plans"+w.String()+" ORDER BY scheduled_at ASC, id ASC LIMIT ?",
		append(w.args, opts.EffectiveLimit())...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJSONRows[storage.ThreadPlan](rows)
}

func (s *Store) DueThreadPlans(ctx context.Context, now time.Time) ([]storage.ThreadPlan, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT plan_json FROM thread_plans WHERE status = ? AND scheduled_at <= ? ORDER BY scheduled_at ASC, id ASC",
		string(storage.ThreadScheduled), millis(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJSONRows[storage.ThreadPlan](rows)
}

func (s *Store) GetCursor(ctx context.Context, name string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM cursors WHERE name = ?", name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

func (s *Store) SetCursor(ctx context.Context, name, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cursors (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, name, value, time.Now().UTC().UnixMilli())
	return err
}

func (s *Store) AppendTelemetry(ctx context.Context, events ...storage.TelemetryEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, e := range events {
		details, err := encodeJSON(e.Details)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO telemetry_events (id, source, name, result, duration_ms, error_text, details_json, at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, e.ID, e.Source, e.Name, e.Result, e.DurationMS, e.Error, details, millis(e.At)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ListTelemetry(ctx context.Context, f storage.TelemetryFilter) ([]storage.TelemetryEvent, error) {
	var w where
	if f.Source != "" {
		w.add("source = ?", f.Source)
	}
	if f.Name != "" {
		w.add("name = ?", f.Name)
	}
	if !f.Since.IsZero() {
		w.add("at >= ?", millis(f.Since))
	}
	limit := storage.ListOptions{Limit: f.Limit}.EffectiveLimit()
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, source, name, result, duration_ms, error_text, details_json, at FROM telemetry_events"+w.String()+" ORDER BY seq DESC LIMIT ?",
		append(w.args, limit)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.TelemetryEvent
	for rows.Next() {
		var (
			e       storage.TelemetryEvent
			errText sql.NullString
			details sql.NullString
			at      int64
		)
		if err := rows.Scan(&e.ID, &e.Source, &e.Name, &e.Result, &e.DurationMS, &errText, &details, &at); err != nil {
			return nil, err
		}
		e.Error = errText.String
		if details.Valid && details.String != "" && details.String != "null" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, err
			}
		}
		e.At = fromMillis(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanJSONRows[T any](rows *sql.Rows) ([]T, error) {
	var out []T
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Compile-time interface verification.
var _ storage.Store = (*Store)(nil)
