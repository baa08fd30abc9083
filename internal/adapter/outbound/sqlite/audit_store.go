package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kestrel-social/kestrel/internal/domain/audit"
)

// AuditStore implements audit.Store on an append-only table. Update and
// delete are rejected by triggers.
type AuditStore struct {
	db *sql.DB
}

// NewAuditStore wraps a database opened with Open.
func NewAuditStore(db *sql.DB) (*AuditStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	return &AuditStore{db: db}, nil
}

func (s *AuditStore) Append(ctx context.Context, records ...audit.MutationRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range records {
		args, err := encodeJSON(audit.RedactSensitiveArgs(r.Args))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO mutation_audit (
				id, request_id, kind, fingerprint, tool, category, actor, actor_type,
				decision, reason, rule_id, outcome, error_code, platform_id, approval_id, ts, args_json
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.ID, r.RequestID, string(r.Kind), r.Fingerprint, r.Tool, r.Category, r.Actor, r.ActorType,
			r.Decision, r.Reason, r.RuleID, string(r.Outcome), r.ErrorCode, r.PlatformID, r.ApprovalID,
			millis(r.Timestamp), args)
		if err != nil {
			return fmt.Errorf("append audit record %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

func (s *AuditStore) Query(ctx context.Context, f audit.Filter) ([]audit.MutationRecord, error) {
	var w where
	if f.RequestID != "" {
		w.add("request_id = ?", f.RequestID)
	}
	if f.Tool != "" {
		w.add("tool = ?", f.Tool)
	}
	if f.Actor != "" {
		w.add("actor = ?", f.Actor)
	}
	if f.Kind != "" {
		w.add("kind = ?", string(f.Kind))
	}
	if f.Outcome != "" {
		w.add("outcome = ?", string(f.Outcome))
	}
	if !f.Since.IsZero() {
		w.add("ts >= ?", millis(f.Since))
	}
	if !f.Until.IsZero() {
		w.add("ts < ?", millis(f.Until))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, kind, fingerprint, tool, category, actor, actor_type,
			decision, reason, rule_id, outcome, error_code, platform_id, approval_id, ts, args_json
		FROM mutation_audit`+w.String()+` ORDER BY seq DESC LIMIT ?`,
		append(w.args, f.EffectiveLimit())...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.MutationRecord
	for rows.Next() {
		var (
			r                                      audit.MutationRecord
			kind, outcome                          string
			fingerprint, category, ruleID, errCode sql.NullString
			platformID, approvalID, args           sql.NullString
			ts                                     int64
		)
		if err := rows.Scan(&r.ID, &r.RequestID, &kind, &fingerprint, &r.Tool, &category, &r.Actor, &r.ActorType,
			&r.Decision, &r.Reason, &ruleID, &outcome, &errCode, &platformID, &approvalID, &ts, &args); err != nil {
			return nil, err
		}
		r.Kind = audit.Kind(kind)
		r.Outcome = audit.Outcome(outcome)
		r.Fingerprint = fingerprint.String
		r.Category = category.String
		r.RuleID = ruleID.String
		r.ErrorCode = errCode.String
		r.PlatformID = platformID.String
		r.ApprovalID = approvalID.String
		r.Timestamp = fromMillis(ts)
		if args.Valid && args.String != "" && args.String != "null" {
			if err := json.Unmarshal([]byte(args.String), &r.Args); err != nil {
				return nil, err
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close is a no-op; the database is owned by the caller of Open.
func (s *AuditStore) Close() error { return nil }

var _ audit.Store = (*AuditStore)(nil)
