package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kestrel-social/kestrel/internal/domain/approval"
)

// ApprovalStore implements approval.Store. Updates run inside a transaction
// that re-reads the row, so concurrent reviewers see each other's writes.
type ApprovalStore struct {
	db *sql.DB
}

// NewApprovalStore wraps a database opened with Open.
func NewApprovalStore(db *sql.DB) (*ApprovalStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	return &ApprovalStore{db: db}, nil
}

func (s *ApprovalStore) Create(ctx context.Context, item *approval.Item) error {
	payload, err := encodeJSON(item)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO approval_items (id, status, tool, created_at, updated_at, item_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`, item.ID, string(item.Status), item.Tool, millis(item.CreatedAt), millis(item.UpdatedAt), payload)
	if err != nil {
		return fmt.Errorf("create approval item %s: %w", item.ID, err)
	}
	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadItem(ctx context.Context, q queryRower, id string) (*approval.Item, error) {
	var payload string
	err := q.QueryRowContext(ctx, "SELECT item_json FROM approval_items WHERE id = ?", id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", approval.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var item approval.Item
	if err := json.Unmarshal([]byte(payload), &item); err != nil {
		return nil, fmt.Errorf("decode approval item %s: %w", id, err)
	}
	return &item, nil
}

func (s *ApprovalStore) Get(ctx context.Context, id string) (*approval.Item, error) {
	return loadItem(ctx, s.db, id)
}

func (s *ApprovalStore) List(ctx context.Context, f approval.Filter) ([]*approval.Item, error) {
	var w where
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	if f.Tool != "" {
		w.add("tool = ?", f.Tool)
	}
	query := "SELECT item_json FROM approval_items" + w.String() + " ORDER BY created_at ASC, id ASC"
	args := w.args
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items, err := scanJSONRows[approval.Item](rows)
	if err != nil {
		return nil, err
	}
	out := make([]*approval.Item, len(items))
	for i := range items {
		out[i] = &items[i]
	}
	return out, nil
}

func (s *ApprovalStore) Update(ctx context.Context, id string, fn func(*approval.Item) error) (*approval.Item, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	item, err := loadItem(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(item); err != nil {
		return nil, err
	}
	payload, err := encodeJSON(item)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE approval_items SET status = ?, updated_at = ?, item_json = ? WHERE id = ?
	`, string(item.Status), millis(item.UpdatedAt), payload, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *ApprovalStore) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM approval_items WHERE status = ?",
		string(approval.StatusPending)).Scan(&n)
	return n, err
}

var _ approval.Store = (*ApprovalStore)(nil)
