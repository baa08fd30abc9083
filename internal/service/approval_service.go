package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kestrel-social/kestrel/internal/domain/approval"
	"github.com/kestrel-social/kestrel/internal/toolkit"
)

// ApprovalService manages the review queue. Every state change goes through
// the store's per-item Update, so two reviewers acting on the same item are
// serialized and only one transition wins.
type ApprovalService struct {
	store  approval.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewApprovalService creates an ApprovalService.
func NewApprovalService(store approval.Store, logger *slog.Logger) *ApprovalService {
	return &ApprovalService{store: store, logger: logger, now: time.Now}
}

// SetClock overrides the clock used for history timestamps.
func (s *ApprovalService) SetClock(now func() time.Time) {
	s.now = now
}

// List returns items matching f, oldest first.
func (s *ApprovalService) List(ctx context.Context, f approval.Filter) ([]*approval.Item, error) {
	return s.store.List(ctx, f)
}

// Get returns one item.
func (s *ApprovalService) Get(ctx context.Context, id string) (*approval.Item, error) {
	return s.store.Get(ctx, id)
}

// CountPending returns the size of the pending queue.
func (s *ApprovalService) CountPending(ctx context.Context) (int, error) {
	return s.store.CountPending(ctx)
}

// Approve moves a pending item to approved. Publishing is a separate step.
func (s *ApprovalService) Approve(ctx context.Context, id, reviewer, note string) (*approval.Item, error) {
	item, err := s.store.Update(ctx, id, func(it *approval.Item) error {
		return it.Transition(approval.StatusApproved, reviewer, approval.ActionApproved, note, s.now().UTC())
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("approval item approved", "approval_id", id, "reviewer", reviewer)
	return item, nil
}

// Reject discards a pending or approved item.
func (s *ApprovalService) Reject(ctx context.Context, id, reviewer, note string) (*approval.Item, error) {
	item, err := s.store.Update(ctx, id, func(it *approval.Item) error {
		return it.Transition(approval.StatusDiscarded, reviewer, approval.ActionRejected, note, s.now().UTC())
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("approval item rejected", "approval_id", id, "reviewer", reviewer)
	return item, nil
}

// Edit replaces the proposed content of a non-terminal item. Post text is
// checked against the weighted length limit and thread content must split
// into a postable thread before it is stored.
func (s *ApprovalService) Edit(ctx context.Context, id, content, reviewer, note string) (*approval.Item, error) {
	item, err := s.store.Update(ctx, id, func(it *approval.Item) error {
		if err := validateEdit(it, content); err != nil {
			return err
		}
		return it.Edit(content, reviewer, note, s.now().UTC())
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("approval item edited", "approval_id", id, "reviewer", reviewer, "tool", item.Tool)
	return item, nil
}

func validateEdit(it *approval.Item, content string) error {
	switch it.EditableField() {
	case "text":
		return toolkit.ValidateText("edit_item", content)
	case "parts":
		return toolkit.ValidateThread(approval.ThreadParts(content))
	}
	// Item.Edit reports the missing content.
	return nil
}

// MarkPublished records a successful execution of an approved item.
func (s *ApprovalService) MarkPublished(ctx context.Context, id, reviewer, platformID string) (*approval.Item, error) {
	return s.store.Update(ctx, id, func(it *approval.Item) error {
		if err := it.Transition(approval.StatusPublished, reviewer, approval.ActionPublished, "", s.now().UTC()); err != nil {
			return err
		}
		it.PlatformID = platformID
		return nil
	})
}

// NotePublishFailed appends a failed publish attempt; the item stays approved
// so it can be retried.
func (s *ApprovalService) NotePublishFailed(ctx context.Context, id, reviewer string, cause error) error {
	_, err := s.store.Update(ctx, id, func(it *approval.Item) error {
		if it.Status != approval.StatusApproved {
			return fmt.Errorf("%w: item is %s", approval.ErrInvalidTransition, it.Status)
		}
		it.Note(reviewer, approval.ActionPublishFailed, cause.Error(), s.now().UTC())
		return nil
	})
	return err
}
