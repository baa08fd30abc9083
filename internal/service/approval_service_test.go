package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kestrel-social/kestrel/internal/adapter/outbound/memory"
	"github.com/kestrel-social/kestrel/internal/domain/approval"
	"github.com/kestrel-social/kestrel/internal/toolkit"
)

func newTestApprovals(t *testing.T) (*ApprovalService, *memory.MemoryApprovalStore) {
	t.Helper()
	store := memory.NewApprovalStore()
	err := store.Create(context.Background(), &approval.Item{
		ID: "a1", Tool: "post_tweet", Status: approval.StatusPending,
		Content: "draft", Args: map[string]any{"text": "draft"}, CreatedAt: testNow,
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	svc := NewApprovalService(store, testLogger())
	svc.SetClock(func() time.Time { return testNow })
	return svc, store
}

func TestApprovalService_EditApprovePublish(t *testing.T) {
	svc, _ := newTestApprovals(t)
	ctx := context.Background()

	item, err := svc.Edit(ctx, "a1", "better draft", "admin:rev", "tone")
	if err != nil {
		t.Fatalf("Edit() error: %v", err)
	}
	if item.Status != approval.StatusPending || item.Args["text"] != "better draft" {
		t.Errorf("edited item = %+v", item)
	}

	if _, err := svc.Edit(ctx, "a1", strings.Repeat("x", 281), "admin:rev", ""); err == nil {
		t.Error("Edit() accepted text over the limit")
	} else if kind, _ := toolkit.KindOf(err); kind != toolkit.KindContentTooLong {
		t.Errorf("Edit() error kind = %q", kind)
	}

	if _, err := svc.Approve(ctx, "a1", "admin:rev", ""); err != nil {
		t.Fatalf("Approve() error: %v", err)
	}
	if err := svc.NotePublishFailed(ctx, "a1", "admin:rev", errors.New("network")); err != nil {
		t.Fatalf("NotePublishFailed() error: %v", err)
	}
	item, err = svc.MarkPublished(ctx, "a1", "admin:rev", "1001")
	if err != nil {
		t.Fatalf("MarkPublished() error: %v", err)
	}
	if item.Status != approval.StatusPublished || item.PlatformID != "1001" {
		t.Errorf("published item = %+v", item)
	}
	if len(item.History) != 4 {
		t.Errorf("history = %+v, want 4 entries", item.History)
	}

	if _, err := svc.Reject(ctx, "a1", "admin:rev", ""); !errors.Is(err, approval.ErrInvalidTransition) {
		t.Errorf("Reject(published) = %v, want ErrInvalidTransition", err)
	}
	if _, err := svc.Edit(ctx, "a1", "late", "admin:rev", ""); !errors.Is(err, approval.ErrInvalidTransition) {
		t.Errorf("Edit(published) = %v, want ErrInvalidTransition", err)
	}
}

func TestApprovalService_EditThread(t *testing.T) {
	svc, store := newTestApprovals(t)
	ctx := context.Background()
	for _, it := range []*approval.Item{
		{ID: "t1", Tool: "post_thread", Status: approval.StatusPending, Content: "one\n\ntwo",
			Args: map[string]any{"parts": []any{"one", "two"}}, CreatedAt: testNow},
		{ID: "l1", Tool: "like_tweet", Status: approval.StatusPending,
			Args: map[string]any{"tweet_id": "101"}, CreatedAt: testNow},
	} {
		if err := store.Create(ctx, it); err != nil {
			t.Fatalf("Create() error: %v", err)
		}
	}

	item, err := svc.Edit(ctx, "t1", "Edited opener.\n\nEdited middle.\n\nEdited close.", "admin:rev", "")
	if err != nil {
		t.Fatalf("Edit() error: %v", err)
	}
	parts, _ := item.Args["parts"].([]string)
	if len(parts) != 3 || parts[0] != "Edited opener." {
		t.Errorf("parts = %#v", item.Args["parts"])
	}

	tests := []struct {
		name    string
		content string
		kind    toolkit.ErrorKind
	}{
		{"single part", "no blank lines at all", toolkit.KindInvalidInput},
		{"part too long", "fine\n\n" + strings.Repeat("z", 300), toolkit.KindContentTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Edit(ctx, "t1", tt.content, "admin:rev", "")
			if kind, _ := toolkit.KindOf(err); kind != tt.kind {
				t.Errorf("Edit() error = %v, want kind %q", err, tt.kind)
			}
		})
	}
	stored, err := svc.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if stored.Content != "Edited opener.\n\nEdited middle.\n\nEdited close." {
		t.Errorf("rejected edit was stored: %q", stored.Content)
	}

	if _, err := svc.Edit(ctx, "l1", "text for a like", "admin:rev", ""); !errors.Is(err, approval.ErrInvalidTransition) {
		t.Errorf("Edit(like_tweet) = %v, want ErrInvalidTransition", err)
	}
}

func TestApprovalService_RejectPending(t *testing.T) {
	svc, _ := newTestApprovals(t)
	ctx := context.Background()

	item, err := svc.Reject(ctx, "a1", "admin:rev", "off-topic")
	if err != nil {
		t.Fatalf("Reject() error: %v", err)
	}
	if item.Status != approval.StatusDiscarded {
		t.Errorf("status = %q", item.Status)
	}
	if n, _ := svc.CountPending(ctx); n != 0 {
		t.Errorf("CountPending() = %d", n)
	}
	if _, err := svc.Approve(ctx, "missing", "admin:rev", ""); !errors.Is(err, approval.ErrNotFound) {
		t.Errorf("Approve(missing) = %v", err)
	}
}
