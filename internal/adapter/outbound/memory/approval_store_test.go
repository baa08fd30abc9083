package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kestrel-social/kestrel/internal/domain/approval"
)

func TestApprovalStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewApprovalStore()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	item := &approval.Item{ID: "a1", Tool: "post_tweet", Status: approval.StatusPending, Content: "hi", CreatedAt: now}
	if err := store.Create(ctx, item); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := store.Create(ctx, item); err == nil {
		t.Error("duplicate Create() should fail")
	}

	_, err := store.Update(ctx, "a1", func(it *approval.Item) error {
		return it.Transition(approval.StatusPublished, "admin:x", approval.ActionPublished, "", now)
	})
	if !errors.Is(err, approval.ErrInvalidTransition) {
		t.Fatalf("Update() error = %v, want ErrInvalidTransition", err)
	}
	got, _ := store.Get(ctx, "a1")
	if got.Status != approval.StatusPending || len(got.History) != 0 {
		t.Errorf("failed update leaked: %+v", got)
	}

	updated, err := store.Update(ctx, "a1", func(it *approval.Item) error {
		return it.Transition(approval.StatusApproved, "admin:x", approval.ActionApproved, "", now)
	})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if updated.Status != approval.StatusApproved {
		t.Errorf("Status = %s, want approved", updated.Status)
	}

	n, _ := store.CountPending(ctx)
	if n != 0 {
		t.Errorf("CountPending() = %d, want 0", n)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, approval.ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestApprovalStore_ConcurrentApproveOnce(t *testing.T) {
	ctx := context.Background()
	store := NewApprovalStore()
	_ = store.Create(ctx, &approval.Item{ID: "a1", Status: approval.StatusPending})

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, "a1", func(it *approval.Item) error {
				return it.Transition(approval.StatusApproved, "admin:x", approval.ActionApproved, "", time.Now())
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("approvals succeeded %d times, want 1", wins)
	}
}
