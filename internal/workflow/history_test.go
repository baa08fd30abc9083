package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/kestrel-social/kestrel/internal/domain/policy"
	"github.com/kestrel-social/kestrel/internal/domain/storage"
	"github.com/kestrel-social/kestrel/internal/service"
)

func TestHistory_ListsPersistedState(t *testing.T) {
	f := newFixture(t, service.PolicyConfig{}, policy.ModeAutonomous, cannedGenerator(), SafetyConfig{})
	ctx := context.Background()

	if _, err := f.engine.Discover(ctx, "golang", 10); err != nil {
		t.Fatalf("Discover() error: %v", err)
	}
	if _, err := f.engine.Draft(ctx, []string{"101"}); err != nil {
		t.Fatalf("Draft() error: %v", err)
	}

	h, err := NewHistory(f.store)
	if err != nil {
		t.Fatalf("NewHistory() error: %v", err)
	}
	cands, err := h.Candidates(ctx, storage.ListOptions{})
	if err != nil || len(cands) != 3 {
		t.Fatalf("Candidates() = %d, %v; want 3", len(cands), err)
	}
	drafted, err := h.Candidates(ctx, storage.ListOptions{Status: string(storage.CandidateDrafted)})
	if err != nil || len(drafted) != 1 || drafted[0].TweetID != "101" {
		t.Errorf("drafted candidates = %+v, %v", drafted, err)
	}
	drafts, err := h.Drafts(ctx, storage.ListOptions{Limit: 10})
	if err != nil || len(drafts) != 1 {
		t.Fatalf("Drafts() = %d, %v; want 1", len(drafts), err)
	}
	if _, err := h.Draft(ctx, drafts[0].ID); err != nil {
		t.Errorf("Draft(%s) error: %v", drafts[0].ID, err)
	}

	_, err = h.Draft(ctx, "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Draft(missing) error = %v, want ErrNotFound", err)
	}
}

func TestNewHistory_RequiresStore(t *testing.T) {
	if _, err := NewHistory(nil); err == nil {
		t.Error("NewHistory(nil) should fail")
	}
}

func TestQueueByID(t *testing.T) {
	f := newFixture(t, service.PolicyConfig{}, policy.ModeAutonomous, cannedGenerator(), SafetyConfig{})
	ctx := context.Background()

	if _, err := f.engine.Discover(ctx, "golang", 10); err != nil {
		t.Fatalf("Discover() error: %v", err)
	}
	drafts, err := f.engine.Draft(ctx, []string{"102"})
	if err != nil || len(drafts) != 1 {
		t.Fatalf("Draft() = %d, %v", len(drafts), err)
	}

	results, err := f.engine.QueueByID(ctx, []string{drafts[0].ID}, policy.AgentActor("bot"))
	if err != nil {
		t.Fatalf("QueueByID() error: %v", err)
	}
	if len(results) != 1 || results[0].Status != storage.DraftPosted {
		t.Errorf("results = %+v", results)
	}

	_, err = f.engine.QueueByID(ctx, []string{"missing"}, policy.ActorScheduler)
	var we *Error
	if !errors.As(err, &we) || we.Kind != KindStorage || !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("QueueByID(missing) error = %v", err)
	}
}
