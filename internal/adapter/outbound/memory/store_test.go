package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kestrel-social/kestrel/internal/domain/storage"
)

func TestStore_CandidatesKeepStatus(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_ = s.SaveCandidates(ctx, []storage.Candidate{{TweetID: "1", Score: 10, Status: storage.CandidateNew}, {TweetID: "2", Score: 50, Status: storage.CandidateNew}})
	if err := s.SetCandidateStatus(ctx, "1", storage.CandidateDrafted); err != nil {
		t.Fatalf("SetCandidateStatus() error: %v", err)
	}
	// Rediscovery updates the score but keeps the workflow status.
	_ = s.SaveCandidates(ctx, []storage.Candidate{{TweetID: "1", Score: 90, Status: storage.CandidateNew}})

	got, _ := s.ListCandidates(ctx, storage.ListOptions{})
	if len(got) != 2 || got[0].TweetID != "1" || got[0].Status != storage.CandidateDrafted {
		t.Errorf("ListCandidates() = %+v", got)
	}

	if err := s.SetCandidateStatus(ctx, "nope", storage.CandidateSkipped); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("SetCandidateStatus(missing) = %v, want ErrNotFound", err)
	}
}

func TestStore_DueThreadPlans(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	_ = s.SaveThreadPlan(ctx, &storage.ThreadPlan{ID: "late", Status: storage.ThreadScheduled, ScheduledAt: now.Add(time.Hour)})
	_ = s.SaveThreadPlan(ctx, &storage.ThreadPlan{ID: "due", Status: storage.ThreadScheduled, ScheduledAt: now})
	_ = s.SaveThreadPlan(ctx, &storage.ThreadPlan{ID: "done", Status: storage.ThreadPosted, ScheduledAt: now.Add(-time.Hour)})

	due, err := s.DueThreadPlans(ctx, now)
	if err != nil {
		t.Fatalf("DueThreadPlans() error: %v", err)
	}
	if len(due) != 1 || due[0].ID != "due" {
		t.Errorf("DueThreadPlans() = %+v", due)
	}
}

func TestStore_CursorAndTelemetry(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	if v, _ := s.GetCursor(ctx, "mentions"); v != "" {
		t.Errorf("unset cursor = %q", v)
	}
	_ = s.SetCursor(ctx, "mentions", "123")
	if v, _ := s.GetCursor(ctx, "mentions"); v != "123" {
		t.Errorf("cursor = %q, want 123", v)
	}

	_ = s.AppendTelemetry(ctx,
		storage.TelemetryEvent{ID: "1", Source: "autopilot", Name: "discovery", Result: "ok"},
		storage.TelemetryEvent{ID: "2", Source: "autopilot", Name: "mentions", Result: "error"},
	)
	got, _ := s.ListTelemetry(ctx, storage.TelemetryFilter{Name: "mentions"})
	if len(got) != 1 || got[0].ID != "2" {
		t.Errorf("ListTelemetry() = %+v", got)
	}
}
