package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kestrel-social/kestrel/internal/adapter/outbound/mockprovider"
	"github.com/kestrel-social/kestrel/internal/domain/content"
	"github.com/kestrel-social/kestrel/internal/domain/policy"
	"github.com/kestrel-social/kestrel/internal/domain/provider"
	"github.com/kestrel-social/kestrel/internal/domain/storage"
	"github.com/kestrel-social/kestrel/internal/service"
)

func seedMentions(f *fixture) {
	f.mock.AddTweet(provider.Tweet{ID: "201", Text: "@kestrel_bot how do you find data races?", AuthorID: "42", CreatedAt: testNow.Add(-2 * time.Minute)})
	f.mock.AddTweet(provider.Tweet{ID: "202", Text: "great benchmarks @kestrel_bot", AuthorID: "42", CreatedAt: testNow.Add(-time.Minute)})
}

func TestProcessMentions_AdvancesCursor(t *testing.T) {
	f := newFixture(t, service.PolicyConfig{}, policy.ModeAutonomous, cannedGenerator(), SafetyConfig{})
	seedMentions(f)
	ctx := context.Background()

	report, err := f.engine.ProcessMentions(ctx, policy.ActorScheduler, 0)
	if err != nil {
		t.Fatalf("ProcessMentions() error: %v", err)
	}
	if report.Fetched != 2 || len(report.Drafts) != 2 || report.Cursor != "202" {
		t.Fatalf("report = %+v", report)
	}
	// Oldest mention is answered first.
	if report.Drafts[0].ReplyToID != "201" {
		t.Errorf("first draft replies to %s, want 201", report.Drafts[0].ReplyToID)
	}
	for _, q := range report.Queued {
		if q.Status != storage.DraftPosted {
			t.Errorf("queue result = %+v", q)
		}
	}
	cursor, _ := f.store.GetCursor(ctx, MentionsCursor)
	if cursor != "202" {
		t.Errorf("stored cursor = %q", cursor)
	}

	report, err = f.engine.ProcessMentions(ctx, policy.ActorScheduler, 0)
	if err != nil {
		t.Fatalf("second ProcessMentions() error: %v", err)
	}
	if report.Fetched != 0 || len(report.Drafts) != 0 {
		t.Errorf("second report = %+v", report)
	}
	if got := f.mock.Calls(mockprovider.MethodPost); got != 2 {
		t.Errorf("post calls = %d, want 2", got)
	}
}

func TestProcessMentions_CursorStaysOnFailure(t *testing.T) {
	var fail bool
	gen := generatorFunc(func(ctx context.Context, pc content.PromptContext) (string, error) {
		if fail && pc.Tweet.ID == "202" {
			return "", errors.New("model unavailable")
		}
		return cannedGenerator().Generate(ctx, pc)
	})
	f := newFixture(t, service.PolicyConfig{}, policy.ModeAutonomous, gen, SafetyConfig{})
	seedMentions(f)
	ctx := context.Background()

	fail = true
	_, err := f.engine.ProcessMentions(ctx, policy.ActorScheduler, 0)
	var we *Error
	if !errors.As(err, &we) || we.Kind != KindGeneration {
		t.Fatalf("ProcessMentions() error = %v, want generation", err)
	}
	if cursor, _ := f.store.GetCursor(ctx, MentionsCursor); cursor != "" {
		t.Errorf("cursor advanced to %q after a failure", cursor)
	}

	fail = false
	report, err := f.engine.ProcessMentions(ctx, policy.ActorScheduler, 0)
	if err != nil {
		t.Fatalf("retry error: %v", err)
	}
	// 201 was drafted by the failed run; it is queued now but not drafted again.
	if len(report.Drafts) != 1 || report.Drafts[0].ReplyToID != "202" || report.Cursor != "202" {
		t.Errorf("retry report = %+v", report)
	}
	if len(report.Queued) != 2 {
		t.Errorf("queued %d drafts, want 2", len(report.Queued))
	}
	if got := f.mock.Calls(mockprovider.MethodPost); got != 2 {
		t.Errorf("post calls = %d, want 2", got)
	}
}
