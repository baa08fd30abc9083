package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/kestrel-social/kestrel/internal/adapter/outbound/mockprovider"
	"github.com/kestrel-social/kestrel/internal/domain/content"
	"github.com/kestrel-social/kestrel/internal/domain/policy"
	"github.com/kestrel-social/kestrel/internal/domain/provider"
	"github.com/kestrel-social/kestrel/internal/domain/ratelimit"
	"github.com/kestrel-social/kestrel/internal/domain/storage"
	"github.com/kestrel-social/kestrel/internal/service"
)

func TestOrchestrate_DiscoverDraftQueue(t *testing.T) {
	f := newFixture(t, service.PolicyConfig{}, policy.ModeAutonomous, cannedGenerator(), SafetyConfig{})
	ctx := context.Background()

	report, err := f.engine.Orchestrate(ctx, "golang", 2, policy.ActorScheduler)
	if err != nil {
		t.Fatalf("Orchestrate() error: %v", err)
	}
	for _, s := range report.Steps {
		if s.Status != StepOK {
			t.Errorf("step %s = %s (%s)", s.Name, s.Status, s.Error)
		}
	}
	if len(report.Candidates) != 3 {
		t.Errorf("candidates = %d, want 3", len(report.Candidates))
	}
	if len(report.Drafts) != 2 || len(report.Queued) != 2 {
		t.Fatalf("drafts = %d, queued = %d, want 2 and 2", len(report.Drafts), len(report.Queued))
	}
	for _, q := range report.Queued {
		if q.Status != storage.DraftPosted || q.PlatformID == "" || q.Tool != "reply_to_tweet" {
			t.Errorf("queue result = %+v", q)
		}
	}
	if got := f.mock.Calls(mockprovider.MethodPost); got != 2 {
		t.Errorf("post calls = %d, want 2", got)
	}
	// Two mutations, each with a decision and an outcome record.
	if got := f.audit.Len(); got != 4 {
		t.Errorf("audit records = %d, want 4", got)
	}

	// Ties rank the newer tweet first, so 101 is the only candidate left.
	report, err = f.engine.Orchestrate(ctx, "golang", 2, policy.ActorScheduler)
	if err != nil {
		t.Fatalf("second Orchestrate() error: %v", err)
	}
	if len(report.Drafts) != 1 || report.Drafts[0].ReplyToID != "101" {
		t.Errorf("second run drafts = %+v", report.Drafts)
	}
	c, err := f.store.GetCandidate(ctx, "101")
	if err != nil || c.Status != storage.CandidateDrafted {
		t.Errorf("candidate 101 = %+v, %v", c, err)
	}
}

func TestOrchestrate_AbortNamesFailedStep(t *testing.T) {
	f := newFixture(t, service.PolicyConfig{}, policy.ModeAutonomous, cannedGenerator(), SafetyConfig{})
	f.mock.FailNext(mockprovider.MethodSearch, &provider.Error{Kind: provider.KindRateLimited, Endpoint: "search", Status: 429})

	report, err := f.engine.Orchestrate(context.Background(), "golang", 2, policy.ActorScheduler)
	if err == nil {
		t.Fatal("expected an error")
	}
	if step, _ := StepOf(err); step != "discover" {
		t.Errorf("StepOf() = %q, want discover", step)
	}
	var we *Error
	if !errors.As(err, &we) || we.Kind != KindStepAborted {
		t.Errorf("error = %v, want step_aborted", err)
	}
	if !provider.IsKind(err, provider.KindRateLimited) {
		t.Error("provider cause not reachable through the chain")
	}
	want := []string{StepFailed, StepSkipped, StepSkipped}
	for i, s := range report.Steps {
		if s.Status != want[i] {
			t.Errorf("step %d (%s) = %s, want %s", i, s.Name, s.Status, want[i])
		}
	}
}

func TestOrchestrate_GenerationFailureAbortsDraft(t *testing.T) {
	failing := generatorFunc(func(context.Context, content.PromptContext) (string, error) {
		return "", errors.New("model overloaded")
	})
	f := newFixture(t, service.PolicyConfig{}, policy.ModeAutonomous, failing, SafetyConfig{})

	report, err := f.engine.Orchestrate(context.Background(), "golang", 1, policy.ActorScheduler)
	if step, _ := StepOf(err); step != "draft" {
		t.Fatalf("StepOf(%v) = %q, want draft", err, step)
	}
	var inner *Error
	if !errors.As(errors.Unwrap(err), &inner) || inner.Kind != KindGeneration {
		t.Errorf("inner error = %v, want generation", errors.Unwrap(err))
	}
	if report.Steps[2].Name != "queue" || report.Steps[2].Status != StepSkipped {
		t.Errorf("queue step = %+v", report.Steps[2])
	}
	if got := f.mock.Calls(mockprovider.MethodPost); got != 0 {
		t.Errorf("post calls = %d, want 0", got)
	}
}

func TestDraft_SafetyFilter(t *testing.T) {
	gen := generatorFunc(func(_ context.Context, pc content.PromptContext) (string, error) {
		switch pc.Tweet.ID {
		case "101":
			return "Buy now and get the best golang course ever!", nil
		default:
			return "Structured logging with slog keeps our services debuggable.", nil
		}
	})
	f := newFixture(t, service.PolicyConfig{}, policy.ModeAutonomous, gen, SafetyConfig{BannedPhrases: []string{"BUY NOW"}})

	drafts, err := f.engine.Draft(context.Background(), []string{"101", "102", "103"})
	if err != nil {
		t.Fatalf("Draft() error: %v", err)
	}
	want := []storage.DraftStatus{storage.DraftRejected, storage.DraftNew, storage.DraftRejected}
	for i, d := range drafts {
		if d.Status != want[i] {
			t.Errorf("draft %d status = %s (%s), want %s", i, d.Status, d.Rejection, want[i])
		}
	}
	if drafts[0].Rejection != `banned phrase "buy now"` {
		t.Errorf("rejection = %q", drafts[0].Rejection)
	}

	results, err := f.engine.Queue(context.Background(), drafts, policy.ActorScheduler)
	if err != nil {
		t.Fatalf("Queue() error: %v", err)
	}
	if results[0].Skipped == "" || results[2].Skipped == "" || results[1].Status != storage.DraftPosted {
		t.Errorf("queue results = %+v", results)
	}
}

func TestQueue_QuotaDenialKeepsDraftSendable(t *testing.T) {
	cfg := service.PolicyConfig{Limits: []ratelimit.Limit{
		{Dimension: ratelimit.DimensionEndpoint, Match: "reply_to_tweet", Window: ratelimit.WindowHour, Max: 1},
	}}
	f := newFixture(t, cfg, policy.ModeAutonomous, cannedGenerator(), SafetyConfig{})
	ctx := context.Background()

	drafts, err := f.engine.Draft(ctx, []string{"101", "102"})
	if err != nil {
		t.Fatalf("Draft() error: %v", err)
	}
	results, err := f.engine.Queue(ctx, drafts, policy.ActorScheduler)
	if err != nil {
		t.Fatalf("Queue() error: %v", err)
	}
	if results[0].Status != storage.DraftPosted {
		t.Errorf("first = %+v", results[0])
	}
	second := results[1]
	if second.Decision == nil || second.Decision.Reason != policy.ReasonRateLimited || second.Status != storage.DraftNew {
		t.Errorf("second = %+v", second)
	}
	if second.Decision.RetryAfter <= 0 {
		t.Error("rate-limit denial carries no retry hint")
	}
}

func TestQueue_HaltsOnPlatformRateLimit(t *testing.T) {
	f := newFixture(t, service.PolicyConfig{}, policy.ModeAutonomous, cannedGenerator(), SafetyConfig{})
	ctx := context.Background()
	drafts, err := f.engine.Draft(ctx, []string{"101", "102"})
	if err != nil {
		t.Fatalf("Draft() error: %v", err)
	}
	f.mock.FailNext(mockprovider.MethodPost, &provider.Error{Kind: provider.KindRateLimited, Endpoint: "post", Status: 429})

	results, err := f.engine.Queue(ctx, drafts, policy.ActorScheduler)
	if err == nil || !provider.IsKind(err, provider.KindRateLimited) {
		t.Fatalf("Queue() error = %v, want rate limited", err)
	}
	if len(results) != 1 || results[0].Status != storage.DraftFailed {
		t.Errorf("results = %+v", results)
	}
	// The failed draft is retried on the next cycle.
	results, err = f.engine.Queue(ctx, []storage.Draft{mustDraft(t, f, results[0].DraftID), drafts[1]}, policy.ActorScheduler)
	if err != nil {
		t.Fatalf("retry Queue() error: %v", err)
	}
	for _, r := range results {
		if r.Status != storage.DraftPosted {
			t.Errorf("retry result = %+v", r)
		}
	}
}

func mustDraft(t *testing.T, f *fixture, id string) storage.Draft {
	t.Helper()
	d, err := f.store.GetDraft(context.Background(), id)
	if err != nil {
		t.Fatalf("GetDraft(%s) error: %v", id, err)
	}
	return *d
}
