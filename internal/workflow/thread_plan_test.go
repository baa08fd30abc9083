package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kestrel-social/kestrel/internal/adapter/outbound/mockprovider"
	"github.com/kestrel-social/kestrel/internal/domain/content"
	"github.com/kestrel-social/kestrel/internal/domain/policy"
	"github.com/kestrel-social/kestrel/internal/domain/provider"
	"github.com/kestrel-social/kestrel/internal/domain/storage"
	"github.com/kestrel-social/kestrel/internal/service"
	"github.com/kestrel-social/kestrel/internal/toolkit"
)

func TestPostDueThreads_PartialFailure(t *testing.T) {
	f := newFixture(t, service.PolicyConfig{}, policy.ModeAutonomous, cannedGenerator(), SafetyConfig{})
	ctx := context.Background()

	plan, err := f.engine.PlanThread(ctx, "why go", 3, testNow.Add(-time.Minute))
	if err != nil {
		t.Fatalf("PlanThread() error: %v", err)
	}
	if len(plan.Parts) != 3 || plan.Status != storage.ThreadScheduled {
		t.Fatalf("plan = %+v", plan)
	}

	// The first part goes out, the second is rejected.
	f.mock.FailAfter(mockprovider.MethodPost, 1, &provider.Error{Kind: provider.KindForbidden, Endpoint: "post", Status: 403, Message: "duplicate content"})
	outcomes, err := f.engine.PostDueThreads(ctx, testNow, policy.ActorScheduler)
	if err != nil {
		t.Fatalf("PostDueThreads() error: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("outcomes = %+v", outcomes)
	}
	out := outcomes[0]
	if out.Status != storage.ThreadPartial || out.Result == nil {
		t.Fatalf("outcome = %+v", out)
	}
	if len(out.Result.Posted) != 1 || out.Result.Posted[0] != "1001" {
		t.Errorf("posted = %v, want [1001]", out.Result.Posted)
	}
	if out.Result.FailedAt == nil || *out.Result.FailedAt != 1 {
		t.Errorf("failed_at = %v, want 1", out.Result.FailedAt)
	}
	if out.Result.Error == nil || out.Result.Error.Kind != toolkit.ErrorKind(provider.KindForbidden) {
		t.Errorf("cause = %+v", out.Result.Error)
	}

	stored, err := f.store.GetThreadPlan(ctx, plan.ID)
	if err != nil {
		t.Fatalf("GetThreadPlan() error: %v", err)
	}
	if stored.Status != storage.ThreadPartial || len(stored.Posted) != 1 || stored.Error == "" {
		t.Errorf("stored plan = %+v", stored)
	}

	// Partial plans are not due again.
	outcomes, err = f.engine.PostDueThreads(ctx, testNow.Add(time.Hour), policy.ActorScheduler)
	if err != nil || len(outcomes) != 0 {
		t.Errorf("second run = %+v, %v", outcomes, err)
	}
}

func TestPostDueThreads_NotYetDue(t *testing.T) {
	f := newFixture(t, service.PolicyConfig{}, policy.ModeAutonomous, cannedGenerator(), SafetyConfig{})
	ctx := context.Background()
	if _, err := f.engine.PlanThread(ctx, "why go", 3, testNow.Add(time.Hour)); err != nil {
		t.Fatalf("PlanThread() error: %v", err)
	}
	outcomes, err := f.engine.PostDueThreads(ctx, testNow, policy.ActorScheduler)
	if err != nil || len(outcomes) != 0 {
		t.Fatalf("PostDueThreads() = %+v, %v", outcomes, err)
	}
	outcomes, err = f.engine.PostDueThreads(ctx, testNow.Add(2*time.Hour), policy.ActorScheduler)
	if err != nil || len(outcomes) != 1 || outcomes[0].Status != storage.ThreadPosted {
		t.Fatalf("PostDueThreads() = %+v, %v", outcomes, err)
	}
	if got := f.mock.Calls(mockprovider.MethodPost); got != 3 {
		t.Errorf("post calls = %d, want 3", got)
	}
}

func TestPlanThread_Rejections(t *testing.T) {
	banned := generatorFunc(func(context.Context, content.PromptContext) (string, error) {
		return "Part one is fine.\n\nPart two says guaranteed returns.", nil
	})
	tests := []struct {
		name  string
		gen   content.Generator
		parts int
		kind  ErrorKind
	}{
		{"too few parts", cannedGenerator(), 1, KindToolkit},
		{"banned phrase", banned, 2, KindSafety},
		{"generator failure", generatorFunc(func(context.Context, content.PromptContext) (string, error) {
			return "", errors.New("quota exceeded")
		}), 3, KindGeneration},
		{"single part output", generatorFunc(func(context.Context, content.PromptContext) (string, error) {
			return "just one paragraph", nil
		}), 3, KindToolkit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, service.PolicyConfig{}, policy.ModeAutonomous, tt.gen, SafetyConfig{BannedPhrases: []string{"guaranteed returns"}})
			_, err := f.engine.PlanThread(context.Background(), "topic", tt.parts, time.Time{})
			var we *Error
			if !errors.As(err, &we) || we.Kind != tt.kind {
				t.Fatalf("PlanThread() error = %v, want kind %s", err, tt.kind)
			}
			if tt.kind == KindSafety && !errors.Is(err, ErrSafetyRejected) {
				t.Error("safety error does not wrap ErrSafetyRejected")
			}
		})
	}
}

func TestSplitThread(t *testing.T) {
	long := strings.Repeat("Go is simple. ", 30)
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"paragraphs", "one\n\ntwo\n\nthree", 3},
		{"crlf and blank runs", "one\r\n\r\ntwo\n\n\n\nthree", 3},
		{"empty", "  \n\n ", 0},
		{"long paragraph split at sentences", long, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitThread(tt.in)
			if len(got) != tt.want {
				t.Fatalf("SplitThread() = %d parts %q, want %d", len(got), got, tt.want)
			}
			for _, p := range got {
				if toolkit.WeightedLength(p) > toolkit.MaxWeightedLength {
					t.Errorf("part over limit: %d", toolkit.WeightedLength(p))
				}
			}
		})
	}
}
