package workflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kestrel-social/kestrel/internal/adapter/outbound/memory"
	"github.com/kestrel-social/kestrel/internal/adapter/outbound/mockprovider"
	"github.com/kestrel-social/kestrel/internal/domain/content"
	"github.com/kestrel-social/kestrel/internal/domain/policy"
	"github.com/kestrel-social/kestrel/internal/domain/provider"
	"github.com/kestrel-social/kestrel/internal/service"
	"github.com/kestrel-social/kestrel/internal/toolkit"
)

var testNow = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type generatorFunc func(ctx context.Context, pc content.PromptContext) (string, error)

func (f generatorFunc) Generate(ctx context.Context, pc content.PromptContext) (string, error) {
	return f(ctx, pc)
}

// Distinct enough that none of them trips the near-duplicate check.
var cannedReplies = map[string]string{
	"101": "Channels make fan-out pipelines pleasant to reason about.",
	"102": "Generics finally removed a pile of interface{} casts from our codebase.",
	"103": "Profiling with pprof found the allocation hot spot in minutes.",
	"201": "Happy to help! The race detector catches most of these early.",
	"202": "Thanks for the shout-out, the benchmark code is in the repo.",
}

func cannedGenerator() content.Generator {
	return generatorFunc(func(_ context.Context, pc content.PromptContext) (string, error) {
		switch pc.Kind {
		case content.KindReply, content.KindMentionReply:
			if text, ok := cannedReplies[pc.Tweet.ID]; ok {
				return text, nil
			}
			return "", fmt.Errorf("no canned reply for %s", pc.Tweet.ID)
		case content.KindThread:
			return "Why we moved to Go.\n\nBuild times dropped from minutes to seconds.\n\nThe standard library covers most of what we need.", nil
		default:
			return "Shipping small Go services beats one giant deploy about " + pc.Topic + ".", nil
		}
	})
}

type fixture struct {
	engine    *Engine
	mock      *mockprovider.Provider
	store     *memory.MemoryStore
	gateway   *service.GatewayService
	approvals *service.ApprovalService
	audit     *memory.MemoryAuditStore
}

func newFixture(t *testing.T, cfg service.PolicyConfig, mode policy.Mode, gen content.Generator, safety SafetyConfig) *fixture {
	t.Helper()
	clock := func() time.Time { return testNow }

	mock := mockprovider.New(mockprovider.WithClock(clock))
	mock.AddUser(provider.User{ID: "42", Username: "gopher", Followers: 5000})
	for id, text := range map[string]string{
		"101": "golang channels are underrated for pipelines",
		"102": "golang generics changed how I write libraries",
		"103": "debugging golang memory with pprof today",
	} {
		mock.AddTweet(provider.Tweet{ID: id, Text: text, AuthorID: "42", CreatedAt: testNow.Add(-time.Hour),
			Metrics: provider.PublicMetrics{Likes: 10, Replies: 2}})
	}

	if cfg.DefaultAction == "" {
		cfg.DefaultAction = policy.ActionAllow
	}
	rules, err := service.NewRuleEngine(cfg.Rules, testLogger())
	if err != nil {
		t.Fatalf("NewRuleEngine() error: %v", err)
	}
	auditStore := memory.NewAuditStore()
	approvalStore := memory.NewApprovalStore()
	limiter := memory.NewRateLimiter()
	gw, err := service.NewGatewayService(cfg, mode, rules, limiter, auditStore, approvalStore, testLogger(),
		service.WithGatewayClock(clock))
	if err != nil {
		t.Fatalf("NewGatewayService() error: %v", err)
	}
	approvals := service.NewApprovalService(approvalStore, testLogger())
	approvals.SetClock(clock)

	store := memory.NewStore()
	scoring := toolkit.DefaultScoringConfig()
	scoring.Keywords = []string{"golang"}
	engine, err := NewEngine(Deps{
		Provider:  mock,
		Store:     store,
		Generator: gen,
		Gateway:   gw,
		Approvals: approvals,
	}, Config{Safety: safety, Scoring: scoring}, testLogger(), WithClock(clock))
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}
	return &fixture{engine: engine, mock: mock, store: store, gateway: gw, approvals: approvals, audit: auditStore}
}

func TestNewEngine_RequiresDeps(t *testing.T) {
	if _, err := NewEngine(Deps{}, Config{}, testLogger()); err == nil {
		t.Error("NewEngine() accepted empty deps")
	}
}
