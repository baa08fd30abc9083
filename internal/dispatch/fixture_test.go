package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kestrel-social/kestrel/internal/adapter/outbound/generator"
	"github.com/kestrel-social/kestrel/internal/adapter/outbound/memory"
	"github.com/kestrel-social/kestrel/internal/adapter/outbound/mockprovider"
	"github.com/kestrel-social/kestrel/internal/domain/policy"
	"github.com/kestrel-social/kestrel/internal/domain/provider"
	"github.com/kestrel-social/kestrel/internal/service"
	"github.com/kestrel-social/kestrel/internal/toolkit"
	"github.com/kestrel-social/kestrel/internal/workflow"
)

var testNow = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	server    *Server
	deps      Deps
	mock      *mockprovider.Provider
	store     *memory.MemoryStore
	gateway   *service.GatewayService
	approvals *service.ApprovalService
}

type fixtureConfig struct {
	policy   service.PolicyConfig
	mode     policy.Mode
	mockOpts []mockprovider.Option
	opts     []Option
}

func newFixture(t *testing.T, profile Profile, fc fixtureConfig) *fixture {
	t.Helper()
	clock := func() time.Time { return testNow }

	mock := mockprovider.New(append([]mockprovider.Option{mockprovider.WithClock(clock)}, fc.mockOpts...)...)
	mock.AddUser(provider.User{ID: "42", Username: "gopher", Followers: 5000})
	mock.AddTweet(provider.Tweet{ID: "101", Text: "golang channels are underrated", AuthorID: "42",
		CreatedAt: testNow.Add(-time.Hour), Metrics: provider.PublicMetrics{Likes: 10, Replies: 2}})

	if fc.policy.DefaultAction == "" {
		fc.policy.DefaultAction = policy.ActionAllow
	}
	if fc.mode == "" {
		fc.mode = policy.ModeAutonomous
	}
	rules, err := service.NewRuleEngine(fc.policy.Rules, testLogger())
	require.NoError(t, err)
	approvalStore := memory.NewApprovalStore()
	gw, err := service.NewGatewayService(fc.policy, fc.mode, rules, memory.NewRateLimiter(), memory.NewAuditStore(),
		approvalStore, testLogger(), service.WithGatewayClock(clock))
	require.NoError(t, err)
	approvals := service.NewApprovalService(approvalStore, testLogger())
	approvals.SetClock(clock)

	store := memory.NewStore()
	scoring := toolkit.DefaultScoringConfig()
	scoring.Keywords = []string{"golang"}
	engine, err := workflow.NewEngine(workflow.Deps{
		Provider:  mock,
		Store:     store,
		Generator: generator.NewTemplate(),
		Gateway:   gw,
		Approvals: approvals,
	}, workflow.Config{Scoring: scoring}, testLogger(), workflow.WithClock(clock))
	require.NoError(t, err)
	history, err := workflow.NewHistory(store)
	require.NoError(t, err)

	deps := Deps{
		Provider:  mock,
		Engine:    engine,
		History:   history,
		Gateway:   gw,
		Approvals: approvals,
		Scoring:   scoring,
	}
	srv, err := NewServer(profile, deps, testLogger(), append([]Option{WithClock(clock)}, fc.opts...)...)
	require.NoError(t, err)
	return &fixture{server: srv, deps: deps, mock: mock, store: store, gateway: gw, approvals: approvals}
}

var (
	agent = Caller{ID: "a1"}
	admin = Caller{ID: "ops", Role: policy.ActorAdmin}
)

func (f *fixture) call(t *testing.T, caller Caller, tool string, params any) Envelope {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	return f.server.Call(context.Background(), Request{Tool: tool, Params: raw, Caller: caller})
}
