package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/kestrel-social/kestrel/internal/adapter/outbound/memory"
	"github.com/kestrel-social/kestrel/internal/domain/approval"
	"github.com/kestrel-social/kestrel/internal/domain/audit"
	"github.com/kestrel-social/kestrel/internal/domain/policy"
	"github.com/kestrel-social/kestrel/internal/domain/provider"
	"github.com/kestrel-social/kestrel/internal/domain/ratelimit"
)

// Wednesday noon UTC.
var testNow = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testGateway struct {
	*GatewayService
	audit     *memory.MemoryAuditStore
	approvals *memory.MemoryApprovalStore
	limiter   *memory.MemoryRateLimiter
}

func newTestGateway(t *testing.T, cfg PolicyConfig, mode policy.Mode) *testGateway {
	t.Helper()
	if cfg.DefaultAction == "" {
		cfg.DefaultAction = policy.ActionAllow
	}
	engine, err := NewRuleEngine(cfg.Rules, testLogger())
	if err != nil {
		t.Fatalf("NewRuleEngine() error: %v", err)
	}
	auditStore := memory.NewAuditStore()
	approvals := memory.NewApprovalStore()
	limiter := memory.NewRateLimiter()
	g, err := NewGatewayService(cfg, mode, engine, limiter, auditStore, approvals, testLogger(),
		WithPlatformQuota(limiter),
		WithGatewayClock(func() time.Time { return testNow }),
	)
	if err != nil {
		t.Fatalf("NewGatewayService() error: %v", err)
	}
	return &testGateway{GatewayService: g, audit: auditStore, approvals: approvals, limiter: limiter}
}

func postRequest(text string) policy.Request {
	return policy.Request{
		Tool:     "post_tweet",
		Category: policy.CategoryWrite,
		Actor:    policy.AgentActor("claude"),
		Args:     map[string]any{"text": text},
	}
}

func countingExec(calls *atomic.Int32, id string) ExecFunc {
	return func(ctx context.Context) (ExecResult, error) {
		calls.Add(1)
		return ExecResult{PlatformID: id, Data: map[string]any{"id": id}}, nil
	}
}

func TestNewGatewayService_RejectsImplicitDefault(t *testing.T) {
	engine, _ := NewRuleEngine(nil, testLogger())
	_, err := NewGatewayService(PolicyConfig{}, policy.ModeAutonomous, engine, memory.NewRateLimiter(),
		memory.NewAuditStore(), memory.NewApprovalStore(), testLogger())
	if err == nil {
		t.Fatal("expected error for missing default_action")
	}
}

func TestGateway_HardDenyIsAudited(t *testing.T) {
	g := newTestGateway(t, PolicyConfig{
		Rules: []policy.Rule{
			{Name: "no-unfollow", Hard: true, ToolMatch: "unfollow_user", Action: policy.ActionDeny, Message: "never unfollow"},
			// A higher-priority allow in the standard tier cannot override a hard deny.
			{Name: "allow-all", Priority: 1000, ToolMatch: "*", Action: policy.ActionAllow},
		},
	}, policy.ModeAutonomous)

	var calls atomic.Int32
	res, err := g.Do(context.Background(), policy.Request{
		Tool: "unfollow_user", Category: policy.CategoryEngage, Actor: policy.ActorScheduler,
		Args: map[string]any{"user_id": "42"},
	}, countingExec(&calls, "x"))
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if res.Decision.Action != policy.ActionDeny || res.Decision.Reason != policy.ReasonHardDeny {
		t.Errorf("decision = %+v, want deny/hard_deny", res.Decision)
	}
	if res.Decision.RuleID != "no-unfollow" || res.Decision.Message != "never unfollow" {
		t.Errorf("decision rule = %q message = %q", res.Decision.RuleID, res.Decision.Message)
	}
	if calls.Load() != 0 {
		t.Errorf("exec called %d times, want 0", calls.Load())
	}

	records, _ := g.audit.Query(context.Background(), audit.Filter{RequestID: res.RequestID})
	if len(records) != 2 {
		t.Fatalf("audit records = %d, want 2", len(records))
	}
	decision, outcome := records[1], records[0]
	if decision.Kind != audit.KindDecision || decision.Outcome != audit.OutcomeDenied || decision.Reason != "hard_deny" {
		t.Errorf("decision record = %+v", decision)
	}
	if outcome.Kind != audit.KindOutcome || outcome.Outcome != audit.OutcomeDenied {
		t.Errorf("outcome record = %+v", outcome)
	}
	if decision.ActorType != "scheduler" {
		t.Errorf("actor_type = %q, want scheduler", decision.ActorType)
	}
}

func TestGateway_DeleteNeedsConfirmation(t *testing.T) {
	g := newTestGateway(t, PolicyConfig{ConfirmDeletes: true}, policy.ModeAutonomous)
	req := policy.Request{Tool: "delete_tweet", Category: policy.CategoryDelete, Actor: policy.AgentActor("a")}

	d, err := g.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if d.Reason != policy.ReasonDeleteUnconfirmed {
		t.Errorf("reason = %q, want delete_unconfirmed", d.Reason)
	}

	req.Confirmed = true
	d, _ = g.Evaluate(context.Background(), req)
	if d.Action != policy.ActionAllow {
		t.Errorf("confirmed delete = %+v, want allow", d)
	}
}

func TestGateway_ConcurrentFingerprintCoalesces(t *testing.T) {
	g := newTestGateway(t, PolicyConfig{}, policy.ModeAutonomous)

	var calls atomic.Int32
	release := make(chan struct{})
	exec := func(ctx context.Context) (ExecResult, error) {
		calls.Add(1)
		<-release
		return ExecResult{PlatformID: "1001"}, nil
	}

	const n = 8
	req := postRequest("hello")
	req.Fingerprint = "fp-1"

	results := make([]Result, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = g.Do(context.Background(), req, exec)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("exec called %d times, want 1", got)
	}
	ignoreReplay := cmpopts.IgnoreFields(policy.Decision{}, "Replayed")
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d error: %v", i, errs[i])
		}
		if diff := cmp.Diff(results[0].Decision, results[i].Decision, ignoreReplay); diff != "" {
			t.Errorf("caller %d decision differs (-first +got):\n%s", i, diff)
		}
		if results[i].PlatformID != "1001" || results[i].RequestID != results[0].RequestID {
			t.Errorf("caller %d result = %+v", i, results[i])
		}
	}

	// A later retry inside the window replays without executing.
	res, err := g.Do(context.Background(), req, exec)
	if err != nil {
		t.Fatalf("replay error: %v", err)
	}
	if !res.Decision.Replayed || calls.Load() != 1 {
		t.Errorf("replay = %+v, calls = %d", res.Decision, calls.Load())
	}
	replayed, _ := g.audit.Query(context.Background(), audit.Filter{Outcome: audit.OutcomeReplayed})
	if len(replayed) == 0 {
		t.Error("replay was not audited")
	}

	// The same fingerprint on another tool is a different mutation.
	other := req
	other.Tool = "reply_to_tweet"
	if _, err := g.Do(context.Background(), other, exec); err != nil {
		t.Fatalf("Do(other tool) error: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestGateway_FailedExecutionIsNotReplayed(t *testing.T) {
	g := newTestGateway(t, PolicyConfig{}, policy.ModeAutonomous)
	req := postRequest("hello")
	req.Fingerprint = "fp-err"

	boom := provider.NewError(provider.KindNetwork, "post", "connection reset")
	var calls atomic.Int32
	_, err := g.Do(context.Background(), req, func(ctx context.Context) (ExecResult, error) {
		calls.Add(1)
		return ExecResult{}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Do() error = %v, want provider error", err)
	}
	failed, _ := g.audit.Query(context.Background(), audit.Filter{Outcome: audit.OutcomeFailed})
	if len(failed) != 1 || failed[0].ErrorCode != "network" {
		t.Errorf("failed outcome records = %+v", failed)
	}

	if _, err := g.Do(context.Background(), req, countingExec(&calls, "1002")); err != nil {
		t.Fatalf("retry error: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestGateway_CapBoundaryUnderConcurrency(t *testing.T) {
	const limit = 5
	g := newTestGateway(t, PolicyConfig{
		Limits: []ratelimit.Limit{{Dimension: ratelimit.DimensionEngagement, Match: "like", Window: ratelimit.WindowHour, Max: limit}},
	}, policy.ModeAutonomous)

	var calls atomic.Int32
	var denied atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := g.Do(context.Background(), policy.Request{
				Tool: "like_tweet", Category: policy.CategoryEngage, Actor: policy.ActorScheduler,
				Engagement: "like", Fingerprint: "like-" + strconv.Itoa(i),
			}, countingExec(&calls, "ok"))
			if err != nil {
				t.Errorf("Do() error: %v", err)
				return
			}
			if res.Decision.Reason == policy.ReasonRateLimited {
				denied.Add(1)
				if res.Decision.Limit == nil || res.Decision.Limit.Key != "engagement:like:hour" || res.Decision.RetryAfter != time.Hour {
					t.Errorf("rate-limit decision = %+v", res.Decision)
				}
			}
		}(i)
	}
	wg.Wait()

	if calls.Load() != limit {
		t.Errorf("executed %d, want exactly %d", calls.Load(), limit)
	}
	if denied.Load() != 64-limit {
		t.Errorf("denied %d, want %d", denied.Load(), 64-limit)
	}
	view := g.RateLimits()
	if len(view.Counters) != 1 || view.Counters[0].Used != limit {
		t.Errorf("counters = %+v", view.Counters)
	}
}

func TestGateway_DeniedAndQueuedDoNotConsumeQuota(t *testing.T) {
	g := newTestGateway(t, PolicyConfig{
		Rules:  []policy.Rule{{Name: "gate-replies", ToolMatch: "reply_to_tweet", Action: policy.ActionRequireApproval}},
		Limits: []ratelimit.Limit{{Dimension: ratelimit.DimensionEndpoint, Match: "*", Window: ratelimit.WindowDay, Max: 1}},
	}, policy.ModeAutonomous)

	req := policy.Request{Tool: "reply_to_tweet", Category: policy.CategoryWrite, Actor: policy.ActorScheduler, Args: map[string]any{"text": "hi"}}
	for i := 0; i < 3; i++ {
		d, err := g.Evaluate(context.Background(), req)
		if err != nil {
			t.Fatalf("Evaluate() error: %v", err)
		}
		if d.Action != policy.ActionRequireApproval {
			t.Fatalf("attempt %d = %+v, want require_approval", i, d)
		}
	}
	if snap := g.RateLimits().Counters; len(snap) != 1 || snap[0].Used != 0 {
		t.Errorf("counters = %+v, want 0 used", snap)
	}
}

func TestGateway_ReviewMode(t *testing.T) {
	g := newTestGateway(t, PolicyConfig{
		Rules: []policy.Rule{
			{Name: "likes-dry-run", ToolMatch: "like_tweet", Action: policy.ActionDryRun},
			{Name: "allow-posts", Priority: 100, ToolMatch: "post_tweet", Action: policy.ActionAllow},
		},
	}, policy.ModeReview)
	ctx := context.Background()
	var calls atomic.Int32

	res, err := g.Do(ctx, postRequest("queued text"), countingExec(&calls, "1"))
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if res.Decision.Action != policy.ActionRequireApproval || res.Decision.Reason != policy.ReasonReviewMode {
		t.Fatalf("decision = %+v, want require_approval/review_mode", res.Decision)
	}
	if res.Decision.ApprovalID == "" || calls.Load() != 0 {
		t.Fatalf("approval id = %q, calls = %d", res.Decision.ApprovalID, calls.Load())
	}
	item, err := g.approvals.Get(ctx, res.Decision.ApprovalID)
	if err != nil {
		t.Fatalf("approval item missing: %v", err)
	}
	if item.Status != approval.StatusPending || item.Content != "queued text" || item.Risk != "HIGH" {
		t.Errorf("item = %+v", item)
	}

	res, _ = g.Do(ctx, policy.Request{Tool: "like_tweet", Category: policy.CategoryEngage, Actor: policy.ActorScheduler, Args: map[string]any{"tweet_id": "9"}}, countingExec(&calls, "1"))
	if res.Decision.Action != policy.ActionDryRun || res.Decision.Reason != policy.ReasonDryRunOnly {
		t.Errorf("like decision = %+v, want dry_run/dry_run_only", res.Decision)
	}
	if preview, ok := res.Data.(DryRunPreview); !ok || preview.Tool != "like_tweet" {
		t.Errorf("dry-run data = %#v", res.Data)
	}

	// The approved item executes even though the mode is still review.
	approved := postRequest("queued text")
	approved.ApprovalID = item.ID
	res, err = g.Do(ctx, approved, countingExec(&calls, "1001"))
	if err != nil {
		t.Fatalf("Do(approved) error: %v", err)
	}
	if res.Decision.Action != policy.ActionAllow || res.Decision.Reason != policy.ReasonRuleMatched || !res.Executed {
		t.Errorf("approved decision = %+v", res.Decision)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}

	if err := g.SetMode(policy.Mode("chaos"), "admin:x"); !errors.Is(err, ErrInvalidMode) {
		t.Errorf("SetMode(invalid) = %v", err)
	}
	if err := g.SetMode(policy.ModeAutonomous, "admin:x"); err != nil {
		t.Fatalf("SetMode() error: %v", err)
	}
	d, _ := g.Evaluate(ctx, postRequest("now direct"))
	if d.Action != policy.ActionAllow || d.RuleID != "allow-posts" {
		t.Errorf("autonomous decision = %+v", d)
	}
}

func TestGateway_ApprovedItemBypassesApprovalRule(t *testing.T) {
	g := newTestGateway(t, PolicyConfig{
		Rules:         []policy.Rule{{Name: "gate-quotes", ToolMatch: "quote_tweet", Action: policy.ActionRequireApproval}},
		DefaultAction: policy.ActionDeny,
	}, policy.ModeAutonomous)

	req := policy.Request{Tool: "quote_tweet", Category: policy.CategoryWrite, Actor: "admin:rev", ApprovalID: "a-1"}
	d, err := g.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if d.Action != policy.ActionAllow || d.Reason != policy.ReasonApprovedItem {
		t.Errorf("decision = %+v, want allow/approved_item", d)
	}
}

func TestGateway_PlatformQuota(t *testing.T) {
	g := newTestGateway(t, PolicyConfig{}, policy.ModeAutonomous)
	g.limiter.Observe(provider.RateLimitInfo{Endpoint: "post", Limit: 100, Remaining: 0, Reset: testNow.Add(90 * time.Second)})

	req := postRequest("hi")
	req.PlatformEndpoint = "post"
	d, err := g.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if d.Reason != policy.ReasonPlatformQuota || d.RetryAfter != 90*time.Second || d.RetryAfterS != 90 {
		t.Errorf("decision = %+v", d)
	}
}

func TestGateway_DefaultDeny(t *testing.T) {
	g := newTestGateway(t, PolicyConfig{DefaultAction: policy.ActionDeny}, policy.ModeAutonomous)
	d, _ := g.Evaluate(context.Background(), postRequest("hi"))
	if d.Action != policy.ActionDeny || d.Reason != policy.ReasonDefaultDeny {
		t.Errorf("decision = %+v, want deny/default_deny", d)
	}
}

func TestGateway_EvaluationIsDeterministic(t *testing.T) {
	g := newTestGateway(t, PolicyConfig{
		Rules: []policy.Rule{
			{Name: "night-deny", Priority: 50, Categories: []policy.Category{policy.CategoryWrite}, Window: &policy.TimeWindow{StartHour: 22, EndHour: 6}, Action: policy.ActionDeny},
			{Name: "spanish-review", Priority: 40, Languages: []string{"es"}, Action: policy.ActionRequireApproval},
			{Name: "agent-posts", Priority: 10, ToolMatch: "post_*", Actors: []string{"agent:*"}, Condition: `!arg_contains(args, "giveaway")`, Action: policy.ActionAllow},
			{Name: "fallback-deny", Priority: 0, ToolMatch: "*", Action: policy.ActionDeny},
		},
	}, policy.ModeAutonomous)

	tests := []struct {
		name   string
		req    policy.Request
		action policy.Action
		rule   string
	}{
		{"agent post", postRequest("hello gophers"), policy.ActionAllow, "agent-posts"},
		{"giveaway falls through", postRequest("free GIVEAWAY"), policy.ActionDeny, "fallback-deny"},
		{"spanish", func() policy.Request { r := postRequest("hola"); r.Language = "es"; return r }(), policy.ActionRequireApproval, "spanish-review"},
		{"night", func() policy.Request { r := postRequest("late"); r.Time = testNow.Add(11 * time.Hour); return r }(), policy.ActionDeny, "night-deny"},
		{"scheduler post", func() policy.Request { r := postRequest("hi"); r.Actor = policy.ActorScheduler; return r }(), policy.ActionDeny, "fallback-deny"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var first policy.Decision
			for i := 0; i < 20; i++ {
				d, err := g.Evaluate(context.Background(), tt.req)
				if err != nil {
					t.Fatalf("Evaluate() error: %v", err)
				}
				if d.Action != tt.action || d.RuleID != tt.rule {
					t.Fatalf("decision = %s/%s, want %s/%s", d.Action, d.RuleID, tt.action, tt.rule)
				}
				d.RequestID = ""
				if i == 0 {
					first = d
				} else if diff := cmp.Diff(first, d); diff != "" {
					t.Fatalf("evaluation %d differs:\n%s", i, diff)
				}
			}
		})
	}
}

func TestGateway_Reload(t *testing.T) {
	g := newTestGateway(t, PolicyConfig{}, policy.ModeAutonomous)

	bad := PolicyConfig{DefaultAction: policy.ActionAllow, Rules: []policy.Rule{{Name: "broken", Condition: "tool_name ==", Action: policy.ActionDeny}}}
	if err := g.Reload(bad, "admin:x"); err == nil {
		t.Fatal("Reload(invalid CEL) should fail")
	}
	if d, _ := g.Evaluate(context.Background(), postRequest("hi")); d.Action != policy.ActionAllow {
		t.Fatalf("failed reload changed behavior: %+v", d)
	}

	good := PolicyConfig{DefaultAction: policy.ActionAllow, Rules: []policy.Rule{{Name: "no-posts", ToolMatch: "post_tweet", Action: policy.ActionDeny}}}
	if err := g.Reload(good, "admin:x"); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}
	if d, _ := g.Evaluate(context.Background(), postRequest("hi")); d.Action != policy.ActionDeny || d.RuleID != "no-posts" {
		t.Errorf("after reload = %+v", d)
	}
	if got := g.Policy(); len(got.Rules) != 1 || got.Rules[0].Name != "no-posts" {
		t.Errorf("Policy() = %+v", got)
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	a := Fingerprint("like_tweet", map[string]any{"tweet_id": "1", "user": "me"})
	b := Fingerprint("like_tweet", map[string]any{"user": "me", "tweet_id": "1"})
	c := Fingerprint("unlike_tweet", map[string]any{"tweet_id": "1", "user": "me"})
	if a != b {
		t.Errorf("fingerprint depends on map order: %s != %s", a, b)
	}
	if a == c {
		t.Error("fingerprint ignores tool name")
	}
}
