package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kestrel-social/kestrel/internal/domain/approval"
	"github.com/kestrel-social/kestrel/internal/domain/audit"
	"github.com/kestrel-social/kestrel/internal/domain/policy"
	"github.com/kestrel-social/kestrel/internal/domain/provider"
	"github.com/kestrel-social/kestrel/internal/domain/ratelimit"
	"github.com/kestrel-social/kestrel/internal/domain/tool"
	"github.com/kestrel-social/kestrel/internal/toolkit"
)

// ErrInvalidMode is returned by SetMode for an unknown mode.
var ErrInvalidMode = errors.New("invalid mode")

// PolicyConfig is the reloadable part of the gateway configuration.
type PolicyConfig struct {
	Rules          []policy.Rule     `json:"rules"`
	Limits         []ratelimit.Limit `json:"rate_limits"`
	DefaultAction  policy.Action     `json:"default_action"`
	ConfirmDeletes bool              `json:"confirm_deletes"`
}

// Validate checks the parts of the config the rule engine does not.
func (c PolicyConfig) Validate() error {
	if c.DefaultAction != policy.ActionAllow && c.DefaultAction != policy.ActionDeny {
		return fmt.Errorf("default_action must be allow or deny, got %q", c.DefaultAction)
	}
	for i, l := range c.Limits {
		if !l.Dimension.Valid() || !l.Window.Valid() {
			return fmt.Errorf("rate limit %d: invalid dimension %q or window %q", i, l.Dimension, l.Window)
		}
		if l.Max < 0 {
			return fmt.Errorf("rate limit %d: max must not be negative", i)
		}
	}
	return nil
}

// ExecResult is what a mutation executor reports back.
type ExecResult struct {
	PlatformID string
	Data       any
}

// ExecFunc performs the side effect of an allowed mutation.
type ExecFunc func(ctx context.Context) (ExecResult, error)

// Result is the outcome of Do. Err is the execution error of an allowed
// mutation; policy outcomes other than allow are not errors.
type Result struct {
	RequestID  string
	Decision   policy.Decision
	Executed   bool
	PlatformID string
	Data       any
	Err        error
}

// DryRunPreview is the Data of a dry_run result.
type DryRunPreview struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

// Outcome reports what happened after a decision.
type Outcome struct {
	Request    policy.Request
	Decision   policy.Decision
	PlatformID string
	ApprovalID string
	Err        error
}

// DecisionObserver receives one call per decision, e.g. for metrics.
type DecisionObserver interface {
	ObserveDecision(action, reason string)
}

// RateLimitView is a read-only view of gateway quota state.
type RateLimitView struct {
	Counters []ratelimit.CounterState  `json:"counters"`
	Platform []ratelimit.PlatformState `json:"platform,omitempty"`
	Limits   []ratelimit.Limit         `json:"limits"`
}

// GatewayService is the single checkpoint every mutation passes through.
// It evaluates hard denies, caps, mode and rules in a fixed order, writes a
// decision audit record before the caller proceeds and an outcome record
// afterwards.
type GatewayService struct {
	engine    policy.Engine
	limiter   ratelimit.Store
	quota     ratelimit.PlatformQuota
	audit     audit.Store
	approvals approval.Store
	idem      *idempotency
	observer  DecisionObserver
	tracer    trace.Tracer
	logger    *slog.Logger
	now       func() time.Time

	cfg  atomic.Pointer[PolicyConfig]
	mode atomic.Value // policy.Mode

	idemSize   int
	idemWindow time.Duration
}

// GatewayOption configures GatewayService.
type GatewayOption func(*GatewayService)

// WithPlatformQuota enables checks against observed provider quota headers.
func WithPlatformQuota(q ratelimit.PlatformQuota) GatewayOption {
	return func(g *GatewayService) { g.quota = q }
}

// WithDecisionObserver registers an observer for every decision.
func WithDecisionObserver(o DecisionObserver) GatewayOption {
	return func(g *GatewayService) { g.observer = o }
}

// WithGatewayClock overrides the clock used for windows and timestamps.
func WithGatewayClock(now func() time.Time) GatewayOption {
	return func(g *GatewayService) { g.now = now }
}

// WithIdempotencyWindow sets how long completed fingerprints are replayed.
func WithIdempotencyWindow(window time.Duration, size int) GatewayOption {
	return func(g *GatewayService) {
		g.idemWindow = window
		g.idemSize = size
	}
}

// NewGatewayService creates a gateway in the given mode. The engine must
// already hold cfg.Rules.
func NewGatewayService(
	cfg PolicyConfig,
	mode policy.Mode,
	engine policy.Engine,
	limiter ratelimit.Store,
	auditStore audit.Store,
	approvals approval.Store,
	logger *slog.Logger,
	opts ...GatewayOption,
) (*GatewayService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	g := &GatewayService{
		engine:     engine,
		limiter:    limiter,
		audit:      auditStore,
		approvals:  approvals,
		tracer:     otel.Tracer("kestrel/gateway"),
		logger:     logger,
		now:        time.Now,
		idemSize:   4096,
		idemWindow: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.idem = newIdempotency(g.idemSize, g.idemWindow)
	g.cfg.Store(&cfg)
	g.mode.Store(mode)
	return g, nil
}

// Mode returns the current operating mode.
func (g *GatewayService) Mode() policy.Mode {
	return g.mode.Load().(policy.Mode)
}

// SetMode switches the operating mode. It applies to decisions made after
// the call returns.
func (g *GatewayService) SetMode(mode policy.Mode, actor string) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	prev := g.mode.Swap(mode)
	g.logger.Info("mode changed", "from", prev, "to", mode, "actor", actor)
	return nil
}

// Policy returns the active policy configuration.
func (g *GatewayService) Policy() PolicyConfig {
	cfg := *g.cfg.Load()
	cfg.Rules = g.engine.Rules()
	return cfg
}

// Reload validates cfg and installs it. Rules and limits switch together
// from the gateway's point of view; on error nothing changes.
func (g *GatewayService) Reload(cfg PolicyConfig, actor string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := g.engine.Reload(cfg.Rules); err != nil {
		return err
	}
	g.cfg.Store(&cfg)
	g.logger.Info("policy reloaded", "rules", len(cfg.Rules), "limits", len(cfg.Limits),
		"default_action", cfg.DefaultAction, "actor", actor)
	return nil
}

// LanguageRules reports whether an active rule filters on the content
// language or refers to it in its condition.
func (g *GatewayService) LanguageRules() bool {
	if lu, ok := g.engine.(interface{ UsesLanguage() bool }); ok {
		return lu.UsesLanguage()
	}
	for _, r := range g.engine.Rules() {
		if len(r.Languages) > 0 || strings.Contains(r.Condition, "language") {
			return true
		}
	}
	return false
}

// RateLimits returns the current counter and platform quota state.
func (g *GatewayService) RateLimits() RateLimitView {
	view := RateLimitView{
		Counters: g.limiter.Snapshot(g.now()),
		Limits:   g.cfg.Load().Limits,
	}
	if g.quota != nil {
		view.Platform = g.quota.Platform()
	}
	return view
}

// QueryAudit reads the mutation audit trail.
func (g *GatewayService) QueryAudit(ctx context.Context, f audit.Filter) ([]audit.MutationRecord, error) {
	return g.audit.Query(ctx, f)
}

// Evaluate decides req, commits quota when the decision is allow and writes
// the decision audit record. The audit record is written while the counter
// locks are still held, so a decision that could not be audited never
// consumes quota.
func (g *GatewayService) Evaluate(ctx context.Context, req policy.Request) (policy.Decision, error) {
	if req.Time.IsZero() {
		req.Time = g.now()
	}
	ctx, span := g.tracer.Start(ctx, "gateway.evaluate", trace.WithAttributes(
		attribute.String("kestrel.tool", req.Tool),
		attribute.String("kestrel.actor", req.Actor),
		attribute.String("kestrel.category", string(req.Category)),
	))
	defer span.End()

	mode := g.Mode()
	d, res, err := g.decide(ctx, req, g.cfg.Load(), mode)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return policy.Decision{}, err
	}
	d.RequestID = uuid.NewString()
	d.Fingerprint = req.Fingerprint
	d.ApprovalID = req.ApprovalID

	if err := g.audit.Append(ctx, g.auditRecord(audit.KindDecision, req, d, decisionOutcome(d), "", nil)); err != nil {
		if res != nil {
			res.Release()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "audit write failed")
		return policy.Decision{}, fmt.Errorf("write decision audit record: %w", err)
	}
	if res != nil {
		if d.Allowed() {
			res.Commit()
		} else {
			res.Release()
		}
	}

	span.SetAttributes(
		attribute.String("kestrel.decision", string(d.Action)),
		attribute.String("kestrel.reason", string(d.Reason)),
	)
	if g.observer != nil {
		g.observer.ObserveDecision(string(d.Action), string(d.Reason))
	}
	g.logger.Debug("policy decision",
		"request_id", d.RequestID,
		"tool", req.Tool,
		"actor", req.Actor,
		"mode", mode,
		"action", d.Action,
		"reason", d.Reason,
		"rule", d.RuleID,
	)
	return d, nil
}

// decide applies the evaluation order. The returned reservation, if any, is
// still locked; the caller commits or releases it.
func (g *GatewayService) decide(ctx context.Context, req policy.Request, cfg *PolicyConfig, mode policy.Mode) (policy.Decision, ratelimit.Reservation, error) {
	// 1. Hard deny.
	rule, err := g.engine.Match(ctx, req, mode, policy.Query{Hard: true})
	if err != nil {
		return policy.Decision{}, nil, err
	}
	if rule != nil {
		return ruleDecision(policy.ActionDeny, policy.ReasonHardDeny, rule), nil, nil
	}
	if cfg.ConfirmDeletes && req.Category == policy.CategoryDelete && !req.Confirmed {
		return policy.Decision{
			Action:  policy.ActionDeny,
			Reason:  policy.ReasonDeleteUnconfirmed,
			Message: "destructive action requires confirm=true",
		}, nil, nil
	}

	// 2. Platform quota, then configured caps.
	if g.quota != nil && req.PlatformEndpoint != "" {
		if exhausted, retry := g.quota.Check(req.PlatformEndpoint, req.Time); exhausted {
			return policy.Decision{
				Action:  policy.ActionDeny,
				Reason:  policy.ReasonPlatformQuota,
				Limit:   &policy.LimitRef{Key: "platform:" + req.PlatformEndpoint, Dimension: "platform"},
				Message: "platform quota exhausted for " + req.PlatformEndpoint,
			}.WithRetryAfter(retry), nil, nil
		}
	}
	res, breach, err := g.limiter.Reserve(ctx, countersFor(cfg.Limits, req), req.Time)
	if err != nil {
		return policy.Decision{}, nil, fmt.Errorf("reserve rate limit: %w", err)
	}
	if breach != nil {
		c := breach.Counter
		return policy.Decision{
			Action: policy.ActionDeny,
			Reason: policy.ReasonRateLimited,
			Limit: &policy.LimitRef{
				Key:       c.Key,
				Dimension: string(c.Dimension),
				Window:    string(c.Window),
				Max:       c.Max,
				Used:      breach.Used,
			},
			Message: fmt.Sprintf("%s cap of %d per %s reached", c.Dimension, c.Max, c.Window),
		}.WithRetryAfter(breach.RetryAfter), nil, nil
	}

	d, err := g.decideRules(ctx, req, cfg, mode)
	if err != nil {
		res.Release()
		return policy.Decision{}, nil, err
	}
	return d, res, nil
}

func (g *GatewayService) decideRules(ctx context.Context, req policy.Request, cfg *PolicyConfig, mode policy.Mode) (policy.Decision, error) {
	// 3. Review mode overrides everything but explicit dry-run rules.
	if mode == policy.ModeReview && !req.Approved() {
		rule, err := g.engine.Match(ctx, req, mode, policy.Query{Action: policy.ActionDryRun})
		if err != nil {
			return policy.Decision{}, err
		}
		if rule != nil {
			return ruleDecision(policy.ActionDryRun, policy.ReasonDryRunOnly, rule), nil
		}
		return policy.Decision{Action: policy.ActionRequireApproval, Reason: policy.ReasonReviewMode}, nil
	}

	// 4. Configured rules.
	rule, err := g.engine.Match(ctx, req, mode, policy.Query{})
	if err != nil {
		return policy.Decision{}, err
	}
	if rule != nil {
		if req.Approved() && rule.Action == policy.ActionRequireApproval {
			return ruleDecision(policy.ActionAllow, policy.ReasonApprovedItem, rule), nil
		}
		return ruleDecision(rule.Action, policy.ReasonRuleMatched, rule), nil
	}

	// 5. Default.
	if req.Approved() {
		return policy.Decision{Action: policy.ActionAllow, Reason: policy.ReasonApprovedItem}, nil
	}
	if cfg.DefaultAction == policy.ActionAllow {
		return policy.Decision{Action: policy.ActionAllow, Reason: policy.ReasonDefaultAllow}, nil
	}
	return policy.Decision{Action: policy.ActionDeny, Reason: policy.ReasonDefaultDeny, Message: "no rule allows this action"}, nil
}

func ruleDecision(action policy.Action, reason policy.ReasonCode, rule *policy.Rule) policy.Decision {
	return policy.Decision{
		Action:   action,
		Reason:   reason,
		RuleID:   rule.Key(),
		RuleName: rule.Name,
		Message:  rule.Message,
	}
}

// countersFor returns the counters of every limit that applies to req.
func countersFor(limits []ratelimit.Limit, req policy.Request) []ratelimit.Counter {
	var out []ratelimit.Counter
	for _, l := range limits {
		var v string
		switch l.Dimension {
		case ratelimit.DimensionEndpoint:
			v = req.Tool
		case ratelimit.DimensionAuthor:
			v = req.Author
		case ratelimit.DimensionKeyword:
			v = req.Keyword
		case ratelimit.DimensionEngagement:
			v = req.Engagement
		}
		if l.Applies(v) {
			out = append(out, l.Counter(v))
		}
	}
	return out
}

// Record writes the outcome audit record for a decision.
func (g *GatewayService) Record(ctx context.Context, o Outcome) error {
	out := decisionOutcome(o.Decision)
	if o.Decision.Allowed() {
		out = audit.OutcomeSucceeded
		if o.Err != nil {
			out = audit.OutcomeFailed
		}
	}
	rec := g.auditRecord(audit.KindOutcome, o.Request, o.Decision, out, o.PlatformID, o.Err)
	if o.ApprovalID != "" {
		rec.ApprovalID = o.ApprovalID
	}
	return g.audit.Append(ctx, rec)
}

// Do runs the full gateway path for one mutation: coalesce and replay by
// fingerprint, evaluate, enqueue for approval or execute, record the outcome.
// The returned error is a gateway failure or the execution error of an
// allowed mutation; denials are reported in the decision.
func (g *GatewayService) Do(ctx context.Context, req policy.Request, exec ExecFunc) (Result, error) {
	if req.Fingerprint == "" {
		res, err := g.run(ctx, req, exec)
		if err != nil {
			return res, err
		}
		return res, res.Err
	}

	key := idempotencyKey(req.Tool, req.Fingerprint)
	if prev, ok := g.idem.lookup(key); ok {
		return g.replay(ctx, req, prev)
	}
	res, err := g.idem.do(key, func() (Result, bool, error) {
		// A flight that finished between lookup and do has stored its result.
		if prev, ok := g.idem.lookup(key); ok {
			r, err := g.replay(ctx, req, prev)
			return r, false, err
		}
		r, err := g.run(ctx, req, exec)
		if err != nil {
			return r, false, err
		}
		return r, rememberable(r), nil
	})
	if err != nil {
		return res, err
	}
	return res, res.Err
}

// rememberable reports whether a result is replayed for later callers.
// Failed executions and transient quota denials are retried instead.
func rememberable(r Result) bool {
	if r.Err != nil {
		return false
	}
	switch r.Decision.Reason {
	case policy.ReasonRateLimited, policy.ReasonPlatformQuota:
		return false
	}
	return true
}

func (g *GatewayService) replay(ctx context.Context, req policy.Request, prev Result) (Result, error) {
	r := prev
	r.Decision.Replayed = true
	if req.Time.IsZero() {
		req.Time = g.now()
	}
	rec := g.auditRecord(audit.KindOutcome, req, r.Decision, audit.OutcomeReplayed, r.PlatformID, nil)
	if err := g.audit.Append(ctx, rec); err != nil {
		g.logger.Error("failed to audit replay", "tool", req.Tool, "fingerprint", req.Fingerprint, "error", err)
	}
	if g.observer != nil {
		g.observer.ObserveDecision(string(r.Decision.Action), "replayed")
	}
	return r, r.Err
}

func (g *GatewayService) run(ctx context.Context, req policy.Request, exec ExecFunc) (Result, error) {
	if req.Time.IsZero() {
		req.Time = g.now()
	}
	d, err := g.Evaluate(ctx, req)
	if err != nil {
		return Result{}, err
	}
	res := Result{RequestID: d.RequestID, Decision: d}

	// Once a decision is made the mutation and its outcome record run to
	// completion regardless of the caller's cancellation.
	bg := context.WithoutCancel(ctx)
	outcome := Outcome{Request: req, Decision: d}

	switch d.Action {
	case policy.ActionAllow:
		er, execErr := exec(bg)
		res.Executed = true
		res.PlatformID = er.PlatformID
		res.Data = er.Data
		res.Err = execErr
		outcome.PlatformID = er.PlatformID
		outcome.Err = execErr
	case policy.ActionRequireApproval:
		item, err := g.enqueue(bg, req, d)
		if err != nil {
			outcome.Err = err
			if recErr := g.Record(bg, outcome); recErr != nil {
				g.logger.Error("failed to audit outcome", "request_id", d.RequestID, "error", recErr)
			}
			return Result{}, fmt.Errorf("enqueue approval item: %w", err)
		}
		res.Decision.ApprovalID = item.ID
		outcome.ApprovalID = item.ID
	case policy.ActionDryRun:
		res.Data = DryRunPreview{Tool: req.Tool, Args: audit.RedactSensitiveArgs(req.Args)}
	}

	if err := g.Record(bg, outcome); err != nil {
		g.logger.Error("failed to audit outcome", "request_id", d.RequestID, "tool", req.Tool, "error", err)
	}
	return res, nil
}

func (g *GatewayService) enqueue(ctx context.Context, req policy.Request, d policy.Decision) (*approval.Item, error) {
	now := g.now().UTC()
	content := req.Content
	if content == "" {
		if s, ok := req.Args["text"].(string); ok {
			content = s
		}
	}
	item := &approval.Item{
		ID:        uuid.NewString(),
		RequestID: d.RequestID,
		Tool:      req.Tool,
		Category:  string(req.Category),
		Args:      req.Args,
		Content:   content,
		Reason:    string(d.Reason),
		RuleID:    d.RuleID,
		Score:     req.Score,
		Risk:      string(tool.ClassifyTool(req.Tool)),
		Actor:     req.Actor,
		Status:    approval.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	item.Note(req.Actor, approval.ActionCreated, string(d.Reason), now)
	if err := g.approvals.Create(ctx, item); err != nil {
		return nil, err
	}
	g.logger.Info("mutation queued for approval", "approval_id", item.ID, "tool", req.Tool, "actor", req.Actor)
	return item, nil
}

func decisionOutcome(d policy.Decision) audit.Outcome {
	switch d.Action {
	case policy.ActionDeny:
		return audit.OutcomeDenied
	case policy.ActionRequireApproval:
		return audit.OutcomeQueued
	case policy.ActionDryRun:
		return audit.OutcomeDryRun
	default:
		return audit.OutcomePending
	}
}

func (g *GatewayService) auditRecord(kind audit.Kind, req policy.Request, d policy.Decision, out audit.Outcome, platformID string, execErr error) audit.MutationRecord {
	ts := g.now().UTC()
	if kind == audit.KindDecision && !req.Time.IsZero() {
		ts = req.Time.UTC()
	}
	rec := audit.MutationRecord{
		ID:          uuid.NewString(),
		RequestID:   d.RequestID,
		Kind:        kind,
		Fingerprint: req.Fingerprint,
		Tool:        req.Tool,
		Category:    string(req.Category),
		Actor:       req.Actor,
		ActorType:   policy.ActorType(req.Actor),
		Decision:    string(d.Action),
		Reason:      string(d.Reason),
		RuleID:      d.RuleID,
		Outcome:     out,
		PlatformID:  platformID,
		ApprovalID:  d.ApprovalID,
		Timestamp:   ts,
		Args:        audit.RedactSensitiveArgs(req.Args),
	}
	if execErr != nil {
		rec.ErrorCode = errorCode(execErr)
	}
	return rec
}

// errorCode names the most specific typed cause of err.
func errorCode(err error) string {
	if kind, ok := toolkit.KindOf(err); ok {
		return string(kind)
	}
	if kind := provider.KindOf(err); kind != provider.KindUnknown {
		return string(kind)
	}
	return "internal"
}
