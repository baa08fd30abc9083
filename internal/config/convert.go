package config

import (
	"time"

	"github.com/kestrel-social/kestrel/internal/autopilot"
	"github.com/kestrel-social/kestrel/internal/domain/auth"
	"github.com/kestrel-social/kestrel/internal/domain/policy"
	"github.com/kestrel-social/kestrel/internal/domain/ratelimit"
	"github.com/kestrel-social/kestrel/internal/service"
	"github.com/kestrel-social/kestrel/internal/workflow"
)

// OperatingMode returns the startup mode.
func (c *Config) OperatingMode() policy.Mode {
	return policy.Mode(c.Mode)
}

// GatewayPolicy converts the policy and rate limit sections for the gateway.
func (c *Config) GatewayPolicy() service.PolicyConfig {
	out := service.PolicyConfig{
		Rules:          make([]policy.Rule, 0, len(c.Policy.Rules)),
		Limits:         make([]ratelimit.Limit, 0, len(c.RateLimits)),
		DefaultAction:  policy.Action(c.Policy.DefaultAction),
		ConfirmDeletes: c.Policy.ConfirmDeletes,
	}
	for _, r := range c.Policy.Rules {
		out.Rules = append(out.Rules, r.toRule())
	}
	for _, l := range c.RateLimits {
		out.Limits = append(out.Limits, ratelimit.Limit{
			Dimension: ratelimit.Dimension(l.Dimension),
			Match:     l.Match,
			Window:    ratelimit.Window(l.Window),
			Max:       l.Max,
			Shared:    l.Shared,
		})
	}
	return out
}

func (r RuleConfig) toRule() policy.Rule {
	rule := policy.Rule{
		ID:        r.ID,
		Name:      r.Name,
		Priority:  r.Priority,
		Hard:      r.Hard,
		ToolMatch: r.ToolMatch,
		Actors:    r.Actors,
		Languages: r.Languages,
		Condition: r.Condition,
		Action:    policy.Action(r.Action),
		Message:   r.Message,
	}
	for _, c := range r.Categories {
		rule.Categories = append(rule.Categories, policy.Category(c))
	}
	for _, m := range r.Modes {
		rule.Modes = append(rule.Modes, policy.Mode(m))
	}
	if r.Window != nil {
		w := &policy.TimeWindow{StartHour: r.Window.StartHour, EndHour: r.Window.EndHour}
		for _, d := range r.Window.Weekdays {
			w.Weekdays = append(w.Weekdays, time.Weekday(d))
		}
		rule.Window = w
	}
	return rule
}

// WorkflowConfig returns the safety and scoring settings of the workflow engine.
func (c *Config) WorkflowConfig() workflow.Config {
	return workflow.Config{
		Safety: workflow.SafetyConfig{
			BannedPhrases:      c.Safety.BannedPhrases,
			DuplicateThreshold: c.Safety.DuplicateThreshold,
			RecentDrafts:       c.Safety.RecentDrafts,
		},
		Scoring: c.Scoring,
	}
}

// AutopilotSchedule returns the scheduler configuration.
func (c *Config) AutopilotSchedule() autopilot.Config {
	a := c.Autopilot
	loop := func(l LoopConfig) autopilot.LoopConfig {
		return autopilot.LoopConfig{Enabled: l.Enabled, Interval: l.Interval}
	}
	return autopilot.Config{
		Discovery: autopilot.DiscoveryConfig{
			LoopConfig: loop(a.Discovery.LoopConfig),
			Queries:    a.Discovery.Queries,
			TopN:       a.Discovery.TopN,
		},
		Mentions: autopilot.MentionsConfig{
			LoopConfig: loop(a.Mentions.LoopConfig),
			Limit:      a.Mentions.Limit,
		},
		Content: autopilot.ContentConfig{
			LoopConfig: loop(a.Content.LoopConfig),
			Topics:     a.Content.Topics,
		},
		Threads: loop(a.Threads),
		TokenRefresh: autopilot.TokenRefreshConfig{
			LoopConfig: loop(a.TokenRefresh.LoopConfig),
			Skew:       a.TokenRefresh.Skew,
		},
		Backoff: autopilot.BackoffConfig{
			Initial: a.Backoff.Initial,
			Max:     a.Backoff.Max,
			Jitter:  a.Backoff.Jitter,
		},
	}
}

// AuthCallers returns the configured callers for auth.NewKeyService.
func (c *Config) AuthCallers() []auth.Caller {
	out := make([]auth.Caller, 0, len(c.Callers))
	for _, caller := range c.Callers {
		out = append(out, auth.Caller{
			ID:        caller.ID,
			Name:      caller.Name,
			Role:      auth.Role(caller.Role),
			KeyHash:   caller.KeyHash,
			ExpiresAt: caller.ExpiresAt,
			Revoked:   caller.Revoked,
		})
	}
	return out
}
