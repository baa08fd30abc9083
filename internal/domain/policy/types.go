// Package policy contains domain types for mutation policy evaluation.
package policy

import (
	"fmt"
	"slices"
	"time"
)

// Action is the outcome a rule or the gateway assigns to a mutation.
type Action string

const (
	// ActionAllow lets the mutation execute.
	ActionAllow Action = "allow"
	// ActionDeny blocks the mutation.
	ActionDeny Action = "deny"
	// ActionRequireApproval routes the mutation to the approval queue.
	ActionRequireApproval Action = "require_approval"
	// ActionDryRun records the mutation without executing it.
	ActionDryRun Action = "dry_run"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionAllow, ActionDeny, ActionRequireApproval, ActionDryRun:
		return true
	}
	return false
}

// Category groups tools by the kind of effect they have.
type Category string

const (
	CategoryRead   Category = "read"
	CategoryWrite  Category = "write"
	CategoryEngage Category = "engage"
	CategoryMedia  Category = "media"
	CategoryDelete Category = "delete"
	CategoryAdmin  Category = "admin"
)

// Mutating reports whether tools in c cause platform side effects.
func (c Category) Mutating() bool {
	switch c {
	case CategoryWrite, CategoryEngage, CategoryMedia, CategoryDelete:
		return true
	}
	return false
}

// Mode is the process-wide operating mode.
type Mode string

const (
	// ModeAutonomous executes allowed mutations directly.
	ModeAutonomous Mode = "autonomous"
	// ModeReview forces every mutation that is not denied into the approval queue.
	ModeReview Mode = "review"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeAutonomous || m == ModeReview
}

// ReasonCode is the machine-readable cause of a decision.
type ReasonCode string

const (
	ReasonHardDeny          ReasonCode = "hard_deny"
	ReasonDeleteUnconfirmed ReasonCode = "delete_unconfirmed"
	ReasonRateLimited       ReasonCode = "rate_limited"
	ReasonPlatformQuota     ReasonCode = "platform_quota"
	ReasonReviewMode        ReasonCode = "review_mode"
	ReasonDryRunOnly        ReasonCode = "dry_run_only"
	ReasonRuleMatched       ReasonCode = "rule_matched"
	ReasonDefaultAllow      ReasonCode = "default_allow"
	ReasonDefaultDeny       ReasonCode = "default_deny"
	ReasonApprovedItem      ReasonCode = "approved_item"
)

// TimeWindow restricts a rule to certain UTC hours and weekdays.
// Hours are [StartHour, EndHour); a window with StartHour > EndHour wraps
// midnight and StartHour == EndHour covers the whole day.
type TimeWindow struct {
	StartHour int            `json:"start_hour" yaml:"start_hour"`
	EndHour   int            `json:"end_hour" yaml:"end_hour"`
	Weekdays  []time.Weekday `json:"weekdays,omitempty" yaml:"weekdays,omitempty"`
}

// Contains reports whether t falls inside the window.
func (w TimeWindow) Contains(t time.Time) bool {
	t = t.UTC()
	if len(w.Weekdays) > 0 && !slices.Contains(w.Weekdays, t.Weekday()) {
		return false
	}
	h := t.Hour()
	switch {
	case w.StartHour == w.EndHour:
		return true
	case w.StartHour < w.EndHour:
		return h >= w.StartHour && h < w.EndHour
	default:
		return h >= w.StartHour || h < w.EndHour
	}
}

// Rule is one configured policy rule. Every non-empty condition must hold
// for the rule to match; empty conditions match anything.
type Rule struct {
	// ID identifies the rule in decisions and audit records. Defaults to Name.
	ID string `json:"id,omitempty" yaml:"id,omitempty"`
	// Name is a human-readable label.
	Name string `json:"name" yaml:"name"`
	// Priority orders rules; higher priorities are evaluated first.
	Priority int `json:"priority" yaml:"priority"`
	// Hard places the rule in the hard-deny tier, evaluated before rate limits
	// and mode. Only deny rules may be hard.
	Hard bool `json:"hard,omitempty" yaml:"hard,omitempty"`
	// ToolMatch is a glob over tool names; "*" or empty matches every tool.
	ToolMatch string `json:"tool_match,omitempty" yaml:"tool_match,omitempty"`
	// Categories limits the rule to tools of these categories.
	Categories []Category `json:"categories,omitempty" yaml:"categories,omitempty"`
	// Modes limits the rule to these operating modes.
	Modes []Mode `json:"modes,omitempty" yaml:"modes,omitempty"`
	// Actors are globs over the caller identity: "scheduler", "agent:<id>", "agent:*".
	Actors []string `json:"actors,omitempty" yaml:"actors,omitempty"`
	// Languages limits the rule to content in these languages.
	Languages []string `json:"languages,omitempty" yaml:"languages,omitempty"`
	// Window limits the rule to a time window.
	Window *TimeWindow `json:"window,omitempty" yaml:"window,omitempty"`
	// Condition is an optional CEL expression that must evaluate to true.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
	// Action is applied when the rule matches.
	Action Action `json:"action" yaml:"action"`
	// Message is returned to the caller when the rule denies.
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// Key returns the rule identifier used in decisions.
func (r Rule) Key() string {
	if r.ID != "" {
		return r.ID
	}
	return r.Name
}

// Validate checks the structural constraints of a rule. CEL conditions are
// checked separately by the rule engine.
func (r Rule) Validate() error {
	if r.Name == "" && r.ID == "" {
		return fmt.Errorf("rule needs a name")
	}
	if !r.Action.Valid() {
		return fmt.Errorf("rule %q: unknown action %q", r.Key(), r.Action)
	}
	if r.Hard && r.Action != ActionDeny {
		return fmt.Errorf("rule %q: hard rules must deny", r.Key())
	}
	for _, m := range r.Modes {
		if !m.Valid() {
			return fmt.Errorf("rule %q: unknown mode %q", r.Key(), m)
		}
	}
	if w := r.Window; w != nil {
		if w.StartHour < 0 || w.StartHour > 23 || w.EndHour < 0 || w.EndHour > 23 {
			return fmt.Errorf("rule %q: window hours must be within 0-23", r.Key())
		}
	}
	return nil
}

// LimitRef identifies the counter that caused a rate-limit denial.
type LimitRef struct {
	Key       string `json:"key"`
	Dimension string `json:"dimension"`
	Window    string `json:"window"`
	Max       int    `json:"max"`
	Used      int    `json:"used"`
}

// Decision is the gateway's verdict on one mutation request.
type Decision struct {
	RequestID   string        `json:"request_id,omitempty"`
	Action      Action        `json:"action"`
	Reason      ReasonCode    `json:"reason"`
	RuleID      string        `json:"rule_id,omitempty"`
	RuleName    string        `json:"rule_name,omitempty"`
	Limit       *LimitRef     `json:"limit,omitempty"`
	RetryAfter  time.Duration `json:"-"`
	RetryAfterS float64       `json:"retry_after_s,omitempty"`
	Message     string        `json:"message,omitempty"`
	Fingerprint string        `json:"fingerprint,omitempty"`
	Replayed    bool          `json:"replayed,omitempty"`
	ApprovalID  string        `json:"approval_id,omitempty"`
}

// WithRetryAfter sets both representations of the retry hint.
func (d Decision) WithRetryAfter(after time.Duration) Decision {
	d.RetryAfter = after
	d.RetryAfterS = after.Round(time.Millisecond).Seconds()
	return d
}

// Allowed reports whether the mutation may execute.
func (d Decision) Allowed() bool {
	return d.Action == ActionAllow
}
