// Package audit contains domain types for the mutation audit trail.
package audit

import (
	"strings"
	"time"
)

// Kind distinguishes the two records written per mutation attempt.
type Kind string

const (
	// KindDecision is written before the caller proceeds.
	KindDecision Kind = "decision"
	// KindOutcome is written after execution (or when nothing will execute).
	KindOutcome Kind = "outcome"
)

// Outcome is the lifecycle state a record reports.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeDenied    Outcome = "denied"
	OutcomeQueued    Outcome = "queued"
	OutcomeDryRun    Outcome = "dry_run"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeReplayed  Outcome = "replayed"
)

// MutationRecord is one immutable entry of the audit trail. A decision record
// and an outcome record share the same RequestID; neither is ever updated.
type MutationRecord struct {
	ID          string         `json:"id"`
	RequestID   string         `json:"request_id"`
	Kind        Kind           `json:"kind"`
	Fingerprint string         `json:"fingerprint,omitempty"`
	Tool        string         `json:"tool"`
	Category    string         `json:"category"`
	Actor       string         `json:"actor"`
	ActorType   string         `json:"actor_type"`
	Decision    string         `json:"decision"`
	Reason      string         `json:"reason"`
	RuleID      string         `json:"rule_id,omitempty"`
	Outcome     Outcome        `json:"outcome"`
	ErrorCode   string         `json:"error_code,omitempty"`
	PlatformID  string         `json:"platform_id,omitempty"`
	ApprovalID  string         `json:"approval_id,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Args        map[string]any `json:"args,omitempty"`
}

// sensitiveKeywords lists substrings that indicate a sensitive argument key.
// Comparison is case-insensitive.
var sensitiveKeywords = []string{
	"password", "secret", "token", "api_key", "apikey",
	"credential", "auth", "private_key", "privatekey",
}

// maxArgValueLen truncates long string values such as base64 media payloads.
const maxArgValueLen = 512

// RedactSensitiveArgs returns a copy of args with sensitive values masked and
// oversized strings truncated. Nested maps are redacted recursively.
func RedactSensitiveArgs(args map[string]any) map[string]any {
	if len(args) == 0 {
		return args
	}
	redacted := make(map[string]any, len(args))
	for k, v := range args {
		switch {
		case isSensitiveKey(k):
			redacted[k] = "***REDACTED***"
		default:
			redacted[k] = redactValue(v)
		}
	}
	return redacted
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return RedactSensitiveArgs(val)
	case string:
		if len(val) > maxArgValueLen {
			return val[:maxArgValueLen] + "...(truncated)"
		}
	}
	return v
}

// isSensitiveKey checks if a key name indicates sensitive data.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
