package policy

import (
	"strings"
	"time"
)

// Actor prefixes. The scheduler acts as the bare ActorScheduler; external
// callers act as "agent:<id>" and reviewers as "admin:<id>".
const (
	ActorScheduler = "scheduler"
	ActorAgent     = "agent"
	ActorAdmin     = "admin"
)

// AgentActor returns the actor string for an external caller.
func AgentActor(id string) string {
	return ActorAgent + ":" + id
}

// ActorType returns the actor class of an actor string.
func ActorType(actor string) string {
	if actor == ActorScheduler {
		return ActorScheduler
	}
	if kind, _, ok := strings.Cut(actor, ":"); ok && (kind == ActorAgent || kind == ActorAdmin) {
		return kind
	}
	return ActorAgent
}

// Request is the evaluation context of one mutation attempt.
type Request struct {
	// Tool is the mutation tool name, e.g. "reply_to_tweet".
	Tool string
	// Category of the tool.
	Category Category
	// Actor identifies the caller.
	Actor string
	// Args are the tool arguments, used by CEL conditions and audit.
	Args map[string]any
	// Fingerprint deduplicates repeated attempts. Empty disables dedup.
	Fingerprint string
	// Language of the content, when known.
	Language string
	// Author is the platform user the mutation targets (reply/engagement), when known.
	Author string
	// Keyword is the discovery keyword that led to this mutation, when known.
	Keyword string
	// Engagement is the engagement type for engage tools ("like", "follow", ...).
	Engagement string
	// PlatformEndpoint names the provider endpoint for platform quota checks.
	PlatformEndpoint string
	// Confirmed is the caller's explicit confirmation for destructive tools.
	Confirmed bool
	// ApprovalID is set when executing a reviewer-approved item.
	ApprovalID string
	// Content is the human-readable proposed content, used for approval items.
	Content string
	// Score is the candidate score that led to the mutation, if any.
	Score float64
	// Time of the request. Zero means now.
	Time time.Time
}

// Approved reports whether the request executes an approved item.
func (r Request) Approved() bool {
	return r.ApprovalID != ""
}
