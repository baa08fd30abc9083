// Package storage defines the workflow-owned persistence surface: discovery
// candidates, drafts, scheduled threads, cursors and telemetry.
package storage

import (
	"errors"
	"time"

	"github.com/kestrel-social/kestrel/internal/domain/provider"
)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("record not found")

// CandidateStatus tracks what the workflow did with a candidate.
type CandidateStatus string

const (
	CandidateNew     CandidateStatus = "new"
	CandidateDrafted CandidateStatus = "drafted"
	CandidateSkipped CandidateStatus = "skipped"
)

// Candidate is a scored tweet found by discovery.
type Candidate struct {
	TweetID      string          `json:"tweet_id"`
	Tweet        provider.Tweet  `json:"tweet"`
	Query        string          `json:"query"`
	Score        float64         `json:"score"`
	Matched      []string        `json:"matched_keywords,omitempty"`
	Status       CandidateStatus `json:"status"`
	DiscoveredAt time.Time       `json:"discovered_at"`
}

// DraftKind is the kind of post a draft becomes.
type DraftKind string

const (
	DraftReply    DraftKind = "reply"
	DraftOriginal DraftKind = "original"
)

// DraftStatus tracks a draft through the gateway.
type DraftStatus string

const (
	DraftNew      DraftStatus = "new"
	DraftRejected DraftStatus = "rejected"
	DraftQueued   DraftStatus = "queued"
	DraftPosted   DraftStatus = "posted"
	DraftDenied   DraftStatus = "denied"
	DraftDryRun   DraftStatus = "dry_run"
	DraftFailed   DraftStatus = "failed"
)

// Draft is generated text for a candidate or an original post.
type Draft struct {
	ID          string      `json:"id"`
	Kind        DraftKind   `json:"kind"`
	CandidateID string      `json:"candidate_id,omitempty"`
	ReplyToID   string      `json:"reply_to_id,omitempty"`
	AuthorID    string      `json:"author_id,omitempty"`
	Keyword     string      `json:"keyword,omitempty"`
	Topic       string      `json:"topic,omitempty"`
	Lang        string      `json:"lang,omitempty"`
	Text        string      `json:"text"`
	Score       float64     `json:"score,omitempty"`
	Status      DraftStatus `json:"status"`
	Rejection   string      `json:"rejection,omitempty"`
	ApprovalID  string      `json:"approval_id,omitempty"`
	PostedID    string      `json:"posted_id,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// ThreadStatus tracks a scheduled thread.
type ThreadStatus string

const (
	ThreadScheduled ThreadStatus = "scheduled"
	ThreadPosted    ThreadStatus = "posted"
	ThreadPartial   ThreadStatus = "partial"
	ThreadFailed    ThreadStatus = "failed"
	ThreadQueued    ThreadStatus = "queued"
	ThreadDenied    ThreadStatus = "denied"
	ThreadDryRun    ThreadStatus = "dry_run"
)

// ThreadPlan is an ordered thread scheduled for later posting.
type ThreadPlan struct {
	ID          string       `json:"id"`
	Topic       string       `json:"topic"`
	Parts       []string     `json:"parts"`
	ScheduledAt time.Time    `json:"scheduled_at"`
	Status      ThreadStatus `json:"status"`
	Posted      []string     `json:"posted,omitempty"`
	FailedAt    *int         `json:"failed_at,omitempty"`
	Error       string       `json:"error,omitempty"`
	ApprovalID  string       `json:"approval_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Telemetry sources.
const (
	SourceAutopilot = "autopilot"
	SourceTool      = "tool"
)

// TelemetryEvent records one loop cycle or tool call.
type TelemetryEvent struct {
	ID         string         `json:"id"`
	Source     string         `json:"source"`
	Name       string         `json:"name"`
	Result     string         `json:"result"`
	DurationMS int64          `json:"duration_ms"`
	Error      string         `json:"error,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	At         time.Time      `json:"at"`
}

// ListOptions bound list queries. Empty Status matches every status.
type ListOptions struct {
	Status string
	Limit  int
}

// EffectiveLimit applies the default of 50 and a maximum of 500.
func (o ListOptions) EffectiveLimit() int {
	switch {
	case o.Limit <= 0:
		return 50
	case o.Limit > 500:
		return 500
	}
	return o.Limit
}

// TelemetryFilter selects telemetry events, newest first.
type TelemetryFilter struct {
	Source string
	Name   string
	Since  time.Time
	Limit  int
}
