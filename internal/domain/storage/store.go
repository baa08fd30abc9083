package storage

import (
	"context"
	"time"
)

// Store is the persistence surface used by the workflow layer.
// Implementations must be safe for concurrent use.
type Store interface {
	// SaveCandidates upserts candidates by tweet ID. An existing candidate
	// keeps its status.
	SaveCandidates(ctx context.Context, candidates []Candidate) error
	GetCandidate(ctx context.Context, tweetID string) (*Candidate, error)
	// ListCandidates returns candidates by score descending.
	ListCandidates(ctx context.Context, opts ListOptions) ([]Candidate, error)
	SetCandidateStatus(ctx context.Context, tweetID string, status CandidateStatus) error

	// SaveDraft upserts a draft by ID.
	SaveDraft(ctx context.Context, d *Draft) error
	GetDraft(ctx context.Context, id string) (*Draft, error)
	// ListDrafts returns drafts newest first.
	ListDrafts(ctx context.Context, opts ListOptions) ([]Draft, error)

	// SaveThreadPlan upserts a plan by ID.
	SaveThreadPlan(ctx context.Context, p *ThreadPlan) error
	GetThreadPlan(ctx context.Context, id string) (*ThreadPlan, error)
	// ListThreadPlans returns plans by schedule ascending.
	ListThreadPlans(ctx context.Context, opts ListOptions) ([]ThreadPlan, error)
	// DueThreadPlans returns scheduled plans whose time is at or before now.
	DueThreadPlans(ctx context.Context, now time.Time) ([]ThreadPlan, error)

	// GetCursor returns "" when the cursor was never set.
	GetCursor(ctx context.Context, name string) (string, error)
	SetCursor(ctx context.Context, name, value string) error

	AppendTelemetry(ctx context.Context, events ...TelemetryEvent) error
	ListTelemetry(ctx context.Context, f TelemetryFilter) ([]TelemetryEvent, error)

	Close() error
}
