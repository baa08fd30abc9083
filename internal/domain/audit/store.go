package audit

import (
	"context"
	"time"
)

// Store persists mutation records. Append must never modify existing records.
type Store interface {
	// Append stores records atomically with respect to each other.
	Append(ctx context.Context, records ...MutationRecord) error
	// Query returns records matching filter, newest first.
	Query(ctx context.Context, filter Filter) ([]MutationRecord, error)
	// Close releases resources.
	Close() error
}

// Filter specifies query parameters for audit queries. Empty fields match anything.
type Filter struct {
	RequestID string
	Tool      string
	Actor     string
	Kind      Kind
	Outcome   Outcome
	Since     time.Time
	Until     time.Time
	// Limit is the maximum number of records to return (default 100, max 1000).
	Limit int
}

// EffectiveLimit applies the default and maximum.
func (f Filter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return 100
	case f.Limit > 1000:
		return 1000
	}
	return f.Limit
}

// Matches reports whether r satisfies the filter.
func (f Filter) Matches(r MutationRecord) bool {
	if f.RequestID != "" && r.RequestID != f.RequestID {
		return false
	}
	if f.Tool != "" && r.Tool != f.Tool {
		return false
	}
	if f.Actor != "" && r.Actor != f.Actor {
		return false
	}
	if f.Kind != "" && r.Kind != f.Kind {
		return false
	}
	if f.Outcome != "" && r.Outcome != f.Outcome {
		return false
	}
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && r.Timestamp.After(f.Until) {
		return false
	}
	return true
}
