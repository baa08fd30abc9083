package ratelimit

import (
	"context"
	"time"

	"github.com/kestrel-social/kestrel/internal/domain/provider"
)

// Reservation holds the locks of every counter it covers until Commit or
// Release. Both are idempotent and only the first call has an effect.
type Reservation interface {
	// Commit records one event on every counter and releases the locks.
	Commit()
	// Release drops the locks without recording anything.
	Release()
}

// Store is the counter store owned by the gateway.
//
// Reserve locks all counters in key order, prunes expired events and checks
// every cap. On success the caller holds the locks until it commits or
// releases, so two concurrent reservations can never both take the last slot.
// On a breach the locks are already released and the breach is returned.
type Store interface {
	Reserve(ctx context.Context, counters []Counter, now time.Time) (Reservation, *Breach, error)
	// Snapshot returns the state of every live counter.
	Snapshot(now time.Time) []CounterState
}

// PlatformQuota tracks the provider's own rate-limit headers.
type PlatformQuota interface {
	// Observe records the latest headers for an endpoint.
	Observe(info provider.RateLimitInfo)
	// Check reports whether the endpoint is exhausted and when it resets.
	Check(endpoint string, now time.Time) (exhausted bool, retryAfter time.Duration)
	// Platform returns the last observation per endpoint.
	Platform() []PlatformState
}
