// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/kestrel-social/kestrel/internal/domain/provider"
	"github.com/kestrel-social/kestrel/internal/domain/ratelimit"
)

const counterShards = 32

// counterLog is one sliding-window log. Its mutex is the per-key lock held
// across a reservation.
type counterLog struct {
	mu      sync.Mutex
	counter ratelimit.Counter
	events  []time.Time
}

// pruneLocked drops events that fell out of the window. Must be called with mu held.
func (c *counterLog) pruneLocked(now time.Time) {
	cutoff := now.Add(-c.counter.Window.Duration())
	i := 0
	for i < len(c.events) && !c.events[i].After(cutoff) {
		i++
	}
	if i > 0 {
		c.events = append(c.events[:0], c.events[i:]...)
	}
}

type counterShard struct {
	mu   sync.RWMutex
	logs map[string]*counterLog
}

// MemoryRateLimiter implements ratelimit.Store and ratelimit.PlatformQuota.
// Counters live in a sharded map; each counter has its own lock so that
// unrelated dimensions never serialize on each other.
// Includes background cleanup to prevent unbounded memory growth.
type MemoryRateLimiter struct {
	shards [counterShards]*counterShard

	platformMu sync.RWMutex
	platform   map[string]ratelimit.PlatformState

	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
}

// NewRateLimiter creates a new in-memory counter store with a 5 minute cleanup interval.
func NewRateLimiter() *MemoryRateLimiter {
	return NewRateLimiterWithConfig(5 * time.Minute)
}

// NewRateLimiterWithConfig creates a new in-memory counter store with a custom cleanup interval.
func NewRateLimiterWithConfig(cleanupInterval time.Duration) *MemoryRateLimiter {
	r := &MemoryRateLimiter{
		platform:        make(map[string]ratelimit.PlatformState),
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
	}
	for i := range r.shards {
		r.shards[i] = &counterShard{logs: make(map[string]*counterLog)}
	}
	return r
}

func (r *MemoryRateLimiter) shard(key string) *counterShard {
	return r.shards[xxhash.Sum64String(key)%counterShards]
}

// lockLog returns the log for c with its mutex held, creating the log on
// first use. It retries if cleanup removed the log between lookup and lock.
func (r *MemoryRateLimiter) lockLog(c ratelimit.Counter) *counterLog {
	s := r.shard(c.Key)
	for {
		s.mu.RLock()
		l, ok := s.logs[c.Key]
		s.mu.RUnlock()
		if !ok {
			s.mu.Lock()
			if l, ok = s.logs[c.Key]; !ok {
				l = &counterLog{counter: c}
				s.logs[c.Key] = l
			}
			s.mu.Unlock()
		}
		l.mu.Lock()
		s.mu.RLock()
		current := s.logs[c.Key]
		s.mu.RUnlock()
		if current == l {
			return l
		}
		l.mu.Unlock()
	}
}

type reservation struct {
	logs []*counterLog
	now  time.Time
	once sync.Once
}

func (res *reservation) Commit() {
	res.once.Do(func() {
		for _, l := range res.logs {
			l.events = append(l.events, res.now)
		}
		res.unlock()
	})
}

func (res *reservation) Release() {
	res.once.Do(res.unlock)
}

func (res *reservation) unlock() {
	for i := len(res.logs) - 1; i >= 0; i-- {
		res.logs[i].mu.Unlock()
	}
}

// Reserve locks the counters in sorted key order, so concurrent reservations
// over overlapping keys cannot deadlock, then checks every cap.
func (r *MemoryRateLimiter) Reserve(ctx context.Context, counters []ratelimit.Counter, now time.Time) (ratelimit.Reservation, *ratelimit.Breach, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	byKey := make(map[string]ratelimit.Counter, len(counters))
	for _, c := range counters {
		// Two limits on the same counter key keep the stricter cap.
		if prev, ok := byKey[c.Key]; !ok || c.Max < prev.Max {
			byKey[c.Key] = c
		}
	}
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	res := &reservation{now: now, logs: make([]*counterLog, 0, len(keys))}
	for _, k := range keys {
		c := byKey[k]
		l := r.lockLog(c)
		res.logs = append(res.logs, l)
		// The cap is refreshed so a config reload applies to existing counters.
		l.counter.Max = c.Max
		l.pruneLocked(now)
		if len(l.events) >= c.Max {
			breach := &ratelimit.Breach{Counter: c, Used: len(l.events), RetryAfter: c.Window.Duration()}
			if c.Max > 0 {
				// A slot frees up when the oldest event still counting against the cap expires.
				breach.RetryAfter = l.events[len(l.events)-c.Max].Add(c.Window.Duration()).Sub(now)
			}
			res.Release()
			return nil, breach, nil
		}
	}
	return res, nil, nil
}

// Snapshot returns live counters sorted by key.
func (r *MemoryRateLimiter) Snapshot(now time.Time) []ratelimit.CounterState {
	var out []ratelimit.CounterState
	for _, s := range r.shards {
		s.mu.RLock()
		logs := make([]*counterLog, 0, len(s.logs))
		for _, l := range s.logs {
			logs = append(logs, l)
		}
		s.mu.RUnlock()
		for _, l := range logs {
			l.mu.Lock()
			l.pruneLocked(now)
			st := ratelimit.CounterState{
				Key:       l.counter.Key,
				Dimension: l.counter.Dimension,
				Value:     l.counter.Value,
				Window:    l.counter.Window,
				Used:      len(l.events),
				Max:       l.counter.Max,
			}
			if len(l.events) > 0 {
				st.ResetAt = l.events[0].Add(l.counter.Window.Duration())
			}
			l.mu.Unlock()
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Observe records provider rate-limit headers. Safe to use as a provider.RateLimitObserver.
func (r *MemoryRateLimiter) Observe(info provider.RateLimitInfo) {
	if info.Endpoint == "" {
		return
	}
	r.platformMu.Lock()
	defer r.platformMu.Unlock()
	r.platform[info.Endpoint] = ratelimit.PlatformState{
		Endpoint:  info.Endpoint,
		Limit:     info.Limit,
		Remaining: info.Remaining,
		Reset:     info.Reset,
	}
}

// Check reports an endpoint as exhausted while its last observation showed
// no remaining calls and the reset time has not passed.
func (r *MemoryRateLimiter) Check(endpoint string, now time.Time) (bool, time.Duration) {
	r.platformMu.RLock()
	st, ok := r.platform[endpoint]
	r.platformMu.RUnlock()
	if !ok || st.Remaining > 0 || !now.Before(st.Reset) {
		return false, 0
	}
	return true, st.Reset.Sub(now)
}

// Platform returns the observed quotas sorted by endpoint.
func (r *MemoryRateLimiter) Platform() []ratelimit.PlatformState {
	r.platformMu.RLock()
	defer r.platformMu.RUnlock()
	out := make([]ratelimit.PlatformState, 0, len(r.platform))
	for _, st := range r.platform {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}

// StartCleanup starts the background cleanup goroutine.
// It stops when ctx is cancelled or Stop() is called.
func (r *MemoryRateLimiter) StartCleanup(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopChan:
				return
			case t := <-ticker.C:
				r.cleanup(t)
			}
		}
	}()
}

// cleanup removes counters whose logs are empty after pruning.
// A counter that is locked by an in-flight reservation is skipped.
func (r *MemoryRateLimiter) cleanup(now time.Time) {
	cleaned := 0
	for _, s := range r.shards {
		s.mu.Lock()
		for key, l := range s.logs {
			if !l.mu.TryLock() {
				continue
			}
			l.pruneLocked(now)
			if len(l.events) == 0 {
				delete(s.logs, key)
				cleaned++
			}
			l.mu.Unlock()
		}
		s.mu.Unlock()
	}

	if cleaned > 0 {
		slog.Debug("rate limiter cleanup completed",
			"cleaned_keys", cleaned,
			"remaining_keys", r.Size())
	}
}

// Stop gracefully stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (r *MemoryRateLimiter) Stop() {
	r.once.Do(func() {
		close(r.stopChan)
	})
	r.wg.Wait()
}

// Size returns the current number of tracked counters.
func (r *MemoryRateLimiter) Size() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.logs)
		s.mu.RUnlock()
	}
	return n
}

// Compile-time interface verification.
var (
	_ ratelimit.Store         = (*MemoryRateLimiter)(nil)
	_ ratelimit.PlatformQuota = (*MemoryRateLimiter)(nil)
)
