package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kestrel-social/kestrel/internal/domain/storage"
)

// MemoryStore implements storage.Store in process memory.
// For development and tests; nothing survives a restart.
type MemoryStore struct {
	mu         sync.RWMutex
	candidates map[string]storage.Candidate
	drafts     map[string]storage.Draft
	threads    map[string]storage.ThreadPlan
	cursors    map[string]string
	telemetry  []storage.TelemetryEvent
	maxEvents  int
}

// NewStore creates an empty store keeping at most 10000 telemetry events.
func NewStore() *MemoryStore {
	return &MemoryStore{
		candidates: make(map[string]storage.Candidate),
		drafts:     make(map[string]storage.Draft),
		threads:    make(map[string]storage.ThreadPlan),
		cursors:    make(map[string]string),
		maxEvents:  10000,
	}
}

func (s *MemoryStore) SaveCandidates(ctx context.Context, candidates []storage.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range candidates {
		if prev, ok := s.candidates[c.TweetID]; ok {
			c.Status = prev.Status
			c.DiscoveredAt = prev.DiscoveredAt
		}
		s.candidates[c.TweetID] = c
	}
	return nil
}

func (s *MemoryStore) GetCandidate(ctx context.Context, tweetID string) (*storage.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.candidates[tweetID]
	if !ok {
		return nil, fmt.Errorf("candidate %s: %w", tweetID, storage.ErrNotFound)
	}
	return &c, nil
}

func (s *MemoryStore) ListCandidates(ctx context.Context, opts storage.ListOptions) ([]storage.Candidate, error) {
	s.mu.RLock()
	out := make([]storage.Candidate, 0, len(s.candidates))
	for _, c := range s.candidates {
		if opts.Status == "" || string(c.Status) == opts.Status {
			out = append(out, c)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].TweetID > out[j].TweetID
	})
	return truncate(out, opts.EffectiveLimit()), nil
}

func (s *MemoryStore) SetCandidateStatus(ctx context.Context, tweetID string, status storage.CandidateStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.candidates[tweetID]
	if !ok {
		return fmt.Errorf("candidate %s: %w", tweetID, storage.ErrNotFound)
	}
	c.Status = status
	s.candidates[tweetID] = c
	return nil
}

func (s *MemoryStore) SaveDraft(ctx context.Context, d *storage.Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[d.ID] = *d
	return nil
}

func (s *MemoryStore) GetDraft(ctx context.Context, id string) (*storage.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drafts[id]
	if !ok {
		return nil, fmt.Errorf("draft %s: %w", id, storage.ErrNotFound)
	}
	return &d, nil
}

func (s *MemoryStore) ListDrafts(ctx context.Context, opts storage.ListOptions) ([]storage.Draft, error) {
	s.mu.RLock()
	out := make([]storage.Draft, 0, len(s.drafts))
	for _, d := range s.drafts {
		if opts.Status == "" || string(d.Status) == opts.Status {
			out = append(out, d)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return truncate(out, opts.EffectiveLimit()), nil
}

func (s *MemoryStore) SaveThreadPlan(ctx context.Context, p *storage.ThreadPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	cp.Parts = append([]string(nil), p.Parts...)
	cp.Posted = append([]string(nil), p.Posted...)
	s.threads[p.ID] = cp
	return nil
}

func (s *MemoryStore) GetThreadPlan(ctx context.Context, id string) (*storage.ThreadPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.threads[id]
	if !ok {
		return nil, fmt.Errorf("thread plan %s: %w", id, storage.ErrNotFound)
	}
	return &p, nil
}

func (s *MemoryStore) ListThreadPlans(ctx context.Context, opts storage.ListOptions) ([]storage.ThreadPlan, error) {
	s.mu.RLock()
	out := make([]storage.ThreadPlan, 0, len(s.threads))
	for _, p := range s.threads {
		if opts.Status == "" || string(p.Status) == opts.Status {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()
	sortPlans(out)
	return truncate(out, opts.EffectiveLimit()), nil
}

func (s *MemoryStore) DueThreadPlans(ctx context.Context, now time.Time) ([]storage.ThreadPlan, error) {
	s.mu.RLock()
	var out []storage.ThreadPlan
	for _, p := range s.threads {
		if p.Status == storage.ThreadScheduled && !p.ScheduledAt.After(now) {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()
	sortPlans(out)
	return out, nil
}

func sortPlans(plans []storage.ThreadPlan) {
	sort.Slice(plans, func(i, j int) bool {
		if !plans[i].ScheduledAt.Equal(plans[j].ScheduledAt) {
			return plans[i].ScheduledAt.Before(plans[j].ScheduledAt)
		}
		return plans[i].ID < plans[j].ID
	})
}

func (s *MemoryStore) GetCursor(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursors[name], nil
}

func (s *MemoryStore) SetCursor(ctx context.Context, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[name] = value
	return nil
}

func (s *MemoryStore) AppendTelemetry(ctx context.Context, events ...storage.TelemetryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.telemetry = append(s.telemetry, events...)
	if over := len(s.telemetry) - s.maxEvents; over > 0 {
		s.telemetry = append(s.telemetry[:0], s.telemetry[over:]...)
	}
	return nil
}

func (s *MemoryStore) ListTelemetry(ctx context.Context, f storage.TelemetryFilter) ([]storage.TelemetryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit := storage.ListOptions{Limit: f.Limit}.EffectiveLimit()
	var out []storage.TelemetryEvent
	for i := len(s.telemetry) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.telemetry[i]
		if f.Source != "" && e.Source != f.Source {
			continue
		}
		if f.Name != "" && e.Name != f.Name {
			continue
		}
		if !f.Since.IsZero() && e.At.Before(f.Since) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

func truncate[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}

// Compile-time interface verification.
var _ storage.Store = (*MemoryStore)(nil)
