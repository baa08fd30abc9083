package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kestrel-social/kestrel/internal/domain/approval"
)

type approvalEntry struct {
	mu   sync.Mutex
	item *approval.Item
}

// MemoryApprovalStore implements approval.Store. The map is guarded by an
// RWMutex and every item has its own lock, so reviewers acting on different
// items never wait on each other.
type MemoryApprovalStore struct {
	mu      sync.RWMutex
	entries map[string]*approvalEntry
	order   []string
}

// NewApprovalStore creates an empty approval store.
func NewApprovalStore() *MemoryApprovalStore {
	return &MemoryApprovalStore{entries: make(map[string]*approvalEntry)}
}

func (s *MemoryApprovalStore) Create(ctx context.Context, item *approval.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[item.ID]; exists {
		return fmt.Errorf("approval item %s already exists", item.ID)
	}
	s.entries[item.ID] = &approvalEntry{item: item.Clone()}
	s.order = append(s.order, item.ID)
	return nil
}

func (s *MemoryApprovalStore) entry(id string) (*approvalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", approval.ErrNotFound, id)
	}
	return e, nil
}

func (s *MemoryApprovalStore) Get(ctx context.Context, id string) (*approval.Item, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.item.Clone(), nil
}

func (s *MemoryApprovalStore) List(ctx context.Context, f approval.Filter) ([]*approval.Item, error) {
	s.mu.RLock()
	entries := make([]*approvalEntry, 0, len(s.order))
	for _, id := range s.order {
		entries = append(entries, s.entries[id])
	}
	s.mu.RUnlock()

	var out []*approval.Item
	for _, e := range entries {
		e.mu.Lock()
		it := e.item
		match := (f.Status == "" || it.Status == f.Status) && (f.Tool == "" || it.Tool == f.Tool)
		if match {
			out = append(out, it.Clone())
		}
		e.mu.Unlock()
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Update runs fn on a working copy under the item lock and keeps the copy
// only if fn succeeds, so a failed transition leaves no trace.
func (s *MemoryApprovalStore) Update(ctx context.Context, id string, fn func(*approval.Item) error) (*approval.Item, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	working := e.item.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	e.item = working
	return working.Clone(), nil
}

func (s *MemoryApprovalStore) CountPending(ctx context.Context) (int, error) {
	items, err := s.List(ctx, approval.Filter{Status: approval.StatusPending})
	return len(items), err
}

// Compile-time interface verification.
var _ approval.Store = (*MemoryApprovalStore)(nil)
