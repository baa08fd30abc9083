package memory

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/kestrel-social/kestrel/internal/domain/audit"
)

const defaultRecentCap = 1000

// MemoryAuditStore implements audit.Store writing JSON lines to a writer.
// It also keeps a bounded in-memory ring buffer for queries; the writer is
// the durable trail.
type MemoryAuditStore struct {
	encoder *json.Encoder
	writer  io.Writer
	mu      sync.Mutex
	// recent is a bounded ring buffer of the most recent records.
	recent []audit.MutationRecord
	cap    int
}

// resolveCapacity returns the first positive capacity value, or defaultRecentCap.
func resolveCapacity(capacity ...int) int {
	if len(capacity) > 0 && capacity[0] > 0 {
		return capacity[0]
	}
	return defaultRecentCap
}

// NewAuditStore creates an audit store that only keeps the ring buffer.
// An optional capacity parameter sets the ring buffer size (default 1000).
func NewAuditStore(capacity ...int) *MemoryAuditStore {
	return NewAuditStoreWithWriter(io.Discard, capacity...)
}

// NewAuditStoreWithWriter creates an audit store writing to the given writer.
// An optional capacity parameter sets the ring buffer size (default 1000).
func NewAuditStoreWithWriter(w io.Writer, capacity ...int) *MemoryAuditStore {
	n := resolveCapacity(capacity...)
	return &MemoryAuditStore{
		encoder: json.NewEncoder(w),
		writer:  w,
		recent:  make([]audit.MutationRecord, 0, n),
		cap:     n,
	}
}

// Append writes records as JSON and keeps them in the ring buffer.
// All records of one call are appended under a single lock.
func (s *MemoryAuditStore) Append(ctx context.Context, records ...audit.MutationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if err := s.encoder.Encode(r); err != nil {
			return err
		}
		if len(s.recent) >= s.cap {
			copy(s.recent, s.recent[1:])
			s.recent[len(s.recent)-1] = r
		} else {
			s.recent = append(s.recent, r)
		}
	}
	return nil
}

// Close releases resources.
func (s *MemoryAuditStore) Close() error {
	// Close file if it's not stdout/stderr
	if f, ok := s.writer.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		return f.Close()
	}
	return nil
}

// Query retrieves matching records from the ring buffer, newest first.
func (s *MemoryAuditStore) Query(ctx context.Context, filter audit.Filter) ([]audit.MutationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := filter.EffectiveLimit()
	var result []audit.MutationRecord
	for i := len(s.recent) - 1; i >= 0 && len(result) < limit; i-- {
		if filter.Matches(s.recent[i]) {
			result = append(result, s.recent[i])
		}
	}
	return result, nil
}

// Len returns the number of buffered records.
func (s *MemoryAuditStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recent)
}

// Compile-time interface verification.
var _ audit.Store = (*MemoryAuditStore)(nil)
