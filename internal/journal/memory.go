// internal/journal/memory.go
package journal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps the journal in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	index   map[uuid.UUID]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{index: make(map[uuid.UUID]int)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Append(ctx context.Context, e Entry) (Entry, error) {
	e = stamp(e)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[e.ID]; ok {
		return Entry{}, fmt.Errorf("append %s: %w", e.ID, ErrDuplicateEntry)
	}
	s.index[e.ID] = len(s.entries)
	s.entries = append(s.entries, e)
	return e, nil
}

func (s *MemoryStore) ForMember(ctx context.Context, memberID int64, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].MemberID != memberID {
			continue
		}
		out = append(out, s.entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Unreconciled(ctx context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for _, e := range s.entries {
		if e.NeedsReconciliation() {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) Resolve(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("resolve %s: %w", id, ErrEntryNotFound)
	}
	if s.entries[i].Type != PaymentPartiallyApplied {
		return fmt.Errorf("resolve %s: %w", id, ErrNotResolvable)
	}
	if s.entries[i].ResolvedAt == nil {
		at = at.UTC()
		s.entries[i].ResolvedAt = &at
	}
	return nil
}
