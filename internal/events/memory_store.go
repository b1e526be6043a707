package events

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu      sync.RWMutex
	batches map[string][]*Batch // sessionID → batches in arrival order
}

// NewMemoryStore creates an in-memory batch store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		batches: make(map[string][]*Batch),
	}
}

func (s *MemoryStore) Record(ctx context.Context, batch *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Copy the event slice so later mutation by the caller can't reach
	// the stored batch.
	b := *batch
	b.Events = make([]Event, len(batch.Events))
	copy(b.Events, batch.Events)

	s.batches[batch.SessionID] = append(s.batches[batch.SessionID], &b)
	return nil
}

func (s *MemoryStore) ListBySession(ctx context.Context, sessionID string) ([]*Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.batches[sessionID]
	if len(all) == 0 {
		return nil, nil
	}

	result := make([]*Batch, 0, len(all))
	for _, b := range all {
		c := *b
		c.Events = make([]Event, len(b.Events))
		copy(c.Events, b.Events)
		result = append(result, &c)
	}
	return result, nil
}

func (s *MemoryStore) CountBySession(ctx context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.batches[sessionID]), nil
}
