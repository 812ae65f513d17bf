package audit

import (
	"context"
	"sync"
)

// Store persists audit events. Append-only: there is no update or delete.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByItem(ctx context.Context, itemID string) ([]Event, error)
}

// InMemoryStore keeps the trail in process memory. Used in tests and as the
// default sink when no external store is configured.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []Event
	byItem map[string][]int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byItem: make(map[string][]int)}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	if event.ItemID != "" {
		s.byItem[event.ItemID] = append(s.byItem[event.ItemID], len(s.events)-1)
	}
	return nil
}

func (s *InMemoryStore) ListByItem(_ context.Context, itemID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idxs := s.byItem[itemID]
	out := make([]Event, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, s.events[i])
	}
	return out, nil
}

// All returns every recorded event, oldest first. Test helper.
func (s *InMemoryStore) All() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
