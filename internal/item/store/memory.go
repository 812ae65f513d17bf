package store

import (
	"context"
	"strings"
	"sync"

	"custodia/internal/item/models"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

// InMemory is the map-backed item store. It maintains the owner index
// incrementally on every write so reverse lookups never scan all items.
type InMemory struct {
	mu      sync.RWMutex
	items   map[id.ItemID]*models.Item
	byCode  map[string]id.ItemID
	byOwner map[id.ActorID]map[id.ItemID]struct{}
}

func NewInMemory() *InMemory {
	return &InMemory{
		items:   make(map[id.ItemID]*models.Item),
		byCode:  make(map[string]id.ItemID),
		byOwner: make(map[id.ActorID]map[id.ItemID]struct{}),
	}
}

func (s *InMemory) CreateIfCodeAvailable(_ context.Context, item *models.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	code := normalizeCode(item.BatchCode)
	if _, taken := s.byCode[code]; taken {
		return sentinel.ErrCodeTaken
	}
	s.items[item.ID] = item.Clone()
	s.byCode[code] = item.ID
	s.indexOwner(item.CurrentCustodian, item.ID)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, itemID id.ItemID) (*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[itemID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return item.Clone(), nil
}

func (s *InMemory) FindByBatchCode(_ context.Context, batchCode string) (*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	itemID, ok := s.byCode[normalizeCode(batchCode)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.items[itemID].Clone(), nil
}

func (s *InMemory) ListByOwner(_ context.Context, owner id.ActorID) ([]*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Item, 0, len(s.byOwner[owner]))
	for itemID := range s.byOwner[owner] {
		out = append(out, s.items[itemID].Clone())
	}
	return out, nil
}

func (s *InMemory) Execute(_ context.Context, itemID id.ItemID, validate func(*models.Item) error, mutate func(*models.Item)) (*models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(item); err != nil {
		return nil, err
	}

	prevOwner := item.CurrentCustodian
	mutate(item)
	if item.CurrentCustodian != prevOwner {
		delete(s.byOwner[prevOwner], itemID)
		s.indexOwner(item.CurrentCustodian, itemID)
	}
	return item.Clone(), nil
}

// Corrupt overwrites a stored item without any validation. Test helper for
// tamper scenarios; production code has no call path to it.
func (s *InMemory) Corrupt(itemID id.ItemID, mutate func(*models.Item)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.items[itemID]; ok {
		mutate(item)
	}
}

func (s *InMemory) indexOwner(owner id.ActorID, itemID id.ItemID) {
	if s.byOwner[owner] == nil {
		s.byOwner[owner] = make(map[id.ItemID]struct{})
	}
	s.byOwner[owner][itemID] = struct{}{}
}

func normalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
