package store

import (
	"context"
	"sync"

	"custodia/internal/transfer/models"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

// InMemory keeps transfers under a single RWMutex with participant and
// item secondary indexes maintained on every write.
type InMemory struct {
	mu        sync.RWMutex
	transfers map[id.TransferID]*models.Transfer
	byActor   map[id.ActorID][]id.TransferID
	byItem    map[id.ItemID][]id.TransferID
}

func NewInMemory() *InMemory {
	return &InMemory{
		transfers: make(map[id.TransferID]*models.Transfer),
		byActor:   make(map[id.ActorID][]id.TransferID),
		byItem:    make(map[id.ItemID][]id.TransferID),
	}
}

func (s *InMemory) Create(_ context.Context, transfer *models.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transfers[transfer.ID]; exists {
		return sentinel.ErrConflict
	}
	s.transfers[transfer.ID] = transfer.Clone()
	s.byActor[transfer.FromActor] = append(s.byActor[transfer.FromActor], transfer.ID)
	s.byActor[transfer.ToActor] = append(s.byActor[transfer.ToActor], transfer.ID)
	s.byItem[transfer.ItemID] = append(s.byItem[transfer.ItemID], transfer.ID)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, transferID id.TransferID) (*models.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	transfer, ok := s.transfers[transferID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return transfer.Clone(), nil
}

func (s *InMemory) ListByActor(_ context.Context, actor id.ActorID) ([]*models.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byActor[actor]
	out := make([]*models.Transfer, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, s.transfers[ids[i]].Clone())
	}
	return out, nil
}

func (s *InMemory) ListOpenByItem(_ context.Context, itemID id.ItemID) ([]*models.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Transfer
	for _, tid := range s.byItem[itemID] {
		if t := s.transfers[tid]; !t.Status.IsTerminal() {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (s *InMemory) Execute(_ context.Context, transferID id.TransferID, validate func(*models.Transfer) error, mutate func(*models.Transfer)) (*models.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	transfer, ok := s.transfers[transferID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(transfer); err != nil {
		return nil, err
	}
	mutate(transfer)
	return transfer.Clone(), nil
}
