package store

import (
	"context"
	"sync"

	"custodia/internal/ledger/models"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

// InMemory keeps each chain as an append-only slice. Appends are O(1);
// stage ordinals double as slice indices because the ledger service only
// ever appends stage N+1 after stage N.
type InMemory struct {
	mu     sync.RWMutex
	chains map[id.ItemID][]models.StageRecord
}

func NewInMemory() *InMemory {
	return &InMemory{chains: make(map[id.ItemID][]models.StageRecord)}
}

func (s *InMemory) Append(_ context.Context, record *models.StageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.chains[record.ItemID]
	for i := range chain {
		if chain[i].Stage == record.Stage {
			return sentinel.ErrConflict
		}
	}
	s.chains[record.ItemID] = append(chain, *record)
	return nil
}

func (s *InMemory) Chain(_ context.Context, itemID id.ItemID) ([]models.StageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chains[itemID]
	out := make([]models.StageRecord, len(chain))
	copy(out, chain)
	return out, nil
}

func (s *InMemory) Tail(_ context.Context, itemID id.ItemID) (*models.StageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chains[itemID]
	if len(chain) == 0 {
		return nil, sentinel.ErrNotFound
	}
	tail := chain[len(chain)-1]
	return &tail, nil
}

func (s *InMemory) ByStage(_ context.Context, itemID id.ItemID, stage id.Stage) (*models.StageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, record := range s.chains[itemID] {
		if record.Stage == stage {
			r := record
			return &r, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) MarkVerified(_ context.Context, itemID id.ItemID, upTo id.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.chains[itemID]
	for i := range chain {
		if chain[i].Stage <= upTo {
			chain[i].Verified = true
		}
	}
	return nil
}

// Corrupt mutates a stored record in place, bypassing the append-only
// discipline. Test helper for tamper-detection scenarios only.
func (s *InMemory) Corrupt(itemID id.ItemID, stage id.Stage, mutate func(*models.StageRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.chains[itemID]
	for i := range chain {
		if chain[i].Stage == stage {
			mutate(&chain[i])
			return
		}
	}
}
