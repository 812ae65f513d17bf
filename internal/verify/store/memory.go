package store

import (
	"context"
	"sync"

	"custodia/internal/verify/models"
	id "custodia/pkg/domain"
)

// InMemory keeps reports in per-item append order.
type InMemory struct {
	mu     sync.RWMutex
	byItem map[id.ItemID][]*models.Report
}

func NewInMemory() *InMemory {
	return &InMemory{byItem: make(map[id.ItemID][]*models.Report)}
}

func (s *InMemory) Append(_ context.Context, report *models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *report
	s.byItem[report.ItemID] = append(s.byItem[report.ItemID], &copied)
	return nil
}

func (s *InMemory) ListByItem(_ context.Context, itemID id.ItemID) ([]*models.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reports := s.byItem[itemID]
	out := make([]*models.Report, len(reports))
	for i, r := range reports {
		copied := *r
		out[i] = &copied
	}
	return out, nil
}
