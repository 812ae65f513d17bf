package store

import (
	"context"
	"strings"
	"sync"

	"custodia/internal/batch/models"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

// InMemory keeps all batch state under one RWMutex, which is what makes
// split and merge all-or-nothing: every map they touch changes inside a
// single critical section. Codes are reserved forever, retired batches
// included.
type InMemory struct {
	mu            sync.RWMutex
	batches       map[id.BatchID]*models.Batch
	byCode        map[string]id.BatchID
	itemIndex     map[id.ItemID]id.BatchID
	relationships []models.LineageRelationship
}

func NewInMemory() *InMemory {
	return &InMemory{
		batches:   make(map[id.BatchID]*models.Batch),
		byCode:    make(map[string]id.BatchID),
		itemIndex: make(map[id.ItemID]id.BatchID),
	}
}

func normalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

func (s *InMemory) CreateIfCodeAvailable(_ context.Context, batch *models.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(batch)
}

func (s *InMemory) createLocked(batch *models.Batch) error {
	key := normalizeCode(batch.Code)
	if _, taken := s.byCode[key]; taken {
		return sentinel.ErrCodeTaken
	}
	s.batches[batch.ID] = batch.Clone()
	s.byCode[key] = batch.ID
	for itemID := range batch.Members {
		s.itemIndex[itemID] = batch.ID
	}
	return nil
}

func (s *InMemory) FindByID(_ context.Context, batchID id.BatchID) (*models.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	batch, ok := s.batches[batchID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return batch.Clone(), nil
}

func (s *InMemory) FindByCode(_ context.Context, code string) (*models.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	batchID, ok := s.byCode[normalizeCode(code)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.batches[batchID].Clone(), nil
}

func (s *InMemory) BatchForItem(_ context.Context, itemID id.ItemID) (id.BatchID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	batchID, ok := s.itemIndex[itemID]
	if !ok {
		return id.BatchID{}, sentinel.ErrNotFound
	}
	return batchID, nil
}

func (s *InMemory) Execute(_ context.Context, batchID id.BatchID, validate func(*models.Batch) error, mutate func(*models.Batch)) (*models.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[batchID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(batch); err != nil {
		return nil, err
	}
	before := batch.Clone()
	mutate(batch)
	s.reindexMembers(before, batch)
	return batch.Clone(), nil
}

// reindexMembers keeps the item index consistent with a membership change
// made through Execute.
func (s *InMemory) reindexMembers(before, after *models.Batch) {
	for itemID := range before.Members {
		if !after.HasMember(itemID) {
			delete(s.itemIndex, itemID)
		}
	}
	for itemID := range after.Members {
		s.itemIndex[itemID] = after.ID
	}
}

func (s *InMemory) Split(_ context.Context, sourceID id.BatchID, validate func(*models.Batch) error, mutateSource func(*models.Batch), children []*models.Batch, rel *models.LineageRelationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	source, ok := s.batches[sourceID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if err := validate(source); err != nil {
		return err
	}
	for _, child := range children {
		if _, taken := s.byCode[normalizeCode(child.Code)]; taken {
			return sentinel.ErrCodeTaken
		}
	}

	for _, child := range children {
		if err := s.createLocked(child); err != nil {
			return err
		}
	}
	mutateSource(source)
	s.relationships = append(s.relationships, *rel)
	return nil
}

func (s *InMemory) Merge(_ context.Context, sourceIDs []id.BatchID, validate func([]*models.Batch) error, mutateSource func(*models.Batch), build func([]*models.Batch) (*models.Batch, error), rel *models.LineageRelationship) (*models.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sources := make([]*models.Batch, 0, len(sourceIDs))
	for _, sourceID := range sourceIDs {
		source, ok := s.batches[sourceID]
		if !ok {
			return nil, sentinel.ErrNotFound
		}
		sources = append(sources, source)
	}
	if err := validate(sources); err != nil {
		return nil, err
	}

	merged, err := build(sources)
	if err != nil {
		return nil, err
	}
	if err := s.createLocked(merged); err != nil {
		return nil, err
	}
	for _, source := range sources {
		mutateSource(source)
	}
	s.relationships = append(s.relationships, *rel)
	return merged.Clone(), nil
}

func (s *InMemory) MoveItem(_ context.Context, fromID, toID id.BatchID, itemID id.ItemID, validate func(from, to *models.Batch) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	from, ok := s.batches[fromID]
	if !ok {
		return sentinel.ErrNotFound
	}
	to, ok := s.batches[toID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if err := validate(from, to); err != nil {
		return err
	}

	quantity := from.Members[itemID]
	delete(from.Members, itemID)
	to.Members[itemID] = quantity
	s.itemIndex[itemID] = toID
	return nil
}

func (s *InMemory) Relationships(_ context.Context, batchID id.BatchID) ([]models.LineageRelationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.LineageRelationship
	for _, rel := range s.relationships {
		if rel.Touches(batchID) {
			out = append(out, rel)
		}
	}
	return out, nil
}
