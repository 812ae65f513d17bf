package store

import (
	"context"

	"custodia/internal/batch/models"
	id "custodia/pkg/domain"
)

// Store persists batches, their membership index, and the lineage edges.
// Split, Merge, and MoveItem are single atomic store calls: either every
// record they touch commits or none does.
type Store interface {
	// CreateIfCodeAvailable persists the batch only if no batch, active or
	// retired, ever used the code. Returns sentinel.ErrCodeTaken otherwise.
	CreateIfCodeAvailable(ctx context.Context, batch *models.Batch) error

	// FindByID returns sentinel.ErrNotFound when the batch is unknown.
	FindByID(ctx context.Context, batchID id.BatchID) (*models.Batch, error)

	FindByCode(ctx context.Context, code string) (*models.Batch, error)

	// BatchForItem resolves the one-batch-per-item index. Returns
	// sentinel.ErrNotFound when the item is unassigned.
	BatchForItem(ctx context.Context, itemID id.ItemID) (id.BatchID, error)

	// Execute atomically loads the batch, runs validate, and commits the
	// mutation only when validate returns nil.
	Execute(ctx context.Context, batchID id.BatchID, validate func(*models.Batch) error, mutate func(*models.Batch)) (*models.Batch, error)

	// Split retires the source and creates the children in one unit,
	// recording the lineage edge. Child codes must be unused; a taken code
	// fails the whole operation with sentinel.ErrCodeTaken.
	Split(ctx context.Context, sourceID id.BatchID, validate func(*models.Batch) error, mutateSource func(*models.Batch), children []*models.Batch, rel *models.LineageRelationship) error

	// Merge retires the sources and creates the merged batch in one unit.
	// build derives the merged batch from the locked sources; membership
	// follows the merge, so the item index is re-pointed at the new batch.
	Merge(ctx context.Context, sourceIDs []id.BatchID, validate func([]*models.Batch) error, mutateSource func(*models.Batch), build func([]*models.Batch) (*models.Batch, error), rel *models.LineageRelationship) (*models.Batch, error)

	// MoveItem relocates one member between two batches, quantity attached,
	// updating the item index. validate sees both batches before any change.
	MoveItem(ctx context.Context, fromID, toID id.BatchID, itemID id.ItemID, validate func(from, to *models.Batch) error) error

	// Relationships returns every lineage edge touching the batch.
	Relationships(ctx context.Context, batchID id.BatchID) ([]models.LineageRelationship, error)
}
