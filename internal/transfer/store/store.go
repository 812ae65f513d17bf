package store

import (
	"context"

	"custodia/internal/transfer/models"
	id "custodia/pkg/domain"
)

// Store persists transfers. Lookups by actor run against an incrementally
// maintained participant index, never a table scan.
type Store interface {
	Create(ctx context.Context, transfer *models.Transfer) error

	// FindByID returns sentinel.ErrNotFound when the transfer is unknown.
	FindByID(ctx context.Context, transferID id.TransferID) (*models.Transfer, error)

	// ListByActor returns every transfer the actor participates in, as
	// sender or recipient, newest first.
	ListByActor(ctx context.Context, actor id.ActorID) ([]*models.Transfer, error)

	// ListOpenByItem returns the item's non-terminal transfers.
	ListOpenByItem(ctx context.Context, itemID id.ItemID) ([]*models.Transfer, error)

	// Execute atomically loads the transfer, runs validate, and commits the
	// mutation only when validate returns nil. The returned transfer is a
	// snapshot of the committed state.
	Execute(ctx context.Context, transferID id.TransferID, validate func(*models.Transfer) error, mutate func(*models.Transfer)) (*models.Transfer, error)
}
