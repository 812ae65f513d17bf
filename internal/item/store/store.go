package store

import (
	"context"

	"custodia/internal/item/models"
	id "custodia/pkg/domain"
)

// Store persists items. Implementations return pkg/platform/sentinel errors
// for infrastructure facts; the service translates them into domain errors.
type Store interface {
	// CreateIfCodeAvailable inserts the item iff its batch code has never
	// been used. Uniqueness is enforced inside the store (one lock or one
	// constraint) so concurrent registrations cannot race past the check.
	CreateIfCodeAvailable(ctx context.Context, item *models.Item) error

	FindByID(ctx context.Context, itemID id.ItemID) (*models.Item, error)
	FindByBatchCode(ctx context.Context, batchCode string) (*models.Item, error)

	// ListByOwner uses the incrementally maintained custodian index; it
	// never scans the full item collection.
	ListByOwner(ctx context.Context, owner id.ActorID) ([]*models.Item, error)

	// Execute atomically validates and mutates one item. The store holds
	// the item's write lock (mutex or SELECT ... FOR UPDATE) across both
	// callbacks, so the mutation observes exactly the state the validation
	// saw. Returns the mutated snapshot.
	Execute(ctx context.Context, itemID id.ItemID, validate func(*models.Item) error, mutate func(*models.Item)) (*models.Item, error)
}
