package store

import (
	"context"

	"custodia/internal/verify/models"
	id "custodia/pkg/domain"
)

// Store persists tamper reports. Reports are append-only evidence; there
// is no update or delete path.
type Store interface {
	Append(ctx context.Context, report *models.Report) error

	// ListByItem returns the item's reports, oldest first.
	ListByItem(ctx context.Context, itemID id.ItemID) ([]*models.Report, error)
}
