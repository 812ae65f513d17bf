package store

import (
	"context"

	"custodia/internal/ledger/models"
	id "custodia/pkg/domain"
)

// Store persists stage chains as ordered record lists keyed by item. The
// only mutation is Append; there is no update or delete path.
type Store interface {
	// Append adds the record at its (item, stage) slot. Returns
	// sentinel.ErrConflict when the slot is already occupied.
	Append(ctx context.Context, record *models.StageRecord) error

	// Chain returns the full ordered record list, oldest first.
	Chain(ctx context.Context, itemID id.ItemID) ([]models.StageRecord, error)

	// Tail returns the most recent record, or sentinel.ErrNotFound when the
	// chain is still empty.
	Tail(ctx context.Context, itemID id.ItemID) (*models.StageRecord, error)

	// ByStage is the O(1) ordinal lookup behind VerifyStageDigest.
	ByStage(ctx context.Context, itemID id.ItemID, stage id.Stage) (*models.StageRecord, error)

	// MarkVerified flags records up to and including stage after a
	// successful external verification. An administrative annotation; the
	// digests themselves are immutable.
	MarkVerified(ctx context.Context, itemID id.ItemID, upTo id.Stage) error
}

// TailCache is the optional O(1) fast path for tail digest reads. Entries
// are advisory; the store remains authoritative and a cache error is never
// surfaced to callers.
type TailCache interface {
	GetTail(ctx context.Context, itemID id.ItemID) (id.Digest, bool)
	SetTail(ctx context.Context, itemID id.ItemID, digest id.Digest)
}
