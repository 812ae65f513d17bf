package models

import (
	"strings"
	"time"

	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// Batch groups items for joint handling and carries the quantity ledger
// split and merge operate on.
//
// Invariants:
//   - Code is non-empty and unique across all batches, past and present
//   - An item belongs to at most one batch at a time
//   - Member quantities are positive; their sum never exceeds TotalQuantity
//   - A deactivated batch is retained forever and accepts no new members
type Batch struct {
	ID            id.BatchID            `json:"id"`
	Code          string                `json:"code"`
	Creator       id.ActorID            `json:"creator"`
	ContentDigest id.Digest             `json:"content_digest"`
	TotalQuantity int64                 `json:"total_quantity"`
	Members       map[id.ItemID]int64   `json:"members"`
	Active        bool                  `json:"active"`
	StatusReason  string                `json:"status_reason,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

func NewBatch(batchID id.BatchID, code string, contentDigest id.Digest, creator id.ActorID, now time.Time) (*Batch, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "batch code cannot be empty")
	}
	if len(code) > 64 {
		return nil, dErrors.New(dErrors.CodeValidation, "batch code must be 64 characters or less")
	}
	if contentDigest.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "content digest cannot be the zero sentinel")
	}
	if creator.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "creator is required")
	}
	return &Batch{
		ID:            batchID,
		Code:          code,
		Creator:       creator,
		ContentDigest: contentDigest,
		Members:       make(map[id.ItemID]int64),
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// AllocatedQuantity is the sum of member quantities currently in the batch.
func (b *Batch) AllocatedQuantity() int64 {
	var sum int64
	for _, q := range b.Members {
		sum += q
	}
	return sum
}

func (b *Batch) HasMember(itemID id.ItemID) bool {
	_, ok := b.Members[itemID]
	return ok
}

// CanAddItem checks membership preconditions. One-batch-per-item is
// enforced by the store's item index, not here.
func (b *Batch) CanAddItem(itemID id.ItemID, quantity int64) error {
	if !b.Active {
		return dErrors.New(dErrors.CodeInvalidState, "batch is deactivated")
	}
	if quantity <= 0 {
		return dErrors.New(dErrors.CodeValidation, "quantity must be positive")
	}
	if b.HasMember(itemID) {
		return dErrors.New(dErrors.CodeConflict, "item is already a member of this batch")
	}
	return nil
}

// ApplyAddItem adds the member and grows the batch total by its quantity.
func (b *Batch) ApplyAddItem(itemID id.ItemID, quantity int64, now time.Time) {
	b.Members[itemID] = quantity
	b.TotalQuantity += quantity
	b.UpdatedAt = now
}

// CanSplit checks the quantity partition against the source batch.
func (b *Batch) CanSplit(quantities []int64) error {
	if !b.Active {
		return dErrors.New(dErrors.CodeInvalidState, "batch is deactivated")
	}
	if len(quantities) < 2 {
		return dErrors.New(dErrors.CodeValidation, "a split needs at least two parts")
	}
	var sum int64
	for _, q := range quantities {
		if q <= 0 {
			return dErrors.New(dErrors.CodeValidation, "split quantities must be positive")
		}
		sum += q
	}
	if sum > b.TotalQuantity {
		return dErrors.Newf(dErrors.CodeValidation,
			"split quantities sum to %d, exceeding the batch total %d", sum, b.TotalQuantity)
	}
	return nil
}

// CanMergeWith checks this batch may be a merge source.
func (b *Batch) CanMergeWith() error {
	if !b.Active {
		return dErrors.Newf(dErrors.CodeInvalidState, "batch %s is deactivated", b.Code)
	}
	return nil
}

func (b *Batch) CanDeactivate() error {
	if !b.Active {
		return dErrors.New(dErrors.CodeInvalidState, "batch is already deactivated")
	}
	return nil
}

// ApplyDeactivation retires the batch. Membership and quantities stay on
// the record for lineage queries.
func (b *Batch) ApplyDeactivation(reason string, now time.Time) {
	b.Active = false
	b.StatusReason = reason
	b.UpdatedAt = now
}

// CanReceiveMember checks a relocated member fits the batch's quantity
// allocation. Used by the move path, where the total is fixed by the split
// that created the batch.
func (b *Batch) CanReceiveMember(itemID id.ItemID, quantity int64) error {
	if !b.Active {
		return dErrors.New(dErrors.CodeInvalidState, "destination batch is deactivated")
	}
	if b.HasMember(itemID) {
		return dErrors.New(dErrors.CodeConflict, "item is already a member of the destination batch")
	}
	if b.AllocatedQuantity()+quantity > b.TotalQuantity {
		return dErrors.Newf(dErrors.CodeValidation,
			"member quantity %d exceeds the batch's remaining allocation %d",
			quantity, b.TotalQuantity-b.AllocatedQuantity())
	}
	return nil
}

// ApplyReceiveMember adds a relocated member without touching the total.
func (b *Batch) ApplyReceiveMember(itemID id.ItemID, quantity int64, now time.Time) {
	b.Members[itemID] = quantity
	b.UpdatedAt = now
}

// ApplyRemoveMember drops a member without touching the total.
func (b *Batch) ApplyRemoveMember(itemID id.ItemID, now time.Time) {
	delete(b.Members, itemID)
	b.UpdatedAt = now
}

// Clone returns a deep copy so stores can hand out snapshots without
// aliasing their internal state.
func (b *Batch) Clone() *Batch {
	c := *b
	c.Members = make(map[id.ItemID]int64, len(b.Members))
	for k, v := range b.Members {
		c.Members[k] = v
	}
	return &c
}
