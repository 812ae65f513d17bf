package models

import (
	"strings"
	"time"

	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// Item is the aggregate root for a tracked unit of goods.
//
// Invariants:
//   - BatchCode is non-empty and unique across all items, past and present
//   - RootDigest is never the zero sentinel
//   - CurrentStage only ever increases, by exactly one per append
//   - An inactive item accepts no stage or custody mutation until a
//     privileged reactivation
//
// The stage chain itself lives in the ledger module; the item carries the
// root digest the first chain link must reference and the cursor fields
// (stage, custodian) the ledger and transfer services gate on.
type Item struct {
	ID               id.ItemID   `json:"id"`
	BatchCode        string      `json:"batch_code"`
	OriginActor      id.ActorID  `json:"origin_actor"`
	CurrentCustodian id.ActorID  `json:"current_custodian"`
	RootDigest       id.Digest   `json:"root_digest"`
	CurrentStage     id.Stage    `json:"current_stage"`
	Active           bool        `json:"active"`
	StatusReason     string      `json:"status_reason,omitempty"`
	Quality          *Quality    `json:"quality,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Quality is the opaque oracle evidence attached to an item. The core
// stores the pointer and confidence, never the classification itself.
type Quality struct {
	EvidenceDigest id.Digest  `json:"evidence_digest"`
	Confidence     float64    `json:"confidence"`
	Oracle         id.ActorID `json:"oracle"`
	ReceivedAt     time.Time  `json:"received_at"`
}

func NewItem(itemID id.ItemID, batchCode string, rootDigest id.Digest, origin id.ActorID, now time.Time) (*Item, error) {
	batchCode = strings.TrimSpace(batchCode)
	if batchCode == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "batch code cannot be empty")
	}
	if len(batchCode) > 64 {
		return nil, dErrors.New(dErrors.CodeValidation, "batch code must be 64 characters or less")
	}
	if rootDigest.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "root digest cannot be the zero sentinel")
	}
	if origin.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "origin actor is required")
	}
	return &Item{
		ID:               itemID,
		BatchCode:        batchCode,
		OriginActor:      origin,
		CurrentCustodian: origin,
		RootDigest:       rootDigest,
		CurrentStage:     id.StageRegistered,
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// CanAppendStage checks the stage advancement preconditions: the item is
// active, the actor is the current custodian, and the target is exactly the
// next ordinal.
func (i *Item) CanAppendStage(target id.Stage, actor id.ActorID) error {
	if !i.Active {
		return dErrors.New(dErrors.CodeInvalidState, "item is deactivated")
	}
	if actor != i.CurrentCustodian {
		return dErrors.Newf(dErrors.CodeForbidden, "actor %s is not the current custodian", actor)
	}
	if i.CurrentStage.IsTerminal() {
		return dErrors.New(dErrors.CodeInvalidState, "item is at the terminal stage")
	}
	if target != i.CurrentStage.Next() {
		return dErrors.Newf(dErrors.CodeInvalidState,
			"stage %d is out of order, next stage is %d", target, i.CurrentStage.Next())
	}
	return nil
}

// ApplyStageAdvance moves the stage cursor forward. Call CanAppendStage
// first; the ledger service runs both inside the item's exclusive section.
func (i *Item) ApplyStageAdvance(target id.Stage, now time.Time) {
	i.CurrentStage = target
	i.UpdatedAt = now
}

// CanChangeCustodian checks that custody may move off this item.
func (i *Item) CanChangeCustodian() error {
	if !i.Active {
		return dErrors.New(dErrors.CodeInvalidState, "item is deactivated")
	}
	return nil
}

// ApplyCustodyChange hands the item to a new custodian. Stage is untouched:
// custody and pipeline position are deliberately independent.
func (i *Item) ApplyCustodyChange(to id.ActorID, now time.Time) {
	i.CurrentCustodian = to
	i.UpdatedAt = now
}

func (i *Item) CanDeactivate() error {
	if !i.Active {
		return dErrors.New(dErrors.CodeInvalidState, "item is already deactivated")
	}
	return nil
}

// ApplyDeactivation halts all further stage and custody mutation. History
// is untouched.
func (i *Item) ApplyDeactivation(reason string, now time.Time) {
	i.Active = false
	i.StatusReason = reason
	i.UpdatedAt = now
}

func (i *Item) CanReactivate() error {
	if i.Active {
		return dErrors.New(dErrors.CodeInvalidState, "item is already active")
	}
	return nil
}

// ApplyReactivation restores the item without altering history.
func (i *Item) ApplyReactivation(now time.Time) {
	i.Active = true
	i.StatusReason = ""
	i.UpdatedAt = now
}

// ApplyQualityEvidence records the oracle result pointer.
func (i *Item) ApplyQualityEvidence(q Quality, now time.Time) {
	q.ReceivedAt = now
	i.Quality = &q
	i.UpdatedAt = now
}

// Clone returns a deep copy so stores can hand out snapshots without
// aliasing their internal state.
func (i *Item) Clone() *Item {
	c := *i
	if i.Quality != nil {
		q := *i.Quality
		c.Quality = &q
	}
	return &c
}
