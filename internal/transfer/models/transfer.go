package models

import (
	"time"

	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// Status is the transfer state machine position.
//
//	INITIATED -> ACCEPTED -> COMPLETED
//	INITIATED -> REJECTED
//
// COMPLETED and REJECTED are terminal. ForceReject may jump any
// non-terminal state to REJECTED.
type Status string

const (
	StatusInitiated Status = "INITIATED"
	StatusAccepted  Status = "ACCEPTED"
	StatusRejected  Status = "REJECTED"
	StatusCompleted Status = "COMPLETED"
)

func (s Status) IsTerminal() bool {
	return s == StatusRejected || s == StatusCompleted
}

// Transfer is the custody handoff aggregate. Custody itself lives on the
// item; the transfer records the negotiation and its outcome.
type Transfer struct {
	ID                   id.TransferID `json:"id"`
	ItemID               id.ItemID     `json:"item_id"`
	FromActor            id.ActorID    `json:"from_actor"`
	ToActor              id.ActorID    `json:"to_actor"`
	SourceStage          id.Stage      `json:"source_stage"`
	TargetStage          id.Stage      `json:"target_stage"`
	TransferDigest       id.Digest     `json:"transfer_digest"`
	ConditionsDigest     id.Digest     `json:"conditions_digest,omitempty"`
	CompletionDigest     id.Digest     `json:"completion_digest,omitempty"`
	RequiresVerification bool          `json:"requires_verification"`
	Status               Status        `json:"status"`
	RejectReason         string        `json:"reject_reason,omitempty"`
	InitiatedAt          time.Time     `json:"initiated_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
	CompletedAt          *time.Time    `json:"completed_at,omitempty"`
}

func NewTransfer(
	transferID id.TransferID,
	itemID id.ItemID,
	from, to id.ActorID,
	sourceStage, targetStage id.Stage,
	transferDigest, conditionsDigest id.Digest,
	requiresVerification bool,
	now time.Time,
) (*Transfer, error) {
	if itemID.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "item id is required")
	}
	if from.IsZero() || to.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "both transfer parties are required")
	}
	if from == to {
		return nil, dErrors.New(dErrors.CodeValidation, "cannot transfer custody to yourself")
	}
	if transferDigest.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "transfer digest cannot be the zero sentinel")
	}
	if targetStage < sourceStage {
		return nil, dErrors.New(dErrors.CodeValidation, "target stage cannot precede the source stage")
	}
	if targetStage > id.TerminalStage {
		return nil, dErrors.Newf(dErrors.CodeValidation, "target stage exceeds the terminal stage %d", id.TerminalStage)
	}
	return &Transfer{
		ID:                   transferID,
		ItemID:               itemID,
		FromActor:            from,
		ToActor:              to,
		SourceStage:          sourceStage,
		TargetStage:          targetStage,
		TransferDigest:       transferDigest,
		ConditionsDigest:     conditionsDigest,
		RequiresVerification: requiresVerification,
		Status:               StatusInitiated,
		InitiatedAt:          now,
		UpdatedAt:            now,
	}, nil
}

// IsParticipant reports whether the actor is either party of the transfer.
func (t *Transfer) IsParticipant(actor id.ActorID) bool {
	return actor == t.FromActor || actor == t.ToActor
}

// CanAccept checks the recipient may move the transfer to ACCEPTED.
func (t *Transfer) CanAccept(actor id.ActorID) error {
	if t.Status != StatusInitiated {
		return dErrors.Newf(dErrors.CodeInvalidState, "transfer is %s, only an initiated transfer can be accepted", t.Status)
	}
	if actor != t.ToActor {
		return dErrors.New(dErrors.CodeForbidden, "only the recipient can accept a transfer")
	}
	return nil
}

func (t *Transfer) ApplyAccept(now time.Time) {
	t.Status = StatusAccepted
	t.UpdatedAt = now
}

// CanReject checks the recipient may decline the transfer.
func (t *Transfer) CanReject(actor id.ActorID) error {
	if t.Status != StatusInitiated {
		return dErrors.Newf(dErrors.CodeInvalidState, "transfer is %s, only an initiated transfer can be rejected", t.Status)
	}
	if actor != t.ToActor {
		return dErrors.New(dErrors.CodeForbidden, "only the recipient can reject a transfer")
	}
	return nil
}

func (t *Transfer) ApplyReject(reason string, now time.Time) {
	t.Status = StatusRejected
	t.RejectReason = reason
	t.UpdatedAt = now
}

// CanComplete checks a participant may finalize an accepted transfer.
func (t *Transfer) CanComplete(actor id.ActorID) error {
	if t.Status != StatusAccepted {
		return dErrors.Newf(dErrors.CodeInvalidState, "transfer is %s, only an accepted transfer can be completed", t.Status)
	}
	if !t.IsParticipant(actor) {
		return dErrors.New(dErrors.CodeForbidden, "only a transfer participant can complete it")
	}
	return nil
}

func (t *Transfer) ApplyComplete(completionDigest id.Digest, now time.Time) {
	t.Status = StatusCompleted
	t.CompletionDigest = completionDigest
	t.CompletedAt = &now
	t.UpdatedAt = now
}

// CanForceReject checks the administrative override path. The emergency
// capability is enforced by the service; the model only guards terminality.
func (t *Transfer) CanForceReject() error {
	if t.Status.IsTerminal() {
		return dErrors.Newf(dErrors.CodeInvalidState, "transfer is already %s", t.Status)
	}
	return nil
}

func (t *Transfer) ApplyForceReject(reason string, now time.Time) {
	t.Status = StatusRejected
	t.RejectReason = reason
	t.UpdatedAt = now
}

// Clone returns a copy so stores can hand out snapshots without aliasing.
func (t *Transfer) Clone() *Transfer {
	c := *t
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}
