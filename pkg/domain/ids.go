// Package domain holds the shared identity and value types of the custodia
// core. IDs are distinct UUID-backed types so an ItemID can never be passed
// where a TransferID is expected; the compiler enforces what code review
// would otherwise have to catch.
package domain

import (
	"github.com/google/uuid"

	dErrors "custodia/pkg/domain-errors"
)

// Typed identifiers for the core aggregates.
type (
	ItemID     uuid.UUID
	TransferID uuid.UUID
	BatchID    uuid.UUID
	ReportID   uuid.UUID
)

// ActorID identifies an external party (producer, processor, auditor, ...).
// Actors are managed by the identity collaborator; the core only carries
// their opaque identifier.
type ActorID string

func (a ActorID) IsZero() bool { return a == "" }

func (a ActorID) String() string { return string(a) }

// ParseActorID validates an actor identifier at a trust boundary.
func ParseActorID(s string) (ActorID, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "actor id is required")
	}
	if len(s) > 128 {
		return "", dErrors.New(dErrors.CodeValidation, "actor id must be 128 characters or less")
	}
	return ActorID(s), nil
}

func (id ItemID) String() string     { return uuid.UUID(id).String() }
func (id TransferID) String() string { return uuid.UUID(id).String() }
func (id BatchID) String() string    { return uuid.UUID(id).String() }
func (id ReportID) String() string   { return uuid.UUID(id).String() }

func (id ItemID) IsZero() bool     { return uuid.UUID(id) == uuid.Nil }
func (id TransferID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }
func (id BatchID) IsZero() bool    { return uuid.UUID(id) == uuid.Nil }
func (id ReportID) IsZero() bool   { return uuid.UUID(id) == uuid.Nil }

// Text marshalling keeps the canonical UUID string form on the wire and
// lets the IDs serve as JSON map keys.
func (id ItemID) MarshalText() ([]byte, error)     { return []byte(id.String()), nil }
func (id TransferID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id BatchID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }
func (id ReportID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }

func (id *ItemID) UnmarshalText(b []byte) error {
	parsed, err := ParseItemID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *TransferID) UnmarshalText(b []byte) error {
	parsed, err := ParseTransferID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *BatchID) UnmarshalText(b []byte) error {
	parsed, err := ParseBatchID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *ReportID) UnmarshalText(b []byte) error {
	parsed, err := ParseReportID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func NewItemID() ItemID         { return ItemID(uuid.New()) }
func NewTransferID() TransferID { return TransferID(uuid.New()) }
func NewBatchID() BatchID       { return BatchID(uuid.New()) }
func NewReportID() ReportID     { return ReportID(uuid.New()) }

// ParseItemID parses and validates an item ID from its string form.
// Rejects empty strings, malformed UUIDs, and the nil UUID.
func ParseItemID(s string) (ItemID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return ItemID{}, err
	}
	return ItemID(u), nil
}

// ParseTransferID parses and validates a transfer ID from its string form.
func ParseTransferID(s string) (TransferID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return TransferID{}, err
	}
	return TransferID(u), nil
}

// ParseBatchID parses and validates a batch ID from its string form.
func ParseBatchID(s string) (BatchID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return BatchID{}, err
	}
	return BatchID(u), nil
}

// ParseReportID parses and validates a tamper report ID from its string form.
func ParseReportID(s string) (ReportID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return ReportID{}, err
	}
	return ReportID(u), nil
}

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, "id is required")
	}
	if len(s) > 64 {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, "id is malformed")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, "id is malformed")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, "id must not be the nil uuid")
	}
	return u, nil
}
