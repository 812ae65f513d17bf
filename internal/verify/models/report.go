package models

import (
	"time"

	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// SuppliedRecord is one externally held chain entry offered for
// verification against the stored ledger.
type SuppliedRecord struct {
	Stage       id.Stage  `json:"stage"`
	StageDigest id.Digest `json:"stage_digest"`
}

// VerificationResult localizes the outcome of a chain check. FailedStage
// is nil when the chain verified in full.
type VerificationResult struct {
	ItemID         id.ItemID `json:"item_id"`
	IsValid        bool      `json:"is_valid"`
	StagesVerified int       `json:"stages_verified"`
	TotalStages    int       `json:"total_stages"`
	FailedStage    *id.Stage `json:"failed_stage,omitempty"`
}

// Report is a non-authoritative tamper claim. It never alters the chain;
// the response to it (quarantine, investigation) is policy.
type Report struct {
	ID             id.ReportID `json:"id"`
	ItemID         id.ItemID   `json:"item_id"`
	Stage          id.Stage    `json:"stage"`
	ExpectedDigest id.Digest   `json:"expected_digest"`
	ActualDigest   id.Digest   `json:"actual_digest"`
	Reporter       id.ActorID  `json:"reporter"`
	ReportedAt     time.Time   `json:"reported_at"`
}

func NewReport(reportID id.ReportID, itemID id.ItemID, stage id.Stage, expected, actual id.Digest, reporter id.ActorID, now time.Time) (*Report, error) {
	if itemID.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "item id is required")
	}
	if expected.IsZero() || actual.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "both digests are required")
	}
	if expected == actual {
		return nil, dErrors.New(dErrors.CodeValidation, "expected and actual digests are identical, nothing to report")
	}
	if reporter.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "reporter is required")
	}
	return &Report{
		ID:             reportID,
		ItemID:         itemID,
		Stage:          stage,
		ExpectedDigest: expected,
		ActualDigest:   actual,
		Reporter:       reporter,
		ReportedAt:     now,
	}, nil
}
