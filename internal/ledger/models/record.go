package models

import (
	"time"

	id "custodia/pkg/domain"
)

// StageRecord is one link of an item's hash chain.
//
// Invariants:
//   - the ordered record sequence per item is append-only; records are
//     never mutated or removed, only appended or administratively flagged
//   - LinkDigest equals the previous record's StageDigest, or the item's
//     root digest for the first record
//   - (ItemID, Stage) is unique
type StageRecord struct {
	ItemID      id.ItemID  `json:"item_id"`
	Stage       id.Stage   `json:"stage"`
	StageDigest id.Digest  `json:"stage_digest"`
	LinkDigest  id.Digest  `json:"link_digest"`
	Actor       id.ActorID `json:"actor"`
	RecordedAt  time.Time  `json:"recorded_at"`
	Verified    bool       `json:"verified"`
}

// Links reports whether this record correctly chains onto the given
// predecessor digest.
func (r *StageRecord) Links(prev id.Digest) bool {
	return r.LinkDigest == prev
}
