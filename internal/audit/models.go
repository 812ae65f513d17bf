package audit

import (
	"time"

	id "custodia/pkg/domain"
)

// Action names the auditable operations. The trail is append-only; entries
// are never rewritten.
type Action string

const (
	ActionItemRegistered    Action = "item.registered"
	ActionItemDeactivated   Action = "item.deactivated"
	ActionItemReactivated   Action = "item.reactivated"
	ActionStageAppended     Action = "ledger.stage_appended"
	ActionBatchSplit        Action = "batch.split"
	ActionBatchMerged       Action = "batch.merged"
	ActionTransferForced    Action = "transfer.force_rejected"
	ActionTamperReported    Action = "verify.tamper_reported"
	ActionIntegrityViolated Action = "verify.integrity_violation"
	ActionCheckSkipped      Action = "collaborator.check_skipped"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time   `json:"timestamp"`
	Action    Action      `json:"action"`
	Actor     id.ActorID  `json:"actor"`
	ItemID    string      `json:"item_id,omitempty"`
	Subject   string      `json:"subject,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Detail    string      `json:"detail,omitempty"`
}
