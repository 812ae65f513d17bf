package domain

import dErrors "custodia/pkg/domain-errors"

// Stage is an ordinal position in an item's fixed pipeline. Stage 0 is the
// registration point; TerminalStage is the last position the chain can
// reach. The pipeline length is fixed for the deployment, not per item.
type Stage uint32

const (
	StageRegistered Stage = iota
	StageProduced
	StageProcessed
	StagePackaged
	StageShipped
	StageDelivered

	// TerminalStage is the final pipeline position; appends beyond it fail.
	TerminalStage = StageDelivered
)

var stageNames = map[Stage]string{
	StageRegistered: "registered",
	StageProduced:   "produced",
	StageProcessed:  "processed",
	StagePackaged:   "packaged",
	StageShipped:    "shipped",
	StageDelivered:  "delivered",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s Stage) IsTerminal() bool { return s >= TerminalStage }

// Next returns the only stage an append may target from s.
func (s Stage) Next() Stage { return s + 1 }

// ParseStage validates a stage ordinal received at a trust boundary.
func ParseStage(n int) (Stage, error) {
	if n < 0 || n > int(TerminalStage) {
		return 0, dErrors.New(dErrors.CodeValidation, "stage ordinal out of range")
	}
	return Stage(n), nil
}
