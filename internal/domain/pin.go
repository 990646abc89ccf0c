package domain

import (
	"time"

	"github.com/google/uuid"
)

// PinnedData captures a node's output so replays can skip recomputation and
// reuse the pinned value instead. Mode controls when the pin is consulted:
// always every run, only after a prior failure, only in development runs,
// or never (disabled without discarding the stored data).
type PinnedData struct {
	ID         uuid.UUID
	WorkflowID uuid.UUID
	NodeID     uuid.UUID
	Mode       PinMode
	Output     map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewPinnedData pins a node's output under the given mode.
func NewPinnedData(workflowID, nodeID uuid.UUID, mode PinMode, output map[string]any) *PinnedData {
	now := time.Now()
	return &PinnedData{
		ID:         uuid.New(),
		WorkflowID: workflowID,
		NodeID:     nodeID,
		Mode:       mode,
		Output:     output,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// AppliesTo reports whether the pin should be used in place of live
// execution, given whether the run is in development mode and whether the
// node's prior attempt in this run failed.
func (p *PinnedData) AppliesTo(isDevelopment bool, priorAttemptFailed bool) bool {
	switch p.Mode {
	case PinModeAlways:
		return true
	case PinModeOnError:
		return priorAttemptFailed
	case PinModeDevelopment:
		return isDevelopment
	case PinModeDisabled:
		return false
	default:
		return false
	}
}

// Update replaces the pinned output, e.g. when the node is re-run and the
// user chooses to refresh the pin from the new result.
func (p *PinnedData) Update(output map[string]any) {
	p.Output = output
	p.UpdatedAt = time.Now()
}
