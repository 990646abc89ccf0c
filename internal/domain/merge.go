package domain

import (
	"time"

	"github.com/google/uuid"
)

// BranchArrival records one incoming branch's arrival at a merge node.
type BranchArrival struct {
	EdgeID    uuid.UUID
	NodeID    uuid.UUID
	Output    map[string]any
	ArrivedAt time.Time
}

// MergeState tracks branch arrivals at a single merge node for a single
// execution, until the join strategy is satisfied and the merge fires.
type MergeState struct {
	ExecutionID    uuid.UUID
	NodeID         uuid.UUID
	Strategy       JoinStrategy
	DataMode       MergeDataMode
	ConflictPolicy DeepMergeConflictPolicy
	ExpectedCount  int // number of incoming branch edges; wait_n uses WaitN instead
	WaitN          int
	Arrivals       map[uuid.UUID]*BranchArrival // keyed by source edge ID
	FiredAt        *time.Time
}

// NewMergeState creates an empty merge state for a merge node.
func NewMergeState(executionID, nodeID uuid.UUID, strategy JoinStrategy, dataMode MergeDataMode, expectedCount, waitN int) *MergeState {
	return &MergeState{
		ExecutionID:   executionID,
		NodeID:        nodeID,
		Strategy:      strategy,
		DataMode:      dataMode,
		ExpectedCount: expectedCount,
		WaitN:         waitN,
		Arrivals:      make(map[uuid.UUID]*BranchArrival),
	}
}

// RecordArrival registers a branch arrival; duplicate arrivals on the same
// edge are idempotent.
func (m *MergeState) RecordArrival(edgeID, nodeID uuid.UUID, output map[string]any) {
	if _, exists := m.Arrivals[edgeID]; exists {
		return
	}
	m.Arrivals[edgeID] = &BranchArrival{
		EdgeID:    edgeID,
		NodeID:    nodeID,
		Output:    output,
		ArrivedAt: time.Now(),
	}
}

// IsSatisfied reports whether the join strategy's predicate is met.
func (m *MergeState) IsSatisfied() bool {
	arrived := len(m.Arrivals)
	switch m.Strategy {
	case JoinStrategyWaitAll:
		return arrived >= m.ExpectedCount
	case JoinStrategyWaitAny, JoinStrategyWaitFirst:
		return arrived >= 1
	case JoinStrategyWaitN:
		return arrived >= m.WaitN
	default:
		return arrived >= m.ExpectedCount
	}
}

// Fire marks the merge as fired, recording the completion timestamp exactly
// once so a racing late arrival cannot refire it.
func (m *MergeState) Fire() bool {
	if m.FiredAt != nil {
		return false
	}
	now := time.Now()
	m.FiredAt = &now
	return true
}

// HasFired reports whether Fire has already run for this merge state.
func (m *MergeState) HasFired() bool {
	return m.FiredAt != nil
}

// OrderedArrivals returns arrivals in the order they were recorded, stable
// for deterministic append/join data-mode combination.
func (m *MergeState) OrderedArrivals() []*BranchArrival {
	out := make([]*BranchArrival, 0, len(m.Arrivals))
	for _, a := range m.Arrivals {
		out = append(out, a)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].ArrivedAt.Before(out[j-1].ArrivedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
