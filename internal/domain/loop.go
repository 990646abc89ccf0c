package domain

import (
	"github.com/google/uuid"
)

// LoopState tracks the iteration progress of a splitInBatches node across
// the lifetime of a run. The loop body is every node reachable forward from
// the loop node until the loop-back edge (sourcePort == LoopPort) returns to
// it; that body's NodeState is reset at the start of each new iteration so
// a node revisited in iteration 2 does not read stale output from
// iteration 1.
type LoopState struct {
	ExecutionID   uuid.UUID
	LoopNodeID    uuid.UUID
	Items         []any
	BatchSize     int
	CurrentIndex  int // index of the next unconsumed item
	Iteration     int // 0-based count of completed iterations
	ScopedNodeIDs []uuid.UUID
	Done          bool
}

// NewLoopState creates a loop state positioned at its first batch.
func NewLoopState(executionID, loopNodeID uuid.UUID, items []any, batchSize int, scopedNodeIDs []uuid.UUID) *LoopState {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &LoopState{
		ExecutionID:   executionID,
		LoopNodeID:    loopNodeID,
		Items:         items,
		BatchSize:     batchSize,
		ScopedNodeIDs: scopedNodeIDs,
	}
}

// CurrentBatch returns the slice of items for the current iteration.
func (l *LoopState) CurrentBatch() []any {
	if l.CurrentIndex >= len(l.Items) {
		return nil
	}
	end := l.CurrentIndex + l.BatchSize
	if end > len(l.Items) {
		end = len(l.Items)
	}
	return l.Items[l.CurrentIndex:end]
}

// Advance moves to the next batch and increments the iteration counter.
// It marks the loop Done once every item has been consumed.
func (l *LoopState) Advance() {
	l.CurrentIndex += l.BatchSize
	l.Iteration++
	if l.CurrentIndex >= len(l.Items) {
		l.Done = true
	}
}

// HasMore reports whether another iteration remains.
func (l *LoopState) HasMore() bool {
	return !l.Done && l.CurrentIndex < len(l.Items)
}
