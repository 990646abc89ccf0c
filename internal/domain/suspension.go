package domain

import (
	"time"

	"github.com/google/uuid"
)

// Suspension records a run parked mid-graph waiting on an external event:
// a timer, a wall-clock deadline, an inbound webhook, a human approval, a
// child sub-workflow, or a polled condition. The run's event stream is the
// source of truth for everything upstream of the suspension; Suspension is
// the only mutable record needed to resume it later.
type Suspension struct {
	ID          uuid.UUID
	ExecutionID uuid.UUID
	WorkflowID  uuid.UUID
	NodeID      uuid.UUID
	Kind        SuspensionKind
	CreatedAt   time.Time
	ResumeAfter *time.Time              // set for timer/datetime kinds
	Token       string                  // opaque token embedded in webhook/approval callback URLs
	Timeout     *time.Time              // absolute deadline; nil means no timeout
	OnTimeout   SuspensionTimeoutPolicy
	ChildRunID  uuid.UUID               // set for subworkflow kind
	Metadata    map[string]any
	ResolvedAt  *time.Time
	ResumeData  map[string]any
}

// NewSuspension creates a pending suspension for a node.
func NewSuspension(executionID, workflowID, nodeID uuid.UUID, kind SuspensionKind) *Suspension {
	return &Suspension{
		ID:          uuid.New(),
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		NodeID:      nodeID,
		Kind:        kind,
		CreatedAt:   time.Now(),
		OnTimeout:   SuspensionTimeoutError,
		Metadata:    make(map[string]any),
	}
}

// IsResolved reports whether Resume has already been recorded.
func (s *Suspension) IsResolved() bool {
	return s.ResolvedAt != nil
}

// IsExpired reports whether the suspension's timeout deadline has passed.
func (s *Suspension) IsExpired(now time.Time) bool {
	return s.Timeout != nil && now.After(*s.Timeout)
}

// Resolve records resume data exactly once; repeat calls are no-ops so that
// a duplicate webhook delivery or a racing timer/resume pair can't replay
// the downstream node twice.
func (s *Suspension) Resolve(resumeData map[string]any) bool {
	if s.IsResolved() {
		return false
	}
	now := time.Now()
	s.ResolvedAt = &now
	s.ResumeData = resumeData
	return true
}
