package domain

import "github.com/google/uuid"

// Edge is a directed connection between two nodes. SourcePort distinguishes
// multiple outgoing edges from the same node (e.g. a condition node's
// "true"/"false" ports, or a loop node's "loop"/"done" ports). Condition, if
// non-empty, is an expr-lang boolean expression gating traversal.
type Edge interface {
	ID() uuid.UUID
	FromNodeID() uuid.UUID
	ToNodeID() uuid.UUID
	Type() EdgeType
	Config() map[string]any
	SourcePort() string
	TargetPort() string
	Condition() string
}

type edge struct {
	id         uuid.UUID
	fromNodeID uuid.UUID
	toNodeID   uuid.UUID
	edgeType   EdgeType
	config     map[string]any
	sourcePort string
	targetPort string
	condition  string
}

// NewEdge creates an edge detached from any workflow aggregate.
func NewEdge(fromNodeID, toNodeID uuid.UUID, edgeType EdgeType, config map[string]any) Edge {
	return &edge{
		id:         uuid.New(),
		fromNodeID: fromNodeID,
		toNodeID:   toNodeID,
		edgeType:   edgeType,
		config:     config,
	}
}

// ReconstructEdge rebuilds an edge from persisted fields.
func ReconstructEdge(id, fromNodeID, toNodeID uuid.UUID, edgeType EdgeType, config map[string]any, sourcePort, targetPort, condition string) Edge {
	return &edge{
		id:         id,
		fromNodeID: fromNodeID,
		toNodeID:   toNodeID,
		edgeType:   edgeType,
		config:     config,
		sourcePort: sourcePort,
		targetPort: targetPort,
		condition:  condition,
	}
}

func (e *edge) ID() uuid.UUID          { return e.id }
func (e *edge) FromNodeID() uuid.UUID  { return e.fromNodeID }
func (e *edge) ToNodeID() uuid.UUID    { return e.toNodeID }
func (e *edge) Type() EdgeType         { return e.edgeType }
func (e *edge) Config() map[string]any { return e.config }
func (e *edge) SourcePort() string     { return e.sourcePort }
func (e *edge) TargetPort() string     { return e.targetPort }
func (e *edge) Condition() string      { return e.condition }

// IsLoopBack reports whether this edge is the back-edge of a loop body,
// excluded from acyclicity analysis by the topological analyzer.
func (e *edge) IsLoopBack() bool {
	return e.sourcePort == LoopPort
}
