package domain

import (
	"fmt"
)

// EdgeType defines the type of connection between nodes
type EdgeType string

const (
	// EdgeTypeDirect represents a simple directed edge from one node to another
	EdgeTypeDirect EdgeType = "direct"

	// EdgeTypeConditional represents an edge that is traversed only if a condition is met
	EdgeTypeConditional EdgeType = "conditional"

	// EdgeTypeFork represents an edge that splits execution into parallel branches
	EdgeTypeFork EdgeType = "fork"

	// EdgeTypeJoin represents an edge that waits for multiple parallel branches
	EdgeTypeJoin EdgeType = "join"
)

// IsValid checks if the EdgeType is valid
func (et EdgeType) IsValid() bool {
	switch et {
	case EdgeTypeDirect, EdgeTypeConditional, EdgeTypeFork, EdgeTypeJoin:
		return true
	default:
		return false
	}
}

// String returns string representation of EdgeType
func (et EdgeType) String() string {
	return string(et)
}

// LoopPort is the well-known edge sourcePort value that marks a loop
// back-edge. Edges carrying this port are excluded from acyclicity
// analysis (see Workflow.checkForCycles and the executor's graph analysis).
const LoopPort = "loop"

// DonePort is the well-known edge sourcePort a splitInBatches node uses
// to emit its aggregated output once iteration completes.
const DonePort = "done"

// NodeType defines the type of operation a node performs.
// Unknown values are accepted by the executor registry (they fall back
// to the default custom executor) so this is not a closed enum.
type NodeType string

const (
	NodeTypeTrigger         NodeType = "trigger"
	NodeTypeAction          NodeType = "action"
	NodeTypeHTTP            NodeType = "http"
	NodeTypeEmail           NodeType = "email"
	NodeTypeDatabase        NodeType = "database"
	NodeTypeCustom          NodeType = "custom"
	NodeTypeLLM             NodeType = "llm"
	NodeTypeCondition       NodeType = "condition"
	NodeTypeMerge           NodeType = "merge"
	NodeTypeWait            NodeType = "wait"
	NodeTypeWebhookWait     NodeType = "webhookWait"
	NodeTypeApproval        NodeType = "approval"
	NodeTypeSplitInBatches  NodeType = "splitInBatches"
	NodeTypeExecuteWorkflow NodeType = "executeWorkflow"
	NodeTypeTransform       NodeType = "transform"
	NodeTypeLoop            NodeType = "loop"
)

// IsLoopType reports whether this node type drives loop iteration and
// therefore owns a loop scope in the topological analysis.
func (nt NodeType) IsLoopType() bool {
	return nt == NodeTypeSplitInBatches
}

// String returns string representation of NodeType
func (nt NodeType) String() string {
	return string(nt)
}

// IsValid reports whether the NodeType is non-empty. Any non-empty value,
// known or not, is valid.
func (nt NodeType) IsValid() bool {
	return nt != ""
}

// NodeStatus defines the status of a node during a run.
// Transitions are monotonic: pending -> running -> one terminal status,
// with suspended/waitingForMerge permitted to return to running exactly
// once before reaching a terminal status.
type NodeStatus string

const (
	NodeStatusPending         NodeStatus = "pending"
	NodeStatusRunning         NodeStatus = "running"
	NodeStatusCompleted       NodeStatus = "completed"
	NodeStatusFailed          NodeStatus = "failed"
	NodeStatusSkipped         NodeStatus = "skipped"
	NodeStatusSuspended       NodeStatus = "suspended"
	NodeStatusWaitingForMerge NodeStatus = "waitingForMerge"
)

// IsValid checks if the NodeStatus is valid
func (ns NodeStatus) IsValid() bool {
	switch ns {
	case NodeStatusPending, NodeStatusRunning, NodeStatusCompleted,
		NodeStatusFailed, NodeStatusSkipped, NodeStatusSuspended, NodeStatusWaitingForMerge:
		return true
	default:
		return false
	}
}

// String returns string representation of NodeStatus
func (ns NodeStatus) String() string {
	return string(ns)
}

// IsTerminal returns true if this status is terminal (no further transitions)
func (ns NodeStatus) IsTerminal() bool {
	return ns == NodeStatusCompleted || ns == NodeStatusFailed || ns == NodeStatusSkipped
}

// ExecutionPhase defines the status of a run (an execution instance of a
// workflow). The vocabulary used in the design documents ("RunStatus") maps
// onto this type one for one; the Go identifier keeps the teacher's name
// since the aggregate type itself is still called Execution.
type ExecutionPhase string

const (
	ExecutionPhasePlanning   ExecutionPhase = "planning"
	ExecutionPhaseExecuting  ExecutionPhase = "executing"
	ExecutionPhaseSuspended  ExecutionPhase = "suspended"
	ExecutionPhaseCompleted  ExecutionPhase = "completed"
	ExecutionPhaseFailed     ExecutionPhase = "failed"
	ExecutionPhaseCancelled  ExecutionPhase = "cancelled"
	ExecutionPhaseTimeout    ExecutionPhase = "timeout"
)

// IsValid checks if the ExecutionPhase is valid
func (ep ExecutionPhase) IsValid() bool {
	switch ep {
	case ExecutionPhasePlanning, ExecutionPhaseExecuting, ExecutionPhaseSuspended,
		ExecutionPhaseCompleted, ExecutionPhaseFailed, ExecutionPhaseCancelled, ExecutionPhaseTimeout:
		return true
	default:
		return false
	}
}

// String returns string representation of ExecutionPhase
func (ep ExecutionPhase) String() string {
	return string(ep)
}

// IsTerminal returns true if this phase is terminal (no further transitions)
func (ep ExecutionPhase) IsTerminal() bool {
	switch ep {
	case ExecutionPhaseCompleted, ExecutionPhaseFailed, ExecutionPhaseCancelled, ExecutionPhaseTimeout:
		return true
	default:
		return false
	}
}

// WorkflowState defines the publication lifecycle of a workflow definition.
type WorkflowState string

const (
	WorkflowStateDraft     WorkflowState = "draft"
	WorkflowStatePublished WorkflowState = "published"
	WorkflowStateArchived  WorkflowState = "archived"
)

// IsValid checks if the WorkflowState is valid
func (ws WorkflowState) IsValid() bool {
	switch ws {
	case WorkflowStateDraft, WorkflowStatePublished, WorkflowStateArchived:
		return true
	default:
		return false
	}
}

// String returns string representation of WorkflowState
func (ws WorkflowState) String() string {
	return string(ws)
}

// JoinStrategy defines how a merge node waits for incoming branches
type JoinStrategy string

const (
	// JoinStrategyWaitAll waits for all incoming branches to complete
	JoinStrategyWaitAll JoinStrategy = "wait_all"

	// JoinStrategyWaitAny waits for any one incoming branch to complete
	JoinStrategyWaitAny JoinStrategy = "wait_any"

	// JoinStrategyWaitFirst waits for the first incoming branch to complete
	JoinStrategyWaitFirst JoinStrategy = "wait_first"

	// JoinStrategyWaitN waits for N incoming branches to complete
	JoinStrategyWaitN JoinStrategy = "wait_n"
)

// IsValid checks if the JoinStrategy is valid
func (js JoinStrategy) IsValid() bool {
	switch js {
	case JoinStrategyWaitAll, JoinStrategyWaitAny, JoinStrategyWaitFirst, JoinStrategyWaitN:
		return true
	default:
		return false
	}
}

// String returns string representation of JoinStrategy
func (js JoinStrategy) String() string {
	return string(js)
}

// MergeDataMode controls how a completed merge combines its branches' items.
type MergeDataMode string

const (
	MergeDataModeAppend      MergeDataMode = "append"
	MergeDataModeJoin        MergeDataMode = "join"
	MergeDataModePassThrough MergeDataMode = "pass_through"
	MergeDataModeDeepMerge   MergeDataMode = "deep_merge"
	MergeDataModeKeyedMerge  MergeDataMode = "keyed_merge"
)

// IsValid checks if the MergeDataMode is valid
func (m MergeDataMode) IsValid() bool {
	switch m {
	case MergeDataModeAppend, MergeDataModeJoin, MergeDataModePassThrough,
		MergeDataModeDeepMerge, MergeDataModeKeyedMerge:
		return true
	default:
		return false
	}
}

// DeepMergeConflictPolicy resolves key collisions under MergeDataModeDeepMerge.
type DeepMergeConflictPolicy string

const (
	DeepMergeConflictFirst DeepMergeConflictPolicy = "first"
	DeepMergeConflictLast  DeepMergeConflictPolicy = "last"
	DeepMergeConflictMerge DeepMergeConflictPolicy = "merge"
)

// ErrorStrategy defines how errors are handled during wave execution
type ErrorStrategy string

const (
	// ErrorStrategyFailFast stops execution on the first error
	ErrorStrategyFailFast ErrorStrategy = "fail-fast"

	// ErrorStrategyContinueOnError lets every node of a wave run, then reports
	// all of that wave's errors as one error; the run does not go on to later
	// waves once a wave has failed.
	ErrorStrategyContinueOnError ErrorStrategy = "continue"

	// ErrorStrategyCompensate continues past node failures into later waves
	// and additionally makes the run eligible for error-workflow dispatch on
	// terminal failure.
	ErrorStrategyCompensate ErrorStrategy = "compensate"
)

// IsValid checks if the ErrorStrategy is valid
func (es ErrorStrategy) IsValid() bool {
	switch es {
	case ErrorStrategyFailFast, ErrorStrategyContinueOnError, ErrorStrategyCompensate:
		return true
	default:
		return false
	}
}

// String returns string representation of ErrorStrategy
func (es ErrorStrategy) String() string {
	return string(es)
}

// NodeOnError is the per-node recovery policy on executor failure.
type NodeOnError string

const (
	NodeOnErrorStop        NodeOnError = "stop"
	NodeOnErrorContinue    NodeOnError = "continue"
	NodeOnErrorPinFallback NodeOnError = "pin_fallback"
)

// TriggerType defines the type of trigger for a run
type TriggerType string

const (
	// TriggerTypeManual represents manual trigger (started by user)
	TriggerTypeManual TriggerType = "manual"

	// TriggerTypeWebhook represents an inbound webhook trigger
	TriggerTypeWebhook TriggerType = "webhook"

	// TriggerTypeScheduled represents scheduled trigger (cron-like)
	TriggerTypeScheduled TriggerType = "scheduled"

	// TriggerTypeAPI represents a programmatic API trigger
	TriggerTypeAPI TriggerType = "api"

	// TriggerTypeEvent represents event-based trigger
	TriggerTypeEvent TriggerType = "event"

	// TriggerTypeError represents an error-workflow trigger, carrying the
	// failure context of another run as its payload.
	TriggerTypeError TriggerType = "error"
)

// IsValid checks if the TriggerType is valid
func (tt TriggerType) IsValid() bool {
	switch tt {
	case TriggerTypeManual, TriggerTypeWebhook, TriggerTypeScheduled,
		TriggerTypeAPI, TriggerTypeEvent, TriggerTypeError:
		return true
	default:
		return false
	}
}

// String returns string representation of TriggerType
func (tt TriggerType) String() string {
	return string(tt)
}

// SuspensionKind enumerates the ways a node may suspend a run.
type SuspensionKind string

const (
	SuspensionKindTimer       SuspensionKind = "timer"
	SuspensionKindDatetime    SuspensionKind = "datetime"
	SuspensionKindWebhook     SuspensionKind = "webhook"
	SuspensionKindApproval    SuspensionKind = "approval"
	SuspensionKindSubworkflow SuspensionKind = "subworkflow"
	SuspensionKindCondition   SuspensionKind = "condition"
)

// IsValid checks if the SuspensionKind is valid
func (k SuspensionKind) IsValid() bool {
	switch k {
	case SuspensionKindTimer, SuspensionKindDatetime, SuspensionKindWebhook,
		SuspensionKindApproval, SuspensionKindSubworkflow, SuspensionKindCondition:
		return true
	default:
		return false
	}
}

// SuspensionTimeoutPolicy controls behavior when a suspension's timeout elapses.
type SuspensionTimeoutPolicy string

const (
	SuspensionTimeoutError    SuspensionTimeoutPolicy = "error"
	SuspensionTimeoutContinue SuspensionTimeoutPolicy = "continue"
	SuspensionTimeoutDefault  SuspensionTimeoutPolicy = "default"
)

// PinMode controls when a pinned output short-circuits real execution.
type PinMode string

const (
	PinModeAlways      PinMode = "always"
	PinModeOnError     PinMode = "on_error"
	PinModeDevelopment PinMode = "development"
	PinModeDisabled    PinMode = "disabled"
)

// VariableType defines the type of a variable
type VariableType string

const (
	VariableTypeString  VariableType = "string"
	VariableTypeInt     VariableType = "int"
	VariableTypeFloat   VariableType = "float"
	VariableTypeBool    VariableType = "bool"
	VariableTypeObject  VariableType = "object"
	VariableTypeArray   VariableType = "array"
	VariableTypeAny     VariableType = "any"
	VariableTypeUnknown VariableType = "unknown"
)

// IsValid checks if the VariableType is valid
func (vt VariableType) IsValid() bool {
	switch vt {
	case VariableTypeString, VariableTypeInt, VariableTypeFloat, VariableTypeBool,
		VariableTypeObject, VariableTypeArray, VariableTypeAny, VariableTypeUnknown:
		return true
	default:
		return false
	}
}

// String returns string representation of VariableType
func (vt VariableType) String() string {
	return string(vt)
}

// InferType infers the VariableType from a Go value
func InferType(v interface{}) VariableType {
	if v == nil {
		return VariableTypeUnknown
	}

	switch v.(type) {
	case string:
		return VariableTypeString
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return VariableTypeInt
	case float32, float64:
		return VariableTypeFloat
	case bool:
		return VariableTypeBool
	case map[string]interface{}:
		return VariableTypeObject
	case []interface{}:
		return VariableTypeArray
	default:
		return VariableTypeAny
	}
}

// DomainError represents a domain-specific error carrying a stable code,
// a human message, and an optional wrapped cause.
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Domain error codes. The first block is structural (graph/state
// validation); the second is the run-time taxonomy of SPEC_FULL.md §7.
const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeAlreadyExists     = "ALREADY_EXISTS"
	ErrCodeInvariantViolated = "INVARIANT_VIOLATED"
	ErrCodeInvalidState      = "INVALID_STATE"
	ErrCodeCyclicDependency  = "CYCLIC_DEPENDENCY"
	ErrCodeInvalidType       = "INVALID_TYPE"

	ErrCodeResolverError   = "RESOLVER_ERROR"
	ErrCodeExecutorError   = "EXECUTOR_ERROR"
	ErrCodeBudgetExceeded  = "BUDGET_EXCEEDED"
	ErrCodeTimeout         = "TIMEOUT"
	ErrCodeSuspensionError = "SUSPENSION_ERROR"
	ErrCodeCycleDetected   = "CYCLE_DETECTED"
	ErrCodeRecursionLimit  = "RECURSION_LIMIT"
)

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsCode reports whether err is a *DomainError carrying the given code.
func IsCode(err error, code string) bool {
	de, ok := err.(*DomainError)
	return ok && de.Code == code
}
