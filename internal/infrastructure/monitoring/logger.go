package monitoring

import (
	"log"
	"sync"
	"time"

	"github.com/flowrun/flowrun/internal/domain"
)

// StdLogger provides structured logging for workflow execution via the
// standard library logger. It logs node transitions, errors, and execution
// events with context, mirroring ConsoleLogger/ClickHouseLogger's shape so
// all three satisfy ExecutionLogger interchangeably.
type StdLogger struct {
	// prefix is prepended to all log messages
	prefix string
	// verbose enables verbose logging
	verbose bool
	// mu protects concurrent writes
	mu sync.Mutex
}

// NewStdLogger creates a new StdLogger.
func NewStdLogger(prefix string, verbose bool) *StdLogger {
	return &StdLogger{
		prefix:  prefix,
		verbose: verbose,
	}
}

// Log implements ExecutionLogger by dispatching an event to the matching
// log.Printf-backed method based on its type.
func (l *StdLogger) Log(event *LogEvent) {
	if event == nil {
		return
	}
	if event.Level == LevelDebug && !l.verbose {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch event.Type {
	case EventExecutionStarted:
		log.Printf("[%s] Execution started: workflow=%s execution=%s", l.prefix, event.WorkflowID, event.ExecutionID)
	case EventExecutionCompleted:
		log.Printf("[%s] Execution completed: workflow=%s execution=%s duration=%s",
			l.prefix, event.WorkflowID, event.ExecutionID, event.Duration)
	case EventExecutionFailed:
		log.Printf("[%s] Execution failed: workflow=%s execution=%s duration=%s error=%v",
			l.prefix, event.WorkflowID, event.ExecutionID, event.Duration, event.ErrorMessage)
	case EventNodeStarted:
		log.Printf("[%s] Node started: execution=%s node_id=%s workflow_id=%s node_type=%s name=%s config=%v attempt=%d",
			l.prefix, event.ExecutionID, event.NodeID, event.WorkflowID, event.NodeType, event.NodeName, event.Config, event.AttemptNumber)
	case EventNodeCompleted:
		log.Printf("[%s] Node completed: execution=%s node_id=%s workflow_id=%s node_type=%s name=%s config=%v duration=%s",
			l.prefix, event.ExecutionID, event.NodeID, event.WorkflowID, event.NodeType, event.NodeName, event.Config, event.Duration)
	case EventNodeFailed:
		log.Printf("[%s] Node failed (will_retry=%t): execution=%s node_id=%s workflow_id=%s node_type=%s name=%s config=%v duration=%s error=%v",
			l.prefix, event.WillRetry, event.ExecutionID, event.NodeID, event.WorkflowID, event.NodeType, event.NodeName, event.Config, event.Duration, event.ErrorMessage)
	case EventNodeRetrying:
		log.Printf("[%s] Node retrying: execution=%s node_id=%s workflow_id=%s node_type=%s name=%s config=%v attempt=%d delay=%s",
			l.prefix, event.ExecutionID, event.NodeID, event.WorkflowID, event.NodeType, event.NodeName, event.Config, event.AttemptNumber, event.RetryDelay)
	case EventNodeSkipped:
		log.Printf("[%s] Node skipped: execution=%s node_id=%s workflow_id=%s node_type=%s name=%s config=%v reason=%s",
			l.prefix, event.ExecutionID, event.NodeID, event.WorkflowID, event.NodeType, event.NodeName, event.Config, event.Reason)
	case EventVariableSet:
		log.Printf("[%s] Variable set: execution=%s key=%s value=%v",
			l.prefix, event.ExecutionID, event.VariableKey, event.VariableValue)
	case EventStateTransition:
		log.Printf("[%s] State transition: execution=%s node=%s from=%s to=%s",
			l.prefix, event.ExecutionID, event.NodeID, event.FromState, event.ToState)
	case EventInfo:
		log.Printf("[%s] Info: execution=%s message=%s", l.prefix, event.ExecutionID, event.Message)
	case EventDebug:
		log.Printf("[%s] Debug: execution=%s message=%s", l.prefix, event.ExecutionID, event.Message)
	case EventError:
		log.Printf("[%s] Error: execution=%s message=%s error=%v", l.prefix, event.ExecutionID, event.Message, event.ErrorMessage)
	default:
		log.Printf("[%s] %s: execution=%s message=%s", l.prefix, event.Type, event.ExecutionID, event.Message)
	}
}

// LogNode logs all fields of a node.
func (l *StdLogger) LogNode(workflowID, executionID string, node domain.Node) {
	if node == nil {
		l.Log(NewInfoEvent(workflowID, executionID, "Node info: node=<nil>"))
		return
	}

	l.Log(&LogEvent{
		Timestamp:   time.Now(),
		Type:        EventInfo,
		Level:       LevelInfo,
		Message:     "Node info",
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		NodeID:      node.ID().String(),
		NodeType:    string(node.Type()),
		NodeName:    node.Name(),
		Config:      node.Config(),
	})
}

// LogNodeFromConfig logs node fields from raw configuration, for callers
// that don't have a domain.Node handy.
func (l *StdLogger) LogNodeFromConfig(executionID, nodeID, workflowID, nodeType, name string, config map[string]any) {
	l.Log(&LogEvent{
		Timestamp:   time.Now(),
		Type:        EventInfo,
		Level:       LevelInfo,
		Message:     "Node info",
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		NodeID:      nodeID,
		NodeType:    nodeType,
		NodeName:    name,
		Config:      config,
	})
}

// LogVariableSet logs when a variable is set (verbose mode only).
func (l *StdLogger) LogVariableSet(workflowID, executionID, key string, value interface{}) {
	if !l.verbose {
		return
	}
	l.Log(NewVariableSetEvent(workflowID, executionID, key, value))
}

// LogError logs a general error.
func (l *StdLogger) LogError(workflowID, executionID string, message string, err error) {
	l.Log(NewErrorEvent(workflowID, executionID, message, err))
}

// LogInfo logs an informational message.
func (l *StdLogger) LogInfo(workflowID, executionID string, message string) {
	l.Log(NewInfoEvent(workflowID, executionID, message))
}

// LogDebug logs a debug message (verbose mode only).
func (l *StdLogger) LogDebug(workflowID, executionID string, message string) {
	if !l.verbose {
		return
	}
	l.Log(NewDebugEvent(workflowID, executionID, message))
}

// LogTransition logs a state transition.
func (l *StdLogger) LogTransition(workflowID, executionID, nodeID, fromState, toState string) {
	if !l.verbose {
		return
	}
	l.Log(NewStateTransitionEvent(workflowID, executionID, nodeID, fromState, toState))
}
