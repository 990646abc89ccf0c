package executor

import (
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/flowrun/flowrun/internal/domain"
)

// DefaultMaxLoopIterations bounds a splitInBatches loop that never reports
// its items exhausted, used when the loop node sets no max_iterations.
const DefaultMaxLoopIterations = 1000

// LoopController drives splitInBatches iteration: computing a loop node's
// scope (the nodes its loop-back edge returns through), tracking a
// domain.LoopState per (executionID, loopNodeID) the same way JoinEvaluator
// tracks JoinBranchStatus per join node, and handing the loop controller's
// current frame to the variable resolver as a LoopContext.
type LoopController struct {
	mu    sync.Mutex
	loops map[string]*domain.LoopState
}

// NewLoopController creates an empty controller.
func NewLoopController() *LoopController {
	return &LoopController{
		loops: make(map[string]*domain.LoopState),
	}
}

func loopKey(executionID, loopNodeID uuid.UUID) string {
	return executionID.String() + ":" + loopNodeID.String()
}

// ComputeScope returns every node reachable forward from loopNodeID that
// loops back to it, i.e. the loop body. Starting from the edges leaving
// loopNodeID, it does a forward DFS that stops at the node whose outgoing
// edge has sourcePort == LoopPort and targets loopNodeID, then keeps only
// the visited nodes from which loopNodeID can be reached again, so nodes
// past the loop's exit edge are not part of the scope.
func ComputeScope(graph *WorkflowGraph, loopNodeID uuid.UUID) ([]uuid.UUID, error) {
	if _, err := graph.GetNode(loopNodeID); err != nil {
		return nil, err
	}

	visited := make(map[uuid.UUID]bool)
	scope := make([]uuid.UUID, 0)

	var walk func(nodeID uuid.UUID) error
	walk = func(nodeID uuid.UUID) error {
		for _, edge := range graph.GetOutgoingEdges(nodeID) {
			if edge.IsLoopBack() && edge.ToNodeID() == loopNodeID {
				continue // reached the back-edge; this branch of the body ends here
			}
			next := edge.ToNodeID()
			if visited[next] || next == loopNodeID {
				continue
			}
			visited[next] = true
			scope = append(scope, next)
			if err := walk(next); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(loopNodeID); err != nil {
		return nil, err
	}

	reaches := make(map[uuid.UUID]bool)
	var back func(nodeID uuid.UUID)
	back = func(nodeID uuid.UUID) {
		for _, edge := range graph.GetIncomingEdges(nodeID) {
			if from := edge.FromNodeID(); visited[from] && !reaches[from] {
				reaches[from] = true
				back(from)
			}
		}
	}
	back(loopNodeID)

	return slices.DeleteFunc(scope, func(id uuid.UUID) bool { return !reaches[id] }), nil
}

// StartLoop creates (or returns the existing) LoopState for an execution's
// loop node, computing its scope from graph on first call.
func (lc *LoopController) StartLoop(
	executionID uuid.UUID,
	loopNodeID uuid.UUID,
	items []any,
	batchSize int,
	graph *WorkflowGraph,
) (*domain.LoopState, error) {
	key := loopKey(executionID, loopNodeID)

	lc.mu.Lock()
	defer lc.mu.Unlock()

	if state, exists := lc.loops[key]; exists {
		return state, nil
	}

	scope, err := ComputeScope(graph, loopNodeID)
	if err != nil {
		return nil, fmt.Errorf("loop node %s: failed to compute scope: %w", loopNodeID, err)
	}

	state := domain.NewLoopState(executionID, loopNodeID, items, batchSize, scope)
	lc.loops[key] = state
	return state, nil
}

// GetLoop returns the tracked state for a loop node, if any.
func (lc *LoopController) GetLoop(executionID, loopNodeID uuid.UUID) (*domain.LoopState, bool) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	state, ok := lc.loops[loopKey(executionID, loopNodeID)]
	return state, ok
}

// Advance moves a loop to its next batch, enforcing maxIterations (0 means
// DefaultMaxLoopIterations). Returns domain.ErrCodeInvariantViolated once
// the cap is hit, the same way the planner refuses to make progress on an
// unresolvable wave.
func (lc *LoopController) Advance(executionID, loopNodeID uuid.UUID, maxIterations int) error {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxLoopIterations
	}

	lc.mu.Lock()
	defer lc.mu.Unlock()

	state, ok := lc.loops[loopKey(executionID, loopNodeID)]
	if !ok {
		return fmt.Errorf("loop node %s not started for execution %s", loopNodeID, executionID)
	}

	if state.Iteration >= maxIterations {
		return domain.NewDomainError(
			domain.ErrCodeInvariantViolated,
			fmt.Sprintf("loop node %s exceeded max iterations (%d)", loopNodeID, maxIterations),
			nil,
		)
	}

	state.Advance()
	return nil
}

// CollectScopedOutputs walks the loop body's current NodeState and hands
// every terminal node's output to accumulate, so run invariant 4 (loop
// bodies aggregate feedback across iterations rather than discarding it)
// can be honored before the next iteration overwrites that output.
//
// It does not clear NodeState itself: resetting the scoped nodes before the
// next iteration is done by the caller (engine.go's runLoopToCompletion)
// through domain.Execution.ResetNodeForIteration.
func (lc *LoopController) CollectScopedOutputs(
	execution domain.Execution,
	executionID, loopNodeID uuid.UUID,
	accumulate func(nodeID uuid.UUID, output map[string]any),
) error {
	state, ok := lc.GetLoop(executionID, loopNodeID)
	if !ok {
		return fmt.Errorf("loop node %s not started for execution %s", loopNodeID, executionID)
	}

	for _, nodeID := range state.ScopedNodeIDs {
		nodeState, exists := execution.GetNodeState(nodeID)
		if !exists || !nodeState.IsTerminal() {
			continue
		}
		if accumulate != nil {
			accumulate(nodeID, nodeState.Output())
		}
	}

	return nil
}

// BuildLoopContext returns the LoopContext the resolver should see for the
// given loop node's current iteration, or nil if the loop isn't tracked.
func (lc *LoopController) BuildLoopContext(executionID, loopNodeID uuid.UUID) *LoopContext {
	state, ok := lc.GetLoop(executionID, loopNodeID)
	if !ok {
		return nil
	}

	batch := state.CurrentBatch()
	return &LoopContext{
		LoopNodeID:  loopNodeID,
		RunIndex:    state.Iteration,
		BatchIndex:  state.Iteration,
		ItemIndex:   state.CurrentIndex,
		TotalItems:  len(state.Items),
		BatchSize:   len(batch),
		IsLastBatch: state.CurrentIndex+state.BatchSize >= len(state.Items),
	}
}

// Forget removes a loop's tracked state, called once the loop is Done and
// its final iteration has produced output downstream.
func (lc *LoopController) Forget(executionID, loopNodeID uuid.UUID) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	delete(lc.loops, loopKey(executionID, loopNodeID))
}
