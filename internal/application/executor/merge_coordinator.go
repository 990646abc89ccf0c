package executor

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/flowrun/flowrun/internal/domain"
)

// MergeResult is what RecordArrival (or Cancel) reports back to the caller.
type MergeResult struct {
	Complete bool
	Items    []any
	Pending  bool
}

// MergeConfig is the subset of a merge node's config RegisterMerge needs.
type MergeConfig struct {
	Strategy       domain.JoinStrategy
	DataMode       domain.MergeDataMode
	ConflictPolicy domain.DeepMergeConflictPolicy
	KeyField       string
	ExpectedCount  int
	WaitN          int
}

// GetMergeConfig reads a merge node's wait strategy and data mode from its
// config, the same way join.go's GetJoinConfig extracts JoinNodeConfig.
func GetMergeConfig(node domain.Node, expectedCount int) *MergeConfig {
	config := node.Config()

	mc := &MergeConfig{
		Strategy:       domain.JoinStrategyWaitAll,
		DataMode:       domain.MergeDataModeAppend,
		ConflictPolicy: domain.DeepMergeConflictLast,
		WaitN:          1,
		ExpectedCount:  expectedCount,
	}

	if strategy, ok := config["strategy"].(string); ok {
		mc.Strategy = domain.JoinStrategy(strategy)
	}
	if dataMode, ok := config["data_mode"].(string); ok {
		mc.DataMode = domain.MergeDataMode(dataMode)
	}
	if policy, ok := config["conflict_policy"].(string); ok {
		mc.ConflictPolicy = domain.DeepMergeConflictPolicy(policy)
	}
	if keyField, ok := config["key_field"].(string); ok {
		mc.KeyField = keyField
	}
	if waitN, ok := config["wait_n"].(float64); ok {
		mc.WaitN = int(waitN)
	} else if waitN, ok := config["wait_n"].(int); ok {
		mc.WaitN = waitN
	}

	return mc
}

// MergeCoordinator generalizes join.go's JoinEvaluator/JoinBranchStatus to
// the full merge contract, while reusing domain.MergeState (not
// reimplementing it) for the arrival bookkeeping and completion predicate:
// domain.MergeState.RecordArrival/IsSatisfied/Fire/OrderedArrivals already
// do exactly what JoinEvaluator.MarkBranchCompleted/ShouldTriggerJoin did,
// generalized to wait_n and replay-safe dedup by edge id. What this type
// adds on top is the same critical section JoinEvaluator kept (a
// sync.Mutex-guarded map, here keyed by (executionID, nodeID) rather than
// bare nodeID since multiple executions of one workflow run concurrently),
// plus the output-shaping step per DataMode that domain.MergeState
// deliberately leaves to its caller.
type MergeCoordinator struct {
	mu        sync.Mutex
	states    map[string]*domain.MergeState
	keyFields map[string]string
}

// NewMergeCoordinator creates an empty coordinator.
func NewMergeCoordinator() *MergeCoordinator {
	return &MergeCoordinator{
		states:    make(map[string]*domain.MergeState),
		keyFields: make(map[string]string),
	}
}

func mergeKey(executionID, nodeID uuid.UUID) string {
	return executionID.String() + ":" + nodeID.String()
}

// RegisterMerge creates (or returns the existing) domain.MergeState for a
// merge node's execution, mirroring JoinEvaluator.RegisterJoinNode.
func (mc *MergeCoordinator) RegisterMerge(executionID, nodeID uuid.UUID, cfg *MergeConfig) *domain.MergeState {
	key := mergeKey(executionID, nodeID)

	mc.mu.Lock()
	defer mc.mu.Unlock()

	if state, exists := mc.states[key]; exists {
		return state
	}

	state := domain.NewMergeState(executionID, nodeID, cfg.Strategy, cfg.DataMode, cfg.ExpectedCount, cfg.WaitN)
	state.ConflictPolicy = cfg.ConflictPolicy
	mc.states[key] = state
	mc.keyFields[key] = cfg.KeyField
	return state
}

// RecordArrival appends one branch's completed output under the merge's
// critical section, tests the completion predicate, and on completion
// shapes the merged result per the record's DataMode. Re-recording an
// already-fired merge is a no-op that returns the prior result, matching
// domain.MergeState.Fire's once-only semantics — a retried branch-
// completion event must not refire a merge or recompute a different
// output.
func (mc *MergeCoordinator) RecordArrival(
	executionID, nodeID, edgeID, sourceNodeID uuid.UUID,
	output map[string]any,
) (*MergeResult, error) {
	key := mergeKey(executionID, nodeID)

	mc.mu.Lock()
	defer mc.mu.Unlock()

	state, exists := mc.states[key]
	if !exists {
		return nil, fmt.Errorf("merge node %s not registered for execution %s", nodeID, executionID)
	}

	if state.HasFired() {
		return &MergeResult{Complete: true, Items: mc.computeOutput(state, mc.keyFields[key])}, nil
	}

	state.RecordArrival(edgeID, sourceNodeID, output)

	if !state.IsSatisfied() {
		return &MergeResult{Complete: false, Pending: true}, nil
	}

	state.Fire()
	return &MergeResult{Complete: true, Items: mc.computeOutput(state, mc.keyFields[key])}, nil
}

// Cancel fires a merge with whatever has arrived under its data mode
// instead of erroring, per an explicit run-level cancellation (e.g. a run
// timeout) so the run can still reach its terminal handler.
func (mc *MergeCoordinator) Cancel(executionID, nodeID uuid.UUID) (*MergeResult, error) {
	key := mergeKey(executionID, nodeID)

	mc.mu.Lock()
	defer mc.mu.Unlock()

	state, exists := mc.states[key]
	if !exists {
		return nil, fmt.Errorf("merge node %s not registered for execution %s", nodeID, executionID)
	}

	state.Fire()
	return &MergeResult{Complete: true, Items: mc.computeOutput(state, mc.keyFields[key])}, nil
}

// GetState returns the tracked domain.MergeState for a merge node, if any.
func (mc *MergeCoordinator) GetState(executionID, nodeID uuid.UUID) (*domain.MergeState, bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	state, ok := mc.states[mergeKey(executionID, nodeID)]
	return state, ok
}

// Forget drops a merge node's tracked state once its output has been
// consumed downstream.
func (mc *MergeCoordinator) Forget(executionID, nodeID uuid.UUID) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	key := mergeKey(executionID, nodeID)
	delete(mc.states, key)
	delete(mc.keyFields, key)
}

// computeOutput implements the five data modes against state's arrivals in
// OrderedArrivals order, the canonical arrival order for append/deep_merge.
func (mc *MergeCoordinator) computeOutput(state *domain.MergeState, keyField string) []any {
	arrivals := state.OrderedArrivals()

	switch state.DataMode {
	case domain.MergeDataModeAppend:
		items := make([]any, 0, len(arrivals))
		for _, a := range arrivals {
			items = append(items, a.Output)
		}
		return items

	case domain.MergeDataModeJoin:
		merged := make(map[string]any)
		for _, a := range arrivals {
			if a.Output != nil {
				for k, v := range a.Output {
					merged[k] = v
				}
			} else {
				merged[a.NodeID.String()] = a.Output
			}
		}
		return []any{merged}

	case domain.MergeDataModePassThrough:
		if len(arrivals) == 0 {
			return []any{}
		}
		return []any{arrivals[0].Output}

	case domain.MergeDataModeDeepMerge:
		merged := make(map[string]any)
		for _, a := range arrivals {
			deepMergeInto(merged, a.Output, state.ConflictPolicy)
		}
		return []any{merged}

	case domain.MergeDataModeKeyedMerge:
		return keyedMergeArrivals(arrivals, keyField)

	default:
		items := make([]any, 0, len(arrivals))
		for _, a := range arrivals {
			items = append(items, a.Output)
		}
		return items
	}
}

// deepMergeInto recursively merges src into dst, applying policy to scalar
// collisions; nested objects on both sides merge regardless of policy.
func deepMergeInto(dst, src map[string]any, policy domain.DeepMergeConflictPolicy) {
	for k, v := range src {
		existing, collides := dst[k]
		if !collides {
			dst[k] = v
			continue
		}

		existingObj, existingIsObj := existing.(map[string]any)
		srcObj, srcIsObj := v.(map[string]any)
		if existingIsObj && srcIsObj {
			deepMergeInto(existingObj, srcObj, policy)
			continue
		}

		switch policy {
		case domain.DeepMergeConflictFirst:
			// keep dst[k] as-is
		case domain.DeepMergeConflictMerge:
			dst[k] = appendScalar(existing, v)
		default: // DeepMergeConflictLast
			dst[k] = v
		}
	}
}

func appendScalar(existing, next any) []any {
	if arr, ok := existing.([]any); ok {
		return append(arr, next)
	}
	return []any{existing, next}
}

// keyedMergeArrivals groups each arrival's output by keyField, shallow-
// merging duplicates in arrival order.
func keyedMergeArrivals(arrivals []*domain.BranchArrival, keyField string) []any {
	order := make([]any, 0, len(arrivals))
	groups := make(map[any]map[string]any)
	emitted := make(map[any]bool)

	for _, a := range arrivals {
		if a.Output == nil {
			order = append(order, a.Output)
			continue
		}
		key, hasKey := a.Output[keyField]
		if !hasKey {
			order = append(order, a.Output)
			continue
		}
		if existing, seen := groups[key]; seen {
			for k, v := range a.Output {
				existing[k] = v
			}
			continue
		}
		group := make(map[string]any, len(a.Output))
		for k, v := range a.Output {
			group[k] = v
		}
		groups[key] = group
		order = append(order, key)
	}

	result := make([]any, 0, len(order))
	for _, entry := range order {
		if group, isKey := groups[entry]; isKey {
			if emitted[entry] {
				continue
			}
			emitted[entry] = true
			result = append(result, group)
			continue
		}
		result = append(result, entry)
	}
	return result
}
