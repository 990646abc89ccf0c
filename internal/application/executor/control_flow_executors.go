package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/flowrun/flowrun/internal/domain"
)

// NodeMeta is the out-of-band control signal a control-flow executor
// attaches to its output under the reserved "meta" key. executeNode reads
// it back as soon as the executor returns: a suspension or a pending merge
// is handled before CompleteNode, and a loop iteration is driven after
// CompleteNode has recorded the loop node's output, per the tagged {data, meta}
// output contract control-flow nodes use instead of a plain data map.
type NodeMeta struct {
	Suspended       bool
	SuspensionID    uuid.UUID
	WaitingForMerge bool
	ContinueLoop    bool
	OutputPath      string
}

// extractNodeMeta splits a node executor's raw output into its data portion
// and, if present, the NodeMeta the engine dispatches on. A missing or
// malformed "meta" key yields a nil NodeMeta and leaves output untouched.
func extractNodeMeta(output map[string]any) (map[string]any, *NodeMeta) {
	if output == nil {
		return map[string]any{}, nil
	}
	raw, ok := output["meta"]
	if !ok {
		return output, nil
	}
	meta, ok := raw.(*NodeMeta)
	if !ok {
		return output, nil
	}
	data := make(map[string]any, len(output)-1)
	for k, v := range output {
		if k == "meta" {
			continue
		}
		data[k] = v
	}
	return data, meta
}

func numericConfig(cfg map[string]any, key string) (float64, bool) {
	switch v := cfg[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// ConditionNodeExecutor evaluates a boolean expression over a node's bound
// inputs, the same expr-lang primitive EvaluateEdge uses for conditional
// edges, but yielding the branch itself as node output rather than gating
// a single edge. Downstream conditional edges key off "<node>.branch" the
// same way they key off any other node's output today.
type ConditionNodeExecutor struct {
	evaluator *ConditionEvaluator
}

// NewConditionNodeExecutor creates a condition executor backed by evaluator.
func NewConditionNodeExecutor(evaluator *ConditionEvaluator) *ConditionNodeExecutor {
	return &ConditionNodeExecutor{evaluator: evaluator}
}

func (c *ConditionNodeExecutor) Execute(ctx context.Context, node domain.Node, inputs *NodeExecutionInputs) (map[string]any, error) {
	condition, _ := node.Config()["condition"].(string)
	if condition == "" {
		return nil, domain.NewDomainError(
			domain.ErrCodeValidationFailed,
			fmt.Sprintf("condition node %s has no condition configured", node.Name()),
			nil,
		)
	}

	vars := inputs.Variables.Clone()
	_ = vars.Merge(inputs.GlobalContext)

	branch, err := c.evaluator.Evaluate(condition, vars.All())
	if err != nil {
		return nil, err
	}

	outputPath := "false"
	if branch {
		outputPath = "true"
	}

	return map[string]any{
		"branch": branch,
		"meta":   &NodeMeta{OutputPath: outputPath},
	}, nil
}

// MergeNodeExecutor delegates to the run's MergeCoordinator. Because waves
// are planned statically (every non-loop-back predecessor of a merge node
// finishes in an earlier wave before the merge node's own wave runs), every
// arrival this merge will ever see is already sitting in inputs.ParentOutputs
// by the time Execute runs, so a single pass recording every arrival and
// reading back the coordinator's verdict is enough: no cross-wave arrival
// tracking is needed.
type MergeNodeExecutor struct {
	coordinator *MergeCoordinator
}

// NewMergeNodeExecutor creates a merge executor backed by coordinator.
func NewMergeNodeExecutor(coordinator *MergeCoordinator) *MergeNodeExecutor {
	return &MergeNodeExecutor{coordinator: coordinator}
}

func (m *MergeNodeExecutor) Execute(ctx context.Context, node domain.Node, inputs *NodeExecutionInputs) (map[string]any, error) {
	if inputs.Graph == nil {
		return nil, fmt.Errorf("merge node %s: graph not available", node.Name())
	}

	nodeID := node.ID()
	expected := len(inputs.ParentOutputs)
	if expected == 0 {
		expected = 1
	}

	cfg := GetMergeConfig(node, expected)
	m.coordinator.RegisterMerge(inputs.ExecutionID, nodeID, cfg)

	edgeBySource := make(map[uuid.UUID]uuid.UUID, len(inputs.ParentOutputs))
	for _, edge := range inputs.Graph.GetIncomingEdges(nodeID) {
		edgeBySource[edge.FromNodeID()] = edge.ID()
	}

	var result *MergeResult
	for parentID, varSet := range inputs.ParentOutputs {
		r, err := m.coordinator.RecordArrival(inputs.ExecutionID, nodeID, edgeBySource[parentID], parentID, varSet.All())
		if err != nil {
			return nil, fmt.Errorf("merge node %s: %w", node.Name(), err)
		}
		result = r
	}

	if result == nil || !result.Complete {
		return map[string]any{
			"meta": &NodeMeta{WaitingForMerge: true},
		}, nil
	}

	m.coordinator.Forget(inputs.ExecutionID, nodeID)

	return map[string]any{
		"items": result.Items,
		"meta":  &NodeMeta{},
	}, nil
}

// SuspensionNodeExecutor parks a node on an external event by delegating to
// the run's SuspensionManager, sharing one implementation across the wait
// (timer/datetime), webhookWait and approval node types since all three
// differ only in SuspensionKind and which config fields they read.
type SuspensionNodeExecutor struct {
	manager *SuspensionManager
	kind    domain.SuspensionKind
}

// NewSuspensionNodeExecutor creates a suspension executor for the given
// wait kind.
func NewSuspensionNodeExecutor(manager *SuspensionManager, kind domain.SuspensionKind) *SuspensionNodeExecutor {
	return &SuspensionNodeExecutor{manager: manager, kind: kind}
}

func (s *SuspensionNodeExecutor) Execute(ctx context.Context, node domain.Node, inputs *NodeExecutionInputs) (map[string]any, error) {
	cfg := node.Config()

	wc := &WaitConfig{Kind: s.kind, OnTimeout: domain.SuspensionTimeoutError}

	if seconds, ok := numericConfig(cfg, "resume_after_seconds"); ok {
		t := time.Now().Add(time.Duration(seconds * float64(time.Second)))
		wc.ResumeAfter = &t
	}
	if seconds, ok := numericConfig(cfg, "timeout_seconds"); ok {
		t := time.Now().Add(time.Duration(seconds * float64(time.Second)))
		wc.Timeout = &t
	}
	if policy, ok := cfg["on_timeout"].(string); ok && policy != "" {
		wc.OnTimeout = domain.SuspensionTimeoutPolicy(policy)
	}
	if defaultData, ok := cfg["default_data"].(map[string]any); ok {
		wc.DefaultData = defaultData
	}

	snapshot := &RunSnapshot{
		ExecutionID:   inputs.ExecutionID,
		SuspendedNode: node.ID(),
		Variables:     inputs.Variables.All(),
	}

	handle, err := s.manager.StartWait(ctx, inputs.ExecutionID, inputs.WorkflowID, node.ID(), wc, snapshot)
	if err != nil {
		return nil, fmt.Errorf("node %s: failed to start wait: %w", node.Name(), err)
	}

	data := map[string]any{
		"suspension_id": handle.SuspensionID,
	}
	if handle.WebhookURL != "" {
		data["webhook_url"] = handle.WebhookURL
	}
	if handle.CorrelationID != "" {
		data["correlation_id"] = handle.CorrelationID
	}
	data["meta"] = &NodeMeta{Suspended: true, SuspensionID: handle.SuspensionID}

	return data, nil
}

// ExecuteWorkflowNodeExecutor suspends the parent run on a child subworkflow
// run, the same wait-and-resume mechanism timer/webhook waits use with
// SuspensionKindSubworkflow. Spawning and driving the child execution itself
// is the caller's (engine's) responsibility once a WorkflowRepository is
// threaded through the engine to look up the child workflow definition; until
// then this records the suspension so the run parks correctly and resumes
// once something calls SuspensionManager.Resume with the child's final
// output.
type ExecuteWorkflowNodeExecutor struct {
	manager *SuspensionManager
}

// NewExecuteWorkflowNodeExecutor creates an executeWorkflow executor.
func NewExecuteWorkflowNodeExecutor(manager *SuspensionManager) *ExecuteWorkflowNodeExecutor {
	return &ExecuteWorkflowNodeExecutor{manager: manager}
}

func (x *ExecuteWorkflowNodeExecutor) Execute(ctx context.Context, node domain.Node, inputs *NodeExecutionInputs) (map[string]any, error) {
	cfg := node.Config()

	var childRunID uuid.UUID
	if raw, ok := cfg["child_run_id"].(string); ok && raw != "" {
		parsed, err := uuid.Parse(raw)
		if err == nil {
			childRunID = parsed
		}
	}
	if childRunID == uuid.Nil {
		childRunID = uuid.New()
	}

	wc := &WaitConfig{
		Kind:       domain.SuspensionKindSubworkflow,
		OnTimeout:  domain.SuspensionTimeoutError,
		ChildRunID: childRunID,
	}

	snapshot := &RunSnapshot{
		ExecutionID:   inputs.ExecutionID,
		SuspendedNode: node.ID(),
		Variables:     inputs.Variables.All(),
	}

	handle, err := x.manager.StartWait(ctx, inputs.ExecutionID, inputs.WorkflowID, node.ID(), wc, snapshot)
	if err != nil {
		return nil, fmt.Errorf("node %s: failed to start child run wait: %w", node.Name(), err)
	}

	return map[string]any{
		"child_run_id":  childRunID,
		"suspension_id": handle.SuspensionID,
		"meta":          &NodeMeta{Suspended: true, SuspensionID: handle.SuspensionID},
	}, nil
}

// SplitInBatchesExecutor starts (or resumes) a splitInBatches loop, reading
// its items and batch size from config and delegating iteration bookkeeping
// to the run's LoopController. It yields the current batch and signals
// continueLoop so the engine's meta dispatch drives the loop body through
// every remaining batch before wave progression resumes.
type SplitInBatchesExecutor struct {
	controller *LoopController
}

// NewSplitInBatchesExecutor creates a splitInBatches executor backed by
// controller.
func NewSplitInBatchesExecutor(controller *LoopController) *SplitInBatchesExecutor {
	return &SplitInBatchesExecutor{controller: controller}
}

func (s *SplitInBatchesExecutor) Execute(ctx context.Context, node domain.Node, inputs *NodeExecutionInputs) (map[string]any, error) {
	if inputs.Graph == nil {
		return nil, fmt.Errorf("split-in-batches node %s: graph not available", node.Name())
	}

	cfg := node.Config()
	itemsKey, _ := cfg["items_key"].(string)
	if itemsKey == "" {
		itemsKey = "items"
	}
	batchSize := 1
	if bs, ok := numericConfig(cfg, "batch_size"); ok && bs > 0 {
		batchSize = int(bs)
	}

	loopState, existed := s.controller.GetLoop(inputs.ExecutionID, node.ID())
	if !existed {
		raw, _ := inputs.Variables.Get(itemsKey)
		items, _ := raw.([]any)

		var err error
		loopState, err = s.controller.StartLoop(inputs.ExecutionID, node.ID(), items, batchSize, inputs.Graph)
		if err != nil {
			return nil, err
		}
	}

	if len(loopState.Items) == 0 {
		s.controller.Forget(inputs.ExecutionID, node.ID())
		return map[string]any{
			"done":  true,
			"batch": []any{},
			"meta":  &NodeMeta{ContinueLoop: false, OutputPath: "done"},
		}, nil
	}

	return map[string]any{
		"batch":     loopState.CurrentBatch(),
		"run_index": loopState.Iteration,
		"done":      false,
		"meta":      &NodeMeta{ContinueLoop: true, OutputPath: "loop"},
	}, nil
}

// LoopPrimitiveExecutor is the pure, side-effect-free body of a bare "loop"
// node: it passes its bound inputs through unchanged, the same contract
// "transform" nodes honor.
type LoopPrimitiveExecutor struct{}

func (l *LoopPrimitiveExecutor) Execute(ctx context.Context, node domain.Node, inputs *NodeExecutionInputs) (map[string]any, error) {
	return inputs.Variables.All(), nil
}
