package executor

import (
	"context"
	"os"

	"github.com/flowrun/flowrun/internal/domain"
)

// RegisterDefaultExecutors wires the built-in NodeExecutor for every
// domain.NodeType the planner can schedule. Control-flow node types
// (condition, merge, wait, webhook-wait, approval, split-in-batches,
// executeWorkflow) each delegate to the engine's coordinators — the merge
// coordinator, the suspension manager, and the loop controller — rather
// than doing the work themselves; only the bare "loop" primitive is a true
// no-op-equivalent passthrough, since it is pure by design.
//
// Executors that talk to external systems are wrapped with retry and
// (optionally) circuit-breaker behavior per EngineConfig, matching how
// node-level retry/circuit-breaker config is already read per-node in
// retry.go/circuit_breaker.go.
func RegisterDefaultExecutors(e *WorkflowEngine) {
	noop := &NoOpExecutor{}

	e.RegisterNodeExecutor(domain.NodeTypeTrigger, noop)
	e.RegisterNodeExecutor(domain.NodeTypeCondition, NewConditionNodeExecutor(e.evaluator))
	e.RegisterNodeExecutor(domain.NodeTypeMerge, NewMergeNodeExecutor(e.mergeCoordinator))
	e.RegisterNodeExecutor(domain.NodeTypeWait, NewSuspensionNodeExecutor(e.suspensionManager, domain.SuspensionKindTimer))
	e.RegisterNodeExecutor(domain.NodeTypeWebhookWait, NewSuspensionNodeExecutor(e.suspensionManager, domain.SuspensionKindWebhook))
	e.RegisterNodeExecutor(domain.NodeTypeApproval, NewSuspensionNodeExecutor(e.suspensionManager, domain.SuspensionKindApproval))
	e.RegisterNodeExecutor(domain.NodeTypeSplitInBatches, NewSplitInBatchesExecutor(e.loopController))
	e.RegisterNodeExecutor(domain.NodeTypeExecuteWorkflow, NewExecuteWorkflowNodeExecutor(e.suspensionManager))
	e.RegisterNodeExecutor(domain.NodeTypeLoop, &LoopPrimitiveExecutor{})

	e.RegisterNodeExecutor(domain.NodeTypeHTTP, e.wrapExternal(NewHTTPExecutor(nil)))
	e.RegisterNodeExecutor(domain.NodeTypeTransform, e.wrapExternal(&DataAggregatorExecutor{}))
	e.RegisterNodeExecutor(domain.NodeTypeLLM, e.wrapExternal(
		NewOpenAICompletionExecutor(os.Getenv("OPENAI_API_KEY"), ""),
	))

	// Action/Custom/Database/Email dispatch to a finer-grained executor keyed
	// by the "executor_type" config field (see NodeExecutorType in
	// node_types.go). Nodes that don't set one fall back to the data
	// aggregator, the closest thing to a generic passthrough.
	e.RegisterNodeExecutor(domain.NodeTypeAction, e.wrapExternal(newActionDispatchExecutor()))
	e.RegisterNodeExecutor(domain.NodeTypeCustom, e.wrapExternal(newActionDispatchExecutor()))
	e.RegisterNodeExecutor(domain.NodeTypeDatabase, e.wrapExternal(newActionDispatchExecutor()))
	e.RegisterNodeExecutor(domain.NodeTypeEmail, e.wrapExternal(newActionDispatchExecutor()))
}

// wrapExternal applies the engine's configured retry and circuit-breaker
// wrapping to executors that perform I/O, the same policy retryNode already
// enforces for ad hoc per-node retries but applied uniformly at
// registration time for the default executors.
func (e *WorkflowEngine) wrapExternal(base NodeExecutor) NodeExecutor {
	wrapped := base

	if e.config.EnableCircuitBreaker {
		wrapped = NewCircuitBreakerExecutor(wrapped, DefaultCircuitBreakerConfig())
	}

	if e.config.EnableRetry {
		policy := &RetryPolicy{
			MaxAttempts:  e.config.DefaultMaxRetries,
			InitialDelay: e.config.DefaultRetryDelay,
			MaxDelay:     30 * e.config.DefaultRetryDelay,
			Multiplier:   2.0,
			Jitter:       true,
		}
		wrapped = NewRetryExecutor(wrapped, policy)
	}

	return wrapped
}

// actionDispatchExecutor routes NodeTypeAction/Custom/Database/Email nodes
// to a concrete NodeExecutor keyed by their "executor_type" config value
// (a NodeExecutorType constant), so a single coarse domain.NodeType can
// still reach any of the fine-grained integrations.
type actionDispatchExecutor struct {
	byType map[string]NodeExecutor
}

func newActionDispatchExecutor() *actionDispatchExecutor {
	return &actionDispatchExecutor{
		byType: map[string]NodeExecutor{
			NodeTypeOpenAICompletion:  NewOpenAICompletionExecutor(os.Getenv("OPENAI_API_KEY"), ""),
			NodeTypeHTTPRequest:       NewHTTPExecutor(nil),
			NodeTypeConditionalRouter: &ConditionalRouterExecutor{},
			NodeTypeDataMerger:        &DataMergerExecutor{},
			NodeTypeDataAggregator:    &DataAggregatorExecutor{},
		},
	}
}

func (d *actionDispatchExecutor) Execute(ctx context.Context, node domain.Node, inputs *NodeExecutionInputs) (map[string]any, error) {
	executorType, _ := node.Config()["executor_type"].(string)
	if executorType == "" {
		return (&DataAggregatorExecutor{}).Execute(ctx, node, inputs)
	}

	target, ok := d.byType[executorType]
	if !ok {
		return nil, domain.NewDomainError(
			domain.ErrCodeNotFound,
			"no executor registered for executor_type "+executorType,
			nil,
		)
	}

	return target.Execute(ctx, node, inputs)
}
