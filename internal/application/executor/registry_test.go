package executor

import (
	"context"
	"testing"

	"github.com/flowrun/flowrun/internal/domain"
	"github.com/flowrun/flowrun/internal/infrastructure/monitoring"
	"github.com/flowrun/flowrun/internal/infrastructure/storage"

	"github.com/stretchr/testify/require"
)

func newRegistryTestEngine(t *testing.T) *WorkflowEngine {
	t.Helper()
	config := DefaultEngineConfig()
	config.EnableRetry = false
	return NewWorkflowEngine(storage.NewMemoryStore(), monitoring.NewObserverManager(), config)
}

func registryTestNode(t *testing.T, nodeType domain.NodeType, config map[string]any) domain.Node {
	t.Helper()
	w, err := domain.NewWorkflow("wf", "1", "", map[string]any{})
	require.NoError(t, err)
	id, err := w.AddNode(nodeType, "node", config)
	require.NoError(t, err)
	node, err := w.GetNode(id)
	require.NoError(t, err)
	return node
}

func registryTestInputs(t *testing.T, vars map[string]any) *NodeExecutionInputs {
	t.Helper()
	vs := domain.NewVariableSet(nil)
	for k, v := range vars {
		require.NoError(t, vs.Set(k, v))
	}
	return &NodeExecutionInputs{Variables: vs, GlobalContext: domain.NewVariableSet(nil)}
}

// RegisterDefaultExecutors wires the trigger to a NoOpExecutor and every
// other control-flow node type to an executor that delegates to one of the
// engine's coordinators; the trigger and the bare loop primitive return
// empty output for empty inputs.
func TestRegisterDefaultExecutors_ControlFlowTypesAreWired(t *testing.T) {
	engine := newRegistryTestEngine(t)

	controlFlowTypes := []domain.NodeType{
		domain.NodeTypeTrigger,
		domain.NodeTypeCondition,
		domain.NodeTypeMerge,
		domain.NodeTypeWait,
		domain.NodeTypeWebhookWait,
		domain.NodeTypeApproval,
		domain.NodeTypeSplitInBatches,
		domain.NodeTypeExecuteWorkflow,
		domain.NodeTypeLoop,
	}

	for _, nt := range controlFlowTypes {
		exec, ok := engine.nodeExecutors[nt]
		require.True(t, ok, "node type %s should have an executor registered", nt)

		_, isNoOp := exec.(*NoOpExecutor)
		require.Equal(t, nt == domain.NodeTypeTrigger, isNoOp, "node type %s", nt)

		if nt == domain.NodeTypeTrigger || nt == domain.NodeTypeLoop {
			node := registryTestNode(t, nt, map[string]any{})
			out, err := exec.Execute(context.Background(), node, registryTestInputs(t, nil))
			require.NoError(t, err, "node type %s", nt)
			require.Empty(t, out)
		}
	}
}

func TestRegisterDefaultExecutors_IOTypesAreWired(t *testing.T) {
	engine := newRegistryTestEngine(t)

	ioTypes := []domain.NodeType{
		domain.NodeTypeHTTP,
		domain.NodeTypeTransform,
		domain.NodeTypeLLM,
		domain.NodeTypeAction,
		domain.NodeTypeCustom,
		domain.NodeTypeDatabase,
		domain.NodeTypeEmail,
	}
	for _, nt := range ioTypes {
		_, ok := engine.nodeExecutors[nt]
		require.True(t, ok, "node type %s should have an executor registered", nt)
	}
}

func TestActionDispatchExecutor_RoutesByExecutorType(t *testing.T) {
	node := registryTestNode(t, domain.NodeTypeAction, map[string]any{
		"executor_type": NodeTypeConditionalRouter,
		"input_key":     "status",
		"routes":        map[string]any{"ok": "success-path"},
	})

	dispatch := newActionDispatchExecutor()
	out, err := dispatch.Execute(context.Background(), node, registryTestInputs(t, map[string]any{"status": "ok"}))
	require.NoError(t, err)
	require.Equal(t, "success-path", out["route"])
}

func TestActionDispatchExecutor_UnknownExecutorType(t *testing.T) {
	node := registryTestNode(t, domain.NodeTypeAction, map[string]any{
		"executor_type": "nonexistent-type",
	})

	dispatch := newActionDispatchExecutor()
	_, err := dispatch.Execute(context.Background(), node, registryTestInputs(t, nil))
	require.Error(t, err)
}

func TestActionDispatchExecutor_NoExecutorTypeFallsBackToAggregator(t *testing.T) {
	node := registryTestNode(t, domain.NodeTypeAction, map[string]any{
		"fields": map[string]any{"out": "in"},
	})

	dispatch := newActionDispatchExecutor()
	out, err := dispatch.Execute(context.Background(), node, registryTestInputs(t, map[string]any{"in": "value"}))
	require.NoError(t, err)
	aggregated := out["output"].(map[string]any)
	require.Equal(t, "value", aggregated["out"])
}
