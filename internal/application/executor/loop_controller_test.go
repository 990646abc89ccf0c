package executor_test

import (
	"testing"
	"time"

	"github.com/flowrun/flowrun/internal/application/executor"
	"github.com/flowrun/flowrun/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// buildLoopWorkflow wires loop -> body -> loop (back-edge on the loop port),
// and loop -> after once the loop is done.
func buildLoopWorkflow(t *testing.T) (domain.Workflow, uuid.UUID, uuid.UUID, uuid.UUID) {
	t.Helper()
	w, err := domain.NewWorkflow("batch", "1", "", map[string]any{})
	require.NoError(t, err)

	loopID, err := w.AddNode(domain.NodeTypeSplitInBatches, "loop", map[string]any{})
	require.NoError(t, err)
	bodyID, err := w.AddNode(domain.NodeTypeHTTP, "body", map[string]any{})
	require.NoError(t, err)
	afterID, err := w.AddNode(domain.NodeTypeTransform, "after", map[string]any{})
	require.NoError(t, err)

	_, err = w.AddEdge(loopID, bodyID, domain.EdgeTypeDirect, map[string]any{})
	require.NoError(t, err)
	_, err = w.AddEdgeWithPorts(bodyID, loopID, domain.EdgeTypeDirect, map[string]any{}, domain.LoopPort, "", "")
	require.NoError(t, err)
	_, err = w.AddEdge(loopID, afterID, domain.EdgeTypeDirect, map[string]any{})
	require.NoError(t, err)

	return w, loopID, bodyID, afterID
}

func TestComputeScope_FindsLoopBody(t *testing.T) {
	w, loopID, bodyID, afterID := buildLoopWorkflow(t)
	graph, err := executor.NewWorkflowGraph(w)
	require.NoError(t, err)

	scope, err := executor.ComputeScope(graph, loopID)
	require.NoError(t, err)
	require.Contains(t, scope, bodyID)
	require.NotContains(t, scope, afterID)
}

func TestLoopController_StartLoopIsIdempotent(t *testing.T) {
	w, loopID, _, _ := buildLoopWorkflow(t)
	graph, err := executor.NewWorkflowGraph(w)
	require.NoError(t, err)

	lc := executor.NewLoopController()
	executionID := uuid.New()
	items := []any{"a", "b", "c"}

	state, err := lc.StartLoop(executionID, loopID, items, 1, graph)
	require.NoError(t, err)
	require.Equal(t, items, state.Items)

	again, err := lc.StartLoop(executionID, loopID, []any{"x"}, 5, graph)
	require.NoError(t, err)
	require.Same(t, state, again)
}

func TestLoopController_AdvanceTracksIteration(t *testing.T) {
	w, loopID, _, _ := buildLoopWorkflow(t)
	graph, err := executor.NewWorkflowGraph(w)
	require.NoError(t, err)

	lc := executor.NewLoopController()
	executionID := uuid.New()
	_, err = lc.StartLoop(executionID, loopID, []any{"a", "b"}, 1, graph)
	require.NoError(t, err)

	require.NoError(t, lc.Advance(executionID, loopID, 0))
	state, ok := lc.GetLoop(executionID, loopID)
	require.True(t, ok)
	require.Equal(t, 1, state.Iteration)
}

func TestLoopController_AdvanceRejectsUnknownLoop(t *testing.T) {
	lc := executor.NewLoopController()
	err := lc.Advance(uuid.New(), uuid.New(), 0)
	require.Error(t, err)
}

func TestLoopController_AdvanceEnforcesMaxIterations(t *testing.T) {
	w, loopID, _, _ := buildLoopWorkflow(t)
	graph, err := executor.NewWorkflowGraph(w)
	require.NoError(t, err)

	lc := executor.NewLoopController()
	executionID := uuid.New()
	_, err = lc.StartLoop(executionID, loopID, []any{"a", "b", "c"}, 1, graph)
	require.NoError(t, err)

	require.NoError(t, lc.Advance(executionID, loopID, 1))
	err = lc.Advance(executionID, loopID, 1)
	require.Error(t, err)
}

func TestLoopController_BuildLoopContext(t *testing.T) {
	w, loopID, _, _ := buildLoopWorkflow(t)
	graph, err := executor.NewWorkflowGraph(w)
	require.NoError(t, err)

	lc := executor.NewLoopController()
	executionID := uuid.New()
	_, err = lc.StartLoop(executionID, loopID, []any{"a", "b", "c"}, 1, graph)
	require.NoError(t, err)

	ctx := lc.BuildLoopContext(executionID, loopID)
	require.NotNil(t, ctx)
	require.Equal(t, 0, ctx.RunIndex)
	require.Equal(t, 3, ctx.TotalItems)
	require.False(t, ctx.IsLastBatch)

	require.NoError(t, lc.Advance(executionID, loopID, 0))
	require.NoError(t, lc.Advance(executionID, loopID, 0))
	ctx = lc.BuildLoopContext(executionID, loopID)
	require.NotNil(t, ctx)
	require.True(t, ctx.IsLastBatch)
}

func TestLoopController_BuildLoopContext_UnknownLoopReturnsNil(t *testing.T) {
	lc := executor.NewLoopController()
	require.Nil(t, lc.BuildLoopContext(uuid.New(), uuid.New()))
}

func TestLoopController_CollectScopedOutputs(t *testing.T) {
	w, loopID, bodyID, _ := buildLoopWorkflow(t)
	graph, err := executor.NewWorkflowGraph(w)
	require.NoError(t, err)

	lc := executor.NewLoopController()
	executionID := uuid.New()
	_, err = lc.StartLoop(executionID, loopID, []any{"a", "b"}, 1, graph)
	require.NoError(t, err)

	exec, err := domain.NewExecution(uuid.Nil, w.ID())
	require.NoError(t, err)
	require.NoError(t, exec.Start(uuid.New(), map[string]any{}))
	require.NoError(t, exec.StartNode(bodyID, "body", domain.NodeTypeHTTP, map[string]any{}))
	require.NoError(t, exec.CompleteNode(bodyID, "body", domain.NodeTypeHTTP, map[string]any{"status": "ok"}, time.Millisecond))

	collected := map[uuid.UUID]map[string]any{}
	err = lc.CollectScopedOutputs(exec, executionID, loopID, func(nodeID uuid.UUID, output map[string]any) {
		collected[nodeID] = output
	})
	require.NoError(t, err)
	require.Equal(t, "ok", collected[bodyID]["status"])
}

func TestLoopController_Forget(t *testing.T) {
	w, loopID, _, _ := buildLoopWorkflow(t)
	graph, err := executor.NewWorkflowGraph(w)
	require.NoError(t, err)

	lc := executor.NewLoopController()
	executionID := uuid.New()
	_, err = lc.StartLoop(executionID, loopID, []any{"a"}, 1, graph)
	require.NoError(t, err)

	lc.Forget(executionID, loopID)
	_, ok := lc.GetLoop(executionID, loopID)
	require.False(t, ok)
}
