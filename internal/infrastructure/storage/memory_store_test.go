package storage_test

import (
	"context"
	"testing"

	"github.com/flowrun/flowrun/internal/domain"
	"github.com/flowrun/flowrun/internal/infrastructure/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_WorkflowRoundTrip(t *testing.T) {
	s := storage.NewMemoryStore()
	ctx := context.Background()

	w, err := domain.NewWorkflow("demo", "1", "test workflow", map[string]any{})
	require.NoError(t, err)

	nodeID, err := w.AddNode(domain.NodeTypeHTTP, "call api", map[string]any{"url": "https://example.com"})
	require.NoError(t, err)
	otherID, err := w.AddNode(domain.NodeTypeTransform, "reshape", map[string]any{})
	require.NoError(t, err)
	_, err = w.AddEdgeWithPorts(nodeID, otherID, domain.EdgeTypeDirect, map[string]any{}, "", "", "")
	require.NoError(t, err)

	require.NoError(t, s.SaveWorkflow(ctx, w))

	got, err := s.GetWorkflow(ctx, w.ID())
	require.NoError(t, err)
	assert.Equal(t, "demo", got.Name())
	assert.Len(t, got.GetAllNodes(), 2)
	assert.Len(t, got.GetAllEdges(), 1)

	byName, err := s.GetWorkflowByName(ctx, "demo", "1")
	require.NoError(t, err)
	assert.Equal(t, w.ID(), byName.ID())

	exists, err := s.WorkflowExists(ctx, w.ID())
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestMemoryStore_ExecutionRebuildsFromEvents(t *testing.T) {
	s := storage.NewMemoryStore()
	ctx := context.Background()

	workflowID := uuid.New()
	executionID := uuid.New()
	triggerID := uuid.New()

	started := domain.NewExecutionStartedEvent(executionID, workflowID, 1, triggerID, map[string]any{"x": 1})
	require.NoError(t, s.AppendEvent(ctx, started))

	completed := domain.NewExecutionCompletedEvent(executionID, workflowID, 2, map[string]any{"x": 1}, 0)
	require.NoError(t, s.AppendEvent(ctx, completed))

	exec, err := s.GetExecution(ctx, executionID)
	require.NoError(t, err)
	assert.Equal(t, workflowID, exec.WorkflowID())
	assert.Equal(t, domain.ExecutionPhaseCompleted, exec.Phase())

	byWorkflow, err := s.ListExecutionsByWorkflow(ctx, workflowID)
	require.NoError(t, err)
	assert.Len(t, byWorkflow, 1)
}

func TestMemoryStore_SuspensionLifecycle(t *testing.T) {
	s := storage.NewMemoryStore()
	ctx := context.Background()

	sus := domain.NewSuspension(uuid.New(), uuid.New(), uuid.New(), domain.SuspensionKindWebhook)
	sus.Token = "tok-abc"
	require.NoError(t, s.SaveSuspension(ctx, sus))

	pending, err := s.ListPendingSuspensions(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	got, err := s.GetSuspensionByToken(ctx, "tok-abc")
	require.NoError(t, err)
	assert.True(t, got.Resolve(map[string]any{"ok": true}))
	assert.False(t, got.Resolve(map[string]any{"ok": false}))

	pending, err = s.ListPendingSuspensions(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 0)
}

func TestMemoryStore_MergeStateTracksArrivals(t *testing.T) {
	s := storage.NewMemoryStore()
	ctx := context.Background()

	executionID, nodeID := uuid.New(), uuid.New()
	m := domain.NewMergeState(executionID, nodeID, domain.JoinStrategyWaitAll, domain.MergeDataModeAppend, 2, 0)
	m.RecordArrival(uuid.New(), uuid.New(), map[string]any{"a": 1})
	require.NoError(t, s.SaveMergeState(ctx, m))

	got, err := s.GetMergeState(ctx, executionID, nodeID)
	require.NoError(t, err)
	assert.False(t, got.IsSatisfied())

	got.RecordArrival(uuid.New(), uuid.New(), map[string]any{"b": 2})
	assert.True(t, got.IsSatisfied())
	assert.True(t, got.Fire())
	assert.False(t, got.Fire())
}
