package executor_test

import (
	"testing"

	"github.com/flowrun/flowrun/internal/application/executor"
	"github.com/flowrun/flowrun/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestMergeCoordinator_WaitAllRequiresEveryBranch(t *testing.T) {
	mc := executor.NewMergeCoordinator()
	executionID, nodeID := uuid.New(), uuid.New()
	edgeA, edgeB := uuid.New(), uuid.New()
	nodeA, nodeB := uuid.New(), uuid.New()

	mc.RegisterMerge(executionID, nodeID, &executor.MergeConfig{
		Strategy:      domain.JoinStrategyWaitAll,
		DataMode:      domain.MergeDataModeAppend,
		ExpectedCount: 2,
	})

	result, err := mc.RecordArrival(executionID, nodeID, edgeA, nodeA, map[string]any{"v": "a1"})
	require.NoError(t, err)
	require.False(t, result.Complete)
	require.True(t, result.Pending)

	result, err = mc.RecordArrival(executionID, nodeID, edgeB, nodeB, map[string]any{"v": "b1"})
	require.NoError(t, err)
	require.True(t, result.Complete)
	require.Equal(t, []any{map[string]any{"v": "a1"}, map[string]any{"v": "b1"}}, result.Items)
}

func TestMergeCoordinator_WaitAnyCompletesOnFirstBranch(t *testing.T) {
	mc := executor.NewMergeCoordinator()
	executionID, nodeID := uuid.New(), uuid.New()
	edgeA, nodeA := uuid.New(), uuid.New()

	mc.RegisterMerge(executionID, nodeID, &executor.MergeConfig{
		Strategy:      domain.JoinStrategyWaitAny,
		DataMode:      domain.MergeDataModePassThrough,
		ExpectedCount: 2,
	})

	result, err := mc.RecordArrival(executionID, nodeID, edgeA, nodeA, map[string]any{"v": "a1"})
	require.NoError(t, err)
	require.True(t, result.Complete)
}

func TestMergeCoordinator_WaitNUsesConfiguredThreshold(t *testing.T) {
	mc := executor.NewMergeCoordinator()
	executionID, nodeID := uuid.New(), uuid.New()
	edgeA, edgeB, edgeC := uuid.New(), uuid.New(), uuid.New()
	nodeA, nodeB, nodeC := uuid.New(), uuid.New(), uuid.New()

	mc.RegisterMerge(executionID, nodeID, &executor.MergeConfig{
		Strategy:      domain.JoinStrategyWaitN,
		WaitN:         2,
		DataMode:      domain.MergeDataModeAppend,
		ExpectedCount: 3,
	})

	result, _ := mc.RecordArrival(executionID, nodeID, edgeA, nodeA, map[string]any{"v": "a"})
	require.False(t, result.Complete)
	result, _ = mc.RecordArrival(executionID, nodeID, edgeB, nodeB, map[string]any{"v": "b"})
	require.True(t, result.Complete)
	require.Len(t, result.Items, 2)

	result, err := mc.RecordArrival(executionID, nodeID, edgeC, nodeC, map[string]any{"v": "c"})
	require.NoError(t, err) // already-fired merge is a safe no-op
	require.True(t, result.Complete)
	require.Len(t, result.Items, 2)
}

func TestMergeCoordinator_JoinMergesFieldsAcrossBranches(t *testing.T) {
	mc := executor.NewMergeCoordinator()
	executionID, nodeID := uuid.New(), uuid.New()
	edgeA, edgeB := uuid.New(), uuid.New()
	nodeA, nodeB := uuid.New(), uuid.New()

	mc.RegisterMerge(executionID, nodeID, &executor.MergeConfig{
		Strategy:      domain.JoinStrategyWaitAll,
		DataMode:      domain.MergeDataModeJoin,
		ExpectedCount: 2,
	})

	mc.RecordArrival(executionID, nodeID, edgeA, nodeA, map[string]any{"x": 1})
	result, err := mc.RecordArrival(executionID, nodeID, edgeB, nodeB, map[string]any{"y": 2})
	require.NoError(t, err)
	require.True(t, result.Complete)
	require.Equal(t, []any{map[string]any{"x": 1, "y": 2}}, result.Items)
}

func TestMergeCoordinator_DeepMergeConflictPolicies(t *testing.T) {
	executionID, nodeID := uuid.New(), uuid.New()
	edgeA, edgeB := uuid.New(), uuid.New()
	nodeA, nodeB := uuid.New(), uuid.New()

	for _, tc := range []struct {
		policy domain.DeepMergeConflictPolicy
		want   any
	}{
		{domain.DeepMergeConflictFirst, "a"},
		{domain.DeepMergeConflictLast, "b"},
		{domain.DeepMergeConflictMerge, []any{"a", "b"}},
	} {
		mc := executor.NewMergeCoordinator()
		mc.RegisterMerge(executionID, nodeID, &executor.MergeConfig{
			Strategy:       domain.JoinStrategyWaitAll,
			DataMode:       domain.MergeDataModeDeepMerge,
			ConflictPolicy: tc.policy,
			ExpectedCount:  2,
		})

		mc.RecordArrival(executionID, nodeID, edgeA, nodeA, map[string]any{"k": "a"})
		result, err := mc.RecordArrival(executionID, nodeID, edgeB, nodeB, map[string]any{"k": "b"})
		require.NoError(t, err)
		require.True(t, result.Complete)
		merged := result.Items[0].(map[string]any)
		require.Equal(t, tc.want, merged["k"])
	}
}

func TestMergeCoordinator_KeyedMergeGroupsDuplicates(t *testing.T) {
	mc := executor.NewMergeCoordinator()
	executionID, nodeID := uuid.New(), uuid.New()
	edgeA, edgeB := uuid.New(), uuid.New()
	nodeA, nodeB := uuid.New(), uuid.New()

	mc.RegisterMerge(executionID, nodeID, &executor.MergeConfig{
		Strategy:      domain.JoinStrategyWaitAll,
		DataMode:      domain.MergeDataModeKeyedMerge,
		KeyField:      "id",
		ExpectedCount: 2,
	})

	mc.RecordArrival(executionID, nodeID, edgeA, nodeA, map[string]any{"id": "1", "name": "first"})
	result, err := mc.RecordArrival(executionID, nodeID, edgeB, nodeB, map[string]any{"id": "1", "age": 30})
	require.NoError(t, err)
	require.True(t, result.Complete)
	require.Len(t, result.Items, 1)
	merged := result.Items[0].(map[string]any)
	require.Equal(t, "first", merged["name"])
	require.Equal(t, 30, merged["age"])
}

func TestMergeCoordinator_CancelFiresWithWhateverArrived(t *testing.T) {
	mc := executor.NewMergeCoordinator()
	executionID, nodeID := uuid.New(), uuid.New()
	edgeA, nodeA := uuid.New(), uuid.New()

	mc.RegisterMerge(executionID, nodeID, &executor.MergeConfig{
		Strategy:      domain.JoinStrategyWaitAll,
		DataMode:      domain.MergeDataModeAppend,
		ExpectedCount: 2,
	})
	mc.RecordArrival(executionID, nodeID, edgeA, nodeA, map[string]any{"v": "a"})

	result, err := mc.Cancel(executionID, nodeID)
	require.NoError(t, err)
	require.True(t, result.Complete)
	require.Equal(t, []any{map[string]any{"v": "a"}}, result.Items)

	state, ok := mc.GetState(executionID, nodeID)
	require.True(t, ok)
	require.True(t, state.HasFired())
}

func TestMergeCoordinator_RecordArrivalUnregisteredFails(t *testing.T) {
	mc := executor.NewMergeCoordinator()
	_, err := mc.RecordArrival(uuid.New(), uuid.New(), uuid.New(), uuid.New(), nil)
	require.Error(t, err)
}

func TestMergeCoordinator_Forget(t *testing.T) {
	mc := executor.NewMergeCoordinator()
	executionID, nodeID := uuid.New(), uuid.New()
	mc.RegisterMerge(executionID, nodeID, &executor.MergeConfig{
		Strategy:      domain.JoinStrategyWaitAll,
		DataMode:      domain.MergeDataModeAppend,
		ExpectedCount: 1,
	})
	mc.Forget(executionID, nodeID)
	_, ok := mc.GetState(executionID, nodeID)
	require.False(t, ok)
}
