package executor_test

import (
	"testing"
	"time"

	"github.com/flowrun/flowrun/internal/application/executor"
	"github.com/flowrun/flowrun/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestExecutionWithNode(t *testing.T) (domain.Execution, uuid.UUID) {
	t.Helper()
	workflowID := uuid.New()
	exec, err := domain.NewExecution(uuid.Nil, workflowID)
	require.NoError(t, err)
	require.NoError(t, exec.Start(uuid.New(), map[string]any{"order_id": "A1", "amount": 42}))

	nodeID := uuid.New()
	require.NoError(t, exec.StartNode(nodeID, "fetch", domain.NodeTypeHTTP, map[string]any{}))
	require.NoError(t, exec.CompleteNode(nodeID, "fetch", domain.NodeTypeHTTP, map[string]any{"status": "ok"}, time.Millisecond))

	return exec, nodeID
}

type recordingSecurityLogger struct {
	paths []string
}

func (r *recordingSecurityLogger) LogForbiddenPathAccess(path string) {
	r.paths = append(r.paths, path)
}

func TestVariableResolver_PureReferenceTyping(t *testing.T) {
	exec, _ := newTestExecutionWithNode(t)
	resolver := executor.NewVariableResolver(executor.NewConditionEvaluator(true), nil)

	value, err := resolver.Resolve("{{variables.amount}}", &executor.ResolutionScope{Execution: exec})
	require.NoError(t, err)
	require.Equal(t, 42, value)
}

func TestVariableResolver_MixedText_ReturnsStringified(t *testing.T) {
	exec, _ := newTestExecutionWithNode(t)
	resolver := executor.NewVariableResolver(executor.NewConditionEvaluator(true), nil)

	value, err := resolver.Resolve("order {{variables.order_id}} total {{variables.amount}}", &executor.ResolutionScope{Execution: exec})
	require.NoError(t, err)
	require.Equal(t, "order A1 total 42", value)
}

func TestVariableResolver_NodeOutputLookup(t *testing.T) {
	exec, nodeID := newTestExecutionWithNode(t)
	resolver := executor.NewVariableResolver(executor.NewConditionEvaluator(true), nil)

	path := "{{" + nodeID.String() + ".output.status}}"
	value, err := resolver.Resolve(path, &executor.ResolutionScope{Execution: exec})
	require.NoError(t, err)
	require.Equal(t, "ok", value)
}

func TestVariableResolver_MissingPathResolvesToUndefined(t *testing.T) {
	exec, _ := newTestExecutionWithNode(t)
	resolver := executor.NewVariableResolver(executor.NewConditionEvaluator(true), nil)

	value, err := resolver.Resolve("{{variables.does_not_exist}}", &executor.ResolutionScope{Execution: exec})
	require.NoError(t, err)
	require.Nil(t, value)
}

func TestVariableResolver_ForbiddenPathRejected(t *testing.T) {
	exec, _ := newTestExecutionWithNode(t)
	security := &recordingSecurityLogger{}
	resolver := executor.NewVariableResolver(executor.NewConditionEvaluator(true), security)

	_, err := resolver.Resolve("{{variables.__proto__.polluted}}", &executor.ResolutionScope{Execution: exec})
	require.Error(t, err)
	require.ErrorIs(t, err, executor.ErrForbiddenPath)
	require.Len(t, security.paths, 1)
}

func TestVariableResolver_PureExpressionReturnsNativeValue(t *testing.T) {
	exec, _ := newTestExecutionWithNode(t)
	resolver := executor.NewVariableResolver(executor.NewConditionEvaluator(true), nil)

	value, err := resolver.Resolve("${variables.amount > 10}", &executor.ResolutionScope{Execution: exec})
	require.NoError(t, err)
	require.Equal(t, true, value)
}

func TestVariableResolver_LoopContextVariables(t *testing.T) {
	exec, _ := newTestExecutionWithNode(t)
	resolver := executor.NewVariableResolver(executor.NewConditionEvaluator(true), nil)

	scope := &executor.ResolutionScope{
		Execution: exec,
		LoopStack: []*executor.LoopContext{{
			LoopNodeID: uuid.New(),
			ItemIndex:  2,
			TotalItems: 5,
		}},
	}

	value, err := resolver.Resolve("{{$itemIndex}}", scope)
	require.NoError(t, err)
	require.Equal(t, 2, value)
}

func TestVariableResolver_PlainStringPassesThrough(t *testing.T) {
	resolver := executor.NewVariableResolver(executor.NewConditionEvaluator(true), nil)
	value, err := resolver.Resolve("no templates here", &executor.ResolutionScope{})
	require.NoError(t, err)
	require.Equal(t, "no templates here", value)
}
