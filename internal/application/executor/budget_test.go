package executor_test

import (
	"testing"

	"github.com/flowrun/flowrun/internal/application/executor"
	"github.com/flowrun/flowrun/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func buildLLMWorkflow(t *testing.T, model string, maxTokens float64) *executor.WorkflowGraph {
	t.Helper()
	w, err := domain.NewWorkflow("llm-flow", "1", "", map[string]any{})
	require.NoError(t, err)

	_, err = w.AddNode(domain.NodeTypeLLM, "call", map[string]any{
		"model":      model,
		"max_tokens": maxTokens,
	})
	require.NoError(t, err)

	g, err := executor.NewWorkflowGraph(w)
	require.NoError(t, err)
	return g
}

func TestBudgetGovernor_EstimateMaxCostIgnoresNonLLMNodes(t *testing.T) {
	w, err := domain.NewWorkflow("http-flow", "1", "", map[string]any{})
	require.NoError(t, err)
	_, err = w.AddNode(domain.NodeTypeHTTP, "call", map[string]any{})
	require.NoError(t, err)
	g, err := executor.NewWorkflowGraph(w)
	require.NoError(t, err)

	bg := executor.NewBudgetGovernor()
	cost, err := bg.EstimateMaxCost(g)
	require.NoError(t, err)
	require.Zero(t, cost)
}

func TestBudgetGovernor_EstimateMaxCostUsesModelRate(t *testing.T) {
	g := buildLLMWorkflow(t, "gpt-4", 2000)

	bg := executor.NewBudgetGovernor()
	cost, err := bg.EstimateMaxCost(g)
	require.NoError(t, err)
	require.InDelta(t, 2000.0/1000.0*0.06, cost, 1e-9)
}

func TestBudgetGovernor_EstimateMaxCostUnknownModelUsesDefaultRate(t *testing.T) {
	g := buildLLMWorkflow(t, "some-future-model", 1000)

	bg := executor.NewBudgetGovernor()
	cost, err := bg.EstimateMaxCost(g)
	require.NoError(t, err)
	require.Greater(t, cost, 0.0)
}

func TestBudgetGovernor_EstimateMaxCostMultipliesLoopScopedNodes(t *testing.T) {
	w, err := domain.NewWorkflow("loop-llm", "1", "", map[string]any{})
	require.NoError(t, err)

	loopID, err := w.AddNode(domain.NodeTypeSplitInBatches, "loop", map[string]any{
		"max_iterations": 10,
	})
	require.NoError(t, err)
	bodyID, err := w.AddNode(domain.NodeTypeLLM, "body", map[string]any{
		"model":      "gpt-4o",
		"max_tokens": 1000,
	})
	require.NoError(t, err)

	_, err = w.AddEdge(loopID, bodyID, domain.EdgeTypeDirect, map[string]any{})
	require.NoError(t, err)
	_, err = w.AddEdgeWithPorts(bodyID, loopID, domain.EdgeTypeDirect, map[string]any{}, domain.LoopPort, "", "")
	require.NoError(t, err)

	g, err := executor.NewWorkflowGraph(w)
	require.NoError(t, err)

	bg := executor.NewBudgetGovernor()
	cost, err := bg.EstimateMaxCost(g)
	require.NoError(t, err)

	perIteration := 1000.0 / 1000.0 * 0.015 // gpt-4o completion rate
	require.InDelta(t, perIteration*10, cost, 1e-9)
}

func TestBudgetGovernor_CheckPreflightRejectsOverBudget(t *testing.T) {
	g := buildLLMWorkflow(t, "gpt-4", 100000)

	bg := executor.NewBudgetGovernor()
	err := bg.CheckPreflight(uuid.New(), g, 0.01, true)
	require.Error(t, err)

	var domainErr *domain.DomainError
	require.ErrorAs(t, err, &domainErr)
	require.Equal(t, domain.ErrCodeBudgetExceeded, domainErr.Code)
}

func TestBudgetGovernor_CheckPreflightSkipsEstimationWhenNotEnforced(t *testing.T) {
	g := buildLLMWorkflow(t, "gpt-4", 100000)

	bg := executor.NewBudgetGovernor()
	err := bg.CheckPreflight(uuid.New(), g, 0.0, false)
	require.NoError(t, err)
}

func TestBudgetGovernor_RecordSpendAndMidRunGating(t *testing.T) {
	executionID := uuid.New()
	g := buildLLMWorkflow(t, "gpt-4", 10)

	bg := executor.NewBudgetGovernor()
	require.NoError(t, bg.CheckPreflight(executionID, g, 0.001, true))

	cost := bg.RecordSpend(executionID, 100, 100, "gpt-4")
	require.Greater(t, cost, 0.0)

	err := bg.CheckMidRun(executionID)
	require.Error(t, err)
}

func TestBudgetGovernor_MidRunGatingNoOpWhenNotEnforced(t *testing.T) {
	executionID := uuid.New()
	g := buildLLMWorkflow(t, "gpt-4", 10)

	bg := executor.NewBudgetGovernor()
	require.NoError(t, bg.CheckPreflight(executionID, g, 0.0, false))
	bg.RecordSpend(executionID, 1000000, 1000000, "gpt-4")

	require.NoError(t, bg.CheckMidRun(executionID))
}

func TestBudgetGovernor_ForgetClearsTrackedState(t *testing.T) {
	executionID := uuid.New()
	g := buildLLMWorkflow(t, "gpt-4", 10)

	bg := executor.NewBudgetGovernor()
	require.NoError(t, bg.CheckPreflight(executionID, g, 1.0, true))
	bg.Forget(executionID)

	require.Nil(t, bg.Usage(executionID))
}
