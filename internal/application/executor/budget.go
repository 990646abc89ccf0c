package executor

import (
	"sync"

	"github.com/google/uuid"

	"github.com/flowrun/flowrun/internal/domain"
)

// ModelRate is the per-1000-token price for one LLM model, generalizing the
// source's single hard-coded GPT-4 rate (AIMetrics.RecordAIRequest) into a
// table keyed by model name.
type ModelRate struct {
	PromptPer1K     float64
	CompletionPer1K float64
}

// DefaultModelRates seeds the table with the same GPT-4 pricing the source
// had hard-coded, plus a handful of other common models; callers can
// override or extend it via BudgetGovernor.SetModelRate.
func DefaultModelRates() map[string]ModelRate {
	return map[string]ModelRate{
		"gpt-4":         {PromptPer1K: 0.03, CompletionPer1K: 0.06},
		"gpt-4o":        {PromptPer1K: 0.005, CompletionPer1K: 0.015},
		"gpt-4o-mini":   {PromptPer1K: 0.00015, CompletionPer1K: 0.0006},
		"gpt-3.5-turbo": {PromptPer1K: 0.0005, CompletionPer1K: 0.0015},
	}
}

// defaultModelRate is used for a model name absent from the rate table, so
// an unrecognized model still contributes a nominal cost to the estimate
// rather than being silently treated as free.
var defaultModelRate = ModelRate{PromptPer1K: 0.01, CompletionPer1K: 0.03}

// defaultEstimatedTokensPerCall is assumed per LLM invocation when a node's
// config does not pin max_tokens, so pre-flight estimation has a number to
// multiply against even for unconfigured nodes.
const defaultEstimatedTokensPerCall = 1000

// BudgetUsage tracks what an execution has spent so far.
type BudgetUsage struct {
	mu          sync.Mutex
	SpentUSD    float64
	TotalTokens int
}

func (u *BudgetUsage) record(tokens int, costUSD float64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.TotalTokens += tokens
	u.SpentUSD += costUSD
}

func (u *BudgetUsage) spent() float64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.SpentUSD
}

// BudgetGovernor estimates a workflow's maximum possible cost before a run
// starts and gates node executions mid-run against a configured ceiling,
// generalizing the source's AIMetrics token-cost accounting (a pure
// observability counter) into an enforcement gate with a pre-flight
// estimate.
type BudgetGovernor struct {
	mu       sync.Mutex
	rates    map[string]ModelRate
	limits   map[uuid.UUID]float64 // per-execution budget ceiling
	usage    map[uuid.UUID]*BudgetUsage
	enforced map[uuid.UUID]bool
}

// NewBudgetGovernor creates a governor seeded with DefaultModelRates.
func NewBudgetGovernor() *BudgetGovernor {
	return &BudgetGovernor{
		rates:    DefaultModelRates(),
		limits:   make(map[uuid.UUID]float64),
		usage:    make(map[uuid.UUID]*BudgetUsage),
		enforced: make(map[uuid.UUID]bool),
	}
}

// SetModelRate overrides or adds a model's per-1000-token pricing.
func (bg *BudgetGovernor) SetModelRate(model string, rate ModelRate) {
	bg.mu.Lock()
	defer bg.mu.Unlock()
	bg.rates[model] = rate
}

func (bg *BudgetGovernor) rateFor(model string) ModelRate {
	bg.mu.Lock()
	defer bg.mu.Unlock()
	if rate, ok := bg.rates[model]; ok {
		return rate
	}
	return defaultModelRate
}

// nodeCost estimates one invocation's worst-case USD cost: LLM nodes cost
// their model's rate against max_tokens (or defaultEstimatedTokensPerCall if
// unset); every other node type is free by default, since only `llm`
// consumes the cost budget per the node-output contract.
func (bg *BudgetGovernor) nodeCost(node domain.Node) float64 {
	if node.Type() != domain.NodeTypeLLM {
		return 0
	}

	config := node.Config()
	model, _ := config["model"].(string)
	rate := bg.rateFor(model)

	maxTokens := defaultEstimatedTokensPerCall
	if mt, ok := config["max_tokens"].(float64); ok && mt > 0 {
		maxTokens = int(mt)
	} else if mt, ok := config["max_tokens"].(int); ok && mt > 0 {
		maxTokens = mt
	}

	// Worst case: every requested token is billed at the completion rate,
	// which is never cheaper than a prompt token under the tables above.
	return float64(maxTokens) / 1000.0 * rate.CompletionPer1K
}

// EstimateMaxCost computes the projected worst-case cost of running graph
// to completion once: every node's nodeCost, with nodes scoped inside a
// splitInBatches loop body multiplied by that loop's configured
// max_iterations (DefaultMaxLoopIterations if unset), per the distilled
// spec's budget-check rule.
func (bg *BudgetGovernor) EstimateMaxCost(graph *WorkflowGraph) (float64, error) {
	loopMultiplier := make(map[uuid.UUID]int)

	for _, node := range graph.GetAllNodes() {
		if node.Type() != domain.NodeTypeSplitInBatches {
			continue
		}

		scope, err := ComputeScope(graph, node.ID())
		if err != nil {
			return 0, err
		}

		maxIterations := DefaultMaxLoopIterations
		if mi, ok := node.Config()["max_iterations"].(float64); ok && mi > 0 {
			maxIterations = int(mi)
		} else if mi, ok := node.Config()["max_iterations"].(int); ok && mi > 0 {
			maxIterations = mi
		}

		for _, scopedID := range scope {
			if existing, seen := loopMultiplier[scopedID]; !seen || maxIterations > existing {
				loopMultiplier[scopedID] = maxIterations
			}
		}
	}

	var total float64
	for _, node := range graph.GetAllNodes() {
		cost := bg.nodeCost(node)
		if cost == 0 {
			continue
		}
		if multiplier, scoped := loopMultiplier[node.ID()]; scoped {
			cost *= float64(multiplier)
		}
		total += cost
	}

	return total, nil
}

// CheckPreflight rejects a run before it starts if enforcement is on and
// the projected maximum cost exceeds the configured budget ceiling.
func (bg *BudgetGovernor) CheckPreflight(executionID uuid.UUID, graph *WorkflowGraph, budgetUSD float64, enforce bool) error {
	bg.mu.Lock()
	bg.limits[executionID] = budgetUSD
	bg.enforced[executionID] = enforce
	bg.usage[executionID] = &BudgetUsage{}
	bg.mu.Unlock()

	if !enforce {
		return nil
	}

	projected, err := bg.EstimateMaxCost(graph)
	if err != nil {
		return err
	}

	if projected > budgetUSD {
		return domain.NewDomainError(
			domain.ErrCodeBudgetExceeded,
			"projected maximum cost exceeds remaining budget",
			nil,
		)
	}

	return nil
}

// RecordSpend accounts one node's actual token usage and cost against an
// execution's running total, mirroring AIMetrics.RecordAIRequest's
// bookkeeping but keyed per-execution instead of process-wide.
func (bg *BudgetGovernor) RecordSpend(executionID uuid.UUID, promptTokens, completionTokens int, model string) float64 {
	rate := bg.rateFor(model)
	cost := float64(promptTokens)/1000.0*rate.PromptPer1K + float64(completionTokens)/1000.0*rate.CompletionPer1K

	bg.mu.Lock()
	usage, ok := bg.usage[executionID]
	if !ok {
		usage = &BudgetUsage{}
		bg.usage[executionID] = usage
	}
	bg.mu.Unlock()

	usage.record(promptTokens+completionTokens, cost)
	return cost
}

// CheckMidRun rejects the next node dispatch if enforcement is on and the
// execution's running spend has already reached its ceiling. Unlike
// CheckPreflight (a projection), this gates on actual recorded spend.
func (bg *BudgetGovernor) CheckMidRun(executionID uuid.UUID) error {
	bg.mu.Lock()
	enforce := bg.enforced[executionID]
	limit := bg.limits[executionID]
	usage := bg.usage[executionID]
	bg.mu.Unlock()

	if !enforce || usage == nil {
		return nil
	}

	if usage.spent() >= limit {
		return domain.NewDomainError(
			domain.ErrCodeBudgetExceeded,
			"execution has exhausted its cost budget",
			nil,
		)
	}

	return nil
}

// Usage returns an execution's running spend, or nil if untracked.
func (bg *BudgetGovernor) Usage(executionID uuid.UUID) *BudgetUsage {
	bg.mu.Lock()
	defer bg.mu.Unlock()
	return bg.usage[executionID]
}

// Forget drops an execution's tracked limit and usage once it has reached
// a terminal state.
func (bg *BudgetGovernor) Forget(executionID uuid.UUID) {
	bg.mu.Lock()
	defer bg.mu.Unlock()
	delete(bg.limits, executionID)
	delete(bg.usage, executionID)
	delete(bg.enforced, executionID)
}
