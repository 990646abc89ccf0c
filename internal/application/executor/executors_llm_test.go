package executor_test

import (
	"context"
	"testing"

	"github.com/flowrun/flowrun/internal/application/executor"
	"github.com/flowrun/flowrun/internal/domain"

	"github.com/stretchr/testify/require"
)

func TestOpenAICompletionExecutor_MissingPrompt(t *testing.T) {
	node := newTestNode(t, domain.NodeTypeLLM, map[string]any{
		"model": "gpt-4o-mini",
	})

	exec := executor.NewOpenAICompletionExecutor("test-key", "")
	_, err := exec.Execute(context.Background(), node, newTestInputs(t, nil))
	require.Error(t, err)
}
