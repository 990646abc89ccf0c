package executor

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/flowrun/flowrun/internal/domain"
)

// OpenAICompletionExecutor executes NodeTypeLLM nodes configured with the
// "openai-completion" NodeExecutorType: render the prompt template against
// bound inputs, call the chat completion API, and store the reply.
type OpenAICompletionExecutor struct {
	client       *openai.Client
	defaultModel string
}

// NewOpenAICompletionExecutor creates an executor backed by the given API key.
// A per-node "api_key" config value overrides it.
func NewOpenAICompletionExecutor(apiKey, defaultModel string) *OpenAICompletionExecutor {
	if defaultModel == "" {
		defaultModel = openai.GPT4o
	}
	return &OpenAICompletionExecutor{
		client:       openai.NewClient(apiKey),
		defaultModel: defaultModel,
	}
}

func (e *OpenAICompletionExecutor) Execute(ctx context.Context, node domain.Node, inputs *NodeExecutionInputs) (map[string]any, error) {
	cfg, err := parseConfig[OpenAICompletionConfig](node.Config())
	if err != nil {
		return nil, fmt.Errorf("llm node %s: invalid config: %w", node.Name(), err)
	}
	if cfg.Prompt == "" {
		return nil, fmt.Errorf("llm node %s: prompt is required", node.Name())
	}

	client := e.client
	if cfg.APIKey != "" {
		client = openai.NewClient(cfg.APIKey)
	}

	model := cfg.Model
	if model == "" {
		model = e.defaultModel
	}

	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: cfg.Prompt},
		},
	}
	if cfg.MaxTokens > 0 {
		req.MaxTokens = cfg.MaxTokens
	}
	if cfg.Temperature > 0 {
		req.Temperature = float32(cfg.Temperature)
	}

	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("llm node %s: completion request failed: %w", node.Name(), err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llm node %s: completion returned no choices", node.Name())
	}

	outputKey := cfg.OutputKey
	if outputKey == "" {
		outputKey = "output"
	}

	return map[string]any{
		outputKey:          resp.Choices[0].Message.Content,
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
		"total_tokens":      resp.Usage.TotalTokens,
		"model":             resp.Model,
	}, nil
}
