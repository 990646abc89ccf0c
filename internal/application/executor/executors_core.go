package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flowrun/flowrun/internal/domain"
)

// HTTPExecutor executes NodeTypeHTTP nodes by issuing the configured request
// and storing the decoded response under OutputKey.
type HTTPExecutor struct {
	client *http.Client
}

// NewHTTPExecutor creates an HTTPExecutor with a bounded default client.
func NewHTTPExecutor(client *http.Client) *HTTPExecutor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPExecutor{client: client}
}

func (e *HTTPExecutor) Execute(ctx context.Context, node domain.Node, inputs *NodeExecutionInputs) (map[string]any, error) {
	cfg, err := parseConfig[HTTPRequestConfig](node.Config())
	if err != nil {
		return nil, fmt.Errorf("http node %s: invalid config: %w", node.Name(), err)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("http node %s: url is required", node.Name())
	}

	method := cfg.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if cfg.Body != nil {
		switch b := cfg.Body.(type) {
		case string:
			bodyReader = bytes.NewBufferString(b)
		default:
			encoded, err := json.Marshal(b)
			if err != nil {
				return nil, fmt.Errorf("http node %s: failed to marshal body: %w", node.Name(), err)
			}
			bodyReader = bytes.NewBuffer(encoded)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("http node %s: failed to build request: %w", node.Name(), err)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Content-Type") == "" && bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http node %s: request failed: %w", node.Name(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("http node %s: failed to read response: %w", node.Name(), err)
	}

	var decoded any
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		decoded = string(respBody)
	}

	outputKey := cfg.OutputKey
	if outputKey == "" {
		outputKey = "output"
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("http node %s: server returned status %d", node.Name(), resp.StatusCode)
	}

	return map[string]any{
		outputKey:     decoded,
		"status_code": resp.StatusCode,
	}, nil
}

// DataMergerExecutor implements NodeTypeMerge-adjacent data-combining nodes
// configured as "data-merger" (see NodeExecutorType): pick the first
// available source, or merge them all into one map.
type DataMergerExecutor struct{}

func (e *DataMergerExecutor) Execute(ctx context.Context, node domain.Node, inputs *NodeExecutionInputs) (map[string]any, error) {
	cfg, err := parseConfig[DataMergerConfig](node.Config())
	if err != nil {
		return nil, fmt.Errorf("merger node %s: invalid config: %w", node.Name(), err)
	}

	strategy := cfg.Strategy
	if strategy == "" {
		strategy = "select_first_available"
	}
	outputKey := cfg.OutputKey
	if outputKey == "" {
		outputKey = "output"
	}

	vars := inputs.Variables.All()

	switch strategy {
	case "merge_all":
		merged := make(map[string]any)
		for _, source := range cfg.Sources {
			if v, ok := vars[source]; ok {
				merged[source] = v
			}
		}
		return map[string]any{outputKey: merged}, nil
	default: // select_first_available
		for _, source := range cfg.Sources {
			if v, ok := vars[source]; ok {
				return map[string]any{outputKey: v}, nil
			}
		}
		return map[string]any{outputKey: nil}, nil
	}
}

// DataAggregatorExecutor builds a shaped output map by copying named
// variables into named fields ("data-aggregator" NodeExecutorType).
type DataAggregatorExecutor struct{}

func (e *DataAggregatorExecutor) Execute(ctx context.Context, node domain.Node, inputs *NodeExecutionInputs) (map[string]any, error) {
	cfg, err := parseConfig[DataAggregatorConfig](node.Config())
	if err != nil {
		return nil, fmt.Errorf("aggregator node %s: invalid config: %w", node.Name(), err)
	}

	outputKey := cfg.OutputKey
	if outputKey == "" {
		outputKey = "output"
	}

	vars := inputs.Variables.All()
	aggregated := make(map[string]any, len(cfg.Fields))
	for field, source := range cfg.Fields {
		aggregated[field] = vars[source]
	}

	return map[string]any{outputKey: aggregated}, nil
}

// ConditionalRouterExecutor resolves a route identifier from a variable
// value looked up in a static table ("conditional-router" NodeExecutorType).
// Unlike edge conditions (conditions.go), this produces a routing decision
// as node output rather than gating an edge.
type ConditionalRouterExecutor struct{}

func (e *ConditionalRouterExecutor) Execute(ctx context.Context, node domain.Node, inputs *NodeExecutionInputs) (map[string]any, error) {
	cfg, err := parseConfig[ConditionalRouterConfig](node.Config())
	if err != nil {
		return nil, fmt.Errorf("router node %s: invalid config: %w", node.Name(), err)
	}

	value, ok := inputs.Variables.Get(cfg.InputKey)
	if !ok {
		return nil, fmt.Errorf("router node %s: input key %q not found", node.Name(), cfg.InputKey)
	}

	key := fmt.Sprint(value)
	route, ok := cfg.Routes[key]
	if !ok {
		return nil, fmt.Errorf("router node %s: no route configured for value %q", node.Name(), key)
	}

	return map[string]any{"route": route}, nil
}
