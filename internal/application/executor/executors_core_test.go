package executor_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flowrun/flowrun/internal/application/executor"
	"github.com/flowrun/flowrun/internal/domain"

	"github.com/stretchr/testify/require"
)

func newTestNode(t *testing.T, nodeType domain.NodeType, config map[string]any) domain.Node {
	t.Helper()
	w, err := domain.NewWorkflow("wf", "1", "", map[string]any{})
	require.NoError(t, err)
	id, err := w.AddNode(nodeType, "node", config)
	require.NoError(t, err)
	node, err := w.GetNode(id)
	require.NoError(t, err)
	return node
}

func newTestInputs(t *testing.T, vars map[string]any) *executor.NodeExecutionInputs {
	t.Helper()
	vs := domain.NewVariableSet(nil)
	for k, v := range vars {
		require.NoError(t, vs.Set(k, v))
	}
	return &executor.NodeExecutionInputs{
		Variables:     vs,
		GlobalContext: domain.NewVariableSet(nil),
	}
}

func TestHTTPExecutor_Execute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	node := newTestNode(t, domain.NodeTypeHTTP, map[string]any{
		"url":    srv.URL,
		"method": "GET",
	})

	out, err := executor.NewHTTPExecutor(nil).Execute(context.Background(), node, newTestInputs(t, nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, out["status_code"])
	require.Equal(t, map[string]any{"ok": true}, out["output"])
}

func TestHTTPExecutor_MissingURL(t *testing.T) {
	node := newTestNode(t, domain.NodeTypeHTTP, map[string]any{})
	_, err := executor.NewHTTPExecutor(nil).Execute(context.Background(), node, newTestInputs(t, nil))
	require.Error(t, err)
}

func TestHTTPExecutor_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	node := newTestNode(t, domain.NodeTypeHTTP, map[string]any{"url": srv.URL})
	_, err := executor.NewHTTPExecutor(nil).Execute(context.Background(), node, newTestInputs(t, nil))
	require.Error(t, err)
}

func TestDataMergerExecutor_SelectFirstAvailable(t *testing.T) {
	node := newTestNode(t, domain.NodeTypeTransform, map[string]any{
		"strategy": "select_first_available",
		"sources":  []any{"a", "b"},
	})
	inputs := newTestInputs(t, map[string]any{"b": "value-b"})

	out, err := (&executor.DataMergerExecutor{}).Execute(context.Background(), node, inputs)
	require.NoError(t, err)
	require.Equal(t, "value-b", out["output"])
}

func TestDataMergerExecutor_MergeAll(t *testing.T) {
	node := newTestNode(t, domain.NodeTypeTransform, map[string]any{
		"strategy": "merge_all",
		"sources":  []any{"a", "b"},
	})
	inputs := newTestInputs(t, map[string]any{"a": 1, "b": 2})

	out, err := (&executor.DataMergerExecutor{}).Execute(context.Background(), node, inputs)
	require.NoError(t, err)
	merged := out["output"].(map[string]any)
	require.Equal(t, 1, merged["a"])
	require.Equal(t, 2, merged["b"])
}

func TestDataAggregatorExecutor_Execute(t *testing.T) {
	node := newTestNode(t, domain.NodeTypeTransform, map[string]any{
		"fields": map[string]any{
			"total": "sum",
			"label": "name",
		},
	})
	inputs := newTestInputs(t, map[string]any{"sum": 42, "name": "orders"})

	out, err := (&executor.DataAggregatorExecutor{}).Execute(context.Background(), node, inputs)
	require.NoError(t, err)
	aggregated := out["output"].(map[string]any)
	require.Equal(t, 42, aggregated["total"])
	require.Equal(t, "orders", aggregated["label"])
}

func TestConditionalRouterExecutor_Execute(t *testing.T) {
	node := newTestNode(t, domain.NodeTypeAction, map[string]any{
		"input_key": "status",
		"routes": map[string]any{
			"ok":   "success-path",
			"fail": "error-path",
		},
	})
	inputs := newTestInputs(t, map[string]any{"status": "ok"})

	out, err := (&executor.ConditionalRouterExecutor{}).Execute(context.Background(), node, inputs)
	require.NoError(t, err)
	require.Equal(t, "success-path", out["route"])
}

func TestConditionalRouterExecutor_UnknownValue(t *testing.T) {
	node := newTestNode(t, domain.NodeTypeAction, map[string]any{
		"input_key": "status",
		"routes":    map[string]any{"ok": "success-path"},
	})
	inputs := newTestInputs(t, map[string]any{"status": "unknown"})

	_, err := (&executor.ConditionalRouterExecutor{}).Execute(context.Background(), node, inputs)
	require.Error(t, err)
}
