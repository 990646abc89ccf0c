package executor

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/flowrun/flowrun/internal/domain"
)

// ErrForbiddenPath is returned (wrapped in ResolverError) when a resolved
// path contains a segment that could reach into a host object's prototype
// chain if the resolved value were ever passed to a JS-backed sandbox.
var ErrForbiddenPath = errors.New("forbidden path segment")

var forbiddenPathSegments = map[string]bool{
	"__proto__":   true,
	"constructor": true,
	"prototype":   true,
}

// ResolverError wraps a path-resolution failure with the path that caused
// it. Missing paths are not an error condition (they resolve to nil/
// undefined per the lenient default), but forbidden paths always are.
type ResolverError struct {
	Path   string
	Reason error
}

func (e *ResolverError) Error() string {
	return fmt.Sprintf("resolver: path %q: %v", e.Path, e.Reason)
}

func (e *ResolverError) Unwrap() error {
	return e.Reason
}

// LoopContext is one frame of a running loop's iteration state, pushed by
// the loop controller before executing a scoped node and popped once the
// iteration completes.
type LoopContext struct {
	LoopNodeID  uuid.UUID
	RunIndex    int
	BatchIndex  int
	ItemIndex   int
	TotalItems  int
	BatchSize   int
	IsLastBatch bool
}

// ItemContext is the current item under iteration, exposed to the resolver
// as $json/$input/$items/$itemIndex/$itemCount.
type ItemContext struct {
	JSON      any
	Input     any
	Items     []any
	ItemIndex int
	ItemCount int
}

// ResolutionScope bundles everything a template or expression may reference:
// the run's persisted state, the node currently executing, and whatever
// loop/item context the loop controller has pushed for this invocation.
type ResolutionScope struct {
	Execution domain.Execution
	NodeID    uuid.UUID
	LoopStack []*LoopContext
	Item      *ItemContext
}

// ResolverSecurityLogger receives a notification whenever Resolve rejects a
// forbidden path. Implemented by the flight recorder; nil is safe (the
// warning is simply not recorded anywhere).
type ResolverSecurityLogger interface {
	LogForbiddenPathAccess(path string)
}

// VariableResolver resolves `${expr}` and `{{path}}` references against a
// ResolutionScope, two-pass in the same order TemplateProcessor already
// uses: expressions first (so a `{{...}}` path can appear inside an
// expression's result), then dotted-path lookups.
type VariableResolver struct {
	evaluator *ConditionEvaluator
	security  ResolverSecurityLogger

	exprPattern     *regexp.Regexp
	pathPattern     *regexp.Regexp
	pureExprPattern *regexp.Regexp
	purePathPattern *regexp.Regexp
}

// NewVariableResolver creates a resolver. security may be nil.
func NewVariableResolver(evaluator *ConditionEvaluator, security ResolverSecurityLogger) *VariableResolver {
	return &VariableResolver{
		evaluator:       evaluator,
		security:        security,
		exprPattern:     regexp.MustCompile(`\$\{([^}]+)\}`),
		pathPattern:     regexp.MustCompile(`\{\{([^}]+)\}\}`),
		pureExprPattern: regexp.MustCompile(`^\$\{([^}]+)\}$`),
		purePathPattern: regexp.MustCompile(`^\{\{([^}]+)\}\}$`),
	}
}

// Resolve evaluates template against scope. When template is exactly one
// `${...}` or `{{...}}` reference with no surrounding text, the resolved
// value's native type is returned; otherwise the result is a string with
// every reference substituted in place.
func (r *VariableResolver) Resolve(template string, scope *ResolutionScope) (any, error) {
	if !strings.Contains(template, "{{") && !strings.Contains(template, "${") {
		return template, nil
	}

	vars := r.buildScopeVars(scope)

	if m := r.pureExprPattern.FindStringSubmatch(template); m != nil {
		return r.evaluateExpr(m[1], vars)
	}
	if m := r.purePathPattern.FindStringSubmatch(template); m != nil {
		return r.resolvePath(strings.TrimSpace(m[1]), vars)
	}

	result := template

	for _, match := range r.exprPattern.FindAllStringSubmatch(result, -1) {
		value, err := r.evaluateExpr(match[1], vars)
		if err != nil {
			var rerr *ResolverError
			if errors.As(err, &rerr) && errors.Is(rerr.Reason, ErrForbiddenPath) {
				return nil, err
			}
			continue // lenient: leave placeholder unresolved on evaluation failure
		}
		result = strings.ReplaceAll(result, match[0], fmt.Sprint(value))
	}

	for _, match := range r.pathPattern.FindAllStringSubmatch(result, -1) {
		path := strings.TrimSpace(match[1])
		value, err := r.resolvePath(path, vars)
		if err != nil {
			var rerr *ResolverError
			if errors.As(err, &rerr) && errors.Is(rerr.Reason, ErrForbiddenPath) {
				return nil, err
			}
			continue
		}
		if value == nil {
			continue
		}
		result = strings.ReplaceAll(result, match[0], fmt.Sprint(value))
	}

	return result, nil
}

func (r *VariableResolver) evaluateExpr(expression string, vars map[string]any) (any, error) {
	if err := checkForbiddenSegments(expression); err != nil {
		if r.security != nil {
			r.security.LogForbiddenPathAccess(expression)
		}
		return nil, &ResolverError{Path: expression, Reason: err}
	}
	result, err := r.evaluator.EvaluateAny(expression, vars)
	if err != nil {
		return nil, &ResolverError{Path: expression, Reason: err}
	}
	return result, nil
}

func (r *VariableResolver) resolvePath(path string, vars map[string]any) (any, error) {
	if err := checkForbiddenSegments(path); err != nil {
		if r.security != nil {
			r.security.LogForbiddenPathAccess(path)
		}
		return nil, &ResolverError{Path: path, Reason: err}
	}
	return getNestedValue(vars, path), nil
}

func checkForbiddenSegments(path string) error {
	for _, segment := range strings.FieldsFunc(path, func(r rune) bool {
		return r == '.' || r == '[' || r == ']'
	}) {
		if forbiddenPathSegments[segment] {
			return ErrForbiddenPath
		}
	}
	return nil
}

// buildScopeVars flattens a ResolutionScope into the lookup namespaces
// {{path}}/${expr} references address: "global", "variables",
// "trigger.payload", "<nodeId>.output", "<nodeId>.meta", plus the
// `$`-prefixed loop/item scopes.
func (r *VariableResolver) buildScopeVars(scope *ResolutionScope) map[string]any {
	vars := make(map[string]any)
	if scope == nil || scope.Execution == nil {
		return vars
	}

	exec := scope.Execution
	vars["global"] = exec.GlobalVariables().All()
	vars["variables"] = exec.Variables().All()
	vars["trigger"] = map[string]any{"payload": exec.Variables().All()}

	for nodeID, state := range exec.GetAllNodeStates() {
		vars[nodeID.String()] = map[string]any{
			"output": state.Output(),
			"meta": map[string]any{
				"status":      string(state.Status()),
				"retry_count": state.RetryCount(),
				"duration":    state.Duration().String(),
			},
		}
	}

	if len(scope.LoopStack) > 0 {
		top := scope.LoopStack[len(scope.LoopStack)-1]
		vars["$runIndex"] = top.RunIndex
		vars["$batchIndex"] = top.BatchIndex
		vars["$itemIndex"] = top.ItemIndex
		vars["$totalItems"] = top.TotalItems
		vars["$batchSize"] = top.BatchSize
		vars["$isLastBatch"] = top.IsLastBatch
		vars["$loopNodeId"] = top.LoopNodeID.String()
	}

	if scope.Item != nil {
		vars["$json"] = scope.Item.JSON
		vars["$input"] = scope.Item.Input
		vars["$items"] = scope.Item.Items
		vars["$itemIndex"] = scope.Item.ItemIndex
		vars["$itemCount"] = scope.Item.ItemCount
	}

	if scope.NodeID != uuid.Nil {
		vars["$node"] = map[string]any{"id": scope.NodeID.String()}
	}

	return vars
}
