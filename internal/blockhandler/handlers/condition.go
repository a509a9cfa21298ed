package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/flowforge/flowexec/internal/blockhandler"
	"github.com/flowforge/flowexec/internal/domain"
	"github.com/flowforge/flowexec/internal/domainerr"
)

// ConditionHandler implements a tiny comparison DSL: a single field
// compared against a literal value, evaluated to a boolean node output.
// This is distinct from the richer expr-lang condition evaluator used for
// conditional edges (internal/engine/conditions.go), which accepts an
// arbitrary boolean expression rather than a single field comparison.
type ConditionHandler struct{}

func NewConditionHandler() *ConditionHandler { return &ConditionHandler{} }

func (h *ConditionHandler) Kind() domain.BlockKind { return domain.BlockKindCondition }

func (h *ConditionHandler) Execute(_ context.Context, hctx blockhandler.Context) (map[string]any, error) {
	field, _ := hctx.Config["field"].(string)
	op, _ := hctx.Config["operator"].(string)
	expected := hctx.Config["value"]
	if field == "" || op == "" {
		return nil, domainerr.NewHandlerError("CONDITION", fmt.Errorf("field and operator are required"), false)
	}

	actual, ok := lookupField(hctx.PreviousOutputs, field)
	if !ok {
		return map[string]any{"result": false}, nil
	}

	result, err := compare(actual, op, expected)
	if err != nil {
		return nil, domainerr.NewHandlerError("CONDITION", err, false)
	}
	return map[string]any{"result": result}, nil
}

func lookupField(data map[string]any, dotted string) (any, bool) {
	cur := any(data)
	for _, seg := range strings.Split(dotted, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		next, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func compare(actual any, op string, expected any) (bool, error) {
	switch op {
	case "eq", "==":
		return fmt.Sprintf("%v", actual) == fmt.Sprintf("%v", expected), nil
	case "neq", "!=":
		return fmt.Sprintf("%v", actual) != fmt.Sprintf("%v", expected), nil
	case "gt", ">", "gte", ">=", "lt", "<", "lte", "<=":
		a, aok := asFloat(actual)
		b, bok := asFloat(expected)
		if !aok || !bok {
			return false, fmt.Errorf("operator %q requires numeric operands", op)
		}
		switch op {
		case "gt", ">":
			return a > b, nil
		case "gte", ">=":
			return a >= b, nil
		case "lt", "<":
			return a < b, nil
		default:
			return a <= b, nil
		}
	case "contains":
		return strings.Contains(fmt.Sprintf("%v", actual), fmt.Sprintf("%v", expected)), nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
