package engine

import (
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// conditionEvaluator compiles and runs conditional-edge expressions,
// caching compiled programs across invocations within a worker process.
// Scoped to what conditional edges need: boolean expressions over the
// same variable set the template processor exposes as `json.*`.
type conditionEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func newConditionEvaluator() *conditionEvaluator {
	return &conditionEvaluator{cache: make(map[string]*vm.Program)}
}

func (ce *conditionEvaluator) evaluate(condition string, variables map[string]any) (bool, error) {
	if strings.TrimSpace(condition) == "" {
		return false, fmt.Errorf("condition is empty")
	}

	program, err := ce.compile(condition)
	if err != nil {
		return false, err
	}

	result, err := expr.Run(program, variables)
	if err != nil {
		if isMissingVariableError(err.Error()) {
			return false, nil
		}
		return false, fmt.Errorf("evaluating condition %q: %w", condition, err)
	}

	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not return a boolean, got %T", condition, result)
	}
	return b, nil
}

func (ce *conditionEvaluator) compile(condition string) (*vm.Program, error) {
	ce.mu.RLock()
	program, ok := ce.cache[condition]
	ce.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(condition, expr.Env(map[string]any{}), expr.AsBool())
	if err != nil {
		program, err = expr.Compile(condition, expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compiling condition %q: %w", condition, err)
		}
	}

	ce.mu.Lock()
	ce.cache[condition] = program
	ce.mu.Unlock()
	return program, nil
}

func isMissingVariableError(msg string) bool {
	lower := strings.ToLower(msg)
	for _, pattern := range []string{"cannot fetch", "undefined", "unknown name", "nil pointer", "not found"} {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
