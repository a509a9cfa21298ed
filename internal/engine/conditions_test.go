package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionEvaluator_BasicComparisons(t *testing.T) {
	ce := newConditionEvaluator()

	ok, err := ce.evaluate(`status == "ok"`, map[string]any{"status": "ok"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ce.evaluate(`amount > 10`, map[string]any{"amount": 5})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConditionEvaluator_EmptyConditionErrors(t *testing.T) {
	ce := newConditionEvaluator()
	_, err := ce.evaluate("   ", nil)
	assert.Error(t, err)
}

func TestConditionEvaluator_NonBooleanResultErrors(t *testing.T) {
	ce := newConditionEvaluator()
	_, err := ce.evaluate(`1 + 1`, nil)
	assert.Error(t, err)
}

func TestConditionEvaluator_MissingVariableIsFalseNotError(t *testing.T) {
	ce := newConditionEvaluator()
	ok, err := ce.evaluate(`missing.field == "x"`, map[string]any{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConditionEvaluator_CachesCompiledProgram(t *testing.T) {
	ce := newConditionEvaluator()
	_, err := ce.evaluate(`1 == 1`, nil)
	require.NoError(t, err)

	ce.mu.RLock()
	_, cached := ce.cache[`1 == 1`]
	ce.mu.RUnlock()
	assert.True(t, cached)
}

func TestIsMissingVariableError(t *testing.T) {
	assert.True(t, isMissingVariableError("cannot fetch field from map"))
	assert.True(t, isMissingVariableError("identifier X is unknown name"))
	assert.False(t, isMissingVariableError("division by zero"))
}
