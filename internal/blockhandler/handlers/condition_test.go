package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowexec/internal/blockhandler"
)

func TestConditionHandler_NumericComparison(t *testing.T) {
	h := NewConditionHandler()
	hctx := blockhandler.Context{
		Config:          map[string]any{"field": "price", "operator": "gt", "value": float64(10)},
		PreviousOutputs: map[string]any{"price": float64(15)},
	}
	out, err := h.Execute(context.Background(), hctx)
	require.NoError(t, err)
	assert.Equal(t, true, out["result"])
}

func TestConditionHandler_NestedFieldLookup(t *testing.T) {
	h := NewConditionHandler()
	hctx := blockhandler.Context{
		Config: map[string]any{"field": "node1.status", "operator": "eq", "value": "ok"},
		PreviousOutputs: map[string]any{
			"node1": map[string]any{"status": "ok"},
		},
	}
	out, err := h.Execute(context.Background(), hctx)
	require.NoError(t, err)
	assert.Equal(t, true, out["result"])
}

func TestConditionHandler_MissingFieldReturnsFalseNotError(t *testing.T) {
	h := NewConditionHandler()
	hctx := blockhandler.Context{
		Config:          map[string]any{"field": "missing", "operator": "eq", "value": "x"},
		PreviousOutputs: map[string]any{},
	}
	out, err := h.Execute(context.Background(), hctx)
	require.NoError(t, err)
	assert.Equal(t, false, out["result"])
}

func TestConditionHandler_MissingFieldOrOperatorErrors(t *testing.T) {
	h := NewConditionHandler()
	_, err := h.Execute(context.Background(), blockhandler.Context{Config: map[string]any{}})
	assert.Error(t, err)
}

func TestConditionHandler_UnknownOperatorErrors(t *testing.T) {
	h := NewConditionHandler()
	hctx := blockhandler.Context{
		Config:          map[string]any{"field": "x", "operator": "nope", "value": "y"},
		PreviousOutputs: map[string]any{"x": "y"},
	}
	_, err := h.Execute(context.Background(), hctx)
	assert.Error(t, err)
}

func TestConditionHandler_ContainsOperator(t *testing.T) {
	h := NewConditionHandler()
	hctx := blockhandler.Context{
		Config:          map[string]any{"field": "msg", "operator": "contains", "value": "err"},
		PreviousOutputs: map[string]any{"msg": "some error occurred"},
	}
	out, err := h.Execute(context.Background(), hctx)
	require.NoError(t, err)
	assert.Equal(t, true, out["result"])
}
