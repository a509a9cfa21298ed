package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowexec/internal/blockhandler"
)

func TestTransformHandler_IdentityPassesPreviousOutputsThrough(t *testing.T) {
	h := NewTransformHandler()
	hctx := blockhandler.Context{
		Config:          map[string]any{},
		PreviousOutputs: map[string]any{"a": 1, "b": "two"},
	}
	out, err := h.Execute(context.Background(), hctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1, "b": "two"}, out)
}

func TestTransformHandler_SelectFirstAvailable(t *testing.T) {
	h := NewTransformHandler()
	hctx := blockhandler.Context{
		Config: map[string]any{
			"strategy": "select_first_available",
			"sources":  []any{"missingNode", "nodeA"},
		},
		PreviousOutputs: map[string]any{
			"nodeA": map[string]any{"value": "found"},
		},
	}
	out, err := h.Execute(context.Background(), hctx)
	require.NoError(t, err)
	assert.Equal(t, "found", out["value"])
}

func TestTransformHandler_MergeAll(t *testing.T) {
	h := NewTransformHandler()
	hctx := blockhandler.Context{
		Config: map[string]any{
			"strategy": "merge_all",
			"sources":  []any{"nodeA", "nodeB"},
		},
		PreviousOutputs: map[string]any{
			"nodeA": map[string]any{"x": 1},
			"nodeB": map[string]any{"y": 2},
		},
	}
	out, err := h.Execute(context.Background(), hctx)
	require.NoError(t, err)
	assert.Equal(t, 1, out["x"])
	assert.Equal(t, 2, out["y"])
}

func TestTransformHandler_Remap(t *testing.T) {
	h := NewTransformHandler()
	hctx := blockhandler.Context{
		Config: map[string]any{
			"strategy": "remap",
			"fields":   map[string]any{"total": "nodeA.amount"},
		},
		PreviousOutputs: map[string]any{
			"nodeA": map[string]any{"amount": 42},
		},
	}
	out, err := h.Execute(context.Background(), hctx)
	require.NoError(t, err)
	assert.Equal(t, 42, out["total"])
}

func TestTransformHandler_UnknownStrategyErrors(t *testing.T) {
	h := NewTransformHandler()
	hctx := blockhandler.Context{Config: map[string]any{"strategy": "bogus"}}
	_, err := h.Execute(context.Background(), hctx)
	assert.Error(t, err)
}
