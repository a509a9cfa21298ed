package handlers

import (
	"context"
	"fmt"

	"github.com/flowforge/flowexec/internal/blockhandler"
	"github.com/flowforge/flowexec/internal/domain"
	"github.com/flowforge/flowexec/internal/domainerr"
)

// TransformHandler implements DATA_TRANSFORM: a single node kind, selected
// by a "strategy" config field, covering both select-first-available
// merges and field-remapping aggregation.
type TransformHandler struct{}

func NewTransformHandler() *TransformHandler { return &TransformHandler{} }

func (h *TransformHandler) Kind() domain.BlockKind { return domain.BlockKindDataTransform }

func (h *TransformHandler) Execute(_ context.Context, hctx blockhandler.Context) (map[string]any, error) {
	strategy, _ := hctx.Config["strategy"].(string)
	switch strategy {
	case "", "identity":
		out := make(map[string]any, len(hctx.PreviousOutputs))
		for k, v := range hctx.PreviousOutputs {
			out[k] = v
		}
		return out, nil
	case "select_first_available":
		return h.selectFirstAvailable(hctx)
	case "merge_all":
		return h.mergeAll(hctx)
	case "remap":
		return h.remap(hctx)
	default:
		return nil, domainerr.NewHandlerError("DATA_TRANSFORM", fmt.Errorf("unknown strategy %q", strategy), false)
	}
}

func (h *TransformHandler) selectFirstAvailable(hctx blockhandler.Context) (map[string]any, error) {
	sources, _ := hctx.Config["sources"].([]any)
	for _, s := range sources {
		key, ok := s.(string)
		if !ok {
			continue
		}
		if v, ok := hctx.PreviousOutputs[key]; ok && v != nil {
			if m, ok := v.(map[string]any); ok {
				return m, nil
			}
			return map[string]any{"value": v}, nil
		}
	}
	return map[string]any{}, nil
}

func (h *TransformHandler) mergeAll(hctx blockhandler.Context) (map[string]any, error) {
	out := make(map[string]any)
	sources, _ := hctx.Config["sources"].([]any)
	for _, s := range sources {
		key, ok := s.(string)
		if !ok {
			continue
		}
		v, ok := hctx.PreviousOutputs[key]
		if !ok {
			continue
		}
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		for k, vv := range m {
			out[k] = vv
		}
	}
	return out, nil
}

func (h *TransformHandler) remap(hctx blockhandler.Context) (map[string]any, error) {
	fields, _ := hctx.Config["fields"].(map[string]any)
	out := make(map[string]any, len(fields))
	for destKey, rawSrc := range fields {
		srcPath, ok := rawSrc.(string)
		if !ok {
			continue
		}
		if v, ok := lookupField(hctx.PreviousOutputs, srcPath); ok {
			out[destKey] = v
		}
	}
	return out, nil
}
