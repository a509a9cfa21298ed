package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/flowforge/flowexec/internal/blockhandler"
	"github.com/flowforge/flowexec/internal/domain"
	"github.com/flowforge/flowexec/internal/domainerr"
)

// CodeLoader fetches user-authored script source by id. Implemented by the
// persistence layer; kept as a narrow interface so this package does not
// depend on it directly.
type CodeLoader interface {
	LoadCode(ctx context.Context, codeID string) (string, error)
}

// CustomBlockHandler implements CUSTOM: it fetches user code by id and runs
// it in a sandboxed goja VM with fixed caps: a wall-clock ceiling, restricted
// globals, and captured stdout instead of direct console access.
type CustomBlockHandler struct {
	codes   CodeLoader
	maxWall time.Duration
}

// NewCustomBlockHandler constructs a CustomBlockHandler with a 30-second
// wall-clock cap.
func NewCustomBlockHandler(codes CodeLoader) *CustomBlockHandler {
	return &CustomBlockHandler{codes: codes, maxWall: 30 * time.Second}
}

func (h *CustomBlockHandler) Kind() domain.BlockKind { return domain.BlockKindCustom }

func (h *CustomBlockHandler) Execute(ctx context.Context, hctx blockhandler.Context) (map[string]any, error) {
	codeID, _ := hctx.Config["codeId"].(string)
	inlineSource, _ := hctx.Config["source"].(string)

	source := inlineSource
	if source == "" {
		if codeID == "" {
			return nil, domainerr.NewHandlerError("CUSTOM", fmt.Errorf("codeId or source is required"), false)
		}
		if h.codes == nil {
			return nil, domainerr.NewHandlerError("CUSTOM", fmt.Errorf("no code loader configured"), false)
		}
		loaded, err := h.codes.LoadCode(ctx, codeID)
		if err != nil {
			return nil, domainerr.NewHandlerError("CUSTOM", err, true)
		}
		source = loaded
	}

	deadline := time.Now().Add(h.maxWall)
	result := make(chan runResult, 1)
	go h.run(source, hctx, result)

	select {
	case r := <-result:
		if r.err != nil {
			return nil, domainerr.NewHandlerError("CUSTOM", r.err, false)
		}
		return r.output, nil
	case <-ctx.Done():
		return nil, &domainerr.DeadlineExceededError{Scope: "custom block " + hctx.NodeID, Timeout: h.maxWall}
	case <-time.After(time.Until(deadline)):
		return nil, &domainerr.DeadlineExceededError{Scope: "custom block " + hctx.NodeID, Timeout: h.maxWall}
	}
}

type runResult struct {
	output map[string]any
	err    error
}

// run executes source in a fresh, restricted goja VM. Globals are limited
// to `input` (the node's effective inputs) and a `console.log` capturing
// into stdout; no filesystem, network or process access is exposed.
func (h *CustomBlockHandler) run(source string, hctx blockhandler.Context, result chan<- runResult) {
	vm := goja.New()
	var stdout []string

	console := vm.NewObject()
	_ = console.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]any, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.Export()
		}
		b, _ := json.Marshal(parts)
		stdout = append(stdout, string(b))
		return goja.Undefined()
	})
	_ = vm.Set("console", console)
	_ = vm.Set("input", hctx.PreviousOutputs)

	v, err := vm.RunString(source)
	if err != nil {
		result <- runResult{err: err}
		return
	}

	out := map[string]any{"stdout": stdout}
	if v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
		out["result"] = v.Export()
	}
	result <- runResult{output: out}
}
