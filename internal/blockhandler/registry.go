// Package blockhandler implements the block-handler registry: a
// case-insensitive lookup from a node's Kind to the Handler that executes
// it, with every handler wrapped in a metrics/logging decorator. Handler
// registration uses builder-style construction into an open,
// immutable-after-build registry rather than a fixed Go-type switch, so
// new block kinds plug in without touching the dispatch path.
package blockhandler

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/flowforge/flowexec/internal/domain"
	"github.com/flowforge/flowexec/internal/domainerr"
)

// Context is the shared contract every handler receives. The caller has
// already computed effectiveInputs = templateApply(node.config ∪
// ctx.inputs, previousOutputs ∪ executionMeta); handlers only see the
// result.
type Context struct {
	NodeID      string
	ExecutionID string
	UserID      string
	WorkflowID  string

	Config          map[string]any // node.config, already template-applied
	PreviousOutputs map[string]any
	ExecutionMeta   map[string]any
}

// Handler executes one block kind. Success returns a mapping addressable by
// downstream nodes as `{{json.<key>}}`. Failure must return a typed error
// (domainerr.HandlerError or similar); handlers never swallow errors.
type Handler interface {
	Kind() domain.BlockKind
	Execute(ctx context.Context, hctx Context) (map[string]any, error)
}

// LogSink receives one structured log row per handler invocation, the
// persistence hook every invocation requires. Kept as a narrow interface
// here so blockhandler does not depend on the persistence package.
type LogSink interface {
	WriteLog(entry domain.LogEntry)
}

// MetricsSink receives start/end timestamps and success/failure per
// invocation.
type MetricsSink interface {
	RecordHandlerInvocation(kind string, duration time.Duration, err error)
}

// Registry is an immutable-after-Build, case-insensitive handler lookup.
type Registry struct {
	handlers map[string]Handler
	logs     LogSink
	metrics  MetricsSink
}

// Builder constructs a Registry.
type Builder struct {
	handlers map[string]Handler
	logs     LogSink
	metrics  MetricsSink
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{handlers: make(map[string]Handler)}
}

// WithLogSink attaches the log sink used by the metrics decorator.
func (b *Builder) WithLogSink(sink LogSink) *Builder {
	b.logs = sink
	return b
}

// WithMetricsSink attaches a metrics collector.
func (b *Builder) WithMetricsSink(sink MetricsSink) *Builder {
	b.metrics = sink
	return b
}

// Add registers a handler under its own Kind.
func (b *Builder) Add(h Handler) *Builder {
	b.handlers[normalize(string(h.Kind()))] = h
	return b
}

// Build finalizes the registry. Further Add calls on the builder do not
// affect the returned Registry.
func (b *Builder) Build() *Registry {
	frozen := make(map[string]Handler, len(b.handlers))
	for k, v := range b.handlers {
		frozen[k] = v
	}
	return &Registry{handlers: frozen, logs: b.logs, metrics: b.metrics}
}

func normalize(kind string) string { return strings.ToUpper(strings.TrimSpace(kind)) }

// UnknownBlockKindError is returned by Dispatch when kind has no registered
// handler.
type UnknownBlockKindError struct {
	Kind string
}

func (e *UnknownBlockKindError) Error() string {
	return "unknown block kind: " + e.Kind
}

// Dispatch looks up the handler for kind (case-insensitive) and runs it
// wrapped in the metrics/logging decorator.
func (r *Registry) Dispatch(ctx context.Context, kind domain.BlockKind, hctx Context) (map[string]any, error) {
	h, ok := r.handlers[normalize(string(kind))]
	if !ok {
		err := &UnknownBlockKindError{Kind: string(kind)}
		r.recordLog(hctx, domain.LogLevelError, "unknown block kind", map[string]any{"kind": string(kind)})
		return nil, domainerr.NewHandlerError(string(kind), err, false)
	}

	start := time.Now()
	out, err := h.Execute(ctx, hctx)
	duration := time.Since(start)

	if r.metrics != nil {
		r.metrics.RecordHandlerInvocation(string(kind), duration, err)
	}
	if err != nil {
		r.recordLog(hctx, domain.LogLevelError, "handler failed", map[string]any{
			"kind": string(kind), "error": err.Error(), "durationMs": duration.Milliseconds(),
		})
		return nil, err
	}
	r.recordLog(hctx, domain.LogLevelInfo, "handler completed", map[string]any{
		"kind": string(kind), "durationMs": duration.Milliseconds(),
	})
	return out, nil
}

func (r *Registry) recordLog(hctx Context, level domain.LogLevel, msg string, meta map[string]any) {
	entry := domain.LogEntry{
		ExecutionID: hctx.ExecutionID,
		NodeID:      hctx.NodeID,
		Level:       level,
		Message:     msg,
		Timestamp:   time.Now(),
		Metadata:    meta,
	}
	if r.logs != nil {
		r.logs.WriteLog(entry)
	} else {
		log.Debug().Str("execution_id", hctx.ExecutionID).Str("node_id", hctx.NodeID).Msg(msg)
	}
}

// Has reports whether kind has a registered handler.
func (r *Registry) Has(kind domain.BlockKind) bool {
	_, ok := r.handlers[normalize(string(kind))]
	return ok
}
