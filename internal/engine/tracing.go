package engine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer uses whatever TracerProvider the process registered via
// otel.SetTracerProvider; a deployment that never configures one gets
// otel's built-in no-op, so this package has no direct dependency on an
// exporter or SDK.
var tracer = otel.Tracer("github.com/flowforge/flowexec/internal/engine")

func startNodeSpan(ctx context.Context, executionID, nodeID string, kind string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "node.execute",
		trace.WithAttributes(
			attribute.String("execution_id", executionID),
			attribute.String("node_id", nodeID),
			attribute.String("node_kind", kind),
		),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
