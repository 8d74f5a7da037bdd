package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span helpers shared by the repositories and services. They name
// spans consistently so the governance flows read as one trace.

// StartServiceSpan starts a span for a service operation.
func StartServiceSpan(ctx context.Context, tracer trace.Tracer, service, operation string) (context.Context, trace.Span) {
	return tracer.Start(ctx, fmt.Sprintf("%s.%s", service, operation),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("service.component", service),
			attribute.String("service.operation", operation),
		),
	)
}

// StartDatabaseSpan starts a client span for a database operation.
func StartDatabaseSpan(ctx context.Context, tracer trace.Tracer, operation string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", operation),
		),
	)
}

// StartMessagingSpan starts a span for a producer operation.
func StartMessagingSpan(ctx context.Context, tracer trace.Tracer, system, operation, destination string) (context.Context, trace.Span) {
	return tracer.Start(ctx, fmt.Sprintf("%s %s %s", system, operation, destination),
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", system),
			attribute.String("messaging.operation", operation),
			attribute.String("messaging.destination.name", destination),
		),
	)
}

// WithSpanError records an error and sets the span status in one call.
func WithSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
