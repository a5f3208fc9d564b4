package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/trackwell/beacon"

// Tracer provides OpenTelemetry tracing for Beacon.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Beacon tracer.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartAttemptSpan starts a new span for a send attempt.
func (t *Tracer) StartAttemptSpan(ctx context.Context, itemID, orderID, destination string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "beacon.send",
		trace.WithAttributes(
			attribute.String("beacon.item_id", itemID),
			attribute.String("beacon.order_id", orderID),
			attribute.String("beacon.destination", destination),
		),
	)
}

// EndAttemptSpan ends a send span with result attributes.
func (t *Tracer) EndAttemptSpan(span trace.Span, statusCode int, err string) {
	span.SetAttributes(
		attribute.Int("http.status_code", statusCode),
	)
	if err != "" {
		span.SetAttributes(attribute.String("beacon.error", err))
	}
	span.End()
}
