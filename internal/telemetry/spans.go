package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "bridge"

// StartTaskSpan opens the root span covering one session's entire
// supervised lifetime, from spawn through finalization.
func StartTaskSpan(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	tr := otel.Tracer(tracerName)
	return tr.Start(ctx, "gateway.task", trace.WithAttributes(attribute.String("session.id", sessionID)))
}

// StartTurnSpan opens a child span covering one agent subprocess
// invocation (v0.1: exactly one turn per session).
func StartTurnSpan(ctx context.Context, sessionID string, turn int) (context.Context, trace.Span) {
	tr := otel.Tracer(tracerName)
	return tr.Start(ctx, "gateway.turn", trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.Int("turn", turn),
	))
}

// StartHTTPSpan opens a span covering one inbound HTTP request.
func StartHTTPSpan(ctx context.Context, route string) (context.Context, trace.Span) {
	tr := otel.Tracer(tracerName)
	return tr.Start(ctx, "gateway.http", trace.WithAttributes(attribute.String("route", route)))
}
