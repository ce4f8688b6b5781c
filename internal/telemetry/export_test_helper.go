package telemetry

import (
	"context"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// NewTracerProviderWithExporter is an exported wrapper around the internal
// newTracerProviderWithExporter helper so supervisor/gateway tests in other
// packages can install an in-memory exporter and assert on the
// gateway.task/gateway.turn/gateway.http spans those packages emit.
func NewTracerProviderWithExporter(exporter sdktrace.SpanExporter, cfg Config) (*sdktrace.TracerProvider, func(context.Context) error, error) {
	return newTracerProviderWithExporter(exporter, cfg)
}
