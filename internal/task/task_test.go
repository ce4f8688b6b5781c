package task

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTracer(t *testing.T) (*tracetest.InMemoryExporter, func()) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exp)),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	return exp, func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	}
}

func TestRecordOutcome_Success(t *testing.T) {
	exp, cleanup := newTracer(t)
	defer cleanup()

	_, span := otel.Tracer("test").Start(context.Background(), "gateway.task")
	RecordOutcome(span, nil)
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status.Code != codes.Ok {
		t.Fatalf("expected Ok status, got %v", spans[0].Status.Code)
	}
}

func TestRecordOutcome_Error(t *testing.T) {
	exp, cleanup := newTracer(t)
	defer cleanup()

	_, span := otel.Tracer("test").Start(context.Background(), "gateway.task")
	RecordOutcome(span, errors.New("boom"))
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Fatalf("expected Error status, got %v", spans[0].Status.Code)
	}
	if spans[0].Status.Description != "boom" {
		t.Fatalf("expected status description %q, got %q", "boom", spans[0].Status.Description)
	}
	foundEvent := false
	for _, ev := range spans[0].Events {
		if ev.Name == "exception" {
			foundEvent = true
		}
	}
	if !foundEvent {
		t.Fatalf("expected RecordError to attach an exception event")
	}
}

func TestRecordEvents(t *testing.T) {
	exp, cleanup := newTracer(t)
	defer cleanup()

	_, span := otel.Tracer("test").Start(context.Background(), "gateway.turn")
	RecordEvents(span, "turn.fallback.allowedTools", "turn.timed_out")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	names := map[string]bool{}
	for _, ev := range spans[0].Events {
		names[ev.Name] = true
	}
	for _, want := range []string{"turn.fallback.allowedTools", "turn.timed_out"} {
		if !names[want] {
			t.Fatalf("expected event %q, got events %v", want, spans[0].Events)
		}
	}
}
