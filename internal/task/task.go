// Package task records session-lifecycle tracing events onto spans the
// supervisor already opened, the same event-and-status idiom the original
// molecular server's task.Execute used for its own single-shot root span,
// narrowed here to a reusable outcome recorder since the gateway opens its
// spans directly in internal/supervisor and internal/gateway instead of
// through one monolithic Execute call.
package task

import (
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RecordOutcome marks span Ok or Error depending on err, and attaches the
// error to the span when present, mirroring the SetStatus/RecordError
// pairing this lineage uses at every span boundary.
func RecordOutcome(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// RecordEvents adds each name as a zero-attribute event on span, in order,
// for lightweight lifecycle markers (e.g. "turn.fallback.allowedTools",
// "turn.timed_out") that don't warrant their own child span.
func RecordEvents(span trace.Span, names ...string) {
	for _, n := range names {
		span.AddEvent(n)
	}
}
