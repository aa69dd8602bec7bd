package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys attached to request spans.
var (
	AttrRequestID     = attribute.Key("request.id")
	AttrEntrypoint    = attribute.Key("request.entrypoint")
	AttrScheduleType  = attribute.Key("request.schedule_type")
	AttrRequestStatus = attribute.Key("request.status")
)

// StartRequestSpan opens a span for one request execution.
func StartRequestSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndRequestSpan records err (if any) and closes span.
func EndRequestSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
