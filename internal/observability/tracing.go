package observability

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TraceManager wraps the otel tracer with span helpers for the relay's
// operations.
type TraceManager struct {
	tracer trace.Tracer
}

func NewTraceManager(serviceName string) *TraceManager {
	return &TraceManager{
		tracer: otel.Tracer(serviceName),
	}
}

func (tm *TraceManager) StartSpan(ctx context.Context, operationName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, operationName, trace.WithAttributes(attrs...))
}

// StartBroadcastSpan traces one broadcast fan-out on the relay side.
func (tm *TraceManager) StartBroadcastSpan(ctx context.Context, senderID string) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, "broadcast_message", trace.WithAttributes(
		attribute.String("messaging.system", "agentwire"),
		attribute.String("messaging.operation", "publish"),
		attribute.String("relay.sender_id", senderID),
	))
}

// StartSubscribeSpan traces the lifetime of one SSE stream.
func (tm *TraceManager) StartSubscribeSpan(ctx context.Context, agentID string) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, "subscribe_events", trace.WithAttributes(
		attribute.String("messaging.system", "agentwire"),
		attribute.String("messaging.operation", "receive"),
		attribute.String("relay.agent_id", agentID),
	))
}

// StartConsumeSpan traces the client-side handling of one received event.
func (tm *TraceManager) StartConsumeSpan(ctx context.Context, agentID, from string) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, "consume_event", trace.WithAttributes(
		attribute.String("messaging.system", "agentwire"),
		attribute.String("messaging.operation", "process"),
		attribute.String("relay.agent_id", agentID),
		attribute.String("relay.sender_id", from),
	))
}

// InjectHTTPHeaders propagates the current trace context onto an outgoing
// request.
func (tm *TraceManager) InjectHTTPHeaders(ctx context.Context, header http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(header))
}

// ExtractHTTPHeaders resumes the trace context carried by an incoming
// request.
func (tm *TraceManager) ExtractHTTPHeaders(ctx context.Context, header http.Header) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(header))
}

func (tm *TraceManager) RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func (tm *TraceManager) SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddComponentAttribute tags a span with the component that produced it.
func (tm *TraceManager) AddComponentAttribute(span trace.Span, component string) {
	span.SetAttributes(attribute.String("agentwire.component", component))
}

// AddSpanEvent adds a timestamped event to a span.
func (tm *TraceManager) AddSpanEvent(span trace.Span, eventName string, attributes ...attribute.KeyValue) {
	span.AddEvent(eventName, trace.WithAttributes(attributes...))
}
