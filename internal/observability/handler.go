package observability

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// SpanLogHandler is a slog.Handler that stamps every record with the active
// span's trace and span ids and counts emitted records as a metric. Records
// are rendered as JSON on stderr.
type SpanLogHandler struct {
	inner       slog.Handler
	logCounter  metric.Int64Counter
	serviceName string
}

func NewSpanLogHandler(meter metric.Meter, serviceName string) (*SpanLogHandler, error) {
	logCounter, err := meter.Int64Counter(
		"logs_total",
		metric.WithDescription("Total number of log entries"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &SpanLogHandler{
		inner:       slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}),
		logCounter:  logCounter,
		serviceName: serviceName,
	}, nil
}

func (h *SpanLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *SpanLogHandler) Handle(ctx context.Context, rec slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		rec.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	rec.AddAttrs(slog.String("service", h.serviceName))

	h.logCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("level", rec.Level.String()),
		attribute.String("service", h.serviceName),
	))

	return h.inner.Handle(ctx, rec)
}

func (h *SpanLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SpanLogHandler{
		inner:       h.inner.WithAttrs(attrs),
		logCounter:  h.logCounter,
		serviceName: h.serviceName,
	}
}

func (h *SpanLogHandler) WithGroup(name string) slog.Handler {
	return &SpanLogHandler{
		inner:       h.inner.WithGroup(name),
		logCounter:  h.logCounter,
		serviceName: h.serviceName,
	}
}
