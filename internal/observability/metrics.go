package observability

import (
	"context"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsManager owns the relay-domain instruments shared by the relay
// service and its clients.
type MetricsManager struct {
	meter metric.Meter

	// Relay metrics
	broadcastsTotal        metric.Int64Counter
	messagesDeliveredTotal metric.Int64Counter
	messagesStreamedTotal  metric.Int64Counter
	deliveryErrorsTotal    metric.Int64Counter
	agentsReapedTotal      metric.Int64Counter
	liveConnections        metric.Int64UpDownCounter
	broadcastDuration      metric.Float64Histogram

	// Client metrics
	clientReconnectsTotal    metric.Int64Counter
	clientDecodeErrorsTotal  metric.Int64Counter
	clientEventsHandledTotal metric.Int64Counter

	// System metrics
	goGoroutines               metric.Int64UpDownCounter
	goMemstatsAllocBytes       metric.Int64UpDownCounter
	processResidentMemoryBytes metric.Int64UpDownCounter
}

func NewMetricsManager(meter metric.Meter) (*MetricsManager, error) {
	mm := &MetricsManager{meter: meter}

	var err error

	mm.broadcastsTotal, err = meter.Int64Counter(
		"relay_broadcasts_total",
		metric.WithDescription("Total number of accepted broadcast requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.messagesDeliveredTotal, err = meter.Int64Counter(
		"relay_messages_delivered_total",
		metric.WithDescription("Total number of per-recipient deliveries (queued or live)"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.messagesStreamedTotal, err = meter.Int64Counter(
		"relay_messages_streamed_total",
		metric.WithDescription("Total number of messages written to live SSE streams"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.deliveryErrorsTotal, err = meter.Int64Counter(
		"relay_delivery_errors_total",
		metric.WithDescription("Total number of delivery and validation errors"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.agentsReapedTotal, err = meter.Int64Counter(
		"relay_agents_reaped_total",
		metric.WithDescription("Total number of agents evicted for idleness"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.liveConnections, err = meter.Int64UpDownCounter(
		"relay_live_connections",
		metric.WithDescription("Number of currently attached SSE streams"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.broadcastDuration, err = meter.Float64Histogram(
		"relay_operation_duration_seconds",
		metric.WithDescription("Relay operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mm.clientReconnectsTotal, err = meter.Int64Counter(
		"client_reconnects_total",
		metric.WithDescription("Total number of client stream reconnect attempts"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.clientDecodeErrorsTotal, err = meter.Int64Counter(
		"client_decode_errors_total",
		metric.WithDescription("Total number of malformed event payloads dropped by the client"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.clientEventsHandledTotal, err = meter.Int64Counter(
		"client_events_handled_total",
		metric.WithDescription("Total number of events dispatched to client handlers"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.goGoroutines, err = meter.Int64UpDownCounter(
		"go_goroutines",
		metric.WithDescription("Number of goroutines that currently exist"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.goMemstatsAllocBytes, err = meter.Int64UpDownCounter(
		"go_memstats_alloc_bytes",
		metric.WithDescription("Number of bytes allocated and still in use"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	mm.processResidentMemoryBytes, err = meter.Int64UpDownCounter(
		"process_resident_memory_bytes",
		metric.WithDescription("Resident memory size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return mm, nil
}

func (mm *MetricsManager) IncrementBroadcasts(ctx context.Context, senderID string) {
	mm.broadcastsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("sender_id", senderID),
	))
}

func (mm *MetricsManager) IncrementMessagesDelivered(ctx context.Context, agentID string) {
	mm.messagesDeliveredTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent_id", agentID),
	))
}

func (mm *MetricsManager) IncrementMessagesStreamed(ctx context.Context, agentID string) {
	mm.messagesStreamedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent_id", agentID),
	))
}

func (mm *MetricsManager) IncrementDeliveryErrors(ctx context.Context, agentID, errorType string) {
	mm.deliveryErrorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent_id", agentID),
		attribute.String("error", errorType),
	))
}

func (mm *MetricsManager) IncrementAgentsReaped(ctx context.Context) {
	mm.agentsReapedTotal.Add(ctx, 1)
}

func (mm *MetricsManager) IncrementLiveConnections(ctx context.Context) {
	mm.liveConnections.Add(ctx, 1)
}

func (mm *MetricsManager) DecrementLiveConnections(ctx context.Context) {
	mm.liveConnections.Add(ctx, -1)
}

func (mm *MetricsManager) IncrementClientReconnects(ctx context.Context, agentID string) {
	mm.clientReconnectsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent_id", agentID),
	))
}

func (mm *MetricsManager) IncrementClientDecodeErrors(ctx context.Context, agentID string) {
	mm.clientDecodeErrorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent_id", agentID),
	))
}

func (mm *MetricsManager) IncrementClientEventsHandled(ctx context.Context, agentID string) {
	mm.clientEventsHandledTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent_id", agentID),
	))
}

func (mm *MetricsManager) RecordOperationDuration(ctx context.Context, operation, component string, duration time.Duration) {
	mm.broadcastDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("component", component),
	))
}

// UpdateSystemMetrics samples runtime counters. Called periodically by the
// metrics ticker.
func (mm *MetricsManager) UpdateSystemMetrics(ctx context.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	mm.goGoroutines.Add(ctx, int64(runtime.NumGoroutine()))
	mm.goMemstatsAllocBytes.Add(ctx, int64(m.Alloc))
	mm.processResidentMemoryBytes.Add(ctx, int64(m.Sys))
}

// StartTimer returns a stop function that records the elapsed time for an
// operation.
func (mm *MetricsManager) StartTimer() func(ctx context.Context, operation, component string) {
	start := time.Now()
	return func(ctx context.Context, operation, component string) {
		mm.RecordOperationDuration(ctx, operation, component, time.Since(start))
	}
}
