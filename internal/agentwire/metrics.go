package agentwire

import (
	"context"
	"time"

	"github.com/agentwire/agentwire/internal/observability"
)

// MetricsTicker periodically samples system metrics for the process.
type MetricsTicker struct {
	ctx            context.Context
	metricsManager *observability.MetricsManager
	ticker         *time.Ticker
	done           chan struct{}
}

// NewMetricsTicker creates a ticker sampling every 30 seconds.
func NewMetricsTicker(ctx context.Context, metricsManager *observability.MetricsManager) *MetricsTicker {
	return &MetricsTicker{
		ctx:            ctx,
		metricsManager: metricsManager,
		ticker:         time.NewTicker(30 * time.Second),
		done:           make(chan struct{}),
	}
}

// Start begins the metrics collection.
func (m *MetricsTicker) Start() {
	go func() {
		defer m.ticker.Stop()
		for {
			select {
			case <-m.ticker.C:
				m.metricsManager.UpdateSystemMetrics(m.ctx)
			case <-m.ctx.Done():
				return
			case <-m.done:
				return
			}
		}
	}()
}

// Stop stops the metrics collection.
func (m *MetricsTicker) Stop() {
	close(m.done)
}
