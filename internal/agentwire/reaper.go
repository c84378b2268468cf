package agentwire

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentwire/agentwire/internal/observability"
)

const (
	// IdleThreshold is how long an agent may go unseen before eviction.
	IdleThreshold = 5 * time.Minute
	// ReapInterval is the period of the background sweep.
	ReapInterval = time.Minute
)

// Reaper evicts agents that have gone unseen past the idle threshold and
// closes their live connections. It runs for the lifetime of the service; a
// failure in one tick never stops subsequent ticks.
type Reaper struct {
	Registry       *Registry
	MetricsManager *observability.MetricsManager
	Logger         *slog.Logger

	// Threshold and Interval override the defaults, for tests.
	Threshold time.Duration
	Interval  time.Duration
}

// NewReaper wires a reaper onto a registry with the default period and
// threshold.
func NewReaper(reg *Registry, mm *observability.MetricsManager, logger *slog.Logger) *Reaper {
	return &Reaper{
		Registry:       reg,
		MetricsManager: mm,
		Logger:         logger,
		Threshold:      IdleThreshold,
		Interval:       ReapInterval,
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (rp *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(rp.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rp.SweepOnce(ctx)
		}
	}
}

// SweepOnce evicts every agent idle past the threshold and reports how many
// were removed. It is also called opportunistically when listing agents.
func (rp *Reaper) SweepOnce(ctx context.Context) int {
	defer func() {
		if rec := recover(); rec != nil {
			rp.Logger.ErrorContext(ctx, "recovered from panic during sweep", "panic", rec)
		}
	}()

	idle := rp.Registry.IdleIDs(time.Now(), rp.Threshold)
	for _, id := range idle {
		rp.Registry.Evict(id)
		rp.MetricsManager.IncrementAgentsReaped(ctx)
		rp.Logger.InfoContext(ctx, "reaped idle agent", "agent_id", id)
	}
	return len(idle)
}
