package agentwire

import (
	"context"
	"testing"
	"time"
)

func newTestReaper(t *testing.T) *Reaper {
	t.Helper()
	return NewReaper(NewRegistry(newTestLogger()), newTestMetrics(t), newTestLogger())
}

func TestReaper_SweepEvictsIdleAgents(t *testing.T) {
	rp := newTestReaper(t)
	ctx := context.Background()

	rp.Registry.Ensure("fresh")
	rp.Registry.Ensure("stale")
	setLastSeen(rp.Registry, "stale", time.Now().Add(-6*time.Minute))

	reaped := rp.SweepOnce(ctx)

	if reaped != 1 {
		t.Errorf("Expected 1 reaped agent, got %d", reaped)
	}
	if got := rp.Registry.Len(); got != 1 {
		t.Errorf("Expected 1 agent to survive the sweep, got %d", got)
	}
	for _, id := range rp.Registry.ListIDs() {
		if id != "fresh" {
			t.Errorf("Expected only %q to survive, found %q", "fresh", id)
		}
	}
}

func TestReaper_AgentAtThresholdSurvives(t *testing.T) {
	rp := newTestReaper(t)
	ctx := context.Background()

	// Eviction requires strictly more than the threshold of idleness.
	rp.Registry.Ensure("borderline")
	setLastSeen(rp.Registry, "borderline", time.Now().Add(-rp.Threshold))

	if reaped := rp.SweepOnce(ctx); reaped != 0 {
		t.Errorf("Expected no agents reaped at the exact threshold, got %d", reaped)
	}
}

func TestReaper_SweepClosesLiveStreams(t *testing.T) {
	rp := newTestReaper(t)
	ctx := context.Background()

	conn := NewConnection()
	rp.Registry.Attach("stale", conn)
	setLastSeen(rp.Registry, "stale", time.Now().Add(-10*time.Minute))

	rp.SweepOnce(ctx)

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("Expected the sweep to close the agent's live connection")
	}
}

func TestReaper_ReapedAgentResurrectsOnNewTraffic(t *testing.T) {
	rp := newTestReaper(t)
	ctx := context.Background()

	rp.Registry.Ensure("wanderer")
	setLastSeen(rp.Registry, "wanderer", time.Now().Add(-time.Hour))
	rp.SweepOnce(ctx)

	if got := rp.Registry.Len(); got != 0 {
		t.Fatalf("Expected registry to be empty after sweep, got %d agents", got)
	}

	rp.Registry.EnqueueOrDeliver("wanderer", NewMessage("sender", map[string]any{"message": "welcome back"}))

	if got := rp.Registry.Len(); got != 1 {
		t.Errorf("Expected agent to resurrect on new traffic, got %d agents", got)
	}
	if reaped := rp.SweepOnce(ctx); reaped != 0 {
		t.Errorf("Expected resurrected record to be fresh, but %d were reaped", reaped)
	}
}

func TestReaper_RunStopsOnCancel(t *testing.T) {
	rp := newTestReaper(t)
	rp.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rp.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Expected Run to return after cancellation")
	}
}
