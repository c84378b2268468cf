package agentwire

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/agentwire/agentwire/internal/observability"
)

// KeepaliveInterval is how often an idle stream emits a `: ping` comment
// frame. The ping both defeats idle-timeout middleboxes and marks the
// subscriber as seen.
const KeepaliveInterval = 30 * time.Second

// StreamManager owns the live SSE connections: it attaches a connection to
// the subscriber's record, replays the pending queue as an initial burst and
// then multiplexes pushed messages with keepalives until the peer goes away.
type StreamManager struct {
	Registry       *Registry
	TraceManager   *observability.TraceManager
	MetricsManager *observability.MetricsManager
	Logger         *slog.Logger

	// Keepalive overrides KeepaliveInterval, for tests.
	Keepalive time.Duration
}

// NewStreamManager wires a stream manager onto a registry.
func NewStreamManager(reg *Registry, tm *observability.TraceManager, mm *observability.MetricsManager, logger *slog.Logger) *StreamManager {
	return &StreamManager{
		Registry:       reg,
		TraceManager:   tm,
		MetricsManager: mm,
		Logger:         logger,
		Keepalive:      KeepaliveInterval,
	}
}

// ServeStream runs one subscriber's SSE stream until the peer disconnects,
// the request is cancelled, or the agent is evicted. Detach is invoked
// exactly once on every exit path.
func (s *StreamManager) ServeStream(w http.ResponseWriter, r *http.Request, agentID string) {
	ctx, span := s.TraceManager.StartSubscribeSpan(r.Context(), agentID)
	defer span.End()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	conn := NewConnection()
	drained := s.Registry.Attach(agentID, conn)
	defer func() {
		s.Registry.Detach(agentID, conn.ID)
		conn.Close()
		s.MetricsManager.DecrementLiveConnections(ctx)
		s.Logger.InfoContext(ctx, "stream closed", "agent_id", agentID, "conn_id", conn.ID)
	}()
	s.MetricsManager.IncrementLiveConnections(ctx)

	// Initial burst: everything queued while the agent had no live stream.
	for _, msg := range drained {
		if err := writeDataFrame(w, flusher, msg); err != nil {
			s.TraceManager.RecordError(span, err)
			return
		}
		s.MetricsManager.IncrementMessagesStreamed(ctx, agentID)
	}

	ticker := time.NewTicker(s.Keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			// Evicted by the reaper or shut down.
			return
		case <-ticker.C:
			if err := writePingFrame(w, flusher); err != nil {
				s.TraceManager.RecordError(span, err)
				return
			}
			s.Registry.Touch(agentID)
		case msg := <-conn.Messages():
			if err := writeDataFrame(w, flusher, msg); err != nil {
				s.TraceManager.RecordError(span, err)
				return
			}
			s.Registry.Touch(agentID)
			s.MetricsManager.IncrementMessagesStreamed(ctx, agentID)
		}
	}
}

func writeDataFrame(w http.ResponseWriter, flusher http.Flusher, msg *Message) error {
	payload, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode sse frame: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("write sse frame: %w", err)
	}
	flusher.Flush()
	return nil
}

func writePingFrame(w http.ResponseWriter, flusher http.Flusher) error {
	if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	flusher.Flush()
	return nil
}
