package agentwire

import (
	"context"
	"log/slog"

	"github.com/agentwire/agentwire/internal/observability"
)

// Broadcaster accepts an inbound message from a sender and fans it out to
// every other known agent through the registry.
type Broadcaster struct {
	Registry       *Registry
	TraceManager   *observability.TraceManager
	MetricsManager *observability.MetricsManager
	Logger         *slog.Logger
}

// NewBroadcaster wires a broadcaster onto a registry.
func NewBroadcaster(reg *Registry, tm *observability.TraceManager, mm *observability.MetricsManager, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		Registry:       reg,
		TraceManager:   tm,
		MetricsManager: mm,
		Logger:         logger,
	}
}

// Broadcast validates the request, stamps a message and delivers it to every
// registered agent except the sender. It returns once fan-out to all current
// recipients has been attempted; delivery to any individual live connection
// is best-effort and a write failure never fails the broadcast.
func (b *Broadcaster) Broadcast(ctx context.Context, senderID string, content map[string]any) (*Message, error) {
	ctx, span := b.TraceManager.StartBroadcastSpan(ctx, senderID)
	defer span.End()

	timer := b.MetricsManager.StartTimer()
	defer timer(ctx, "broadcast", "relay")

	if senderID == "" || len(content) == 0 {
		b.TraceManager.RecordError(span, ErrInvalidRequest)
		b.MetricsManager.IncrementDeliveryErrors(ctx, senderID, "validation_error")
		return nil, ErrInvalidRequest
	}

	b.Registry.Touch(senderID)
	msg := NewMessage(senderID, content)

	recipients := 0
	for _, id := range b.Registry.ListIDs() {
		if id == senderID {
			continue
		}
		b.deliver(ctx, id, msg)
		recipients++
	}

	b.MetricsManager.IncrementBroadcasts(ctx, senderID)
	b.TraceManager.SetSpanSuccess(span)
	b.Logger.InfoContext(ctx, "message broadcast",
		"sender_id", senderID,
		"recipients", recipients,
	)
	return msg, nil
}

// deliver routes one copy to one recipient. A panic while delivering to one
// recipient must not abort fan-out to the rest.
func (b *Broadcaster) deliver(ctx context.Context, id string, msg *Message) {
	defer func() {
		if rec := recover(); rec != nil {
			b.Logger.ErrorContext(ctx, "recovered from panic during delivery",
				"agent_id", id,
				"panic", rec,
			)
			b.MetricsManager.IncrementDeliveryErrors(ctx, id, "panic")
		}
	}()

	b.Registry.EnqueueOrDeliver(id, msg)
	b.MetricsManager.IncrementMessagesDelivered(ctx, id)
}
