package agentwire

import (
	"context"
	"errors"
	"testing"

	"github.com/agentwire/agentwire/internal/observability"
)

func newTestBroadcaster(t *testing.T) *Broadcaster {
	t.Helper()
	logger := newTestLogger()
	return NewBroadcaster(
		NewRegistry(logger),
		observability.NewTraceManager("test"),
		newTestMetrics(t),
		logger,
	)
}

func TestBroadcast_SenderNeverReceivesOwnMessage(t *testing.T) {
	b := newTestBroadcaster(t)
	ctx := context.Background()

	b.Registry.Ensure("alice")
	b.Registry.Ensure("bob")
	b.Registry.Ensure("carol")

	if _, err := b.Broadcast(ctx, "alice", map[string]any{"message": "hello"}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if got := b.Registry.QueueDepth("alice"); got != 0 {
		t.Errorf("Expected sender queue to stay empty, got depth %d", got)
	}
	if got := b.Registry.QueueDepth("bob"); got != 1 {
		t.Errorf("Expected 1 message queued for bob, got %d", got)
	}
	if got := b.Registry.QueueDepth("carol"); got != 1 {
		t.Errorf("Expected 1 message queued for carol, got %d", got)
	}
}

func TestBroadcast_InvalidRequests(t *testing.T) {
	b := newTestBroadcaster(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		senderID string
		content  map[string]any
	}{
		{
			name:     "empty sender_id",
			senderID: "",
			content:  map[string]any{"message": "hello"},
		},
		{
			name:     "nil content",
			senderID: "alice",
			content:  nil,
		},
		{
			name:     "empty content",
			senderID: "alice",
			content:  map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Broadcast(ctx, tt.senderID, tt.content)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("Expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestBroadcast_StampsMessage(t *testing.T) {
	b := newTestBroadcaster(t)
	ctx := context.Background()

	content := map[string]any{"message": "hello", "priority": "high"}
	msg, err := b.Broadcast(ctx, "alice", content)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if msg.Type != MessageTypeBroadcast {
		t.Errorf("Expected type %q, got %q", MessageTypeBroadcast, msg.Type)
	}
	if msg.From != "alice" {
		t.Errorf("Expected from %q, got %q", "alice", msg.From)
	}
	if msg.Timestamp.IsZero() {
		t.Error("Expected a non-zero timestamp")
	}
	if msg.Content["priority"] != "high" {
		t.Errorf("Expected content to be preserved, got %v", msg.Content)
	}
}

func TestBroadcast_UnknownSenderIsNotRegistered(t *testing.T) {
	b := newTestBroadcaster(t)
	ctx := context.Background()

	b.Registry.Ensure("bob")

	if _, err := b.Broadcast(ctx, "ghost", map[string]any{"message": "boo"}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	// Sending does not register the sender, but the recipient still gets
	// the message.
	if got := b.Registry.Len(); got != 1 {
		t.Errorf("Expected 1 registered agent, got %d", got)
	}
	if got := b.Registry.QueueDepth("bob"); got != 1 {
		t.Errorf("Expected 1 message queued for bob, got %d", got)
	}
}

func TestBroadcast_DeliversToLiveStreamImmediately(t *testing.T) {
	b := newTestBroadcaster(t)
	ctx := context.Background()

	b.Registry.Ensure("alice")
	conn := NewConnection()
	defer conn.Close()
	b.Registry.Attach("bob", conn)

	if _, err := b.Broadcast(ctx, "alice", map[string]any{"message": "hi bob"}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	select {
	case msg := <-conn.Messages():
		if msg.From != "alice" || msg.Text() != "hi bob" {
			t.Errorf("Expected message from alice, got from=%q text=%q", msg.From, msg.Text())
		}
	default:
		t.Fatal("Expected immediate delivery to the live connection")
	}
}
