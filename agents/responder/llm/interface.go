package llm

import (
	"context"

	"github.com/agentwire/agentwire/agents/responder/state"
)

// Client is the interface for producing chat replies from an LLM.
// The responder agent feeds it each incoming broadcast and sends the
// returned text back over the relay.
type Client interface {
	// Reply produces a reply for a broadcast message.
	// It takes:
	// - context: for cancellation and tracing
	// - from: the id of the agent that sent the message
	// - text: the message text to reply to
	// - history: the recent conversation with that agent, oldest first
	Reply(ctx context.Context, from, text string, history []state.Turn) (string, error)
}
