package state

import "time"

// maxTurns bounds how much history a conversation keeps. Older turns fall
// off so prompts stay a reasonable size.
const maxTurns = 20

// Turn is one exchange in a conversation: who said what, and when.
type Turn struct {
	From string
	Text string
	At   time.Time
}

// Conversation is the recent history with one peer agent. The responder
// feeds it to the LLM so replies carry context beyond the last message.
type Conversation struct {
	PeerID string
	Turns  []Turn
}

// Append adds a turn, trimming the oldest once the history is full.
func (c *Conversation) Append(turn Turn) {
	c.Turns = append(c.Turns, turn)
	if len(c.Turns) > maxTurns {
		c.Turns = c.Turns[len(c.Turns)-maxTurns:]
	}
}

// Store defines the interface for persisting conversation history.
// This abstraction allows for different implementations (in-memory, Redis,
// PostgreSQL, etc.).
type Store interface {
	// Get retrieves the conversation with a given peer.
	// Returns a new empty conversation if the peer is unknown.
	Get(peerID string) (*Conversation, error)

	// Set persists the conversation with a given peer.
	Set(peerID string, conv *Conversation) error

	// Delete removes the conversation with a given peer.
	Delete(peerID string) error

	// WithLock executes a function with exclusive access to a peer's
	// conversation. This ensures thread-safe read-modify-write cycles.
	WithLock(peerID string, fn func(*Conversation) error) error
}
