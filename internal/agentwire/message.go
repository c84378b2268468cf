package agentwire

import (
	"encoding/json"
	"time"
)

// MessageTypeBroadcast is the only event type currently carried on the wire.
const MessageTypeBroadcast = "message"

// Message is a single broadcast event as it travels through the relay.
// The relay stamps Timestamp when it accepts the message; after that the
// message is never mutated, only copied onto queues and streams.
type Message struct {
	Type      string         `json:"type"`
	From      string         `json:"from"`
	Content   map[string]any `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewMessage builds a broadcast message stamped with the current time.
func NewMessage(from string, content map[string]any) *Message {
	return &Message{
		Type:      MessageTypeBroadcast,
		From:      from,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// Encode renders the message as a JSON payload for an SSE data frame.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Text returns the conventional "message" text field of the content, if any.
// Agents exchange free-form content objects, but by convention a chat
// payload carries its text under this key.
func (m *Message) Text() string {
	if m.Content == nil {
		return ""
	}
	if s, ok := m.Content["message"].(string); ok {
		return s
	}
	return ""
}
