package llm

import (
	"context"
	"fmt"

	"github.com/agentwire/agentwire/agents/responder/state"
)

// MockClient is a mock LLM client for testing.
// It allows you to define custom reply logic via a ReplyFunc.
type MockClient struct {
	// ReplyFunc is called when Reply is invoked.
	// If nil, returns a simple acknowledgment.
	ReplyFunc func(ctx context.Context, from, text string, history []state.Turn) (string, error)

	// Track calls for testing
	CallCount   int
	LastFrom    string
	LastText    string
	LastHistory []state.Turn
}

// NewMockClient creates a new mock LLM client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// NewMockClientWithFunc creates a mock client with a custom reply function.
func NewMockClientWithFunc(fn func(ctx context.Context, from, text string, history []state.Turn) (string, error)) *MockClient {
	return &MockClient{
		ReplyFunc: fn,
	}
}

// Reply implements the Client interface.
func (m *MockClient) Reply(ctx context.Context, from, text string, history []state.Turn) (string, error) {
	m.CallCount++
	m.LastFrom = from
	m.LastText = text
	m.LastHistory = history

	if m.ReplyFunc != nil {
		return m.ReplyFunc(ctx, from, text, history)
	}

	// Default: simple acknowledgment
	return fmt.Sprintf("I received your message: %s", text), nil
}
