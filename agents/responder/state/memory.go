package state

import (
	"fmt"
	"sync"
)

// InMemoryStore is a simple in-memory implementation of Store. History is
// lost on restart; swap in persistent storage if that ever matters.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	locks         sync.Map // peerID → *sync.Mutex for per-peer locking
}

// NewInMemoryStore creates a new in-memory conversation store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]*Conversation),
	}
}

// Get retrieves the conversation with a given peer.
// If the peer is unknown, it returns a new empty conversation.
func (s *InMemoryStore) Get(peerID string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if conv, exists := s.conversations[peerID]; exists {
		// Return a copy to prevent external modifications
		return copyConversation(conv), nil
	}

	return &Conversation{
		PeerID: peerID,
		Turns:  []Turn{},
	}, nil
}

// Set persists the conversation with a given peer.
func (s *InMemoryStore) Set(peerID string, conv *Conversation) error {
	if conv == nil {
		return &StoreError{Op: "set", Err: "conversation cannot be nil"}
	}
	if peerID == "" {
		return &StoreError{Op: "set", Err: "peerID cannot be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations[peerID] = copyConversation(conv)
	return nil
}

// Delete removes the conversation with a given peer.
func (s *InMemoryStore) Delete(peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conversations, peerID)
	return nil
}

// WithLock executes a function with exclusive access to a peer's
// conversation.
func (s *InMemoryStore) WithLock(peerID string, fn func(*Conversation) error) error {
	if peerID == "" {
		return &StoreError{Op: "withlock", Err: "peerID cannot be empty"}
	}

	lockInterface, _ := s.locks.LoadOrStore(peerID, &sync.Mutex{})
	peerLock := lockInterface.(*sync.Mutex)

	peerLock.Lock()
	defer peerLock.Unlock()

	conv, err := s.Get(peerID)
	if err != nil {
		return err
	}

	if err := fn(conv); err != nil {
		return err
	}

	return s.Set(peerID, conv)
}

// StoreError represents an error from a store operation.
type StoreError struct {
	Op  string // Operation that failed (e.g., "get", "set")
	Err string // Error message
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("state %s: %s", e.Op, e.Err)
}

// copyConversation creates a copy so stored history cannot be mutated from
// outside the store.
func copyConversation(conv *Conversation) *Conversation {
	if conv == nil {
		return nil
	}
	dup := &Conversation{
		PeerID: conv.PeerID,
		Turns:  make([]Turn, len(conv.Turns)),
	}
	copy(dup.Turns, conv.Turns)
	return dup
}
