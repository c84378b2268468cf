package agentwire

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// connBuffer is the number of frames a live connection may fall behind
	// before a push is considered stalled.
	connBuffer = 32
	// pushTimeout bounds a push to a stalled connection. A push that cannot
	// complete within it is treated as a dead peer and the connection is
	// dropped.
	pushTimeout = 5 * time.Second
)

// Connection is a handle to one live push stream attached to an agent
// record. The subscriber goroutine owns the receiving side; the registry
// pushes into it on broadcast delivery.
type Connection struct {
	ID string

	ch        chan *Message
	done      chan struct{}
	closeOnce sync.Once
}

// NewConnection creates an unattached connection handle.
func NewConnection() *Connection {
	return &Connection{
		ID:   uuid.New().String(),
		ch:   make(chan *Message, connBuffer),
		done: make(chan struct{}),
	}
}

// Push offers msg to the connection. It returns false when the peer is gone
// or has stalled past pushTimeout; the caller is expected to detach the
// connection in that case.
func (c *Connection) Push(msg *Message) bool {
	select {
	case c.ch <- msg:
		return true
	case <-c.done:
		return false
	case <-time.After(pushTimeout):
		return false
	}
}

// Messages is the stream of pushed messages for the subscriber goroutine.
func (c *Connection) Messages() <-chan *Message { return c.ch }

// Done is closed exactly once when the connection is shut down, either by
// its owning subscriber or by eviction.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Close shuts the connection down. Safe to call multiple times.
func (c *Connection) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// record is the per-agent mutable state. All fields are guarded by mu;
// nothing outside the registry holds a long-lived reference to one.
type record struct {
	mu       sync.Mutex
	pending  []*Message
	conns    map[string]*Connection
	lastSeen time.Time
}

// Registry is the authoritative in-memory map of known agents. The top-level
// lock guards only the id→record map itself; every per-agent mutation is
// serialized by that record's own lock, so operations on different ids
// proceed concurrently and no lock is ever held across I/O.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*record
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		agents: make(map[string]*record),
		logger: logger,
	}
}

// ensure returns the record for id, creating it if unknown. A message or
// subscribe for a reaped id silently resurrects an empty record.
func (r *Registry) ensure(id string) *record {
	r.mu.RLock()
	rec, ok := r.agents[id]
	r.mu.RUnlock()
	if ok {
		return rec
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok = r.agents[id]; ok {
		return rec
	}
	rec = &record{
		conns:    make(map[string]*Connection),
		lastSeen: time.Now(),
	}
	r.agents[id] = rec
	r.logger.Info("agent registered", "agent_id", id, "total_agents", len(r.agents))
	return rec
}

// Ensure creates the record for id if it does not exist and marks it seen.
func (r *Registry) Ensure(id string) {
	rec := r.ensure(id)
	rec.mu.Lock()
	rec.lastSeen = time.Now()
	rec.mu.Unlock()
}

// Touch updates lastSeen for id. Unknown ids are ignored.
func (r *Registry) Touch(id string) {
	r.mu.RLock()
	rec, ok := r.agents[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	rec.mu.Lock()
	now := time.Now()
	if now.After(rec.lastSeen) {
		rec.lastSeen = now
	}
	rec.mu.Unlock()
}

// EnqueueOrDeliver routes one message to id. With live connections attached
// the message is pushed to each of them immediately; otherwise it is
// appended to the pending queue. Delivery to a live connection is
// best-effort: a failed push detaches that connection and does not fail the
// call. A message for an unknown id resurrects an empty record.
func (r *Registry) EnqueueOrDeliver(id string, msg *Message) {
	rec := r.ensure(id)

	rec.mu.Lock()
	if len(rec.conns) == 0 {
		rec.pending = append(rec.pending, msg)
		rec.mu.Unlock()
		return
	}
	// Snapshot before pushing: a connection detached mid-delivery must not
	// corrupt the iteration, and pushes must happen outside the lock.
	conns := make([]*Connection, 0, len(rec.conns))
	for _, c := range rec.conns {
		conns = append(conns, c)
	}
	rec.mu.Unlock()

	for _, c := range conns {
		if !c.Push(msg) {
			r.logger.Warn("dropping stalled connection", "agent_id", id, "conn_id", c.ID)
			r.Detach(id, c.ID)
			c.Close()
		}
	}
}

// Attach registers a live connection for id and atomically drains the
// pending queue, returning the drained messages for the subscriber to write
// as its initial burst. The queue is cleared under the same lock that adds
// the connection, so a message is delivered via queue or stream but never
// both.
func (r *Registry) Attach(id string, conn *Connection) []*Message {
	rec := r.ensure(id)

	rec.mu.Lock()
	rec.conns[conn.ID] = conn
	rec.lastSeen = time.Now()
	drained := rec.pending
	rec.pending = nil
	rec.mu.Unlock()

	r.logger.Info("stream attached", "agent_id", id, "conn_id", conn.ID, "queued", len(drained))
	return drained
}

// Detach removes a connection from the live set. No-op when the record or
// connection is already gone.
func (r *Registry) Detach(id, connID string) {
	r.mu.RLock()
	rec, ok := r.agents[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	rec.mu.Lock()
	delete(rec.conns, connID)
	rec.mu.Unlock()
}

// ListIDs returns a snapshot of all known agent ids.
func (r *Registry) ListIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of known agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// QueueDepth reports the pending-queue length for id.
func (r *Registry) QueueDepth(id string) int {
	r.mu.RLock()
	rec, ok := r.agents[id]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.pending)
}

// IdleIDs returns the ids whose lastSeen is older than threshold at now.
// Records touched after the snapshot may be returned; Evict callers tolerate
// that because eviction only resurrects on the next contact.
func (r *Registry) IdleIDs(now time.Time, threshold time.Duration) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var idle []string
	for id, rec := range r.agents {
		rec.mu.Lock()
		last := rec.lastSeen
		rec.mu.Unlock()
		if now.Sub(last) > threshold {
			idle = append(idle, id)
		}
	}
	return idle
}

// Evict forcibly closes every live connection for id and removes the record.
// Pending messages are discarded with it.
func (r *Registry) Evict(id string) {
	r.mu.Lock()
	rec, ok := r.agents[id]
	if ok {
		delete(r.agents, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	rec.mu.Lock()
	conns := make([]*Connection, 0, len(rec.conns))
	for _, c := range rec.conns {
		conns = append(conns, c)
	}
	rec.conns = make(map[string]*Connection)
	rec.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	r.logger.Info("agent evicted", "agent_id", id, "closed_connections", len(conns))
}

// CloseAll force-closes every live connection across all agents. Used on
// service shutdown.
func (r *Registry) CloseAll() {
	for _, id := range r.ListIDs() {
		r.Evict(id)
	}
}
