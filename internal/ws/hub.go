package ws

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"codepad/api/internal/collab"
)

// conn is one live WebSocket connection. Outbound messages go through the
// buffered send channel so the engine's fan-out never blocks on a slow
// socket; the write pump drains it.
type conn struct {
	id     string
	userID string
	sock   *websocket.Conn
	send   chan collab.Message

	closeOnce sync.Once
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// Hub tracks live connections by ID and delivers engine messages to them.
// It is the process-local implementation of the engine's transport.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*conn
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]*conn)}
}

func (h *Hub) add(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.id] = c
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.conns[id]; ok {
		delete(h.conns, id)
		c.close()
	}
}

// Send queues a message for one connection. A full send buffer means the
// client is not draining its socket; reporting an error lets the engine
// drop the connection instead of stalling a broadcast.
func (h *Hub) Send(connID string, msg collab.Message) error {
	// The read lock is held across the channel send: remove closes the
	// channel under the write lock, so a send can never hit a closed
	// channel.
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[connID]
	if !ok {
		return fmt.Errorf("connection %s not registered", connID)
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return fmt.Errorf("connection %s send buffer full", connID)
	}
}

// Count returns the number of live connections (health endpoint).
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
