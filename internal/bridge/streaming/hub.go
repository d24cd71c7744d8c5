// Package streaming pushes transcript updates to connected editor clients
// over WebSocket.
package streaming

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/vimcodex/vimcodex/internal/common/logger"
	"github.com/vimcodex/vimcodex/internal/engine/router"
)

// Hub tracks connected clients and broadcasts transcript messages to them
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	logger  *logger.Logger
}

// NewHub creates an empty hub
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		logger:  log.WithFields(zap.String("component", "streaming")),
	}
}

// Register adds a client to the broadcast set
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("client registered", zap.Int("clients", count))
}

// Unregister removes a client and closes its send channel
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("client unregistered", zap.Int("clients", count))
}

// Broadcast sends one transcript message to every connected client. Slow
// clients with a full send buffer are dropped rather than blocking the
// engine.
func (h *Hub) Broadcast(msg router.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal message", zap.Error(err))
		return
	}

	h.mu.RLock()
	var slow []*Client
	for c := range h.clients {
		if !c.trySend(data) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow client")
		h.Unregister(c)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
