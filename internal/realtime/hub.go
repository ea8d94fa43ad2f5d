// Package realtime pushes recording changes to connected admin pages.
package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat, in seconds.
	PingInterval = 30
	PongWait     = 60
)

// Subscriber receives events published by workers.
type Subscriber interface {
	Subscribe(handler func(Event)) (cancel func(), err error)
}

// Hub tracks admin connections and fans events out to them. The upstream
// subscription is held only while at least one client is connected.
type Hub struct {
	clients map[string]*Client
	cancel  func()
	mu      sync.Mutex
	sub     Subscriber
	logger  *zap.Logger
}

// NewHub creates a hub. sub may be nil, in which case only Broadcast delivers events.
func NewHub(sub Subscriber, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]*Client),
		sub:     sub,
		logger:  logger,
	}
}

// Register adds a client and subscribes upstream for the first one.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if len(h.clients) == 0 && h.sub != nil {
		cancel, err := h.sub.Subscribe(h.Broadcast)
		if err != nil {
			h.logger.Warn("subscribe to recording changes failed", zap.Error(err))
		} else {
			h.cancel = cancel
		}
	}
	h.clients[c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("admin client connected", zap.String("client_id", c.ID), zap.String("user_id", c.UserID))
}

// Unregister removes a client and drops the upstream subscription after the last one.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; ok {
		delete(h.clients, c.ID)
		close(c.send)
	}
	if len(h.clients) == 0 && h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.mu.Unlock()
	h.logger.Debug("admin client disconnected", zap.String("client_id", c.ID))
}

// Broadcast sends ev to every local client. Slow clients miss events rather than block the hub.
func (h *Hub) Broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			// buffer full, skip
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
