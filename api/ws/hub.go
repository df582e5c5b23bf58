package ws

import (
	"sync"

	"github.com/ideahub/server/broadcast"
	"github.com/ideahub/server/presence"
	"go.uber.org/zap"
)

// Hub is the registry of this instance's live clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[presence.Handle]*Client
	logger  *zap.Logger
}

var _ broadcast.Sink = (*Hub)(nil)

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[presence.Handle]*Client),
		logger:  logger,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.Handle] = c
	h.mu.Unlock()
}

func (h *Hub) Unregister(handle presence.Handle) {
	h.mu.Lock()
	delete(h.clients, handle)
	h.mu.Unlock()
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) snapshot(match func(*Client) bool) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		if match == nil || match(c) {
			out = append(out, c)
		}
	}
	return out
}

// BroadcastAll queues raw on every client. A slow client loses the message
// rather than stalling the others.
func (h *Hub) BroadcastAll(raw []byte) {
	for _, c := range h.snapshot(nil) {
		select {
		case c.SendChan <- raw:
		default:
			h.logger.Warn("broadcast dropped message for slow client",
				zap.String("user_id", c.UserID))
		}
	}
}

// CloseUser closes every connection of userID and returns how many there were.
// Each connection's read loop then runs the normal disconnect path.
func (h *Hub) CloseUser(userID string) int {
	clients := h.snapshot(func(c *Client) bool { return c.UserID == userID })
	for _, c := range clients {
		c.Close()
	}
	return len(clients)
}

// CloseAll closes every client, used during shutdown.
func (h *Hub) CloseAll() {
	for _, c := range h.snapshot(nil) {
		c.Close()
	}
}
