// Package ws streams freshly calculated GEX metrics to WebSocket clients
// subscribed to per-symbol groups.
package ws

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/dgnsrekt/zerogex/internal/gex"
)

// Hub manages WebSocket connections and group subscriptions.
type Hub struct {
	clients    map[*Client]bool
	groups     map[string]map[*Client]bool // group -> clients
	register   chan *Client
	unregister chan *Client
	broadcast  chan *GroupMessage
	mu         sync.RWMutex
	logger     *zap.Logger
}

// GroupMessage represents a message to broadcast to a group.
type GroupMessage struct {
	Group   string
	Payload []byte
}

// NewHub creates a new Hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		groups:     make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *GroupMessage, 256),
		logger:     logger,
	}
}

// Run processes hub events. Call this in a goroutine.
// Returns when context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hub shutting down")
			h.shutdown()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", zap.String("connID", client.connID))

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	// Remove from all groups
	for group := range client.groups {
		if clients, ok := h.groups[group]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.groups, group)
			}
		}
	}
	close(client.send)
	h.logger.Debug("client unregistered", zap.String("connID", client.connID))
}

func (h *Hub) deliver(msg *GroupMessage) {
	h.mu.RLock()
	var slow []*Client
	for client := range h.groups[msg.Group] {
		select {
		case client.send <- msg.Payload:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	// Buffer full, disconnect
	for _, c := range slow {
		h.logger.Debug("dropping slow client", zap.String("connID", c.connID))
		h.remove(c)
	}
}

// shutdown gracefully closes all client connections.
func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.groups = make(map[string]map[*Client]bool)
}

// JoinGroup adds a client to a group.
func (h *Hub) JoinGroup(client *Client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.groups[group] == nil {
		h.groups[group] = make(map[*Client]bool)
	}
	h.groups[group][client] = true
	client.groups[group] = true

	h.logger.Debug("client joined group",
		zap.String("connID", client.connID),
		zap.String("group", group),
	)
}

// LeaveGroup removes a client from a group.
func (h *Hub) LeaveGroup(client *Client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.groups[group]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.groups, group)
		}
	}
	delete(client.groups, group)
}

// ActiveGroups returns all groups with at least one subscriber, sorted.
func (h *Hub) ActiveGroups() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	groups := make([]string, 0, len(h.groups))
	for group, clients := range h.groups {
		if len(clients) > 0 {
			groups = append(groups, group)
		}
	}
	sort.Strings(groups)
	return groups
}

// Broadcast queues payload for every client in group.
func (h *Hub) Broadcast(group string, payload []byte) {
	h.broadcast <- &GroupMessage{Group: group, Payload: payload}
}

// Publish sends m to the symbol's group. Records for symbols nobody
// follows are dropped before encoding.
func (h *Hub) Publish(m *gex.GEXMetrics) {
	group := GroupFor(m.Symbol)

	h.mu.RLock()
	n := len(h.groups[group])
	h.mu.RUnlock()
	if n == 0 {
		return
	}

	payload, err := json.Marshal(m)
	if err != nil {
		h.logger.Error("encoding metrics", zap.String("symbol", m.Symbol), zap.Error(err))
		return
	}
	h.Broadcast(group, buildDataMessage(group, payload))
}
