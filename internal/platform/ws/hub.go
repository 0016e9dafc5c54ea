// Package ws delivers sync events to connected mobile clients. It implements
// a hub-and-spoke pattern where each authenticated client is subscribed to
// its own per-user topics and receives events published to those topics.
package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types published by the sync layer.
const (
	EventThreadUpdated    = "thread.updated"
	EventDashboardUpdated = "dashboard.updated"
)

// ThreadTopic is the topic carrying thread state changes for a user.
func ThreadTopic(userID uuid.UUID) string {
	return "threads:" + userID.String()
}

// DashboardTopic is the topic carrying dashboard summary changes for a user.
func DashboardTopic(userID uuid.UUID) string {
	return "dashboard:" + userID.String()
}

// Event represents a real-time notification sent to WebSocket clients.
type Event struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Client represents a single WebSocket connection bound to a user.
type Client struct {
	ID     string
	UserID uuid.UUID
	Topics []string
	Send   chan []byte
}

// Hub is the central connection manager that tracks clients and their topic
// subscriptions. All operations are thread-safe via sync.RWMutex.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> set of clients
	all     map[*Client]struct{}            // all connected clients
	log     zerolog.Logger
}

// NewHub creates a new Hub ready to manage WebSocket clients.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		log:     logger,
	}
}

// Register adds a client to the hub and subscribes it to its topics.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}

	for _, topic := range client.Topics {
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		h.clients[topic][client] = struct{}{}
	}
}

// Unregister removes a client from the hub and all topic subscriptions, and
// closes the client's Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}

	for _, topic := range client.Topics {
		if subscribers, ok := h.clients[topic]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.clients, topic)
			}
		}
	}

	delete(h.all, client)
	close(client.Send)
}

// Broadcast sends an event to all clients subscribed to the given topic.
func (h *Hub) Broadcast(topic string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Str("topic", topic).Msg("marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	subscribers, ok := h.clients[topic]
	if !ok {
		return
	}

	for client := range subscribers {
		select {
		case client.Send <- data:
		default:
			// Client buffer full; skip to avoid blocking.
		}
	}
}

// ThreadUpdated publishes a thread-updated event to the user's thread topic.
func (h *Hub) ThreadUpdated(userID uuid.UUID, data json.RawMessage) {
	h.Broadcast(ThreadTopic(userID), Event{
		Type:      EventThreadUpdated,
		Topic:     ThreadTopic(userID),
		Timestamp: time.Now(),
		Data:      data,
	})
}

// DashboardUpdated publishes a dashboard-updated event to the user's
// dashboard topic.
func (h *Hub) DashboardUpdated(userID uuid.UUID, data json.RawMessage) {
	h.Broadcast(DashboardTopic(userID), Event{
		Type:      EventDashboardUpdated,
		Topic:     DashboardTopic(userID),
		Timestamp: time.Now(),
		Data:      data,
	})
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of clients subscribed to a specific topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}
