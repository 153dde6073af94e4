package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gocomet/ride-dispatch/pkg/logger"
)

// Hub keeps the live rider and driver connections and routes ride events to
// them. A user may hold several connections (phone + tablet); every one of
// them receives the message.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *logger.Logger
}

// Message represents a WebSocket message
type Message struct {
	Type   string      `json:"type"`
	RideID string      `json:"ride_id,omitempty"`
	Data   interface{} `json:"data,omitempty"`
}

// NewHub creates a new WebSocket hub
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     log,
	}
}

// Run starts the hub's main loop and returns when ctx is done. All remaining
// clients are closed on exit.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				close(client.Send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Info("Client registered",
				logger.String("client_id", client.ID),
				logger.String("user_id", client.UserID),
				logger.String("user_type", client.UserType),
			)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				h.logger.Info("Client unregistered",
					logger.String("client_id", client.ID),
				)
			}
			h.mu.Unlock()
		}
	}
}

// Register registers a new client. It reports false once the hub stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister unregisters a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// SendToUser delivers a message to every connection of the given user and
// returns how many connections accepted it. Full send buffers are skipped.
func (h *Hub) SendToUser(userType, userID string, message Message) (int, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return 0, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.clients {
		if client.UserID != userID || client.UserType != userType {
			continue
		}
		select {
		case client.Send <- data:
			delivered++
		default:
			h.logger.Warn("Client send buffer full",
				logger.String("user_id", userID),
				logger.String("client_id", client.ID),
			)
		}
	}
	return delivered, nil
}

// BroadcastToRide sends a message to every client watching a ride, except the
// connections of the given user, who is reached through SendToUser
func (h *Hub) BroadcastToRide(rideID string, message Message, skipUserType, skipUserID string) int {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal ride message", logger.Err(err))
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.clients {
		if !client.IsSubscribedToRide(rideID) {
			continue
		}
		if client.UserType == skipUserType && client.UserID == skipUserID {
			continue
		}
		select {
		case client.Send <- data:
			delivered++
		default:
			h.logger.Warn("Failed to send ride message to client",
				logger.RideID(rideID),
				logger.String("client_id", client.ID),
			)
		}
	}
	return delivered
}

// GetActiveConnections returns the number of active connections
func (h *Hub) GetActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetClientsByUserType returns count of clients by user type
func (h *Hub) GetClientsByUserType(userType string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for client := range h.clients {
		if client.UserType == userType {
			count++
		}
	}
	return count
}
