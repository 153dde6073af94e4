package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gocomet/ride-dispatch/pkg/logger"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxFrameSize    = 512
	sendBuffer      = 256
	maxWatchedRides = 8
)

// Inbound frame types
const (
	frameWatch   = "subscribe"
	frameUnwatch = "unsubscribe"
	framePing    = "ping"
)

// Client is one rider or driver connection. Besides events addressed to its
// user it receives shareable updates for every ride it watches.
type Client struct {
	ID       string
	UserID   string
	UserType string // rider or driver
	Hub      *Hub
	Conn     *websocket.Conn
	Send     chan []byte

	mu      sync.RWMutex
	watched map[string]struct{}
	logger  *logger.Logger
}

// ClientMessage is a frame sent by the app
type ClientMessage struct {
	Type   string `json:"type"`
	RideID string `json:"ride_id,omitempty"`
}

// NewClient wraps an upgraded connection
func NewClient(hub *Hub, conn *websocket.Conn, userID, userType string, log *logger.Logger) *Client {
	return &Client{
		ID:       uuid.NewString(),
		UserID:   userID,
		UserType: userType,
		Hub:      hub,
		Conn:     conn,
		Send:     make(chan []byte, sendBuffer),
		watched:  make(map[string]struct{}),
		logger:   log,
	}
}

// ReadPump handles app frames until the connection drops, then leaves the hub
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxFrameSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("Connection dropped",
					logger.String("client_id", c.ID),
					logger.String("user_id", c.UserID),
					logger.Err(err),
				)
			}
			return
		}
		c.handleFrame(frame)
	}
}

// WritePump writes queued events, one frame each, and keeps the connection
// alive with pings. It exits when Send is closed by the hub.
func (c *Client) WritePump() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ping.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleFrame(frame []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		c.SendMessage(Message{Type: "error", Data: "frame is not valid JSON"})
		return
	}

	switch msg.Type {
	case frameWatch:
		if !c.Subscribe(msg.RideID) {
			c.SendMessage(Message{Type: "error", RideID: msg.RideID, Data: "cannot watch ride"})
			return
		}
		c.SendMessage(Message{Type: "subscribed", RideID: msg.RideID})
	case frameUnwatch:
		c.Unsubscribe(msg.RideID)
		c.SendMessage(Message{Type: "unsubscribed", RideID: msg.RideID})
	case framePing:
		c.SendMessage(Message{Type: "pong"})
	default:
		c.SendMessage(Message{Type: "error", Data: "unknown frame type " + msg.Type})
	}
}

// Subscribe starts watching a ride. It reports false for an empty id or when
// the connection already watches the maximum number of rides.
func (c *Client) Subscribe(rideID string) bool {
	if rideID == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.watched[rideID]; ok {
		return true
	}
	if len(c.watched) >= maxWatchedRides {
		return false
	}
	c.watched[rideID] = struct{}{}
	return true
}

// Unsubscribe stops watching a ride
func (c *Client) Unsubscribe(rideID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.watched, rideID)
}

// IsSubscribedToRide reports whether the connection watches the ride
func (c *Client) IsSubscribedToRide(rideID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.watched[rideID]
	return ok
}

// SendMessage queues a message without blocking; it is dropped when the
// connection is not keeping up
func (c *Client) SendMessage(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("Failed to encode message", logger.String("client_id", c.ID), logger.Err(err))
		return
	}

	select {
	case c.Send <- data:
	default:
		c.logger.Warn("Dropping message for slow connection",
			logger.String("client_id", c.ID),
			logger.String("type", msg.Type),
		)
	}
}
