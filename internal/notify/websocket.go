package notify

import (
	"context"

	"github.com/gocomet/ride-dispatch/pkg/logger"
	"github.com/gocomet/ride-dispatch/pkg/websocket"
)

// userSender is satisfied by *websocket.Hub
type userSender interface {
	SendToUser(userType, userID string, message websocket.Message) (int, error)
	BroadcastToRide(rideID string, message websocket.Message, skipUserType, skipUserID string) int
}

// WebsocketNotifier pushes events to the recipient's open connections. A
// recipient without a connection is not an error; the app catches up through
// the current-ride endpoints. Watchable rider events also reach every other
// connection subscribed to the ride (trip sharing).
type WebsocketNotifier struct {
	hub    userSender
	logger *logger.Logger
}

// NewWebsocketNotifier creates a notifier backed by the hub
func NewWebsocketNotifier(hub userSender, log *logger.Logger) *WebsocketNotifier {
	return &WebsocketNotifier{hub: hub, logger: log}
}

func (n *WebsocketNotifier) Notify(_ context.Context, to Recipient, event Event) error {
	msg := websocket.Message{
		Type:   string(event.Kind),
		RideID: event.RideID,
		Data:   event.Payload,
	}
	delivered, err := n.hub.SendToUser(string(to.Role), to.ID, msg)
	if err != nil {
		return err
	}
	if to.Role == RoleRider && event.Kind.Watchable() {
		n.hub.BroadcastToRide(event.RideID, msg, string(to.Role), to.ID)
	}
	if delivered == 0 {
		n.logger.Debug("No open connection for recipient",
			logger.String("role", string(to.Role)),
			logger.String("user_id", to.ID),
			logger.String("kind", string(event.Kind)),
		)
	}
	return nil
}
