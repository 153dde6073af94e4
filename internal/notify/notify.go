// Package notify delivers ride lifecycle events to riders, drivers and
// downstream consumers. Delivery is fire-and-forget: callers log failures and
// move on, a lost notification never rolls back a ride.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Role is the kind of user receiving an event
type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
)

// Recipient addresses a single user
type Recipient struct {
	Role Role   `json:"role"`
	ID   string `json:"id"`
}

// Rider addresses a rider
func Rider(id string) Recipient { return Recipient{Role: RoleRider, ID: id} }

// Driver addresses a driver
func Driver(id string) Recipient { return Recipient{Role: RoleDriver, ID: id} }

// Kind names a lifecycle event
type Kind string

const (
	KindOfferCreated   Kind = "offer_created"
	KindOfferExpired   Kind = "offer_expired"
	KindRideAccepted   Kind = "ride_accepted"
	KindDriverOnWay    Kind = "driver_on_way"
	KindRiderPickedUp  Kind = "rider_picked_up"
	KindRideCompleted  Kind = "ride_completed"
	KindRideCancelled  Kind = "ride_cancelled"
	KindDriverLocation Kind = "driver_location"
)

// Watchable reports whether ride watchers may see the event. Offers and the
// acceptance carry driver-only data or the pickup OTP and are never shared.
func (k Kind) Watchable() bool {
	switch k {
	case KindDriverOnWay, KindRiderPickedUp, KindRideCompleted, KindRideCancelled, KindDriverLocation:
		return true
	}
	return false
}

// Event is one notification
type Event struct {
	ID      string      `json:"id"`
	Kind    Kind        `json:"kind"`
	RideID  string      `json:"ride_id"`
	Payload interface{} `json:"payload,omitempty"`
	At      time.Time   `json:"at"`
}

// NewEvent stamps an event with an id and time
func NewEvent(kind Kind, rideID string, payload interface{}) Event {
	return Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		RideID:  rideID,
		Payload: payload,
		At:      time.Now().UTC(),
	}
}

// Notifier delivers an event to a recipient
type Notifier interface {
	Notify(ctx context.Context, to Recipient, event Event) error
}

// Multi fans an event out to every notifier. All notifiers are attempted;
// their errors are joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, to Recipient, event Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, to, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards every event
type Nop struct{}

func (Nop) Notify(context.Context, Recipient, Event) error { return nil }

// envelope is the broker wire format
type envelope struct {
	EventID       string      `json:"event_id"`
	Kind          Kind        `json:"kind"`
	RideID        string      `json:"ride_id"`
	RecipientRole Role        `json:"recipient_role"`
	RecipientID   string      `json:"recipient_id"`
	Payload       interface{} `json:"payload,omitempty"`
	OccurredAt    time.Time   `json:"occurred_at"`
}

func newEnvelope(to Recipient, event Event) envelope {
	return envelope{
		EventID:       event.ID,
		Kind:          event.Kind,
		RideID:        event.RideID,
		RecipientRole: to.Role,
		RecipientID:   to.ID,
		Payload:       event.Payload,
		OccurredAt:    event.At,
	}
}
