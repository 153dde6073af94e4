package dispatch

import (
	"context"
	"time"

	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	"github.com/gocomet/ride-dispatch/internal/domain/offer"
	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	"github.com/gocomet/ride-dispatch/internal/domain/rider"
	"github.com/gocomet/ride-dispatch/internal/notify"
	"github.com/gocomet/ride-dispatch/internal/observability"
	"github.com/gocomet/ride-dispatch/pkg/logger"
)

// OfferPayload is what a driver sees when offered a ride
type OfferPayload struct {
	Offer         *offer.Offer       `json:"offer"`
	Pickup        ride.Location      `json:"pickup"`
	Destination   ride.Location      `json:"destination"`
	VehicleType   driver.VehicleType `json:"vehicle_type"`
	PaymentMethod ride.PaymentMethod `json:"payment_method"`
	Rider         *rider.Contact     `json:"rider,omitempty"`
}

// AcceptedPayload is what a rider sees when a driver accepts
type AcceptedPayload struct {
	Ride   *ride.Ride      `json:"ride"`
	Driver *driver.Contact `json:"driver,omitempty"`
}

// LocationPayload streams the driver position to the rider
type LocationPayload struct {
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	EstimatedETA *int      `json:"estimated_eta,omitempty"`
	At           time.Time `json:"at"`
}

// send delivers one event. Failures are logged and counted, never returned:
// by the time anything is sent the ride change is already committed.
func (s *Service) send(ctx context.Context, to notify.Recipient, kind notify.Kind, rideID string, payload interface{}) {
	if to.ID == "" {
		return
	}
	if err := s.notifier.Notify(ctx, to, notify.NewEvent(kind, rideID, payload)); err != nil {
		observability.NotificationsFailed.WithLabelValues(string(kind)).Inc()
		s.logger.Warn("Failed to deliver notification",
			logger.RideID(rideID),
			logger.String("kind", string(kind)),
			logger.String("role", string(to.Role)),
			logger.String("recipient_id", to.ID),
			logger.Err(err),
		)
	}
}

func (s *Service) announceOffers(ctx context.Context, result *DispatchResult, contact *rider.Contact) {
	if result == nil || len(result.Offers) == 0 {
		return
	}
	if contact == nil {
		if c, err := s.directory.GetRiderContact(ctx, result.Ride.RiderID); err == nil {
			contact = &c
		}
	}
	for _, o := range result.Offers {
		s.send(ctx, notify.Driver(o.DriverID), notify.KindOfferCreated, o.RideID, OfferPayload{
			Offer:         o,
			Pickup:        result.Ride.Pickup,
			Destination:   result.Ride.Destination,
			VehicleType:   result.Ride.VehicleType,
			PaymentMethod: result.Ride.PaymentMethod,
			Rider:         contact,
		})
	}
	s.monitor.RecordDispatchRound(result.Round, len(result.Offers))
}

func (s *Service) withdrawOffers(ctx context.Context, offers []*offer.Offer) {
	for _, o := range offers {
		s.send(ctx, notify.Driver(o.DriverID), notify.KindOfferExpired, o.RideID, o)
	}
}

// announceCancellation tells whoever did not cancel
func (s *Service) announceCancellation(ctx context.Context, r *ride.Ride) {
	if r.CancelledBy != ride.ActorRider {
		s.send(ctx, notify.Rider(r.RiderID), notify.KindRideCancelled, r.ID, r.Redacted())
	}
	if r.CancelledBy != ride.ActorDriver && r.DriverID != "" {
		s.send(ctx, notify.Driver(r.DriverID), notify.KindRideCancelled, r.ID, r.Redacted())
	}
	s.monitor.RecordRideCancelled(r.ID, string(r.CancelledBy), r.CancellationReason)
}
