package handlers

import (
	"context"

	gorilla "github.com/gorilla/websocket"

	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	"github.com/gocomet/ride-dispatch/internal/domain/offer"
	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	"github.com/gocomet/ride-dispatch/internal/geo"
	"github.com/gocomet/ride-dispatch/internal/service/dispatch"
	"github.com/gocomet/ride-dispatch/internal/service/pricing"
	"github.com/gocomet/ride-dispatch/pkg/logger"
	"github.com/gocomet/ride-dispatch/pkg/websocket"
)

// RideService is the dispatch surface the handlers drive.
// *dispatch.Service satisfies it.
type RideService interface {
	RequestRide(ctx context.Context, req dispatch.RideRequest) (*ride.Ride, error)
	GetRide(ctx context.Context, rideID string) (*ride.Ride, error)
	CancelRide(ctx context.Context, rideID, actorID string, by ride.Actor, reason string) (*ride.Ride, error)
	ReportDriverStatus(ctx context.Context, rideID, driverID string, status ride.Status, otp string) (*ride.Ride, error)
	UpdateRideLocation(ctx context.Context, rideID, driverID string, location geo.Point, etaMinutes *int) (*ride.Ride, error)
	CompleteRide(ctx context.Context, rideID, driverID string, c dispatch.Completion) (*dispatch.CompletionOutcome, error)
	AcceptOffer(ctx context.Context, offerID, driverID string) (*dispatch.AcceptOutcome, error)
	DeclineOffer(ctx context.Context, offerID, driverID string) (*offer.Offer, error)
	CurrentRideForRider(ctx context.Context, riderID string) (*ride.Ride, error)
	CurrentRideForDriver(ctx context.Context, driverID string) (*ride.Ride, error)
	PendingOffers(ctx context.Context, driverID string) []dispatch.PendingOffer
	GoOnline(ctx context.Context, driverID string, location geo.Point) (driver.Availability, error)
	GoOffline(ctx context.Context, driverID string) error
	UpdateDriverLocation(ctx context.Context, driverID string, location geo.Point) error
	DriverAvailability(ctx context.Context, driverID string) (driver.Availability, error)
}

// Handlers holds all handler dependencies
type Handlers struct {
	Rides    RideService
	Pricing  *pricing.Service
	Hub      *websocket.Hub
	Upgrader gorilla.Upgrader
	Logger   *logger.Logger
}

// NewHandlers creates a new Handlers instance. hub may be nil when realtime
// updates are disabled.
func NewHandlers(rides RideService, pricingService *pricing.Service, hub *websocket.Hub, upgrader gorilla.Upgrader, log *logger.Logger) *Handlers {
	return &Handlers{
		Rides:    rides,
		Pricing:  pricingService,
		Hub:      hub,
		Upgrader: upgrader,
		Logger:   log,
	}
}
