package dispatch

import (
	"context"

	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	"github.com/gocomet/ride-dispatch/internal/domain/earnings"
	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	"github.com/gocomet/ride-dispatch/internal/domain/rider"
	"github.com/gocomet/ride-dispatch/internal/geo"
	"github.com/gocomet/ride-dispatch/internal/service/availability"
)

// Availability is the slice of the driver pool dispatch depends on.
// *availability.Pool satisfies it.
type Availability interface {
	SetOnline(profile driver.Contact, location geo.Point) driver.Availability
	SetOffline(driverID string) error
	UpdateLocation(driverID string, location geo.Point) error
	MarkBusy(driverID, rideID string) error
	MarkFree(driverID, rideID string)
	Candidates(pickup geo.Point, vehicleType driver.VehicleType, maxCount int, exclude ...string) []availability.Candidate
	Get(driverID string) (driver.Availability, error)
	Stats() availability.Stats
}

// Directory resolves contact cards for riders and drivers. It is called
// before a ride's lock is taken, never while holding it.
type Directory interface {
	GetRiderContact(ctx context.Context, riderID string) (rider.Contact, error)
	GetDriverContact(ctx context.Context, driverID string) (driver.Contact, error)
}

// driverCardRefresher is implemented by directories that cache driver cards
type driverCardRefresher interface {
	InvalidateDriver(ctx context.Context, driverID string) error
}

// Archive persists finished rides and driver earnings
type Archive interface {
	ArchiveRide(ctx context.Context, r *ride.Ride) error
	RecordEarnings(ctx context.Context, driverID, rideID string, split earnings.Breakdown) error
}
