package ride

import (
	"time"

	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	"github.com/gocomet/ride-dispatch/internal/geo"
)

// Status represents ride status
type Status string

const (
	StatusRequested     Status = "requested"
	StatusAccepted      Status = "accepted"
	StatusDriverOnWay   Status = "driver_on_way"
	StatusRiderPickedUp Status = "rider_picked_up"
	StatusCompleted     Status = "completed"
	StatusCancelled     Status = "cancelled"
)

// IsValid validates the status
func (s Status) IsValid() bool {
	switch s {
	case StatusRequested, StatusAccepted, StatusDriverOnWay,
		StatusRiderPickedUp, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// HasDriver reports whether a ride in this status is being served by a driver
func (s Status) HasDriver() bool {
	switch s {
	case StatusAccepted, StatusDriverOnWay, StatusRiderPickedUp:
		return true
	}
	return false
}

// Actor identifies who triggered a change
type Actor string

const (
	ActorRider  Actor = "rider"
	ActorDriver Actor = "driver"
	ActorSystem Actor = "system"
)

// IsValid validates the actor
func (a Actor) IsValid() bool {
	switch a {
	case ActorRider, ActorDriver, ActorSystem:
		return true
	}
	return false
}

// PaymentMethod is recorded on the ride; payment itself happens elsewhere
type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentCard   PaymentMethod = "card"
	PaymentWallet PaymentMethod = "wallet"
)

// IsValid validates the payment method
func (p PaymentMethod) IsValid() bool {
	switch p {
	case PaymentCash, PaymentCard, PaymentWallet:
		return true
	}
	return false
}

// Location is a point with an optional human readable address
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// Point returns the coordinate part of the location
func (l Location) Point() geo.Point {
	return geo.Point{Latitude: l.Latitude, Longitude: l.Longitude}
}

// Ride represents a ride from request to completion or cancellation.
// Only the dispatch state machine writes Status.
type Ride struct {
	ID                 string             `json:"id"`
	RiderID            string             `json:"rider_id"`
	DriverID           string             `json:"driver_id,omitempty"`
	Status             Status             `json:"status"`
	VehicleType        driver.VehicleType `json:"vehicle_type"`
	Pickup             Location           `json:"pickup"`
	Destination        Location           `json:"destination"`
	OTP                string             `json:"otp,omitempty"`
	EstimatedFare      float64            `json:"estimated_fare"`
	FinalFare          *float64           `json:"final_fare,omitempty"`
	DistanceKM         *float64           `json:"distance_km,omitempty"`
	DurationMinutes    *int               `json:"duration_minutes,omitempty"`
	PaymentMethod      PaymentMethod      `json:"payment_method"`
	DispatchRound      int                `json:"dispatch_round"`
	CurrentLocation    *Location          `json:"current_location,omitempty"`
	EstimatedETA       *int               `json:"estimated_eta,omitempty"`
	LastLocationUpdate *time.Time         `json:"last_location_update,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	AcceptedAt         *time.Time         `json:"accepted_at,omitempty"`
	DriverOnWayAt      *time.Time         `json:"driver_on_way_at,omitempty"`
	PickedUpAt         *time.Time         `json:"picked_up_at,omitempty"`
	StartedAt          *time.Time         `json:"started_at,omitempty"`
	CompletedAt        *time.Time         `json:"completed_at,omitempty"`
	CancelledAt        *time.Time         `json:"cancelled_at,omitempty"`
	CancellationReason string             `json:"cancellation_reason,omitempty"`
	CancelledBy        Actor              `json:"cancelled_by,omitempty"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// Clone returns a deep copy safe to hand out of the ride's lock
func (r *Ride) Clone() *Ride {
	c := *r
	c.FinalFare = clonePtr(r.FinalFare)
	c.DistanceKM = clonePtr(r.DistanceKM)
	c.DurationMinutes = clonePtr(r.DurationMinutes)
	c.CurrentLocation = clonePtr(r.CurrentLocation)
	c.EstimatedETA = clonePtr(r.EstimatedETA)
	c.LastLocationUpdate = clonePtr(r.LastLocationUpdate)
	c.AcceptedAt = clonePtr(r.AcceptedAt)
	c.DriverOnWayAt = clonePtr(r.DriverOnWayAt)
	c.PickedUpAt = clonePtr(r.PickedUpAt)
	c.StartedAt = clonePtr(r.StartedAt)
	c.CompletedAt = clonePtr(r.CompletedAt)
	c.CancelledAt = clonePtr(r.CancelledAt)
	return &c
}

// Redacted returns a copy without the pickup OTP, for audiences other than the rider
func (r *Ride) Redacted() *Ride {
	c := r.Clone()
	c.OTP = ""
	return c
}

// IsParticipant reports whether id acts on this ride in the given role. The
// system takes part in every ride.
func (r *Ride) IsParticipant(by Actor, id string) bool {
	switch by {
	case ActorRider:
		return id != "" && id == r.RiderID
	case ActorDriver:
		return id != "" && id == r.DriverID
	case ActorSystem:
		return true
	}
	return false
}

// TerminalAt returns when the ride reached a terminal status
func (r *Ride) TerminalAt() (time.Time, bool) {
	switch {
	case r.CompletedAt != nil:
		return *r.CompletedAt, true
	case r.CancelledAt != nil:
		return *r.CancelledAt, true
	}
	return time.Time{}, false
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
