package offer

import (
	"errors"
	"time"
)

var (
	ErrOfferNotFound        = errors.New("offer not found")
	ErrOfferExpired         = errors.New("offer expired")
	ErrOfferAlreadyResolved = errors.New("offer already resolved")
)

// Status represents the state of a ride offer sent to a driver
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusDeclined Status = "declined"
	StatusExpired  Status = "expired"
)

// Offer is one driver's invitation to serve a ride
type Offer struct {
	ID               string     `json:"id"`
	RideID           string     `json:"ride_id"`
	DriverID         string     `json:"driver_id"`
	Round            int        `json:"round"`
	EstimatedFare    float64    `json:"estimated_fare"`
	PickupDistanceKM float64    `json:"pickup_distance_km"`
	Status           Status     `json:"status"`
	ExpiresAt        time.Time  `json:"expires_at"`
	CreatedAt        time.Time  `json:"created_at"`
	RespondedAt      *time.Time `json:"responded_at,omitempty"`
}

// IsPending reports whether the offer still awaits a response
func (o *Offer) IsPending() bool {
	return o.Status == StatusPending
}

// IsExpired reports whether a pending offer has passed its deadline
func (o *Offer) IsExpired(now time.Time) bool {
	return o.Status == StatusExpired || (o.Status == StatusPending && !now.Before(o.ExpiresAt))
}

// Resolve moves a pending offer to a final status
func (o *Offer) Resolve(status Status, at time.Time) {
	o.Status = status
	o.RespondedAt = &at
}

// Clone returns a copy safe to hand out of the ride's lock
func (o *Offer) Clone() *Offer {
	c := *o
	if o.RespondedAt != nil {
		t := *o.RespondedAt
		c.RespondedAt = &t
	}
	return &c
}
