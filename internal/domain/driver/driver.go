package driver

import (
	"time"

	"github.com/gocomet/ride-dispatch/internal/geo"
)

// VehicleType represents the type of vehicle
type VehicleType string

const (
	VehicleEconomy VehicleType = "economy"
	VehiclePremium VehicleType = "premium"
	VehicleLuxury  VehicleType = "luxury"
)

// IsValid validates the vehicle type
func (v VehicleType) IsValid() bool {
	switch v {
	case VehicleEconomy, VehiclePremium, VehicleLuxury:
		return true
	}
	return false
}

// Status represents driver availability status as seen by clients
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusBusy    Status = "busy"
)

// Contact is the driver card shown to riders. It comes from the directory.
type Contact struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Phone          string      `json:"phone"`
	Rating         float64     `json:"rating"`
	VehicleSummary string      `json:"vehicle_summary,omitempty"`
	VehicleType    VehicleType `json:"vehicle_type"`
	Verified       bool        `json:"verified"`
}

// Availability is the dispatch view of a driver. A driver is selectable only
// while online, verified and free.
type Availability struct {
	DriverID      string      `json:"driver_id"`
	Online        bool        `json:"online"`
	Verified      bool        `json:"verified"`
	Busy          bool        `json:"busy"`
	CurrentRideID string      `json:"current_ride_id,omitempty"`
	Location      geo.Point   `json:"location"`
	VehicleType   VehicleType `json:"vehicle_type"`
	Rating        float64     `json:"rating"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Selectable reports whether the driver may receive offers
func (a *Availability) Selectable() bool {
	return a.Online && a.Verified && !a.Busy
}

// Status summarises the record for clients
func (a *Availability) Status() Status {
	switch {
	case !a.Online:
		return StatusOffline
	case a.Busy:
		return StatusBusy
	default:
		return StatusOnline
	}
}
