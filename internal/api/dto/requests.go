package dto

// CreateRideRequest represents a request to create a new ride. EstimatedFare
// is optional; the server quotes one when it is missing.
type CreateRideRequest struct {
	RiderID          string   `json:"rider_id" binding:"required"`
	PickupLatitude   float64  `json:"pickup_latitude" binding:"required"`
	PickupLongitude  float64  `json:"pickup_longitude" binding:"required"`
	PickupAddress    string   `json:"pickup_address"`
	DropoffLatitude  float64  `json:"dropoff_latitude" binding:"required"`
	DropoffLongitude float64  `json:"dropoff_longitude" binding:"required"`
	DropoffAddress   string   `json:"dropoff_address"`
	VehicleType      string   `json:"vehicle_type" binding:"omitempty,oneof=economy premium luxury"`
	EstimatedFare    *float64 `json:"estimated_fare" binding:"omitempty,gte=0"`
	PaymentMethod    string   `json:"payment_method" binding:"omitempty,oneof=cash card wallet"`
}

// CancelRideRequest represents a rider or driver cancelling a ride
type CancelRideRequest struct {
	ActorID   string `json:"actor_id" binding:"required"`
	ActorType string `json:"actor_type" binding:"required,oneof=rider driver"`
	Reason    string `json:"reason"`
}

// RideStatusRequest represents a driver reporting progress. Status is
// on_way or picked_up.
type RideStatusRequest struct {
	DriverID string `json:"driver_id" binding:"required"`
	Status   string `json:"status" binding:"required,oneof=on_way picked_up"`
	OTP      string `json:"otp"`
}

// RideLocationRequest represents the assigned driver's position during a ride
type RideLocationRequest struct {
	DriverID     string  `json:"driver_id" binding:"required"`
	Latitude     float64 `json:"latitude" binding:"required"`
	Longitude    float64 `json:"longitude" binding:"required"`
	EstimatedETA *int    `json:"estimated_eta" binding:"omitempty,gte=0"`
}

// CompleteRideRequest represents ending a ride. Missing fields keep the
// estimate.
type CompleteRideRequest struct {
	DriverID        string   `json:"driver_id" binding:"required"`
	FinalFare       *float64 `json:"final_fare" binding:"omitempty,gte=0"`
	DistanceKM      *float64 `json:"distance_km" binding:"omitempty,gte=0"`
	DurationMinutes *int     `json:"duration_minutes" binding:"omitempty,gte=0"`
}

// OfferResponseRequest represents a driver answering an offer
type OfferResponseRequest struct {
	DriverID string `json:"driver_id" binding:"required"`
}

// UpdateLocationRequest represents a driver location update
type UpdateLocationRequest struct {
	Latitude  float64 `json:"latitude" binding:"required"`
	Longitude float64 `json:"longitude" binding:"required"`
}

// FareEstimateRequest represents a quote request
type FareEstimateRequest struct {
	PickupLatitude   float64 `json:"pickup_latitude" binding:"required"`
	PickupLongitude  float64 `json:"pickup_longitude" binding:"required"`
	DropoffLatitude  float64 `json:"dropoff_latitude" binding:"required"`
	DropoffLongitude float64 `json:"dropoff_longitude" binding:"required"`
	VehicleType      string  `json:"vehicle_type" binding:"omitempty,oneof=economy premium luxury"`
}

// Error response
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Success response
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}
