package ride

import "errors"

var (
	ErrRideNotFound       = errors.New("ride not found")
	ErrActiveRideExists   = errors.New("rider already has an active ride")
	ErrInvalidTransition  = errors.New("invalid ride status transition")
	ErrOTPMismatch        = errors.New("otp does not match")
	ErrNotParticipant     = errors.New("not a participant of this ride")
	ErrInvalidLocation    = errors.New("invalid location")
	ErrInvalidVehicleType = errors.New("invalid vehicle type")
	ErrInvalidFare        = errors.New("invalid fare")
	ErrInvalidRequest     = errors.New("invalid ride request")
)
