package driver

import "errors"

var (
	ErrDriverNotFound     = errors.New("driver not found")
	ErrDriverAlreadyBusy  = errors.New("driver is already busy")
	ErrDriverOffline      = errors.New("driver is offline")
	ErrDriverNotVerified  = errors.New("driver is not verified")
	ErrInvalidVehicleType = errors.New("invalid vehicle type")
)
