package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gocomet/ride-dispatch/internal/api/dto"
	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	"github.com/gocomet/ride-dispatch/internal/geo"
	"github.com/gocomet/ride-dispatch/internal/service/dispatch"
	"github.com/gocomet/ride-dispatch/pkg/logger"
)

// driverStatuses maps the progress names drivers send to ride statuses
var driverStatuses = map[string]ride.Status{
	"on_way":    ride.StatusDriverOnWay,
	"picked_up": ride.StatusRiderPickedUp,
}

// CreateRide handles POST /v1/rides
func (h *Handlers) CreateRide(c *gin.Context) {
	var req dto.CreateRideRequest
	if !h.bindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	rideReq := dispatch.RideRequest{
		RiderID: req.RiderID,
		Pickup: ride.Location{
			Latitude:  req.PickupLatitude,
			Longitude: req.PickupLongitude,
			Address:   req.PickupAddress,
		},
		Destination: ride.Location{
			Latitude:  req.DropoffLatitude,
			Longitude: req.DropoffLongitude,
			Address:   req.DropoffAddress,
		},
		VehicleType:   driver.VehicleType(req.VehicleType),
		PaymentMethod: ride.PaymentMethod(req.PaymentMethod),
	}
	if rideReq.VehicleType == "" {
		rideReq.VehicleType = driver.VehicleEconomy
	}

	if req.EstimatedFare != nil {
		rideReq.EstimatedFare = *req.EstimatedFare
	} else {
		estimate, err := h.Pricing.Estimate(ctx, rideReq.VehicleType, rideReq.Pickup.Point(), rideReq.Destination.Point())
		if err != nil {
			h.respondError(c, err)
			return
		}
		rideReq.EstimatedFare = estimate.Fare.Total
	}

	h.Logger.Info("Ride request received",
		logger.RiderID(req.RiderID),
		logger.Float64("pickup_lat", req.PickupLatitude),
		logger.Float64("pickup_lng", req.PickupLongitude),
		logger.Float64("estimated_fare", rideReq.EstimatedFare),
	)

	created, err := h.Rides.RequestRide(ctx, rideReq)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// GetRide handles GET /v1/rides/:id
func (h *Handlers) GetRide(c *gin.Context) {
	r, err := h.Rides.GetRide(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// CancelRide handles POST /v1/rides/:id/cancel
func (h *Handlers) CancelRide(c *gin.Context) {
	var req dto.CancelRideRequest
	if !h.bindJSON(c, &req) {
		return
	}

	r, err := h.Rides.CancelRide(c.Request.Context(), c.Param("id"), req.ActorID, ride.Actor(req.ActorType), req.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// UpdateRideStatus handles POST /v1/rides/:id/status
func (h *Handlers) UpdateRideStatus(c *gin.Context) {
	var req dto.RideStatusRequest
	if !h.bindJSON(c, &req) {
		return
	}

	r, err := h.Rides.ReportDriverStatus(c.Request.Context(), c.Param("id"), req.DriverID, driverStatuses[req.Status], req.OTP)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// UpdateRideLocation handles POST /v1/rides/:id/location
func (h *Handlers) UpdateRideLocation(c *gin.Context) {
	var req dto.RideLocationRequest
	if !h.bindJSON(c, &req) {
		return
	}

	loc := geo.Point{Latitude: req.Latitude, Longitude: req.Longitude}
	r, err := h.Rides.UpdateRideLocation(c.Request.Context(), c.Param("id"), req.DriverID, loc, req.EstimatedETA)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// CompleteRide handles POST /v1/rides/:id/complete
func (h *Handlers) CompleteRide(c *gin.Context) {
	var req dto.CompleteRideRequest
	if !h.bindJSON(c, &req) {
		return
	}

	out, err := h.Rides.CompleteRide(c.Request.Context(), c.Param("id"), req.DriverID, dispatch.Completion{
		FinalFare:       req.FinalFare,
		DistanceKM:      req.DistanceKM,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// GetRiderCurrentRide handles GET /v1/riders/:id/current-ride
func (h *Handlers) GetRiderCurrentRide(c *gin.Context) {
	r, err := h.Rides.CurrentRideForRider(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}
