package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gocomet/ride-dispatch/internal/api/dto"
	"github.com/gocomet/ride-dispatch/internal/geo"
	"github.com/gocomet/ride-dispatch/pkg/logger"
)

// GoOnline handles POST /v1/drivers/:id/online
func (h *Handlers) GoOnline(c *gin.Context) {
	var req dto.UpdateLocationRequest
	if !h.bindJSON(c, &req) {
		return
	}

	driverID := c.Param("id")
	a, err := h.Rides.GoOnline(c.Request.Context(), driverID, geo.Point{Latitude: req.Latitude, Longitude: req.Longitude})
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.Logger.Info("Driver online", logger.DriverID(driverID))
	c.JSON(http.StatusOK, gin.H{
		"driver_id":    a.DriverID,
		"status":       a.Status(),
		"vehicle_type": a.VehicleType,
		"location":     a.Location,
	})
}

// GoOffline handles POST /v1/drivers/:id/offline
func (h *Handlers) GoOffline(c *gin.Context) {
	driverID := c.Param("id")
	if err := h.Rides.GoOffline(c.Request.Context(), driverID); err != nil {
		h.respondError(c, err)
		return
	}

	h.Logger.Info("Driver offline", logger.DriverID(driverID))
	c.JSON(http.StatusOK, dto.SuccessResponse{
		Message: "driver is offline",
		Data:    gin.H{"driver_id": driverID, "status": "offline"},
	})
}

// UpdateDriverLocation handles POST /v1/drivers/:id/location
func (h *Handlers) UpdateDriverLocation(c *gin.Context) {
	var req dto.UpdateLocationRequest
	if !h.bindJSON(c, &req) {
		return
	}

	driverID := c.Param("id")
	ctx := c.Request.Context()
	if err := h.Rides.UpdateDriverLocation(ctx, driverID, geo.Point{Latitude: req.Latitude, Longitude: req.Longitude}); err != nil {
		h.respondError(c, err)
		return
	}

	a, err := h.Rides.DriverAvailability(ctx, driverID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"driver_id":       driverID,
		"status":          a.Status(),
		"current_ride_id": a.CurrentRideID,
		"location":        a.Location,
	})
}

// GetDriverOffers handles GET /v1/drivers/:id/offers
func (h *Handlers) GetDriverOffers(c *gin.Context) {
	offers := h.Rides.PendingOffers(c.Request.Context(), c.Param("id"))
	c.JSON(http.StatusOK, gin.H{
		"offers": offers,
		"count":  len(offers),
	})
}

// GetDriverCurrentRide handles GET /v1/drivers/:id/current-ride
func (h *Handlers) GetDriverCurrentRide(c *gin.Context) {
	r, err := h.Rides.CurrentRideForDriver(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}
