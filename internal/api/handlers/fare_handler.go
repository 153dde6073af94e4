package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gocomet/ride-dispatch/internal/api/dto"
	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	"github.com/gocomet/ride-dispatch/internal/geo"
)

// EstimateFare handles POST /v1/fares/estimate
func (h *Handlers) EstimateFare(c *gin.Context) {
	var req dto.FareEstimateRequest
	if !h.bindJSON(c, &req) {
		return
	}

	vehicleType := driver.VehicleType(req.VehicleType)
	if vehicleType == "" {
		vehicleType = driver.VehicleEconomy
	}

	estimate, err := h.Pricing.Estimate(c.Request.Context(), vehicleType,
		geo.Point{Latitude: req.PickupLatitude, Longitude: req.PickupLongitude},
		geo.Point{Latitude: req.DropoffLatitude, Longitude: req.DropoffLongitude},
	)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, estimate)
}
