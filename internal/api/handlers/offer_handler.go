package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gocomet/ride-dispatch/internal/api/dto"
)

// AcceptOffer handles POST /v1/offers/:id/accept
func (h *Handlers) AcceptOffer(c *gin.Context) {
	var req dto.OfferResponseRequest
	if !h.bindJSON(c, &req) {
		return
	}

	out, err := h.Rides.AcceptOffer(c.Request.Context(), c.Param("id"), req.DriverID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// DeclineOffer handles POST /v1/offers/:id/decline
func (h *Handlers) DeclineOffer(c *gin.Context) {
	var req dto.OfferResponseRequest
	if !h.bindJSON(c, &req) {
		return
	}

	o, err := h.Rides.DeclineOffer(c.Request.Context(), c.Param("id"), req.DriverID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}
