package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gocomet/ride-dispatch/internal/api/dto"
	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	"github.com/gocomet/ride-dispatch/internal/domain/offer"
	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	"github.com/gocomet/ride-dispatch/internal/domain/rider"
	apperrors "github.com/gocomet/ride-dispatch/pkg/errors"
	"github.com/gocomet/ride-dispatch/pkg/logger"
)

// toAppError maps domain failures to client-visible errors
func toAppError(err error) *apperrors.AppError {
	switch {
	case apperrors.IsAppError(err):
		return apperrors.GetAppError(err)

	case errors.Is(err, ride.ErrRideNotFound):
		return apperrors.NotFound("Ride not found", err)
	case errors.Is(err, offer.ErrOfferNotFound):
		return apperrors.NotFound("Offer not found", err)
	case errors.Is(err, rider.ErrRiderNotFound):
		return apperrors.NotFound("Rider not found", err)
	case errors.Is(err, driver.ErrDriverNotFound):
		return apperrors.NotFound("Driver not found", err)

	case errors.Is(err, offer.ErrOfferExpired):
		return apperrors.OfferExpired("Offer has expired", err)
	case errors.Is(err, offer.ErrOfferAlreadyResolved):
		return apperrors.AlreadyResolved("Offer was already answered", err)
	case errors.Is(err, ride.ErrActiveRideExists):
		return apperrors.Conflict("Rider already has an active ride", err)
	case errors.Is(err, ride.ErrInvalidTransition):
		return apperrors.InvalidTransition("Ride cannot move to that status", err)
	case errors.Is(err, driver.ErrDriverAlreadyBusy):
		return apperrors.DriverBusy("Driver is already on a ride", err)
	case errors.Is(err, driver.ErrDriverOffline):
		return apperrors.DriverOffline("Driver is offline", err)

	case errors.Is(err, ride.ErrOTPMismatch):
		return apperrors.OTPMismatch("OTP does not match", err)
	case errors.Is(err, ride.ErrNotParticipant):
		return apperrors.Forbidden("Not a participant of this ride", err)
	case errors.Is(err, driver.ErrDriverNotVerified):
		return apperrors.Forbidden("Driver is not verified", err)

	case errors.Is(err, ride.ErrInvalidLocation),
		errors.Is(err, ride.ErrInvalidVehicleType),
		errors.Is(err, driver.ErrInvalidVehicleType),
		errors.Is(err, ride.ErrInvalidFare),
		errors.Is(err, ride.ErrInvalidRequest):
		return apperrors.BadRequest(err.Error(), err)
	}
	return apperrors.Internal("An unexpected error occurred", err)
}

// respondError writes err as {code, message}. Server errors are logged.
func (h *Handlers) respondError(c *gin.Context, err error) {
	appErr := toAppError(err)
	if appErr.Status >= http.StatusInternalServerError {
		h.Logger.Error("Request failed",
			logger.String("path", c.FullPath()),
			logger.Err(err),
		)
	}
	c.JSON(appErr.Status, dto.ErrorResponse{Code: appErr.Code, Message: appErr.Message})
}

// bindJSON decodes the body or answers 400
func (h *Handlers) bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Code:    apperrors.CodeBadRequest,
			Message: "Invalid request payload: " + err.Error(),
		})
		return false
	}
	return true
}
