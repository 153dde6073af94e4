package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents an application error with HTTP status code
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// Client-visible error codes. Each dispatch failure kind has its own code so
// rider and driver apps can branch on it without parsing messages.
const (
	CodeBadRequest        = "BAD_REQUEST"
	CodeForbidden         = "FORBIDDEN"
	CodeNotFound          = "NOT_FOUND"
	CodeConflict          = "CONFLICT"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeOfferExpired      = "OFFER_EXPIRED"
	CodeAlreadyResolved   = "OFFER_ALREADY_RESOLVED"
	CodeDriverBusy        = "DRIVER_BUSY"
	CodeDriverOffline     = "DRIVER_OFFLINE"
	CodeOTPMismatch       = "OTP_MISMATCH"
	CodeInternal          = "INTERNAL_ERROR"
	CodeUnavailable       = "SERVICE_UNAVAILABLE"
)

// BadRequest creates a 400 error
func BadRequest(message string, err error) *AppError {
	return NewAppError(CodeBadRequest, message, http.StatusBadRequest, err)
}

// Forbidden creates a 403 error
func Forbidden(message string, err error) *AppError {
	return NewAppError(CodeForbidden, message, http.StatusForbidden, err)
}

// NotFound creates a 404 error
func NotFound(message string, err error) *AppError {
	return NewAppError(CodeNotFound, message, http.StatusNotFound, err)
}

// Conflict creates a 409 error
func Conflict(message string, err error) *AppError {
	return NewAppError(CodeConflict, message, http.StatusConflict, err)
}

// InvalidTransition creates a 409 error for an illegal ride status move
func InvalidTransition(message string, err error) *AppError {
	return NewAppError(CodeInvalidTransition, message, http.StatusConflict, err)
}

// OfferExpired creates a 410 error
func OfferExpired(message string, err error) *AppError {
	return NewAppError(CodeOfferExpired, message, http.StatusGone, err)
}

// AlreadyResolved creates a 409 error for an offer that was already answered
func AlreadyResolved(message string, err error) *AppError {
	return NewAppError(CodeAlreadyResolved, message, http.StatusConflict, err)
}

// DriverBusy creates a 409 error for a failed availability claim
func DriverBusy(message string, err error) *AppError {
	return NewAppError(CodeDriverBusy, message, http.StatusConflict, err)
}

// DriverOffline creates a 409 error for a driver that is not online
func DriverOffline(message string, err error) *AppError {
	return NewAppError(CodeDriverOffline, message, http.StatusConflict, err)
}

// OTPMismatch creates a 422 error
func OTPMismatch(message string, err error) *AppError {
	return NewAppError(CodeOTPMismatch, message, http.StatusUnprocessableEntity, err)
}

// Internal creates a 500 error
func Internal(message string, err error) *AppError {
	return NewAppError(CodeInternal, message, http.StatusInternalServerError, err)
}

// ServiceUnavailable creates a 503 error
func ServiceUnavailable(message string, err error) *AppError {
	return NewAppError(CodeUnavailable, message, http.StatusServiceUnavailable, err)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError attempts to convert an error to AppError
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("An unexpected error occurred", err)
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
