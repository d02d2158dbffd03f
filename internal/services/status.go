package services

import (
	"errors"
	"net/http"

	univote_errors "univote/pkg/errors"
)

// HTTPStatus maps a service error to its HTTP status.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, univote_errors.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, univote_errors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, univote_errors.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, univote_errors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, univote_errors.ErrExpired):
		return http.StatusGone
	case errors.Is(err, univote_errors.ErrInvalidCode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, univote_errors.ErrPollMismatch),
		errors.Is(err, univote_errors.ErrAlreadyVoted),
		errors.Is(err, univote_errors.ErrPollClosed),
		errors.Is(err, univote_errors.ErrPollNotStarted),
		errors.Is(err, univote_errors.ErrAlreadyExists),
		errors.Is(err, univote_errors.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, univote_errors.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, univote_errors.ErrTransient), errors.Is(err, univote_errors.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCode returns the stable machine-readable code for err.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, univote_errors.ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, univote_errors.ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, univote_errors.ErrPermissionDenied):
		return "PERMISSION_DENIED"
	case errors.Is(err, univote_errors.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, univote_errors.ErrExpired):
		return "CODE_EXPIRED"
	case errors.Is(err, univote_errors.ErrInvalidCode):
		return "INVALID_CODE"
	case errors.Is(err, univote_errors.ErrPollMismatch):
		return "POLL_MISMATCH"
	case errors.Is(err, univote_errors.ErrAlreadyVoted):
		return "ALREADY_VOTED"
	case errors.Is(err, univote_errors.ErrPollClosed):
		return "POLL_CLOSED"
	case errors.Is(err, univote_errors.ErrPollNotStarted):
		return "POLL_NOT_STARTED"
	case errors.Is(err, univote_errors.ErrAlreadyExists):
		return "ALREADY_EXISTS"
	case errors.Is(err, univote_errors.ErrInvalidTransition):
		return "INVALID_TRANSITION"
	case errors.Is(err, univote_errors.ErrRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, univote_errors.ErrTransient), errors.Is(err, univote_errors.ErrServiceUnavailable):
		return "UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}
