package univote_errors

import "errors"

// Common errors
var (
	ErrValidation         = errors.New("validation error")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrInvalidTransition  = errors.New("invalid flow transition")
	ErrRateLimited        = errors.New("rate limited")
	ErrTransient          = errors.New("temporarily unavailable")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// Vote verification errors
var (
	ErrExpired        = errors.New("verification code has expired")
	ErrPollMismatch   = errors.New("verification code is for a different poll")
	ErrInvalidCode    = errors.New("invalid verification code")
	ErrAlreadyVoted   = errors.New("already voted on this poll")
	ErrPollClosed     = errors.New("poll is closed")
	ErrPollNotStarted = errors.New("poll has not started yet")
)

// Retryable reports whether the caller may retry the step that produced err.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrTransient),
		errors.Is(err, ErrInvalidCode),
		errors.Is(err, ErrExpired),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrRateLimited):
		return true
	default:
		return false
	}
}

// Terminal reports whether err ends a vote flow for good.
func Terminal(err error) bool {
	return errors.Is(err, ErrAlreadyVoted) || errors.Is(err, ErrPollClosed)
}
