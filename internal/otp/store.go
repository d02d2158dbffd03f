package otp

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	univote_errors "univote/pkg/errors"

	"github.com/google/uuid"
)

// MaxAttempts wrong codes burn a challenge; the voter has to request a new one.
const MaxAttempts = 5

var errAttemptsExhausted = fmt.Errorf("%w: too many wrong codes, request a new one", univote_errors.ErrInvalidCode)

// Challenge is the live verification code for one voter key.
type Challenge struct {
	Code      string
	PollID    uuid.UUID
	IssuedAt  time.Time
	ExpiresAt time.Time
	// Attempts counts wrong codes entered against this challenge.
	Attempts int
}

func (c Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// check applies the verification order shared by every backend:
// expired, then poll mismatch, then code.
func (c Challenge) check(code string, pollID uuid.UUID, now time.Time) error {
	if c.Expired(now) {
		return univote_errors.ErrExpired
	}
	if c.PollID != pollID {
		return univote_errors.ErrPollMismatch
	}
	if subtle.ConstantTimeCompare([]byte(c.Code), []byte(code)) != 1 {
		return univote_errors.ErrInvalidCode
	}
	return nil
}

// Store keeps at most one challenge per voter key.
type Store interface {
	// Put overwrites any previous challenge for key.
	Put(ctx context.Context, key string, c Challenge) error
	// Get returns ErrNotFound when no challenge exists.
	Get(ctx context.Context, key string) (Challenge, error)
	// Consume verifies and, on success or expiry, deletes the challenge in one step.
	// A wrong code bumps Attempts; the MaxAttempts-th miss deletes the challenge.
	Consume(ctx context.Context, key, code string, pollID uuid.UUID, now time.Time) error
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}
