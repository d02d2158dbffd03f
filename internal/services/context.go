package services

import (
	"context"

	"univote/internal/domain/user"

	"github.com/google/uuid"
)

// Caller is the authenticated identity behind a request.
type Caller struct {
	UserID    uuid.UUID
	SessionID uuid.UUID
	Email     string
	Role      string
}

func (c Caller) IsAdmin() bool {
	return c.Role == user.RoleAdmin
}

type ctxKey string

var callerKey ctxKey = "caller"

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey).(Caller)
	return c, ok
}

func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	c, ok := CallerFromContext(ctx)
	if !ok {
		return uuid.Nil, false
	}
	return c.UserID, true
}

func SessionIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	c, ok := CallerFromContext(ctx)
	if !ok {
		return uuid.Nil, false
	}
	return c.SessionID, true
}
