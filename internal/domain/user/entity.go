package user

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	RoleAdmin   = "admin"
	RoleStudent = "student"
)

// User represents the users table
type User struct {
	ID           uuid.UUID
	Email        string
	Name         string
	PasswordHash string
	Role         string // admin, student
	CreatedAt    time.Time
}

// UserSession represents the user_sessions table
type UserSession struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	RefreshTokenHash string
	ExpiresAt        time.Time
	IsRevoked        bool
	CreatedAt        time.Time
}

// Invitation represents the invitations table
type Invitation struct {
	ID        uuid.UUID
	Email     string
	Token     string
	Used      bool
	CreatedBy uuid.UUID
	CreatedAt time.Time
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleStudent
}

// NormalizeEmail lowercases and trims an address so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s UserSession) Active(now time.Time) bool {
	return !s.IsRevoked && now.Before(s.ExpiresAt)
}
