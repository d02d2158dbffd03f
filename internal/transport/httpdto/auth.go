package httpdto

// RegisterRequest is used for POST /auth/register
type RegisterRequest struct {
	Email    string `json:"email" binding:"required"`
	Name     string `json:"name"`
	Password string `json:"password" binding:"required"`
}

// InviteRegisterRequest is used for POST /auth/register/invite
type InviteRegisterRequest struct {
	Token    string `json:"token" binding:"required"`
	Name     string `json:"name"`
	Password string `json:"password" binding:"required"`
}

// LoginRequest is used for POST /auth/login
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RefreshRequest is used for POST /auth/refresh
type RefreshRequest struct {
	SessionID    string `json:"session_id" binding:"required"`
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// InvitationRequest is used for POST /admin/invitations
type InvitationRequest struct {
	Email string `json:"email" binding:"required"`
}

type AuthUserDTO struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

type AuthResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token,omitempty"`
	ExpiresIn    int64       `json:"expires_in"`
	SessionID    string      `json:"session_id"`
	User         AuthUserDTO `json:"user"`
}
