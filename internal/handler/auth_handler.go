package handler

import (
	"net/http"

	"univote/internal/services"
	"univote/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

// AuthHandler handles authentication HTTP endpoints.
type AuthHandler struct {
	service *services.AuthService
}

func NewAuthHandler(service *services.AuthService) *AuthHandler {
	return &AuthHandler{service: service}
}

func toAuthDTO(res services.AuthResponse) httpdto.AuthResponse {
	return httpdto.AuthResponse{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		ExpiresIn:    res.ExpiresIn,
		SessionID:    res.SessionID,
		User: httpdto.AuthUserDTO{
			ID:    res.User.ID,
			Email: res.User.Email,
			Name:  res.User.Name,
			Role:  res.User.Role,
		},
	}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req httpdto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	res, err := h.service.Register(c.Request.Context(), services.RegisterInput{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(toAuthDTO(res)))
}

func (h *AuthHandler) RegisterWithInvitation(c *gin.Context) {
	var req httpdto.InviteRegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	res, err := h.service.RegisterWithInvitation(c.Request.Context(), services.InviteRegisterInput{
		Token:    req.Token,
		Name:     req.Name,
		Password: req.Password,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(toAuthDTO(res)))
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req httpdto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	res, err := h.service.Login(c.Request.Context(), services.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(toAuthDTO(res)))
}

func (h *AuthHandler) Refresh(c *gin.Context) {
	var req httpdto.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	res, err := h.service.Refresh(c.Request.Context(), services.RefreshInput{
		SessionID:    req.SessionID,
		RefreshToken: req.RefreshToken,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(toAuthDTO(res)))
}

func (h *AuthHandler) Logout(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	if err := h.service.Logout(c.Request.Context(), caller.SessionID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"status": "logged_out"}))
}

func (h *AuthHandler) Me(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	info, err := h.service.Me(c.Request.Context(), caller.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(info))
}

func (h *AuthHandler) CreateInvitation(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	var req httpdto.InvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	inv, err := h.service.CreateInvitation(c.Request.Context(), caller, req.Email)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(inv))
}

func (h *AuthHandler) ListInvitations(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	invs, err := h.service.ListInvitations(c.Request.Context(), caller)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(invs))
}

// GetInvitation serves the public invite page lookup.
func (h *AuthHandler) GetInvitation(c *gin.Context) {
	inv, err := h.service.GetInvitation(c.Request.Context(), c.Param("token"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(inv))
}
