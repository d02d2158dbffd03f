package middleware

import (
	"context"
	"net/http"
	"strings"

	"univote/internal/services"
	"univote/internal/transport/httpdto"
	"univote/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Authenticator resolves a bearer token to a caller.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (services.Caller, error)
}

func AuthMiddleware(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c)
		caller, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			status := services.HTTPStatus(err)
			c.JSON(status, httpdto.NewErrorResponse(http.StatusText(status), services.ErrorCode(err)))
			c.Abort()
			return
		}

		ctx := services.WithCaller(c.Request.Context(), caller)
		ctx = context.WithValue(ctx, logger.UserIdKey, caller.UserID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireAdmin must run after AuthMiddleware.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := services.CallerFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
			c.Abort()
			return
		}
		if !caller.IsAdmin() {
			c.JSON(http.StatusForbidden, httpdto.NewErrorResponse("admin role required", "PERMISSION_DENIED"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func extractBearer(c *gin.Context) string {
	value := c.GetHeader("Authorization")
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
