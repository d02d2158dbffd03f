package handler

import (
	"context"
	"net/http"
	"time"

	"univote/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

type HealthHandler struct {
	checks map[string]HealthCheck
}

func NewHealthHandler(checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks}
}

func (h *HealthHandler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"message": "pong"}))
}

func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := gin.H{}
	healthy := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}
	if !healthy {
		c.JSON(http.StatusServiceUnavailable, httpdto.Response[gin.H]{Success: false, Data: status, Error: "unhealthy", Code: "UNAVAILABLE"})
		return
	}
	status["status"] = "healthy"
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(status))
}
