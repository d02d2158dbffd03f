// Package handler provides HTTP handlers for API endpoints.
package handler

import (
	"net/http"

	"univote/internal/services"
	"univote/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func writeError(c *gin.Context, err error) {
	c.JSON(services.HTTPStatus(err), httpdto.NewErrorResponse(err.Error(), services.ErrorCode(err)))
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse(msg, "VALIDATION_ERROR"))
}

func callerOrAbort(c *gin.Context) (services.Caller, bool) {
	caller, ok := services.CallerFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return services.Caller{}, false
	}
	return caller, true
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
