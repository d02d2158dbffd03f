package middleware

import (
	"univote/internal/services"
	"univote/internal/transport/httpdto"
	"univote/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandler renders errors attached with c.Error when the handler wrote nothing.
func ErrorHandler(l *logger.Logger) gin.HandlerFunc {
	log := logger.OrNop(l)
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		status := services.HTTPStatus(err)
		if status >= 500 {
			log.ErrorCtx(c.Request.Context(), "request error", zap.Error(err))
		}
		if c.Writer.Written() {
			return
		}
		c.JSON(status, httpdto.NewErrorResponse(err.Error(), services.ErrorCode(err)))
	}
}
