package middleware

import (
	"context"
	"net/http"
	"strconv"

	"univote/internal/redis"
	"univote/internal/services"
	"univote/internal/transport/httpdto"
	"univote/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type limitFunc func(ctx context.Context, key string) (*redis.RateLimitResult, error)

// AuthRateLimitMiddleware limits login and registration attempts per client IP.
func AuthRateLimitMiddleware(limiter *redis.RateLimiter, l *logger.Logger) gin.HandlerFunc {
	return limit(limiter.AllowAuth, func(c *gin.Context) (string, bool) { return c.ClientIP(), true }, "too many auth attempts", l)
}

// OTPRateLimitMiddleware limits code requests and verify attempts per user.
// Must run after AuthMiddleware.
func OTPRateLimitMiddleware(limiter *redis.RateLimiter, l *logger.Logger) gin.HandlerFunc {
	return limit(limiter.AllowOTP, callerKey, "too many verification attempts", l)
}

// VoteRateLimitMiddleware limits vote flow actions per user.
func VoteRateLimitMiddleware(limiter *redis.RateLimiter, l *logger.Logger) gin.HandlerFunc {
	return limit(limiter.AllowVote, callerKey, "vote rate limit exceeded", l)
}

func callerKey(c *gin.Context) (string, bool) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		return "", false
	}
	return userID.String(), true
}

func limit(allow limitFunc, key func(*gin.Context) (string, bool), msg string, l *logger.Logger) gin.HandlerFunc {
	log := logger.OrNop(l)
	return func(c *gin.Context) {
		k, ok := key(c)
		if !ok {
			c.Next()
			return
		}

		result, err := allow(c.Request.Context(), k)
		if err != nil {
			// Redis being down must not block voting.
			log.WarnCtx(c.Request.Context(), "rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}

		setRateLimitHeaders(c, result)

		if !result.Allowed {
			c.JSON(http.StatusTooManyRequests, httpdto.NewErrorResponse(msg, "RATE_LIMITED"))
			c.Abort()
			return
		}

		c.Next()
	}
}

// setRateLimitHeaders sets standard rate limit response headers
func setRateLimitHeaders(c *gin.Context, result *redis.RateLimitResult) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(int64(result.ResetIn.Seconds()), 10))
}
