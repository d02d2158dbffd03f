package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Rate limiting key patterns:
// - ratelimit:{ip}:auth - per-window login/register attempts
// - ratelimit:{user_id}:otp - per-window code requests and verify attempts
// - ratelimit:{user_id}:votes - per-window vote flow actions

// RateLimitConfig contains configuration for rate limiting
type RateLimitConfig struct {
	AuthLimit  int           // Max auth attempts per window
	AuthWindow time.Duration // Auth rate limit window
	OTPLimit   int           // Max code requests and verifications per window
	OTPWindow  time.Duration
	VoteLimit  int // Max flow actions per window
	VoteWindow time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		AuthLimit:  10,
		AuthWindow: 60 * time.Second,
		OTPLimit:   10,
		OTPWindow:  10 * time.Minute,
		VoteLimit:  120,
		VoteWindow: 60 * time.Second,
	}
}

// RateLimiter handles rate limiting using Redis
type RateLimiter struct {
	client *goredis.Client
	config RateLimitConfig
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed   bool          // Whether the action is allowed
	Remaining int           // Remaining actions in the window
	ResetIn   time.Duration // Time until the window resets
	Limit     int           // The limit for this action
}

func NewRateLimiter(client *goredis.Client, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		client: client,
		config: config,
	}
}

// AllowAuth checks if an IP can make an auth attempt
func (r *RateLimiter) AllowAuth(ctx context.Context, ip string) (*RateLimitResult, error) {
	key := fmt.Sprintf("ratelimit:%s:auth", ip)
	return r.checkLimit(ctx, key, r.config.AuthLimit, r.config.AuthWindow)
}

// AllowOTP checks if a user may request or verify another code
func (r *RateLimiter) AllowOTP(ctx context.Context, userID string) (*RateLimitResult, error) {
	key := fmt.Sprintf("ratelimit:%s:otp", userID)
	return r.checkLimit(ctx, key, r.config.OTPLimit, r.config.OTPWindow)
}

// AllowVote checks if a user may perform another vote flow action
func (r *RateLimiter) AllowVote(ctx context.Context, userID string) (*RateLimitResult, error) {
	key := fmt.Sprintf("ratelimit:%s:votes", userID)
	return r.checkLimit(ctx, key, r.config.VoteLimit, r.config.VoteWindow)
}

var limitScript = goredis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])

	local current = redis.call('GET', key)
	if current == false then
		current = 0
	else
		current = tonumber(current)
	end

	local ttl = redis.call('TTL', key)
	if ttl < 0 then
		ttl = window
	end

	if current < limit then
		redis.call('INCR', key)
		if ttl == window then
			redis.call('EXPIRE', key, window)
		end
		return {1, limit - current - 1, ttl}
	else
		return {0, 0, ttl}
	end
`)

// checkLimit performs a fixed window counter check and increment in one script
func (r *RateLimiter) checkLimit(ctx context.Context, key string, limit int, window time.Duration) (*RateLimitResult, error) {
	result, err := limitScript.Run(ctx, r.client, []string{key}, limit, int(window.Seconds())).Result()
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	resultSlice, ok := result.([]interface{})
	if !ok || len(resultSlice) < 3 {
		return nil, fmt.Errorf("unexpected rate limit result format")
	}

	allowed := resultSlice[0].(int64) == 1
	remaining := int(resultSlice[1].(int64))
	resetIn := time.Duration(resultSlice[2].(int64)) * time.Second

	return &RateLimitResult{
		Allowed:   allowed,
		Remaining: remaining,
		ResetIn:   resetIn,
		Limit:     limit,
	}, nil
}

// ResetAuth resets auth rate limit for an IP
func (r *RateLimiter) ResetAuth(ctx context.Context, ip string) error {
	key := fmt.Sprintf("ratelimit:%s:auth", ip)
	return r.client.Del(ctx, key).Err()
}

// ResetUser clears the otp and vote counters for a user (admin operation)
func (r *RateLimiter) ResetUser(ctx context.Context, userID string) error {
	keys := []string{
		fmt.Sprintf("ratelimit:%s:otp", userID),
		fmt.Sprintf("ratelimit:%s:votes", userID),
	}
	return r.client.Del(ctx, keys...).Err()
}
