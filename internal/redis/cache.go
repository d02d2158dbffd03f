package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"univote/internal/domain/poll"
	"univote/internal/domain/user"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Cache key patterns:
// - session:{session_id} - 15m TTL, refresh on activity
// - poll:{poll_id} - 1m TTL, poll definition cache
// - results:{poll_id} - 10s TTL, last computed tally

// CacheConfig contains configuration for caching
type CacheConfig struct {
	SessionTTL time.Duration // TTL for session cache (default 15m)
	PollTTL    time.Duration // TTL for poll cache (default 1m)
	ResultsTTL time.Duration // TTL for tally cache (default 10s)
}

// DefaultCacheConfig returns sensible defaults
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		SessionTTL: 15 * time.Minute,
		PollTTL:    time.Minute,
		ResultsTTL: 10 * time.Second,
	}
}

// CacheStore handles caching in Redis
type CacheStore struct {
	client *goredis.Client
	config CacheConfig
}

// NewCacheStore creates a new cache store
func NewCacheStore(client *goredis.Client, config CacheConfig) *CacheStore {
	return &CacheStore{
		client: client,
		config: config,
	}
}

// --- Session Cache ---

// SessionCache represents cached session data
type SessionCache struct {
	SessionID  uuid.UUID `json:"session_id"`
	UserID     uuid.UUID `json:"user_id"`
	Email      string    `json:"email"`
	Role       string    `json:"role"`
	ExpiresAt  time.Time `json:"expires_at"`
	LastActive time.Time `json:"last_active"`
}

func sessionKey(id uuid.UUID) string {
	return fmt.Sprintf("session:%s", id.String())
}

// GetSession retrieves a session from cache. A miss returns nil, nil.
func (c *CacheStore) GetSession(ctx context.Context, sessionID uuid.UUID) (*SessionCache, error) {
	data, err := c.client.Get(ctx, sessionKey(sessionID)).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var session SessionCache
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// SetSession stores a session in cache
func (c *CacheStore) SetSession(ctx context.Context, session *SessionCache) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	ttl := c.config.SessionTTL
	if left := time.Until(session.ExpiresAt); left < ttl {
		ttl = left
	}
	if ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, sessionKey(session.SessionID), data, ttl).Err()
}

// SetSessionFromEntity stores a session and its owner's role
func (c *CacheStore) SetSessionFromEntity(ctx context.Context, session *user.UserSession, u *user.User) error {
	return c.SetSession(ctx, &SessionCache{
		SessionID:  session.ID,
		UserID:     session.UserID,
		Email:      u.Email,
		Role:       u.Role,
		ExpiresAt:  session.ExpiresAt,
		LastActive: time.Now(),
	})
}

// InvalidateSession removes a session from cache
func (c *CacheStore) InvalidateSession(ctx context.Context, sessionID uuid.UUID) error {
	return c.client.Del(ctx, sessionKey(sessionID)).Err()
}

// --- Poll Cache ---

func pollKey(id uuid.UUID) string {
	return fmt.Sprintf("poll:%s", id.String())
}

// GetPoll returns the cached poll. A miss returns nil, nil.
func (c *CacheStore) GetPoll(ctx context.Context, pollID uuid.UUID) (*poll.Poll, error) {
	data, err := c.client.Get(ctx, pollKey(pollID)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p poll.Poll
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *CacheStore) SetPoll(ctx context.Context, p *poll.Poll) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, pollKey(p.ID), data, c.config.PollTTL).Err()
}

// InvalidatePoll drops the poll and its cached tally.
func (c *CacheStore) InvalidatePoll(ctx context.Context, pollID uuid.UUID) error {
	return c.client.Del(ctx, pollKey(pollID), resultsKey(pollID)).Err()
}

// --- Results Cache ---

func resultsKey(id uuid.UUID) string {
	return fmt.Sprintf("results:%s", id.String())
}

func (c *CacheStore) GetTally(ctx context.Context, pollID uuid.UUID) (map[string]int, error) {
	data, err := c.client.Get(ctx, resultsKey(pollID)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var tally map[string]int
	if err := json.Unmarshal(data, &tally); err != nil {
		return nil, err
	}
	return tally, nil
}

func (c *CacheStore) SetTally(ctx context.Context, pollID uuid.UUID, tally map[string]int) error {
	data, err := json.Marshal(tally)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, resultsKey(pollID), data, c.config.ResultsTTL).Err()
}

func (c *CacheStore) InvalidateTally(ctx context.Context, pollID uuid.UUID) error {
	return c.client.Del(ctx, resultsKey(pollID)).Err()
}

// Ping checks if Redis is available
func (c *CacheStore) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
