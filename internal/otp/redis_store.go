package otp

import (
	"context"
	"fmt"
	"strconv"
	"time"

	univote_errors "univote/pkg/errors"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Key pattern:
// - otp:{voter_email} - hash {code, poll_id, issued_at, expires_at, attempts}, TTL expiry + grace
const keyPrefix = "otp:"

// consumeScript runs the whole verify in Redis so two concurrent
// verifications of the same code cannot both succeed.
var consumeScript = goredis.NewScript(`
	local h = redis.call('HMGET', KEYS[1], 'code', 'poll_id', 'expires_at')
	if h[1] == false then
		return 'NOT_FOUND'
	end
	if tonumber(ARGV[3]) > tonumber(h[3]) then
		redis.call('DEL', KEYS[1])
		return 'EXPIRED'
	end
	if h[2] ~= ARGV[2] then
		return 'POLL_MISMATCH'
	end
	if h[1] ~= ARGV[1] then
		if redis.call('HINCRBY', KEYS[1], 'attempts', 1) >= tonumber(ARGV[4]) then
			redis.call('DEL', KEYS[1])
			return 'ATTEMPTS_EXHAUSTED'
		end
		return 'INVALID_CODE'
	end
	redis.call('DEL', KEYS[1])
	return 'OK'
`)

// sweepScript deletes a key only if the challenge it holds is past expiry,
// so a challenge reissued mid-scan survives.
var sweepScript = goredis.NewScript(`
	local exp = redis.call('HGET', KEYS[1], 'expires_at')
	if exp == false then
		return 0
	end
	if tonumber(ARGV[1]) > tonumber(exp) then
		redis.call('DEL', KEYS[1])
		return 1
	end
	return 0
`)

type RedisStore struct {
	client *goredis.Client
	grace  time.Duration
}

func NewRedisStore(client *goredis.Client) *RedisStore {
	return &RedisStore{client: client, grace: DefaultSweepInterval}
}

// WithExpiryGrace sets how long an expired challenge outlives its expiry
// before Redis drops it. Pass the sweep interval so Verify reports ErrExpired
// for as long as the memory store would, until the next sweep.
func (s *RedisStore) WithExpiryGrace(d time.Duration) *RedisStore {
	if d > 0 {
		s.grace = d
	}
	return s
}

func (s *RedisStore) key(voterKey string) string {
	return keyPrefix + voterKey
}

func (s *RedisStore) Put(ctx context.Context, key string, c Challenge) error {
	k := s.key(key)
	ttl := c.ExpiresAt.Sub(c.IssuedAt) + s.grace
	if ttl <= 0 {
		ttl = s.grace
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, k)
	pipe.HSet(ctx, k,
		"code", c.Code,
		"poll_id", c.PollID.String(),
		"issued_at", c.IssuedAt.UnixMilli(),
		"expires_at", c.ExpiresAt.UnixMilli(),
		"attempts", c.Attempts,
	)
	pipe.Expire(ctx, k, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: store challenge: %v", univote_errors.ErrTransient, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (Challenge, error) {
	vals, err := s.client.HGetAll(ctx, s.key(key)).Result()
	if err != nil {
		return Challenge{}, fmt.Errorf("%w: load challenge: %v", univote_errors.ErrTransient, err)
	}
	if len(vals) == 0 {
		return Challenge{}, univote_errors.ErrNotFound
	}
	return parseChallenge(vals)
}

func parseChallenge(vals map[string]string) (Challenge, error) {
	pollID, err := uuid.Parse(vals["poll_id"])
	if err != nil {
		return Challenge{}, fmt.Errorf("corrupt challenge poll id: %w", err)
	}
	issued, err := strconv.ParseInt(vals["issued_at"], 10, 64)
	if err != nil {
		return Challenge{}, fmt.Errorf("corrupt challenge issued_at: %w", err)
	}
	expires, err := strconv.ParseInt(vals["expires_at"], 10, 64)
	if err != nil {
		return Challenge{}, fmt.Errorf("corrupt challenge expires_at: %w", err)
	}
	attempts := 0
	if v, ok := vals["attempts"]; ok {
		if attempts, err = strconv.Atoi(v); err != nil {
			return Challenge{}, fmt.Errorf("corrupt challenge attempts: %w", err)
		}
	}
	return Challenge{
		Code:      vals["code"],
		PollID:    pollID,
		IssuedAt:  time.UnixMilli(issued),
		ExpiresAt: time.UnixMilli(expires),
		Attempts:  attempts,
	}, nil
}

func (s *RedisStore) Consume(ctx context.Context, key, code string, pollID uuid.UUID, now time.Time) error {
	res, err := consumeScript.Run(ctx, s.client, []string{s.key(key)}, code, pollID.String(), now.UnixMilli(), MaxAttempts).Text()
	if err != nil {
		return fmt.Errorf("%w: verify challenge: %v", univote_errors.ErrTransient, err)
	}
	switch res {
	case "OK":
		return nil
	case "NOT_FOUND":
		return univote_errors.ErrNotFound
	case "EXPIRED":
		return univote_errors.ErrExpired
	case "POLL_MISMATCH":
		return univote_errors.ErrPollMismatch
	case "INVALID_CODE":
		return univote_errors.ErrInvalidCode
	case "ATTEMPTS_EXHAUSTED":
		return errAttemptsExhausted
	default:
		return fmt.Errorf("unexpected verify result %q", res)
	}
}

// SweepExpired removes challenges past their expiry. Redis TTLs drop them
// one grace period later anyway.
func (s *RedisStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n, err := sweepScript.Run(ctx, s.client, []string{iter.Val()}, now.UnixMilli()).Int()
		if err != nil {
			return removed, err
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		return removed, err
	}
	return removed, nil
}
