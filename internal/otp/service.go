package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"univote/internal/mail"
	univote_errors "univote/pkg/errors"
	"univote/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultTTL      = 5 * time.Minute
	DefaultCooldown = 30 * time.Second
)

var codeFormat = regexp.MustCompile(`^[0-9]{6}$`)

type Config struct {
	TTL      time.Duration
	Cooldown time.Duration
}

type Service struct {
	store  Store
	sender mail.Sender
	cfg    Config
	log    *logger.Logger
	now    func() time.Time
}

func NewService(store Store, sender mail.Sender, cfg Config, log *logger.Logger) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	return &Service{
		store:  store,
		sender: sender,
		cfg:    cfg,
		log:    logger.OrNop(log),
		now:    time.Now,
	}
}

// WithClock swaps the time source. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) TTL() time.Duration {
	return s.cfg.TTL
}

// GenerateCode returns a uniformly random code in 100000..999999.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

func voterKey(key string) (string, error) {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" {
		return "", fmt.Errorf("%w: voter key is required", univote_errors.ErrValidation)
	}
	return k, nil
}

// Issue creates a fresh challenge for the voter, replacing any live one, and
// hands the code to the mail sender. Delivery failures are logged only.
func (s *Service) Issue(ctx context.Context, key string, pollID uuid.UUID, pollTitle string) (string, error) {
	k, err := voterKey(key)
	if err != nil {
		return "", err
	}
	return s.issue(ctx, k, pollID, pollTitle)
}

// Reissue is Issue with a cooldown against the previous challenge.
func (s *Service) Reissue(ctx context.Context, key string, pollID uuid.UUID, pollTitle string) (string, error) {
	k, err := voterKey(key)
	if err != nil {
		return "", err
	}
	prev, err := s.store.Get(ctx, k)
	switch {
	case err == nil:
		if wait := prev.IssuedAt.Add(s.cfg.Cooldown).Sub(s.now()); wait > 0 {
			return "", fmt.Errorf("%w: wait %ds before requesting a new code", univote_errors.ErrRateLimited, int(wait.Seconds()+0.999))
		}
	case errors.Is(err, univote_errors.ErrNotFound):
	default:
		return "", err
	}
	return s.issue(ctx, k, pollID, pollTitle)
}

func (s *Service) issue(ctx context.Context, key string, pollID uuid.UUID, pollTitle string) (string, error) {
	code, err := GenerateCode()
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	now := s.now()
	c := Challenge{
		Code:      code,
		PollID:    pollID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.TTL),
	}
	if err := s.store.Put(ctx, key, c); err != nil {
		return "", err
	}

	if s.sender != nil {
		err := s.sender.SendVerificationCode(ctx, mail.VerificationEmail{
			To:        key,
			Code:      code,
			PollTitle: pollTitle,
			ExpiresIn: s.cfg.TTL,
		})
		if err != nil {
			s.log.WarnCtx(ctx, "verification email not delivered",
				zap.String("poll_id", pollID.String()),
				zap.Error(err),
			)
		}
	}
	return code, nil
}

// Verify checks code against the live challenge and consumes it on success.
func (s *Service) Verify(ctx context.Context, key, code string, pollID uuid.UUID) error {
	k, err := voterKey(key)
	if err != nil {
		return err
	}
	code = strings.TrimSpace(code)
	if !codeFormat.MatchString(code) {
		return fmt.Errorf("%w: code must be 6 digits", univote_errors.ErrValidation)
	}
	return s.store.Consume(ctx, k, code, pollID, s.now())
}

func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	return s.store.SweepExpired(ctx, s.now())
}
