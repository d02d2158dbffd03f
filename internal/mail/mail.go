package mail

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	univote_errors "univote/pkg/errors"
	"univote/pkg/logger"

	"go.uber.org/zap"
)

var codePattern = regexp.MustCompile(`^\d{6}$`)

// VerificationEmail carries a vote verification code to a voter.
type VerificationEmail struct {
	To        string
	Code      string
	PollTitle string
	ExpiresIn time.Duration
}

func (m VerificationEmail) Validate() error {
	if strings.TrimSpace(m.To) == "" || m.Code == "" || strings.TrimSpace(m.PollTitle) == "" {
		return fmt.Errorf("%w: missing required fields: email, code, or pollTitle", univote_errors.ErrValidation)
	}
	if !codePattern.MatchString(m.Code) {
		return fmt.Errorf("%w: invalid code format, must be 6 digits", univote_errors.ErrValidation)
	}
	return nil
}

// Sender delivers verification codes.
type Sender interface {
	SendVerificationCode(ctx context.Context, msg VerificationEmail) error
}

// LogSender writes the code to the log instead of sending mail. Development only.
type LogSender struct {
	log *logger.Logger
}

func NewLogSender(log *logger.Logger) *LogSender {
	return &LogSender{log: logger.OrNop(log)}
}

func (s *LogSender) SendVerificationCode(ctx context.Context, msg VerificationEmail) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.log.InfoCtx(ctx, "verification code",
		zap.String("to", msg.To),
		zap.String("poll", msg.PollTitle),
		zap.String("code", msg.Code),
	)
	return nil
}
