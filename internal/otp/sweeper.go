package otp

import (
	"context"
	"time"

	"univote/pkg/logger"

	"go.uber.org/zap"
)

const DefaultSweepInterval = time.Minute

// Sweeper periodically drops expired challenges until ctx is cancelled.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	log      *logger.Logger
}

func NewSweeper(svc *Service, interval time.Duration, log *logger.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{svc: svc, interval: interval, log: logger.OrNop(log)}
}

func (w *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.svc.SweepExpired(ctx)
			if err != nil {
				w.log.Logger.Warn("otp sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				w.log.Logger.Debug("otp sweep", zap.Int("removed", n))
			}
		}
	}
}
