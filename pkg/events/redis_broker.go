package events

import (
	"context"
	"encoding/json"
	"fmt"

	"univote/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisBroker struct {
	Client *redis.Client
	log    *logger.Logger
}

func NewRedisBroker(client *redis.Client, log *logger.Logger) *RedisBroker {
	return &RedisBroker{Client: client, log: logger.OrNop(log)}
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return b.Client.Publish(ctx, channel, data).Err()
}

// Subscribe confirms the pattern subscription, then listens in a goroutine
// until ctx is cancelled.
func (b *RedisBroker) Subscribe(ctx context.Context, pattern string, handler Handler) error {
	pubsub := b.Client.PSubscribe(ctx, pattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", pattern, err)
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					b.log.Logger.Warn("dropping malformed event", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				if err := handler(ctx, event); err != nil {
					b.log.Logger.Warn("event handler failed", zap.String("type", event.Type), zap.Error(err))
				}
			}
		}
	}()

	return nil
}
