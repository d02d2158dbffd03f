package events

import (
	"context"
	"path"
	"sync"

	"univote/pkg/logger"

	"go.uber.org/zap"
)

type memorySub struct {
	pattern string
	ch      chan Event
}

// MemoryBroker is an in-process Broker for single-node deployments and tests.
// Slow subscribers drop events rather than block publishers.
type MemoryBroker struct {
	mu   sync.RWMutex
	subs map[*memorySub]struct{}
	log  *logger.Logger
}

func NewMemoryBroker(log *logger.Logger) *MemoryBroker {
	return &MemoryBroker{subs: make(map[*memorySub]struct{}), log: logger.OrNop(log)}
}

func (b *MemoryBroker) Publish(_ context.Context, channel string, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		select {
		case s.ch <- event:
		default:
			b.log.Logger.Warn("subscriber buffer full, dropping event", zap.String("channel", channel))
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, pattern string, handler Handler) error {
	if _, err := path.Match(pattern, ""); err != nil {
		return err
	}
	s := &memorySub{pattern: pattern, ch: make(chan Event, 256)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		defer func() {
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-s.ch:
				if err := handler(ctx, ev); err != nil {
					b.log.Logger.Warn("event handler failed", zap.String("type", ev.Type), zap.Error(err))
				}
			}
		}
	}()
	return nil
}
