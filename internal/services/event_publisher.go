package services

import (
	"context"

	"univote/pkg/events"
	"univote/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventPublisher announces poll and vote changes after they commit.
// Publishing is best-effort; live clients heal missed events by re-polling.
type EventPublisher struct {
	pub events.Publisher
	log *logger.Logger
}

func NewEventPublisher(pub events.Publisher, log *logger.Logger) *EventPublisher {
	return &EventPublisher{pub: pub, log: logger.OrNop(log)}
}

func (p *EventPublisher) publish(ctx context.Context, eventType string, pollID uuid.UUID, payload interface{}) {
	if p == nil || p.pub == nil {
		return
	}
	id := pollID.String()
	if err := p.pub.Publish(ctx, events.PollChannel(id), events.NewPollEvent(eventType, id, payload)); err != nil {
		p.log.WarnCtx(ctx, "event publish failed",
			zap.String("type", eventType),
			zap.String("poll_id", id),
			zap.Error(err),
		)
	}
}

func (p *EventPublisher) PollCreated(ctx context.Context, pollID uuid.UUID) {
	p.publish(ctx, events.TypePollCreated, pollID, nil)
}

func (p *EventPublisher) PollPublished(ctx context.Context, pollID uuid.UUID, published bool) {
	p.publish(ctx, events.TypePollPublished, pollID, map[string]bool{"published": published})
}

func (p *EventPublisher) PollClosed(ctx context.Context, pollID uuid.UUID) {
	p.publish(ctx, events.TypePollClosed, pollID, nil)
}

func (p *EventPublisher) PollDeleted(ctx context.Context, pollID uuid.UUID) {
	p.publish(ctx, events.TypePollDeleted, pollID, nil)
}

func (p *EventPublisher) VotesChanged(ctx context.Context, pollID uuid.UUID) {
	p.publish(ctx, events.TypeVotesChanged, pollID, nil)
}
