package events

import (
	"context"
	"fmt"
	"time"
)

// Event types
const (
	TypePollCreated   = "poll.created"
	TypePollPublished = "poll.published"
	TypePollClosed    = "poll.closed"
	TypePollDeleted   = "poll.deleted"
	TypeVotesChanged  = "votes.changed"
)

// PollPattern matches every poll channel.
const PollPattern = "channel:poll:*"

func PollChannel(pollID string) string {
	return fmt.Sprintf("channel:poll:%s", pollID)
}

type Event struct {
	Type      string      `json:"type"`
	PollID    string      `json:"poll_id"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

func NewPollEvent(eventType, pollID string, payload interface{}) Event {
	return Event{
		Type:      eventType,
		PollID:    pollID,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
}

type Handler func(ctx context.Context, event Event) error

type Publisher interface {
	Publish(ctx context.Context, channel string, event Event) error
}

// Subscriber delivers events on channels matching pattern until ctx ends.
type Subscriber interface {
	Subscribe(ctx context.Context, pattern string, handler Handler) error
}

type Broker interface {
	Publisher
	Subscriber
}
