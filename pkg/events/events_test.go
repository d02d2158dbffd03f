package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func collect(t *testing.T, b Broker) (context.CancelFunc, <-chan Event) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Event, 8)
	err := b.Subscribe(ctx, PollPattern, func(_ context.Context, e Event) error {
		out <- e
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	return cancel, out
}

func expectEvent(t *testing.T, ch <-chan Event, wantType, wantPoll string) {
	t.Helper()
	select {
	case e := <-ch:
		if e.Type != wantType || e.PollID != wantPoll {
			t.Fatalf("got %s/%s, want %s/%s", e.Type, e.PollID, wantType, wantPoll)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestMemoryBrokerPatternDelivery(t *testing.T) {
	b := NewMemoryBroker(nil)
	cancel, ch := collect(t, b)
	defer cancel()

	_ = b.Publish(context.Background(), "channel:other:1", NewPollEvent(TypeVotesChanged, "x", nil))
	_ = b.Publish(context.Background(), PollChannel("p1"), NewPollEvent(TypeVotesChanged, "p1", nil))

	expectEvent(t, ch, TypeVotesChanged, "p1")
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRedisBrokerDelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	b := NewRedisBroker(client, nil)
	cancel, ch := collect(t, b)
	defer cancel()

	if err := b.Publish(context.Background(), PollChannel("p2"), NewPollEvent(TypePollClosed, "p2", nil)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	expectEvent(t, ch, TypePollClosed, "p2")
}
