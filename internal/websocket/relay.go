package websocket

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"univote/internal/domain/poll"
	"univote/internal/services"
	univote_errors "univote/pkg/errors"
	"univote/pkg/events"
	"univote/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ResultsSource recomputes a poll's results.
type ResultsSource interface {
	Live(ctx context.Context, pollID uuid.UUID) (poll.Poll, services.ResultsView, error)
}

type liveState struct {
	tally     map[string]int
	published bool
}

// Relay turns poll events into results.updated frames. Each frame goes only
// to subscribers allowed to see the poll's results.
type Relay struct {
	hub     *Hub
	results ResultsSource
	log     *logger.Logger

	mu   sync.Mutex
	last map[uuid.UUID]liveState
}

func NewRelay(hub *Hub, results ResultsSource, log *logger.Logger) *Relay {
	return &Relay{
		hub:     hub,
		results: results,
		log:     logger.OrNop(log),
		last:    make(map[uuid.UUID]liveState),
	}
}

// Run subscribes to every poll channel on the broker until ctx ends.
func (r *Relay) Run(ctx context.Context, sub events.Subscriber) error {
	return sub.Subscribe(ctx, events.PollPattern, r.Handle)
}

func (r *Relay) Handle(ctx context.Context, ev events.Event) error {
	id, err := uuid.Parse(ev.PollID)
	if err != nil {
		return nil
	}
	channel := events.PollChannel(ev.PollID)
	if r.hub.GetChannelSubscriberCount(channel) == 0 {
		return nil
	}

	if ev.Type == events.TypePollDeleted {
		r.deleted(id)
		return nil
	}
	if ev.Type != events.TypeVotesChanged {
		r.hub.Broadcast(channel, encode(Message{Type: ev.Type, PollID: ev.PollID, Data: ev.Payload}))
	}
	return r.push(ctx, id, true)
}

// push recomputes the tally and sends it. Without force, unchanged results
// are not resent.
func (r *Relay) push(ctx context.Context, id uuid.UUID, force bool) error {
	p, view, err := r.results.Live(ctx, id)
	if err != nil {
		if errors.Is(err, univote_errors.ErrNotFound) {
			r.deleted(id)
			return nil
		}
		return err
	}

	r.mu.Lock()
	prev, seen := r.last[id]
	changed := !seen || prev.published != p.Published || !poll.SameTally(prev.tally, view.Tally)
	if changed {
		r.last[id] = liveState{tally: view.Tally, published: p.Published}
	}
	r.mu.Unlock()
	if !changed && !force {
		return nil
	}

	payload := encode(Message{Type: TypeResultsUpdated, PollID: view.PollID, Data: view})
	r.hub.BroadcastFunc(events.PollChannel(id.String()), func(c *Client) []byte {
		if services.CanView(c.Caller, p) {
			return payload
		}
		return nil
	})
	return nil
}

func (r *Relay) deleted(id uuid.UUID) {
	r.mu.Lock()
	delete(r.last, id)
	r.mu.Unlock()
	r.hub.Broadcast(events.PollChannel(id.String()), encode(Message{Type: events.TypePollDeleted, PollID: id.String()}))
}

// SendCurrent pushes the current results to one client if it may see them.
func (r *Relay) SendCurrent(ctx context.Context, c *Client, id uuid.UUID) error {
	p, view, err := r.results.Live(ctx, id)
	if err != nil {
		return err
	}
	if services.CanView(c.Caller, p) {
		c.SendMessage(encode(Message{Type: TypeResultsUpdated, PollID: view.PollID, Data: view}))
	}
	return nil
}

// Poll re-reads every subscribed poll on a fixed interval and pushes only
// changed tallies. It serves deployments without a broker.
func (r *Relay) Poll(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pollOnce(ctx)
		}
	}
}

func (r *Relay) pollOnce(ctx context.Context) {
	active := make(map[uuid.UUID]struct{})
	prefix := strings.TrimSuffix(events.PollPattern, "*")
	for _, ch := range r.hub.ActiveChannels() {
		id, err := uuid.Parse(strings.TrimPrefix(ch, prefix))
		if err != nil {
			continue
		}
		active[id] = struct{}{}
		if err := r.push(ctx, id, false); err != nil {
			r.log.WarnCtx(ctx, "live results refresh failed", zap.String("poll_id", id.String()), zap.Error(err))
		}
	}

	r.mu.Lock()
	for id := range r.last {
		if _, ok := active[id]; !ok {
			delete(r.last, id)
		}
	}
	r.mu.Unlock()
}
