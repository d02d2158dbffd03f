package websocket

import (
	"context"
	"sync"
)

type subscriptionRequest struct {
	client    *Client
	channel   string
	subscribe bool
	done      chan struct{}
}

// Hub manages WebSocket client connections and channel subscriptions
type Hub struct {
	mu sync.RWMutex

	// clients maps client ID to client (for cleanup)
	clients map[string]*Client

	// channels maps channel name to set of clients subscribed to it
	channels map[string]map[*Client]struct{}

	unregister   chan *Client
	subscription chan subscriptionRequest
}

func NewHub() *Hub {
	return &Hub{
		clients:      make(map[string]*Client),
		channels:     make(map[string]map[*Client]struct{}),
		unregister:   make(chan *Client, 256),
		subscription: make(chan subscriptionRequest, 512),
	}
}

// Run starts the hub's event loop
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.unregister:
			h.removeClient(client)
		case req := <-h.subscription:
			if req.subscribe {
				h.subscribeToChannel(req.client, req.channel)
			} else {
				h.unsubscribeFromChannel(req.client, req.channel)
			}
			if req.done != nil {
				close(req.done)
			}
		}
	}
}

// Register is synchronous so a subscribe sent right after it cannot be
// applied first.
func (h *Hub) Register(client *Client) {
	h.addClient(client)
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe adds the client to channel and returns once the hub applied it.
func (h *Hub) Subscribe(ctx context.Context, client *Client, channel string) error {
	return h.request(ctx, subscriptionRequest{client: client, channel: channel, subscribe: true})
}

func (h *Hub) Unsubscribe(ctx context.Context, client *Client, channel string) error {
	return h.request(ctx, subscriptionRequest{client: client, channel: channel})
}

func (h *Hub) request(ctx context.Context, req subscriptionRequest) error {
	req.done = make(chan struct{})
	select {
	case h.subscription <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Broadcast sends a message to all clients subscribed to a channel
func (h *Hub) Broadcast(channel string, payload []byte) {
	h.BroadcastFunc(channel, func(*Client) []byte { return payload })
}

// BroadcastFunc sends each subscriber the payload render returns for it.
// A nil payload skips the client.
func (h *Hub) BroadcastFunc(channel string, render func(c *Client) []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.channels[channel] {
		if payload := render(c); payload != nil {
			c.SendMessage(payload)
		}
	}
}

// ActiveChannels lists channels with at least one subscriber.
func (h *Hub) ActiveChannels() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.channels))
	for ch := range h.channels {
		out = append(out, ch)
	}
	return out
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) GetChannelSubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()
}

// removeClient drops the client and its subscriptions, then closes Send.
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	for _, channel := range client.GetChannels() {
		if subscribers, ok := h.channels[channel]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.channels, channel)
			}
		}
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) subscribeToChannel(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	if _, ok := h.channels[channel]; !ok {
		h.channels[channel] = make(map[*Client]struct{})
	}
	h.channels[channel][client] = struct{}{}
	client.Subscribe(channel)
}

func (h *Hub) unsubscribeFromChannel(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subscribers, ok := h.channels[channel]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.channels, channel)
		}
	}
	client.Unsubscribe(channel)
}
