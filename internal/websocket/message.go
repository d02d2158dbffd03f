package websocket

import "encoding/json"

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"

	TypeResultsUpdated = "results.updated"
	TypeSubscribed     = "subscribed"
	TypeUnsubscribed   = "unsubscribed"
	TypeError          = "error"
)

// Inbound is a client request.
type Inbound struct {
	Action string `json:"action"`
	PollID string `json:"poll_id"`
}

// Message is every frame the server sends.
type Message struct {
	Type   string      `json:"type"`
	PollID string      `json:"poll_id,omitempty"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
	Code   string      `json:"code,omitempty"`
}

func encode(m Message) []byte {
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return b
}
