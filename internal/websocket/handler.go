package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"univote/internal/services"
	"univote/internal/transport/httpdto"
	"univote/pkg/events"
	"univote/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const readTimeout = 60 * time.Second

// Authenticator resolves the ?token= query parameter.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (services.Caller, error)
}

// PollLookup confirms a poll exists before a subscription is accepted.
type PollLookup interface {
	Get(ctx context.Context, id uuid.UUID) (services.PollView, error)
}

type Handler struct {
	auth     Authenticator
	polls    PollLookup
	hub      *Hub
	relay    *Relay
	log      *logger.Logger
	upgrader websocket.Upgrader
}

func NewHandler(auth Authenticator, polls PollLookup, hub *Hub, relay *Relay, log *logger.Logger) *Handler {
	return &Handler{
		auth:  auth,
		polls: polls,
		hub:   hub,
		relay: relay,
		log:   logger.OrNop(log),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) Connect(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}
	caller, err := h.auth.Authenticate(c.Request.Context(), token)
	if err != nil {
		c.JSON(services.HTTPStatus(err), httpdto.NewErrorResponse("unauthorized", services.ErrorCode(err)))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warnf("websocket upgrade failed: %v", err)
		return
	}

	client := NewClient(conn, caller)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.hub.Register(client)
	go client.WriteLoop(ctx)
	h.log.Logger.Info("websocket connected",
		zap.String("client_id", client.ID),
		zap.String("user_id", caller.UserID.String()),
	)

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		h.handleMessage(ctx, client, data)
	}

	h.hub.Unregister(client)
	h.log.Logger.Info("websocket disconnected", zap.String("client_id", client.ID))
}

func (h *Handler) handleMessage(ctx context.Context, client *Client, data []byte) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		client.SendMessage(encode(Message{Type: TypeError, Error: "invalid message", Code: "VALIDATION_ERROR"}))
		return
	}
	id, err := uuid.Parse(in.PollID)
	if err != nil {
		client.SendMessage(encode(Message{Type: TypeError, Error: "invalid poll_id", Code: "VALIDATION_ERROR"}))
		return
	}
	channel := events.PollChannel(id.String())

	switch in.Action {
	case ActionSubscribe:
		if _, err := h.polls.Get(ctx, id); err != nil {
			client.SendMessage(encode(Message{Type: TypeError, PollID: in.PollID, Error: err.Error(), Code: services.ErrorCode(err)}))
			return
		}
		if err := h.hub.Subscribe(ctx, client, channel); err != nil {
			return
		}
		client.SendMessage(encode(Message{Type: TypeSubscribed, PollID: id.String()}))
		if h.relay != nil {
			if err := h.relay.SendCurrent(ctx, client, id); err != nil {
				h.log.Warnf("initial results push failed for %s: %v", id, err)
			}
		}
	case ActionUnsubscribe:
		if err := h.hub.Unsubscribe(ctx, client, channel); err != nil {
			return
		}
		client.SendMessage(encode(Message{Type: TypeUnsubscribed, PollID: id.String()}))
	default:
		client.SendMessage(encode(Message{Type: TypeError, Error: "unknown action", Code: "VALIDATION_ERROR"}))
	}
}
