package ws

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"social-realtime/internal/auth"
	"social-realtime/internal/chat"
	"social-realtime/internal/observability"
	"social-realtime/internal/presence"
)

const wsRoutingKey = "ws_events.chats"

// PresenceTracker is the part of the presence registry the gateway drives.
type PresenceTracker interface {
	Connect(ctx context.Context, userID string, h presence.Handle)
	Disconnect(ctx context.Context, userID string, h presence.Handle) bool
	Heartbeat(userID string) bool
}

// Gateway upgrades authenticated requests and runs the per-connection event loop.
type Gateway struct {
	hub        *Hub
	presence   PresenceTracker
	service    *chat.Service
	auth       auth.Authenticator
	sendBuffer int
	logger     *slog.Logger
}

func NewGateway(hub *Hub, tracker PresenceTracker, service *chat.Service, authenticator auth.Authenticator, sendBuffer int, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		hub:        hub,
		presence:   tracker,
		service:    service,
		auth:       authenticator,
		sendBuffer: sendBuffer,
		logger:     logger,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates before upgrading, so a rejected request never touches presence.
func (g *Gateway) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("social-realtime/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	identity, err := g.auth.Authenticate(ctx, auth.TokenFromRequest(c.Request))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxFrameSize)

	info := newConnInfo(c.Request, identity.UserID, span.SpanContext().TraceID().String())
	client := newClient(conn, info, identity, g.sendBuffer)

	// The request context ends when this handler returns; the connection outlives it.
	connCtx := context.WithoutCancel(ctx)

	g.hub.Register(client)
	g.presence.Connect(connCtx, identity.UserID, client)
	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	g.publishLifecycle(connCtx, "ws_connect", info, "")
	g.logger.Info("websocket connected", info.logAttrs()...)

	go client.writePump()
	go g.readPump(connCtx, client)
}

func (g *Gateway) readPump(ctx context.Context, client *Client) {
	var closeReason string
	defer func() {
		_ = client.closeWithReason(closeReason)
		g.hub.Unregister(client)
		g.presence.Disconnect(ctx, client.UserID(), client)
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		if reason := client.closeReason(); reason != "" {
			closeReason = reason
		}
		g.publishLifecycle(ctx, "ws_disconnect", client.info, closeReason)
		g.logger.Info("websocket disconnected", append(client.info.logAttrs(), "reason", closeReason)...)
	}()

	for {
		_, frame, err := client.conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && client.closeReason() == "" {
				observability.IncWSEvent("ws_error")
				g.publishLifecycle(ctx, "ws_error", client.info, closeReason)
			}
			return
		}
		g.dispatch(ctx, client, frame)
	}
}

func (g *Gateway) publishLifecycle(ctx context.Context, event string, info ConnInfo, reason string) {
	durationMS := int64(0)
	if event != "ws_connect" {
		durationMS = time.Since(info.ConnectedAt).Milliseconds()
	}
	_ = observability.PublishEvent(ctx, wsRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        "realtime",
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": durationMS,
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}
