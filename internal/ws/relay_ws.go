package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"ride-messaging/internal/auth"
	"ride-messaging/internal/models"
	"ride-messaging/internal/observability"
	"ride-messaging/internal/telemetry"
)

var (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = int64(64 * 1024)
	clientBuffer   = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RelayWebSocketHandler upgrades authenticated requests and pumps events
// between the socket and the hub.
type RelayWebSocketHandler struct {
	hub    *Hub
	auth   auth.TokenValidator
	audit  *telemetry.AuditEmitter
	logger *zap.Logger
}

// NewRelayWebSocketHandler constructs a RelayWebSocketHandler. Rejected
// handshakes are reported to audit, which may be nil.
func NewRelayWebSocketHandler(hub *Hub, validator auth.TokenValidator, audit *telemetry.AuditEmitter, logger *zap.Logger) *RelayWebSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RelayWebSocketHandler{hub: hub, auth: validator, audit: audit, logger: logger}
}

func (h *RelayWebSocketHandler) reject(c *gin.Context, meta observability.ClientMeta, reason string) {
	observability.IncHandshakeRejection(reason)
	h.audit.Emit(c.Request.Context(), telemetry.AuditRecord{
		Action:    telemetry.ActionHandshakeRejected,
		Level:     telemetry.LevelWarn,
		Text:      reason,
		RequestID: meta.RequestID,
		Attributes: map[string]string{
			"device_id": meta.DeviceID,
			"ip":        meta.IP,
		},
	})
	c.JSON(http.StatusUnauthorized, gin.H{"error": reason})
}

// Handle authenticates the request from the Authorization header or the
// token query parameter, then upgrades and registers the client.
func (h *RelayWebSocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("ride-messaging/relay").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	meta := observability.ClientMetaFromRequest(c.Request)
	token, ok := auth.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}
	if token == "" {
		h.reject(c, meta, "missing token")
		return
	}
	userID, err := h.auth.ValidateToken(ctx, token)
	if err != nil {
		h.reject(c, meta, "invalid token")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", zap.Error(err))
		return
	}
	traceID := span.SpanContext().TraceID().String()
	requestID := meta.RequestID
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    meta.DeviceID,
		IP:          meta.IP,
		RequestID:   requestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
	client := NewClient(info, clientBuffer)
	h.hub.Register(client)

	headers := observability.BuildHeaders(requestID, traceID)
	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	_ = observability.PublishEvent(ctx, observability.RoutingKeyWSEvents, wsEnvelope(info, "ws_connect", ""), headers)
	h.logger.Info("relay client connected", zap.String("user_id", userID), zap.String("conn_id", info.ConnID))

	go h.writePump(conn, client)
	go h.readPump(conn, client, headers)
}

func (h *RelayWebSocketHandler) readPump(conn *websocket.Conn, client *Client, headers map[string]string) {
	info := client.Info()
	var closeReason string
	defer func() {
		client.kick()
		h.hub.Unregister(client)
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		_ = observability.PublishEvent(context.Background(), observability.RoutingKeyWSEvents, wsEnvelope(info, "ws_disconnect", closeReason), headers)
		h.logger.Info("relay client disconnected", zap.String("user_id", info.UserID), zap.String("conn_id", info.ConnID), zap.String("reason", closeReason))
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
				_ = observability.PublishEvent(context.Background(), observability.RoutingKeyWSEvents, wsEnvelope(info, "ws_error", closeReason), headers)
			}
			return
		}
		var ev models.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			h.hub.replyError(client, ev, "malformed event")
			continue
		}
		h.hub.Route(client, ev)
	}
}

func (h *RelayWebSocketHandler) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case payload := <-client.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.logger.Debug("relay write failed", zap.String("conn_id", client.Info().ConnID), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-client.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}
