package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"chat-sync-service/internal/middleware"
	"chat-sync-service/internal/models"
	"chat-sync-service/internal/observability"
	"chat-sync-service/internal/realtime"
	"chat-sync-service/internal/reconcile"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 50 * time.Second
	maxFrameSize = 64 << 10
)

// Connector acknowledges pending messages when a client comes online.
type Connector interface {
	MarkAllDelivered(ctx context.Context, receiverID string) (int64, error)
}

// TypingSender relays typing signals.
type TypingSender interface {
	SendTyping(ctx context.Context, userID string, target models.Target) error
}

// PresenceNotifier tells a user's peers that the user came online or went
// offline.
type PresenceNotifier interface {
	NotifyPresence(ctx context.Context, userID string) error
}

// Handler serves GET /ws: one reconcile session per connection.
type Handler struct {
	hub      *Hub
	verifier middleware.Verifier
	users    middleware.Provisioner
	broker   *realtime.Broker
	deps     reconcile.Deps
	delivery Connector
	typing   TypingSender
	presence PresenceNotifier
	logger   *zap.Logger
}

func NewHandler(hub *Hub, verifier middleware.Verifier, users middleware.Provisioner, broker *realtime.Broker,
	deps reconcile.Deps, delivery Connector, typing TypingSender, presence PresenceNotifier, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		hub:      hub,
		verifier: verifier,
		users:    users,
		broker:   broker,
		deps:     deps,
		delivery: delivery,
		typing:   typing,
		presence: presence,
		logger:   logger,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates, upgrades and starts the session.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-sync-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := middleware.BearerToken(c.Request)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization", "code": "unauthenticated"})
		return
	}
	id, err := h.verifier.Verify(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "code": "unauthenticated"})
		return
	}
	if _, err := h.users.Provision(ctx, id.UserID, id.Name, id.Email); err != nil {
		h.logger.Error("user provisioning failed", zap.String("user_id", id.UserID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not load user", "code": "transient"})
		return
	}
	span.SetAttributes(attribute.String("user.id", id.UserID))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      id.UserID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	first := h.hub.Add(conn, info)
	observability.IncWSActive(wsKind)
	h.hub.publishWSEvent(ctx, "ws_connect", info, "")
	if first {
		h.announce(ctx, info.UserID)
	}

	go h.serve(context.WithoutCancel(ctx), conn, info)
}

func (h *Handler) serve(parent context.Context, conn *websocket.Conn, info ConnInfo) {
	ctx, cancel := context.WithCancel(parent)
	logger := h.logger.With(zap.String("conn_id", info.ConnID), zap.String("user_id", info.UserID))
	session := reconcile.NewSession(info.UserID, h.broker, h.deps, logger)
	replies := make(chan any, 16)

	var closeReason string
	defer func() {
		cancel()
		session.Close()
		h.hub.Remove(info.ConnID)
		observability.DecWSActive(wsKind)
		h.hub.publishWSEvent(parent, "ws_disconnect", info, closeReason)
		if !h.hub.Online(info.UserID) {
			h.announce(parent, info.UserID)
		}
		conn.Close()
	}()

	if h.delivery != nil {
		if n, err := h.delivery.MarkAllDelivered(ctx, info.UserID); err != nil {
			logger.Warn("mark delivered on connect failed", zap.Error(err))
		} else if n > 0 {
			logger.Debug("messages delivered on connect", zap.Int64("count", n))
		}
	}

	go h.writeLoop(ctx, cancel, conn, session, replies, logger)
	go func() {
		if err := session.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("session stopped", zap.Error(err))
		}
	}()
	if err := session.Resync(ctx); err != nil {
		logger.Warn("initial resync failed", zap.Error(err))
	}

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame ClientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.hub.publishWSEvent(parent, "ws_error", info, closeReason)
			}
			return
		}
		if reply := h.dispatch(ctx, session, info.UserID, frame); reply != nil {
			select {
			case replies <- reply:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (h *Handler) announce(ctx context.Context, userID string) {
	if h.presence == nil {
		return
	}
	if err := h.presence.NotifyPresence(ctx, userID); err != nil {
		h.logger.Warn("presence fan-out failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// dispatch runs one client frame and returns the reply frame, if any.
func (h *Handler) dispatch(ctx context.Context, session *reconcile.Session, userID string, f ClientFrame) any {
	switch f.Type {
	case FrameWatch:
		if err := session.Watch(ctx, f.Target); err != nil {
			return newErrorFrame(f.Type, err)
		}
		if text := session.Draft(f.Target); text != "" {
			return draftFrame{Type: FrameDraft, Target: f.Target, Text: text}
		}
	case FrameUnwatch:
		session.Unwatch(f.Target)
	case FrameResync:
		if err := session.Resync(ctx); err != nil {
			return newErrorFrame(f.Type, err)
		}
	case FrameDraft:
		session.SaveDraft(f.Target, f.Text)
	case FrameTyping:
		if h.typing == nil {
			return nil
		}
		if err := h.typing.SendTyping(ctx, userID, f.Target); err != nil {
			return newErrorFrame(f.Type, err)
		}
	case FrameSend:
		msg, err := session.Send(ctx, f.Target, f.Text, f.ImageURL, f.ClientToken)
		if err != nil {
			return newErrorFrame(f.Type, err)
		}
		return ackFrame{Type: FrameAck, ClientToken: f.ClientToken, MessageID: msg.ID}
	default:
		return errorFrame{Type: FrameError, Request: f.Type, Code: "validation", Error: "unknown frame type"}
	}
	return nil
}

// writeLoop owns all writes to conn.
func (h *Handler) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, session *reconcile.Session, replies <-chan any, logger *zap.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer func() {
		cancel()
		conn.Close()
	}()

	write := func(v any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(v); err != nil {
			logger.Debug("websocket write failed", zap.Error(err))
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case p := <-session.Patches():
			if !write(p) {
				return
			}
		case r := <-replies:
			if !write(r) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
