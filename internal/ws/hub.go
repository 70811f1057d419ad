package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chat-sync-service/internal/observability"
)

const (
	wsKind       = "session"
	wsRoutingKey = "ws_events.sessions"
)

// Hub tracks active websocket sessions per user.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*websocket.Conn
	infos  map[string]ConnInfo
	byUser map[string]map[string]struct{}
	logger *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		conns:  make(map[string]*websocket.Conn),
		infos:  make(map[string]ConnInfo),
		byUser: make(map[string]map[string]struct{}),
		logger: logger,
	}
}

// Add registers a connection. It reports whether this is the user's only
// open connection.
func (h *Hub) Add(conn *websocket.Conn, info ConnInfo) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[info.ConnID] = conn
	h.infos[info.ConnID] = info
	ids, ok := h.byUser[info.UserID]
	if !ok {
		ids = make(map[string]struct{})
		h.byUser[info.UserID] = ids
	}
	ids[info.ConnID] = struct{}{}
	return len(ids) == 1
}

// Remove forgets a connection. It reports whether it was registered.
func (h *Hub) Remove(connID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	info, ok := h.infos[connID]
	if !ok {
		return false
	}
	delete(h.conns, connID)
	delete(h.infos, connID)
	if ids, ok := h.byUser[info.UserID]; ok {
		delete(ids, connID)
		if len(ids) == 0 {
			delete(h.byUser, info.UserID)
		}
	}
	return true
}

// Sessions returns how many connections userID has open.
func (h *Hub) Sessions(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

// Online reports whether userID has at least one open connection.
func (h *Hub) Online(userID string) bool { return h.Sessions(userID) > 0 }

// Active returns the number of open connections.
func (h *Hub) Active() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.infos)
}

// CloseAll sends a going-away close frame to every connection. Readers then
// fail and clean up through their usual path.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for _, c := range h.conns {
		if c != nil {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, c := range conns {
		if err := c.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			h.logger.Debug("close frame not sent", zap.Error(err))
		}
		_ = c.Close()
	}
}

func (h *Hub) publishWSEvent(ctx context.Context, event string, info ConnInfo, reason string) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        wsKind,
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}

	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	if err := observability.PublishEvent(ctx, wsRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, headers); err != nil {
		h.logger.Warn("ws event not published", zap.String("event", event), zap.Error(err))
	}
	observability.IncWSEvent(wsKind, event)
}
