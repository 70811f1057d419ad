package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-sync-service/internal/auth"
	"chat-sync-service/internal/clock"
	"chat-sync-service/internal/db/dbtest"
	"chat-sync-service/internal/models"
	"chat-sync-service/internal/realtime"
	"chat-sync-service/internal/reconcile"
	"chat-sync-service/internal/service"
	"chat-sync-service/internal/signals"
)

func TestHubTracksSessionsPerUser(t *testing.T) {
	hub := NewHub(nil)
	assert.True(t, hub.Add(nil, ConnInfo{ConnID: "c1", UserID: "alice"}))
	assert.False(t, hub.Add(nil, ConnInfo{ConnID: "c2", UserID: "alice"}))
	assert.True(t, hub.Add(nil, ConnInfo{ConnID: "c3", UserID: "bob"}))

	assert.Equal(t, 2, hub.Sessions("alice"))
	assert.True(t, hub.Online("alice"))
	assert.Equal(t, 3, hub.Active())

	assert.True(t, hub.Remove("c1"))
	assert.False(t, hub.Remove("c1"))
	assert.Equal(t, 1, hub.Sessions("alice"))

	hub.Remove("c2")
	assert.Zero(t, hub.Sessions("alice"))
	assert.False(t, hub.Online("alice"))
	assert.Len(t, hub.byUser, 1)
	hub.CloseAll()
}

type wsFixture struct {
	server   *httptest.Server
	verifier *auth.TokenVerifier
	messages *service.MessageService
	hub      *Hub
}

func newFixture(t *testing.T) *wsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	repos := service.NewRepos(dbtest.New(t))
	broker := realtime.NewBroker(nil)
	logger := zap.NewNop()
	users := service.NewUserService(repos, nil, broker, logger)
	convs := service.NewConversationService(repos, nil, broker, logger)
	msgs := service.NewMessageService(repos, convs, service.Options{}, nil, broker, logger)
	delivery := service.NewDeliveryService(repos, nil, broker, logger)
	typing := service.NewTypingService(repos, signals.NewMemoryTyping(clock.Real(), 0), nil, broker, logger)

	verifier := auth.NewTokenVerifier("secret")
	hub := NewHub(logger)
	convs.SetPresence(hub)
	h := NewHandler(hub, verifier, users, broker,
		reconcile.Deps{Directory: convs, Messages: msgs, Typing: typing, Receipts: delivery},
		delivery, typing, convs, logger)

	r := gin.New()
	r.GET("/ws", h.Handle)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	for _, id := range []string{"alice", "bob"} {
		_, err := users.Provision(context.Background(), id, id, "")
		require.NoError(t, err)
	}
	return &wsFixture{server: srv, verifier: verifier, messages: msgs, hub: hub}
}

func (f *wsFixture) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	tok, err := f.verifier.Issue(auth.Identity{UserID: userID}, time.Minute)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?token=" + tok
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// next reads frames until one of type typ arrives.
func next(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var frame map[string]any
		require.NoError(t, conn.ReadJSON(&frame))
		if frame["type"] == typ {
			return frame
		}
	}
}

func TestHandshakeRejectsMissingToken(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessionStreamsPatches(t *testing.T) {
	f := newFixture(t)
	alice := f.dial(t, "alice")

	list := next(t, alice, reconcile.PatchList)
	assert.Equal(t, true, list["list"].(map[string]any)["reset"])

	require.NoError(t, alice.WriteJSON(ClientFrame{Type: FrameWatch, Target: models.Target{ReceiverID: "bob"}}))
	view := next(t, alice, reconcile.PatchView)
	assert.Equal(t, true, view["view"].(map[string]any)["reset"])

	require.NoError(t, alice.WriteJSON(ClientFrame{Type: FrameSend, Target: models.Target{ReceiverID: "bob"}, Text: "hi bob", ClientToken: "t1"}))

	// the ack and the resulting patch race each other
	var acked, patched bool
	require.NoError(t, alice.SetReadDeadline(time.Now().Add(5*time.Second)))
	for !acked || !patched {
		var frame map[string]any
		require.NoError(t, alice.ReadJSON(&frame))
		switch frame["type"] {
		case FrameAck:
			assert.Equal(t, "t1", frame["client_token"])
			assert.NotZero(t, frame["message_id"])
			acked = true
		case reconcile.PatchView:
			upserted, _ := frame["view"].(map[string]any)["upserted"].([]any)
			if len(upserted) == 1 {
				assert.Equal(t, "hi bob", upserted[0].(map[string]any)["content"].(map[string]any)["text"])
				patched = true
			}
		}
	}
}

func TestConnectMarksPendingDelivered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.messages.Append(ctx, service.AppendInput{SenderID: "alice", Target: models.Target{ReceiverID: "bob"}, Text: "while you were away"})
	require.NoError(t, err)

	bob := f.dial(t, "bob")
	next(t, bob, reconcile.PatchList)

	require.Eventually(t, func() bool {
		views, err := f.messages.ViewFor(ctx, "alice", models.Target{ReceiverID: "bob"})
		return err == nil && len(views) == 1 && views[0].Status == models.StatusDelivered
	}, 2*time.Second, 20*time.Millisecond)
}

func TestUnknownFrameGetsError(t *testing.T) {
	f := newFixture(t)
	alice := f.dial(t, "alice")
	require.NoError(t, alice.WriteJSON(ClientFrame{Type: "dance"}))
	frame := next(t, alice, FrameError)
	assert.Equal(t, "validation", frame["code"])

	require.NoError(t, alice.WriteJSON(ClientFrame{Type: FrameWatch, Target: models.Target{ReceiverID: "alice"}}))
	frame = next(t, alice, FrameError)
	assert.Equal(t, FrameWatch, frame["request"])
}

func TestRewatchRestoresDraft(t *testing.T) {
	f := newFixture(t)
	alice := f.dial(t, "alice")
	next(t, alice, reconcile.PatchList)
	target := models.Target{ReceiverID: "bob"}

	require.NoError(t, alice.WriteJSON(ClientFrame{Type: FrameWatch, Target: target}))
	next(t, alice, reconcile.PatchView)
	require.NoError(t, alice.WriteJSON(ClientFrame{Type: FrameDraft, Target: target, Text: "see you at"}))
	require.NoError(t, alice.WriteJSON(ClientFrame{Type: FrameUnwatch, Target: target}))
	require.NoError(t, alice.WriteJSON(ClientFrame{Type: FrameWatch, Target: target}))

	frame := next(t, alice, FrameDraft)
	assert.Equal(t, "see you at", frame["text"])
	assert.Equal(t, "bob", frame["target"].(map[string]any)["receiver_id"])
}

func TestPeerSeesPresenceInConversationList(t *testing.T) {
	f := newFixture(t)
	_, err := f.messages.Append(context.Background(), service.AppendInput{SenderID: "bob", Target: models.Target{ReceiverID: "alice"}, Text: "ping"})
	require.NoError(t, err)

	alice := f.dial(t, "alice")
	initial := next(t, alice, reconcile.PatchList)["list"].(map[string]any)["upserted"].([]any)
	require.Len(t, initial, 1)
	assert.Nil(t, initial[0].(map[string]any)["online"])

	bob := f.dial(t, "bob")
	online := next(t, alice, reconcile.PatchList)["list"].(map[string]any)["upserted"].([]any)
	require.Len(t, online, 1)
	assert.Equal(t, true, online[0].(map[string]any)["online"])
	assert.True(t, f.hub.Online("bob"))

	require.NoError(t, bob.Close())
	offline := next(t, alice, reconcile.PatchList)["list"].(map[string]any)["upserted"].([]any)
	require.Len(t, offline, 1)
	assert.Nil(t, offline[0].(map[string]any)["online"])
}
