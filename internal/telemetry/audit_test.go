package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capturePublisher struct {
	routingKey string
	event      any
	err        error
}

func (p *capturePublisher) Publish(_ context.Context, routingKey string, event any) error {
	p.routingKey = routingKey
	p.event = event
	return p.err
}

func TestAuditEmitterBuildsEnvelope(t *testing.T) {
	pub := &capturePublisher{}
	emitter := NewAuditEmitter(pub, "audit.chat", "chat-sync-service", "test", zap.NewNop())
	emitter.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }

	user := "alice"
	emitter.Emit(context.Background(), "info", "message.sent", "message sent", "req-1", &user, map[string]any{"message_id": int64(7)})

	assert.Equal(t, "audit.chat", pub.routingKey)
	env, ok := pub.event.(AuditEnvelope)
	require.True(t, ok)
	assert.Equal(t, 1, env.SchemaVersion)
	assert.Equal(t, "audit_log", env.EventType)
	assert.Equal(t, "2026-03-10T12:00:00Z", env.OccurredAt)
	assert.Equal(t, "message.sent", env.Payload.Action)
	assert.Equal(t, "alice", *env.UserID)
	assert.Equal(t, int64(7), env.Payload.Fields["message_id"])
}

func TestAuditEmitterSwallowsPublishErrors(t *testing.T) {
	emitter := NewAuditEmitter(&capturePublisher{err: errors.New("down")}, "audit.chat", "svc", "test", nil)
	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), "info", "block", "blocked", "", nil, nil)
	})

	var nilEmitter *AuditEmitter
	assert.NotPanics(t, func() {
		nilEmitter.Emit(context.Background(), "info", "block", "blocked", "", nil, nil)
	})
}

func TestInitTracerDisabled(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "svc", "", zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
