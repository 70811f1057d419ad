package rabbitmq

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-sync-service/internal/realtime"
)

type capturePublisher struct {
	keys   []string
	events []any
}

func (p *capturePublisher) Publish(_ context.Context, routingKey string, event any) error {
	p.keys = append(p.keys, routingKey)
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

type captureSink struct {
	changes []realtime.Change
}

func (s *captureSink) Deliver(_ context.Context, c realtime.Change) {
	s.changes = append(s.changes, c)
}

func TestNewPublisherWithoutURLIsNoop(t *testing.T) {
	pub := NewPublisher("", "chat.changes", zap.NewNop())
	assert.Equal(t, "noop", PublisherMode(pub))
	assert.Equal(t, "empty amqp url", PublisherNoopReason(pub))
	assert.NoError(t, pub.Publish(context.Background(), "change.typing", map[string]string{"a": "b"}))
	assert.NoError(t, pub.Close())
}

func TestChangePublisherRoutesByKind(t *testing.T) {
	pub := &capturePublisher{}
	changes := NewChangePublisher(pub)

	c := realtime.NewChange(realtime.MessageCreated, "messages", int64(4), realtime.ConversationTopic(2))
	require.NoError(t, changes.PublishChange(context.Background(), c))
	assert.Equal(t, []string{"change.message_created"}, pub.keys)
	assert.Equal(t, c, pub.events[0])
}

func TestChangeConsumerDecodesAndDropsMalformed(t *testing.T) {
	sink := &captureSink{}
	consumer := &ChangeConsumer{sink: sink, logger: zap.NewNop()}

	consumer.handle(context.Background(), []byte(`{"kind":"typing","table":"typing","row_id":"2","topics":["conversation:2"],"origin":"i-1"}`))
	consumer.handle(context.Background(), []byte(`not json`))

	require.Len(t, sink.changes, 1)
	assert.Equal(t, realtime.Typing, sink.changes[0].Kind)
	assert.Equal(t, "i-1", sink.changes[0].Origin)
	assert.Equal(t, []realtime.Topic{"conversation:2"}, sink.changes[0].Topics)
}
