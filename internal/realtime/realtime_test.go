package realtime

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTopics(t *testing.T) {
	assert.Equal(t, Topic("user:alice"), UserTopic("alice"))
	assert.Equal(t, Topic("conversation:42"), ConversationTopic(42))

	id, ok := ConversationTopic(42).ConversationID()
	assert.True(t, ok)
	assert.EqualValues(t, 42, id)

	_, ok = UserTopic("alice").ConversationID()
	assert.False(t, ok)
}

func TestNewChangeDedupesTopics(t *testing.T) {
	c := NewChange(MessageCreated, "messages", int64(9), UserTopic("a"), UserTopic("a"), ConversationTopic(1))
	assert.Equal(t, "9", c.RowID)
	assert.Equal(t, []Topic{UserTopic("a"), ConversationTopic(1)}, c.Topics)
}

func TestBrokerDeliversOncePerSubscription(t *testing.T) {
	b := NewBroker(zap.NewNop())
	sub := b.Subscribe(4, UserTopic("alice"), ConversationTopic(1))
	defer sub.Close()
	other := b.Subscribe(4, UserTopic("bob"))
	defer other.Close()

	require.NoError(t, b.Publish(context.Background(), NewChange(MessageCreated, "messages", int64(1), UserTopic("alice"), ConversationTopic(1))))

	require.Len(t, sub.C(), 1)
	assert.Len(t, other.C(), 0)
}

func TestBrokerDynamicTopics(t *testing.T) {
	b := NewBroker(nil)
	sub := b.Subscribe(4, UserTopic("alice"))
	defer sub.Close()

	sub.Add(ConversationTopic(7))
	require.NoError(t, b.Publish(context.Background(), NewChange(Typing, "typing", int64(7), ConversationTopic(7))))
	assert.Len(t, sub.C(), 1)
	<-sub.C()

	sub.Remove(ConversationTopic(7))
	require.NoError(t, b.Publish(context.Background(), NewChange(Typing, "typing", int64(7), ConversationTopic(7))))
	assert.Len(t, sub.C(), 0)
}

func TestBrokerNeverBlocksOnFullBuffer(t *testing.T) {
	b := NewBroker(nil)
	sub := b.Subscribe(1, UserTopic("alice"))
	defer sub.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(context.Background(), NewChange(StatusChanged, "messages", int64(i), UserTopic("alice"))))
	}
	assert.Len(t, sub.C(), 1)
}

func TestFullBufferMarksOverflowOnce(t *testing.T) {
	b := NewBroker(nil)
	sub := b.Subscribe(1, UserTopic("alice"))
	defer sub.Close()

	require.NoError(t, b.Publish(context.Background(), NewChange(StatusChanged, "messages", int64(1), UserTopic("alice"))))
	assert.False(t, sub.TakeOverflow())

	require.NoError(t, b.Publish(context.Background(), NewChange(StatusChanged, "messages", int64(2), UserTopic("alice"))))
	assert.True(t, sub.TakeOverflow())
	assert.False(t, sub.TakeOverflow())
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	b := NewBroker(nil)
	sub := b.Subscribe(1, UserTopic("alice"))
	sub.Close()
	sub.Close()
	sub.Add(UserTopic("bob"))

	_, open := <-sub.C()
	assert.False(t, open)
	assert.NoError(t, b.Publish(context.Background(), NewChange(StatusChanged, "messages", int64(1), UserTopic("alice"), UserTopic("bob"))))
}

type fakeRemote struct {
	published []Change
	err       error
}

func (r *fakeRemote) PublishChange(_ context.Context, c Change) error {
	r.published = append(r.published, c)
	return r.err
}

func TestFanoutStampsOriginAndSkipsOwnChanges(t *testing.T) {
	b := NewBroker(nil)
	sub := b.Subscribe(8, UserTopic("alice"))
	defer sub.Close()
	remote := &fakeRemote{err: errors.New("broker down")}
	f := NewFanout(b, remote, "instance-a", zap.NewNop())

	c := NewChange(MessageCreated, "messages", int64(1), UserTopic("alice"))
	require.NoError(t, f.Publish(context.Background(), c))
	require.Len(t, remote.published, 1)
	assert.Equal(t, "instance-a", remote.published[0].Origin)
	assert.Len(t, sub.C(), 1)

	f.Deliver(context.Background(), remote.published[0])
	assert.Len(t, sub.C(), 1)

	c.Origin = "instance-b"
	f.Deliver(context.Background(), c)
	assert.Len(t, sub.C(), 2)
}
