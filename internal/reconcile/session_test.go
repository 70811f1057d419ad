package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-sync-service/internal/apperr"
	"chat-sync-service/internal/clock"
	"chat-sync-service/internal/db/dbtest"
	"chat-sync-service/internal/models"
	"chat-sync-service/internal/realtime"
	"chat-sync-service/internal/service"
	"chat-sync-service/internal/signals"
)

type harness struct {
	clock         *clock.Fake
	broker        *realtime.Broker
	users         *service.UserService
	conversations *service.ConversationService
	messages      *service.MessageService
	delivery      *service.DeliveryService
	typing        *service.TypingService
}

func newHarness(t *testing.T, userIDs ...string) *harness {
	t.Helper()
	repos := service.NewRepos(dbtest.New(t))
	clk := clock.NewFake(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	broker := realtime.NewBroker(nil)
	logger := zap.NewNop()
	convs := service.NewConversationService(repos, clk, broker, logger)
	h := &harness{
		clock:         clk,
		broker:        broker,
		users:         service.NewUserService(repos, clk, broker, logger),
		conversations: convs,
		messages:      service.NewMessageService(repos, convs, service.Options{}, clk, broker, logger),
		delivery:      service.NewDeliveryService(repos, clk, broker, logger),
		typing:        service.NewTypingService(repos, signals.NewMemoryTyping(clk, signals.DefaultTypingTTL), clk, broker, logger),
	}
	for _, id := range userIDs {
		_, err := h.users.Provision(context.Background(), id, id, "")
		require.NoError(t, err)
	}
	return h
}

func (h *harness) session(t *testing.T, viewerID string, withReceipts bool) *Session {
	t.Helper()
	deps := Deps{Directory: h.conversations, Messages: h.messages, Typing: h.typing}
	if withReceipts {
		deps.Receipts = h.delivery
	}
	s := NewSession(viewerID, h.broker, deps, nil)
	t.Cleanup(s.Close)
	return s
}

// pending takes every queued change without applying it.
func pending(s *Session) []realtime.Change {
	var out []realtime.Change
	for {
		select {
		case c := <-s.sub.C():
			out = append(out, c)
		default:
			return out
		}
	}
}

func pump(t *testing.T, s *Session) {
	t.Helper()
	for _, c := range pending(s) {
		require.NoError(t, s.Apply(context.Background(), c))
	}
}

func drain(s *Session) []Patch {
	var out []Patch
	for {
		select {
		case p := <-s.out:
			out = append(out, p)
		default:
			return out
		}
	}
}

// clientThread applies view patches the way a client would.
type clientThread struct {
	byID  map[int64]models.MessageView
	order []int64
}

func (c *clientThread) apply(p *ViewPatch) {
	if p.Reset || c.byID == nil {
		c.byID = make(map[int64]models.MessageView)
		c.order = nil
	}
	for _, id := range p.Removed {
		delete(c.byID, id)
	}
	for _, v := range p.Upserted {
		c.byID[v.ID] = v
	}
	if p.Order != nil {
		c.order = p.Order
	}
}

func (c *clientThread) views() []models.MessageView {
	out := make([]models.MessageView, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

func assertSameViews(t *testing.T, want, got []models.MessageView) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].Equal(got[i]), "view %d differs: %+v vs %+v", i, want[i], got[i])
	}
}

func TestInitialSyncThenNoPatchWithoutChanges(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	ctx := context.Background()
	_, err := h.messages.Append(ctx, service.AppendInput{SenderID: "bob", Target: models.Target{ReceiverID: "alice"}, Text: "hi"})
	require.NoError(t, err)

	s := h.session(t, "alice", false)
	require.NoError(t, s.Resync(ctx))
	require.NoError(t, s.Watch(ctx, models.Target{ReceiverID: "bob"}))

	patches := drain(s)
	require.Len(t, patches, 2)
	assert.Equal(t, PatchList, patches[0].Type)
	assert.True(t, patches[0].List.Reset)
	assert.Len(t, patches[0].List.Upserted, 1)
	assert.Equal(t, PatchView, patches[1].Type)
	assert.True(t, patches[1].View.Reset)
	assert.Len(t, patches[1].View.Upserted, 1)
	require.NotNil(t, patches[1].View.Typing)
	assert.Empty(t, *patches[1].View.Typing)

	require.NoError(t, s.Resync(ctx))
	assert.Empty(t, drain(s))
}

func TestDuplicateNotificationsEmitNothing(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	ctx := context.Background()
	s := h.session(t, "alice", false)
	require.NoError(t, s.Resync(ctx))
	require.NoError(t, s.Watch(ctx, models.Target{ReceiverID: "bob"}))
	drain(s)

	_, err := h.messages.Append(ctx, service.AppendInput{SenderID: "bob", Target: models.Target{ReceiverID: "alice"}, Text: "hello"})
	require.NoError(t, err)
	changes := pending(s)
	require.NotEmpty(t, changes)

	for _, c := range changes {
		require.NoError(t, s.Apply(ctx, c))
	}
	first := drain(s)
	require.NotEmpty(t, first)

	for _, c := range changes {
		require.NoError(t, s.Apply(ctx, c))
		require.NoError(t, s.Apply(ctx, c))
	}
	assert.Empty(t, drain(s))
}

func TestOutOfOrderNotificationsConverge(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	ctx := context.Background()
	target := models.Target{ReceiverID: "bob"}

	s := h.session(t, "alice", false)
	require.NoError(t, s.Watch(ctx, target))
	var client clientThread
	for _, p := range drain(s) {
		client.apply(p.View)
	}

	msg, err := h.messages.Append(ctx, service.AppendInput{SenderID: "bob", Target: models.Target{ReceiverID: "alice"}, Text: "draft one"})
	require.NoError(t, err)
	_, err = h.messages.EditMessage(ctx, "bob", msg.ID, "final")
	require.NoError(t, err)
	_, err = h.messages.React(ctx, msg.ID, "alice", "👍")
	require.NoError(t, err)
	_, err = h.messages.Append(ctx, service.AppendInput{SenderID: "alice", Target: target, Text: "reply"})
	require.NoError(t, err)

	changes := pending(s)
	require.NotEmpty(t, changes)
	for i := len(changes) - 1; i >= 0; i-- {
		require.NoError(t, s.Apply(ctx, changes[i]))
	}
	for _, p := range drain(s) {
		if p.View != nil {
			client.apply(p.View)
		}
	}

	want, err := h.messages.ViewFor(ctx, "alice", target)
	require.NoError(t, err)
	assertSameViews(t, want, client.views())
	assert.Equal(t, "final", client.views()[0].Content.Text)
}

func TestViewPatchCarriesOnlyTheDelta(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	ctx := context.Background()
	first, err := h.messages.Append(ctx, service.AppendInput{SenderID: "alice", Target: models.Target{ReceiverID: "bob"}, Text: "one"})
	require.NoError(t, err)
	second, err := h.messages.Append(ctx, service.AppendInput{SenderID: "alice", Target: models.Target{ReceiverID: "bob"}, Text: "two"})
	require.NoError(t, err)

	s := h.session(t, "bob", false)
	require.NoError(t, s.Watch(ctx, models.Target{ReceiverID: "alice"}))
	drain(s)

	_, err = h.messages.React(ctx, second.ID, "alice", "🎉")
	require.NoError(t, err)
	pump(t, s)

	patches := drain(s)
	require.Len(t, patches, 1)
	p := patches[0].View
	require.Len(t, p.Upserted, 1)
	assert.Equal(t, second.ID, p.Upserted[0].ID)
	assert.Nil(t, p.Order)
	assert.Nil(t, p.Typing)

	require.NoError(t, h.messages.DeleteForMe(ctx, "bob", first.ID))
	pump(t, s)
	patches = drain(s)
	var removed []int64
	for _, p := range patches {
		if p.View != nil {
			removed = append(removed, p.View.Removed...)
		}
	}
	assert.Equal(t, []int64{first.ID}, removed)
}

func TestWatchBeforeConversationExists(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	ctx := context.Background()
	s := h.session(t, "alice", false)
	require.NoError(t, s.Watch(ctx, models.Target{ReceiverID: "bob"}))
	patches := drain(s)
	require.Len(t, patches, 1)
	assert.Zero(t, patches[0].View.ConversationID)

	msg, err := h.messages.Append(ctx, service.AppendInput{SenderID: "bob", Target: models.Target{ReceiverID: "alice"}, Text: "first contact"})
	require.NoError(t, err)
	pump(t, s)

	var got *ViewPatch
	for _, p := range drain(s) {
		if p.Type == PatchView {
			got = p.View
		}
	}
	require.NotNil(t, got)
	assert.Equal(t, msg.ConversationID, got.ConversationID)
	require.Len(t, got.Upserted, 1)
}

func TestReceiptsAdvanceWhileThreadIsOpen(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	ctx := context.Background()
	_, err := h.messages.Append(ctx, service.AppendInput{SenderID: "alice", Target: models.Target{ReceiverID: "bob"}, Text: "ping"})
	require.NoError(t, err)

	bob := h.session(t, "bob", true)
	require.NoError(t, bob.Watch(ctx, models.Target{ReceiverID: "alice"}))
	pump(t, bob)

	views, err := h.messages.ViewFor(ctx, "alice", models.Target{ReceiverID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, views[0].Status)

	var last *ViewPatch
	for _, p := range drain(bob) {
		if p.View != nil {
			last = p.View
		}
	}
	require.NotNil(t, last)
	require.Len(t, last.Upserted, 1)
	assert.Equal(t, models.StatusRead, last.Upserted[0].Status)
}

func TestTypingIndicatorExpiresOnTick(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	ctx := context.Background()
	_, err := h.messages.Append(ctx, service.AppendInput{SenderID: "alice", Target: models.Target{ReceiverID: "bob"}, Text: "hi"})
	require.NoError(t, err)

	s := h.session(t, "alice", false)
	require.NoError(t, s.Watch(ctx, models.Target{ReceiverID: "bob"}))
	drain(s)

	require.NoError(t, h.typing.SendTyping(ctx, "bob", models.Target{ReceiverID: "alice"}))
	pump(t, s)
	patches := drain(s)
	require.Len(t, patches, 1)
	require.NotNil(t, patches[0].View.Typing)
	assert.Equal(t, []models.TypingUser{{UserID: "bob", DisplayName: "bob"}}, *patches[0].View.Typing)

	h.clock.Advance(time.Second)
	require.NoError(t, s.Tick(ctx))
	assert.Empty(t, drain(s))

	h.clock.Advance(2 * time.Second)
	require.NoError(t, s.Tick(ctx))
	patches = drain(s)
	require.Len(t, patches, 1)
	assert.Empty(t, *patches[0].View.Typing)

	require.NoError(t, s.Tick(ctx))
	assert.Empty(t, drain(s))
}

func TestLeavingGroupRevokesWatch(t *testing.T) {
	h := newHarness(t, "alice", "bob", "carol")
	ctx := context.Background()
	group, err := h.conversations.CreateGroup(ctx, "Team", "alice", []string{"bob", "carol"})
	require.NoError(t, err)
	msg, err := h.messages.Append(ctx, service.AppendInput{SenderID: "alice", Target: models.Target{ConversationID: group.ID}, Text: "welcome"})
	require.NoError(t, err)

	s := h.session(t, "carol", false)
	require.NoError(t, s.Watch(ctx, models.Target{ConversationID: group.ID}))
	drain(s)

	require.NoError(t, h.conversations.LeaveGroup(ctx, "carol", group.ID))
	pump(t, s)

	var revoked *ViewPatch
	for _, p := range drain(s) {
		if p.View != nil && p.View.Revoked {
			revoked = p.View
		}
	}
	require.NotNil(t, revoked)
	assert.Equal(t, []int64{msg.ID}, revoked.Removed)

	require.NoError(t, s.Resync(ctx))
	for _, p := range drain(s) {
		assert.Nil(t, p.View)
	}
}

func TestWatchRejectsForeignConversation(t *testing.T) {
	h := newHarness(t, "alice", "bob", "mallory")
	ctx := context.Background()
	msg, err := h.messages.Append(ctx, service.AppendInput{SenderID: "alice", Target: models.Target{ReceiverID: "bob"}, Text: "secret"})
	require.NoError(t, err)

	s := h.session(t, "mallory", false)
	err = s.Watch(ctx, models.Target{ConversationID: msg.ConversationID})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Empty(t, drain(s))
	assert.ErrorIs(t, s.Watch(ctx, models.Target{}), apperr.ErrValidation)
}

func TestSendClearsDraftOnlyOnSuccess(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	ctx := context.Background()
	s := h.session(t, "alice", false)
	target := models.Target{ReceiverID: "bob"}

	s.SaveDraft(target, "half a thought")
	assert.Equal(t, "half a thought", s.Draft(target))

	_, err := s.Send(ctx, target, "   ", "", "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, "half a thought", s.Draft(target))

	msg, err := s.Send(ctx, target, "half a thought, finished", "", "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", msg.SenderID)
	assert.Empty(t, s.Draft(target))

	again, err := s.Send(ctx, target, "half a thought, finished", "", "tok-1")
	require.NoError(t, err)
	assert.Equal(t, msg.ID, again.ID)
}

func TestDroppedChangeForOtherThreadStillConverges(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	ctx := context.Background()
	g1, err := h.conversations.CreateGroup(ctx, "One", "alice", []string{"bob"})
	require.NoError(t, err)
	g2, err := h.conversations.CreateGroup(ctx, "Two", "alice", []string{"bob"})
	require.NoError(t, err)
	t1 := models.Target{ConversationID: g1.ID}
	t2 := models.Target{ConversationID: g2.ID}

	s := h.session(t, "alice", false)
	require.NoError(t, s.Resync(ctx))
	require.NoError(t, s.Watch(ctx, t1))
	require.NoError(t, s.Watch(ctx, t2))
	msg, err := h.messages.Append(ctx, service.AppendInput{SenderID: "bob", Target: t2, Text: "old"})
	require.NoError(t, err)
	pump(t, s)

	var client clientThread
	for _, p := range drain(s) {
		if p.Type == PatchView && p.View.Target == t2 {
			client.apply(p.View)
		}
	}
	require.Len(t, client.views(), 1)
	require.Equal(t, "old", client.views()[0].Content.Text)

	for i := 0; i < defaultBuffer; i++ {
		require.NoError(t, h.broker.Publish(ctx, realtime.NewChange(realtime.Typing, "typing", g1.ID, realtime.ConversationTopic(g1.ID))))
	}
	_, err = h.messages.EditMessage(ctx, "bob", msg.ID, "new")
	require.NoError(t, err)

	queued := pending(s)
	require.Len(t, queued, defaultBuffer)
	for _, c := range queued {
		require.NotContains(t, c.Topics, realtime.ConversationTopic(g2.ID))
		require.NoError(t, s.Apply(ctx, c))
	}

	for _, p := range drain(s) {
		if p.Type == PatchView && p.View.Target == t2 {
			client.apply(p.View)
		}
	}
	want, err := h.messages.ViewFor(ctx, "alice", t2)
	require.NoError(t, err)
	assertSameViews(t, want, client.views())
	assert.Equal(t, "new", client.views()[0].Content.Text)
}

func TestDeletingUnreadMessageClearsRecipientBadge(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	ctx := context.Background()
	s := h.session(t, "bob", false)
	require.NoError(t, s.Resync(ctx))
	drain(s)

	msg, err := h.messages.Append(ctx, service.AppendInput{SenderID: "alice", Target: models.Target{ReceiverID: "bob"}, Text: "oops"})
	require.NoError(t, err)
	pump(t, s)
	patches := drain(s)
	require.NotEmpty(t, patches)
	last := patches[len(patches)-1].List
	require.Len(t, last.Upserted, 1)
	require.Equal(t, 1, last.Upserted[0].UnreadCount)

	require.NoError(t, h.messages.DeleteForEveryone(ctx, "alice", msg.ID))
	queued := pending(s)
	require.NotEmpty(t, queued)
	for _, c := range queued {
		require.NoError(t, s.Apply(ctx, c))
	}

	patches = drain(s)
	require.Len(t, patches, 1)
	require.Equal(t, PatchList, patches[0].Type)
	require.Len(t, patches[0].List.Upserted, 1)
	assert.Equal(t, 0, patches[0].List.Upserted[0].UnreadCount)
}
