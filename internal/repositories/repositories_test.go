package repositories

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-sync-service/internal/apperr"
	"chat-sync-service/internal/db/dbtest"
	"chat-sync-service/internal/models"
)

var t0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestUserRepoProvisionAndUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepo(dbtest.New(t))

	user, created, err := repo.Provision(ctx, models.User{ID: "u1", Name: "Alice", Email: "alice@example.com"}, t0)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Alice", user.Name)

	again, created, err := repo.Provision(ctx, models.User{ID: "u1", Name: "Changed"}, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "Alice", again.Name)

	_, _, err = repo.Provision(ctx, models.User{ID: "u2", Email: "bob@example.com"}, t0)
	require.NoError(t, err)

	username := "alice_1"
	updated, err := repo.Update(ctx, "u1", models.ProfileUpdate{Username: &username}, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "alice_1", updated.Username)
	assert.True(t, updated.UpdatedAt.Equal(t0.Add(time.Minute)))

	_, err = repo.Update(ctx, "u2", models.ProfileUpdate{Username: &username}, t0)
	assert.ErrorIs(t, err, ErrUsernameTaken)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	users, err := repo.GetMany(ctx, []string{"u1", "u2", "missing"})
	require.NoError(t, err)
	assert.Len(t, users, 2)

	found, err := repo.Search(ctx, "BOB", "u1", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "u2", found[0].ID)
}

func TestConversationRepoEnsureDirectIsRaceFree(t *testing.T) {
	ctx := context.Background()
	repo := NewConversationRepo(dbtest.New(t))

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[int64]struct{}{}
		winners int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conv, created, err := repo.EnsureDirect(ctx, "alice", "bob", t0)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ids[conv.ID] = struct{}{}
			if created {
				winners++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 1)
	assert.Equal(t, 1, winners)

	convs, err := repo.ListDirect(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "alice", convs[0].Peer("bob"))
}

func TestConversationRepoGroups(t *testing.T) {
	ctx := context.Background()
	repo := NewConversationRepo(dbtest.New(t))

	group, err := repo.CreateGroup(ctx, "Team", "alice", []string{"bob", "carol", "bob"}, t0)
	require.NoError(t, err)
	assert.Equal(t, models.KindGroup, group.Kind)
	assert.Equal(t, "Team", group.Name.String)

	members, err := repo.Members(ctx, group.ID)
	require.NoError(t, err)
	assert.Len(t, members, 3)

	ok, err := repo.IsMember(ctx, group.ID, "carol")
	require.NoError(t, err)
	assert.True(t, ok)

	removed, err := repo.RemoveMember(ctx, group.ID, "carol")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = repo.RemoveMember(ctx, group.ID, "carol")
	require.NoError(t, err)
	assert.False(t, removed)

	groups, err := repo.ListGroups(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, groups, 1)

	require.NoError(t, repo.Touch(ctx, group.ID, t0.Add(time.Hour)))
	require.NoError(t, repo.Touch(ctx, group.ID, t0.Add(time.Minute)))
	got, err := repo.Get(ctx, group.ID)
	require.NoError(t, err)
	assert.True(t, got.LastActivityAt.Equal(t0.Add(time.Hour)))

	_, err = repo.Get(ctx, 999)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestMessageRepoInsertIsIdempotentPerClientToken(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.New(t)
	convs := NewConversationRepo(conn)
	repo := NewMessageRepo(conn)

	conv, _, err := convs.EnsureDirect(ctx, "alice", "bob", t0)
	require.NoError(t, err)

	in := NewMessage{
		ConversationID: conv.ID,
		SenderID:       "alice",
		ReceiverID:     "bob",
		Content:        models.ContentOf("hi", ""),
		Status:         models.StatusSent,
		ClientToken:    "tok-1",
		CreatedAt:      t0,
	}
	first, inserted, err := repo.Insert(ctx, in)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, models.ContentText, first.Content.Kind)
	assert.Equal(t, models.StatusSent, first.Status)

	in.Content = models.ContentOf("hi again", "")
	second, inserted, err := repo.Insert(ctx, in)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "hi", second.Content.Text)

	in.ClientToken = ""
	_, inserted, err = repo.Insert(ctx, in)
	require.NoError(t, err)
	assert.True(t, inserted)

	msgs, err := repo.ListByConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestMessageRepoStatusNeverRegresses(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.New(t)
	convs := NewConversationRepo(conn)
	repo := NewMessageRepo(conn)

	conv, _, err := convs.EnsureDirect(ctx, "alice", "bob", t0)
	require.NoError(t, err)
	msg, _, err := repo.Insert(ctx, NewMessage{ConversationID: conv.ID, SenderID: "alice", ReceiverID: "bob",
		Content: models.ContentOf("hi", ""), Status: models.StatusSent, CreatedAt: t0})
	require.NoError(t, err)

	counts, err := repo.UnreadCounts(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[conv.ID])

	n, err := repo.AdvanceStatus(ctx, "bob", "alice", models.StatusRead)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = repo.AdvanceStatus(ctx, "bob", "alice", models.StatusDelivered)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	got, err := repo.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, got.Status)

	counts, err = repo.UnreadCounts(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, counts[conv.ID])
}

func TestMessageRepoPendingSendersSkipsBlockedPairs(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.New(t)
	convs := NewConversationRepo(conn)
	blocks := NewBlockRepo(conn)
	repo := NewMessageRepo(conn)

	for _, sender := range []string{"alice", "carol"} {
		low, high := models.CanonicalPair(sender, "bob")
		conv, _, err := convs.EnsureDirect(ctx, low, high, t0)
		require.NoError(t, err)
		_, _, err = repo.Insert(ctx, NewMessage{ConversationID: conv.ID, SenderID: sender, ReceiverID: "bob",
			Content: models.ContentOf("hi", ""), Status: models.StatusSent, CreatedAt: t0})
		require.NoError(t, err)
	}
	require.NoError(t, blocks.Block(ctx, "bob", "carol", t0))

	senders, err := repo.PendingSenders(ctx, "bob", models.StatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, senders)
}

func TestMessageRepoEditAndTombstone(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.New(t)
	convs := NewConversationRepo(conn)
	repo := NewMessageRepo(conn)

	conv, _, err := convs.EnsureDirect(ctx, "alice", "bob", t0)
	require.NoError(t, err)
	msg, _, err := repo.Insert(ctx, NewMessage{ConversationID: conv.ID, SenderID: "alice", ReceiverID: "bob",
		Content: models.ContentOf("helo", "https://cdn/x.png"), Status: models.StatusSent, CreatedAt: t0})
	require.NoError(t, err)
	assert.Equal(t, models.ContentMixed, msg.Content.Kind)

	require.NoError(t, repo.UpdateText(ctx, msg.ID, "hello", t0.Add(time.Minute)))
	got, err := repo.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content.Text)
	require.NotNil(t, got.EditedAt)

	require.NoError(t, repo.Tombstone(ctx, msg.ID))
	got, err = repo.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDeleted)
	assert.True(t, got.Content.IsEmpty())

	assert.ErrorIs(t, repo.UpdateText(ctx, msg.ID, "again", t0), ErrMessageNotFound)
}

func TestReactionDeletionAndPinRepos(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.New(t)
	convs := NewConversationRepo(conn)
	msgs := NewMessageRepo(conn)
	reactions := NewReactionRepo(conn)
	deletions := NewDeletionRepo(conn)
	pins := NewPinRepo(conn)

	conv, _, err := convs.EnsureDirect(ctx, "alice", "bob", t0)
	require.NoError(t, err)
	msg, _, err := msgs.Insert(ctx, NewMessage{ConversationID: conv.ID, SenderID: "alice", ReceiverID: "bob",
		Content: models.ContentOf("hi", ""), Status: models.StatusSent, CreatedAt: t0})
	require.NoError(t, err)

	added, err := reactions.Toggle(ctx, msg.ID, "bob", "👍", t0)
	require.NoError(t, err)
	assert.True(t, added)
	list, err := reactions.ListForConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	added, err = reactions.Toggle(ctx, msg.ID, "bob", "👍", t0)
	require.NoError(t, err)
	assert.False(t, added)
	list, err = reactions.ListForConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, deletions.Hide(ctx, msg.ID, "bob", t0))
	require.NoError(t, deletions.Hide(ctx, msg.ID, "bob", t0))
	hidden, err := deletions.HiddenIn(ctx, conv.ID, "bob")
	require.NoError(t, err)
	assert.Contains(t, hidden, msg.ID)
	hidden, err = deletions.HiddenIn(ctx, conv.ID, "alice")
	require.NoError(t, err)
	assert.Empty(t, hidden)

	pin := models.Pin{ConversationID: conv.ID, MessageID: msg.ID, PinnedBy: "alice", PinnedAt: t0}
	require.NoError(t, pins.Pin(ctx, pin))
	require.NoError(t, pins.Pin(ctx, pin))
	pinned, err := pins.List(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, pinned, 1)
	require.NoError(t, pins.Unpin(ctx, conv.ID, msg.ID))
	pinned, err = pins.List(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, pinned)
}

func TestBlockRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewBlockRepo(dbtest.New(t))

	require.NoError(t, repo.Block(ctx, "alice", "bob", t0))
	require.NoError(t, repo.Block(ctx, "alice", "bob", t0))

	blocked, err := repo.IsBlockedEitherDirection(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.True(t, blocked)

	peers, err := repo.BlockedPeers(ctx, "bob")
	require.NoError(t, err)
	assert.Contains(t, peers, "alice")

	list, err := repo.ListBlocked(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "bob", list[0].BlockedID)

	require.NoError(t, repo.Unblock(ctx, "alice", "bob"))
	blocked, err = repo.IsBlockedEitherDirection(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.False(t, blocked)
}
