package service

import (
	"context"
	"errors"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"chat-sync-service/internal/apperr"
	"chat-sync-service/internal/clock"
	"chat-sync-service/internal/models"
	"chat-sync-service/internal/realtime"
)

// ConversationService is the conversation directory.
type ConversationService struct {
	base
	presence Presence
}

// Presence reports whether a user has a live session.
type Presence interface {
	Online(userID string) bool
}

func NewConversationService(repos Repos, clk clock.Clock, notifier realtime.Notifier, logger *zap.Logger) *ConversationService {
	return &ConversationService{base: newBase(repos, clk, notifier, logger)}
}

// SetPresence makes ListForUser mark direct peers that are online.
func (s *ConversationService) SetPresence(p Presence) { s.presence = p }

// NotifyPresence tells userID's direct peers that userID came online or went
// offline. Peers in a block relation with userID are not told.
func (s *ConversationService) NotifyPresence(ctx context.Context, userID string) error {
	direct, err := s.repos.Conversations.ListDirect(ctx, userID)
	if err != nil {
		return err
	}
	blocked, err := s.repos.Blocks.BlockedPeers(ctx, userID)
	if err != nil {
		return err
	}
	var topics []realtime.Topic
	for _, c := range direct {
		peer := c.Peer(userID)
		if _, ok := blocked[peer]; !ok {
			topics = append(topics, realtime.UserTopic(peer))
		}
	}
	if len(topics) == 0 {
		return nil
	}
	s.notify(ctx, realtime.NewChange(realtime.PresenceChanged, "users", userID, topics...))
	return nil
}

// ResolveDirect returns the direct conversation of a pair, creating it on
// first use. Argument order does not matter.
func (s *ConversationService) ResolveDirect(ctx context.Context, idA, idB string) (models.Conversation, error) {
	if err := validatePair(idA, idB); err != nil {
		return models.Conversation{}, err
	}
	low, high := models.CanonicalPair(idA, idB)
	conv, created, err := s.repos.Conversations.EnsureDirect(ctx, low, high, s.clock.Now())
	if err != nil {
		return models.Conversation{}, err
	}
	if created {
		s.logger.Info("direct conversation created", zap.Int64("conversation_id", conv.ID))
		s.notify(ctx, realtime.NewChange(realtime.ConversationCreated, "conversations", conv.ID,
			realtime.UserTopic(low), realtime.UserTopic(high), realtime.ConversationTopic(conv.ID)))
	}
	return conv, nil
}

// CreateGroup creates a named group with the creator and memberIDs as
// members, all or nothing.
func (s *ConversationService) CreateGroup(ctx context.Context, name, creatorID string, memberIDs []string) (models.Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Conversation{}, apperr.Validation("group name is required")
	}
	if strings.TrimSpace(creatorID) == "" {
		return models.Conversation{}, apperr.Validation("creator id is required")
	}
	members := make([]string, 0, len(memberIDs))
	for _, id := range uniqueStrings(memberIDs) {
		if id = strings.TrimSpace(id); id != "" && id != creatorID {
			members = append(members, id)
		}
	}
	if len(members) == 0 {
		return models.Conversation{}, apperr.Validation("at least one member besides the creator is required")
	}

	conv, err := s.repos.Conversations.CreateGroup(ctx, name, creatorID, members, s.clock.Now())
	if err != nil {
		return models.Conversation{}, err
	}
	topics := []realtime.Topic{realtime.ConversationTopic(conv.ID), realtime.UserTopic(creatorID)}
	for _, id := range members {
		topics = append(topics, realtime.UserTopic(id))
	}
	s.notify(ctx, realtime.NewChange(realtime.ConversationCreated, "conversations", conv.ID, topics...))
	return conv, nil
}

// ListForUser returns the user's visible conversations, most recently active
// first with ties broken by id.
func (s *ConversationService) ListForUser(ctx context.Context, userID string) (summaries []models.ConversationSummary, err error) {
	ctx, span := startSpan(ctx, "conversations.ListForUser", trace.WithAttributes(attribute.String("user.id", userID)))
	defer func() { endSpan(span, err) }()

	direct, err := s.repos.Conversations.ListDirect(ctx, userID)
	if err != nil {
		return nil, err
	}
	blocked, err := s.repos.Blocks.BlockedPeers(ctx, userID)
	if err != nil {
		return nil, err
	}
	groups, err := s.repos.Conversations.ListGroups(ctx, userID)
	if err != nil {
		return nil, err
	}
	unread, err := s.repos.Messages.UnreadCounts(ctx, userID)
	if err != nil {
		return nil, err
	}

	peers := make([]string, 0, len(direct))
	visible := direct[:0]
	for _, c := range direct {
		peer := c.Peer(userID)
		if _, ok := blocked[peer]; ok {
			continue
		}
		visible = append(visible, c)
		peers = append(peers, peer)
	}
	names, err := displayNames(ctx, s.repos, peers)
	if err != nil {
		return nil, err
	}

	summaries = make([]models.ConversationSummary, 0, len(visible)+len(groups))
	for _, c := range visible {
		peer := c.Peer(userID)
		summaries = append(summaries, models.ConversationSummary{
			ID:             c.ID,
			Kind:           models.KindDirect,
			Title:          names[peer],
			PeerID:         peer,
			LastActivityAt: c.LastActivityAt.UTC(),
			UnreadCount:    unread[c.ID],
			Online:         s.presence != nil && s.presence.Online(peer),
		})
	}
	for _, g := range groups {
		summaries = append(summaries, models.ConversationSummary{
			ID:             g.ID,
			Kind:           models.KindGroup,
			Title:          g.Name.String,
			LastActivityAt: g.LastActivityAt.UTC(),
		})
	}
	SortSummaries(summaries)
	return summaries, nil
}

// SortSummaries orders by last activity descending, then id ascending.
func SortSummaries(summaries []models.ConversationSummary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		a, b := summaries[i], summaries[j]
		if !a.LastActivityAt.Equal(b.LastActivityAt) {
			return a.LastActivityAt.After(b.LastActivityAt)
		}
		return a.ID < b.ID
	})
}

// Access is what a viewer may see of a target.
type Access struct {
	Conversation models.Conversation
	// Exists is false for a direct pair that has never exchanged messages.
	Exists  bool
	Peer    string
	Blocked bool
}

// Resolve checks the viewer's access to target. Direct targets resolve to the
// pair's conversation without creating it.
func (s *ConversationService) Resolve(ctx context.Context, viewerID string, target models.Target) (Access, error) {
	return resolveAccess(ctx, s.repos, viewerID, target)
}

func resolveAccess(ctx context.Context, repos Repos, viewerID string, target models.Target) (Access, error) {
	if strings.TrimSpace(viewerID) == "" {
		return Access{}, apperr.Unauthenticated("no viewer")
	}
	if !target.Valid() {
		return Access{}, apperr.Validation("exactly one of receiver_id or conversation_id is required")
	}

	var acc Access
	if target.IsDirect() {
		if err := validatePair(viewerID, target.ReceiverID); err != nil {
			return Access{}, err
		}
		acc.Peer = target.ReceiverID
		low, high := models.CanonicalPair(viewerID, target.ReceiverID)
		conv, err := repos.Conversations.FindDirect(ctx, low, high)
		switch {
		case err == nil:
			acc.Conversation, acc.Exists = conv, true
		case !errors.Is(err, apperr.ErrNotFound):
			return Access{}, err
		}
	} else {
		conv, err := repos.Conversations.Get(ctx, target.ConversationID)
		if err != nil {
			return Access{}, err
		}
		acc.Conversation, acc.Exists = conv, true
		if conv.IsDirect() {
			if !conv.HasParticipant(viewerID) {
				return Access{}, apperr.Forbidden("not a participant of this conversation")
			}
			acc.Peer = conv.Peer(viewerID)
		} else {
			member, err := repos.Conversations.IsMember(ctx, conv.ID, viewerID)
			if err != nil {
				return Access{}, err
			}
			if !member {
				return Access{}, apperr.Forbidden("not a member of this conversation")
			}
		}
	}

	if acc.Peer != "" {
		blocked, err := repos.Blocks.IsBlockedEitherDirection(ctx, viewerID, acc.Peer)
		if err != nil {
			return Access{}, err
		}
		acc.Blocked = blocked
	}
	return acc, nil
}

// Get returns a conversation the viewer can access.
func (s *ConversationService) Get(ctx context.Context, viewerID string, conversationID int64) (models.Conversation, error) {
	acc, err := s.Resolve(ctx, viewerID, models.Target{ConversationID: conversationID})
	if err != nil {
		return models.Conversation{}, err
	}
	return acc.Conversation, nil
}

// Members lists a group's members. Only members may ask.
func (s *ConversationService) Members(ctx context.Context, viewerID string, conversationID int64) ([]models.User, error) {
	acc, err := s.Resolve(ctx, viewerID, models.Target{ConversationID: conversationID})
	if err != nil {
		return nil, err
	}
	var ids []string
	if acc.Conversation.IsDirect() {
		ids = []string{acc.Conversation.UserLow.String, acc.Conversation.UserHigh.String}
	} else {
		members, err := s.repos.Conversations.Members(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			ids = append(ids, m.UserID)
		}
	}
	users, err := s.repos.Users.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]models.User, 0, len(ids))
	for _, id := range ids {
		u, ok := users[id]
		if !ok {
			u = models.User{ID: id}
		}
		out = append(out, u)
	}
	return out, nil
}

// LeaveGroup removes userID from a group.
func (s *ConversationService) LeaveGroup(ctx context.Context, userID string, conversationID int64) error {
	conv, err := s.repos.Conversations.Get(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.IsDirect() {
		return apperr.Validation("direct conversations cannot be left")
	}
	removed, err := s.repos.Conversations.RemoveMember(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !removed {
		return apperr.NotFound("not a member of this conversation")
	}
	s.notify(ctx, realtime.NewChange(realtime.MembershipChanged, "conversation_members", conversationID,
		realtime.ConversationTopic(conversationID), realtime.UserTopic(userID)))
	return nil
}
