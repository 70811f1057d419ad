package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"chat-sync-service/internal/apperr"
	"chat-sync-service/internal/clock"
	"chat-sync-service/internal/models"
	"chat-sync-service/internal/observability"
	"chat-sync-service/internal/realtime"
	"chat-sync-service/internal/repositories"
)

// MessageService is the message store and visibility pipeline.
type MessageService struct {
	base
	conversations *ConversationService
	opts          Options
}

func NewMessageService(repos Repos, conversations *ConversationService, opts Options, clk clock.Clock, notifier realtime.Notifier, logger *zap.Logger) *MessageService {
	return &MessageService{
		base:          newBase(repos, clk, notifier, logger),
		conversations: conversations,
		opts:          opts.withDefaults(),
	}
}

// AppendInput is a send request.
type AppendInput struct {
	SenderID    string
	Target      models.Target
	Text        string
	ImageURL    string
	ClientToken string
}

func (s *MessageService) validateText(text string) error {
	if utf8.RuneCountInString(text) > s.opts.MaxTextLength {
		return apperr.Validation("message text is too long")
	}
	return nil
}

// Append stores a message. A repeated (sender, client token) returns the
// originally stored message without a second insert or notification.
func (s *MessageService) Append(ctx context.Context, in AppendInput) (msg models.Message, err error) {
	ctx, span := startSpan(ctx, "messages.Append", trace.WithAttributes(attribute.String("sender.id", in.SenderID)))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(in.SenderID) == "" {
		return models.Message{}, apperr.Unauthenticated("no sender")
	}
	if !in.Target.Valid() {
		return models.Message{}, apperr.Validation("exactly one of receiver_id or conversation_id is required")
	}
	content := models.ContentOf(strings.TrimSpace(in.Text), strings.TrimSpace(in.ImageURL))
	if content.IsEmpty() {
		return models.Message{}, apperr.Validation("message must have text or an image")
	}
	if err := s.validateText(content.Text); err != nil {
		return models.Message{}, err
	}

	if in.ClientToken != "" {
		existing, err := s.repos.Messages.GetByClientToken(ctx, in.SenderID, in.ClientToken)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return models.Message{}, err
		}
	}

	now := s.clock.Now()
	row := repositories.NewMessage{
		SenderID:    in.SenderID,
		Content:     content,
		ClientToken: in.ClientToken,
		CreatedAt:   now,
	}
	var topics []realtime.Topic

	if in.Target.IsDirect() {
		receiverID := in.Target.ReceiverID
		if receiverID == in.SenderID {
			return models.Message{}, apperr.Validation("cannot message yourself")
		}
		if _, err := s.repos.Users.Get(ctx, receiverID); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return models.Message{}, apperr.NotFound("recipient not found")
			}
			return models.Message{}, err
		}
		blocked, err := s.repos.Blocks.IsBlockedEitherDirection(ctx, in.SenderID, receiverID)
		if err != nil {
			return models.Message{}, err
		}
		if blocked {
			return models.Message{}, apperr.Forbidden("messaging is blocked between these users")
		}
		conv, err := s.conversations.ResolveDirect(ctx, in.SenderID, receiverID)
		if err != nil {
			return models.Message{}, err
		}
		row.ConversationID = conv.ID
		row.ReceiverID = receiverID
		row.Status = models.StatusSent
		topics = []realtime.Topic{realtime.UserTopic(in.SenderID), realtime.UserTopic(receiverID), realtime.ConversationTopic(conv.ID)}
	} else {
		conv, err := s.repos.Conversations.Get(ctx, in.Target.ConversationID)
		if err != nil {
			return models.Message{}, err
		}
		if conv.IsDirect() {
			return models.Message{}, apperr.Validation("address direct messages by receiver_id")
		}
		members, err := s.repos.Conversations.Members(ctx, conv.ID)
		if err != nil {
			return models.Message{}, err
		}
		isMember := false
		topics = []realtime.Topic{realtime.ConversationTopic(conv.ID)}
		for _, m := range members {
			if m.UserID == in.SenderID {
				isMember = true
			}
			topics = append(topics, realtime.UserTopic(m.UserID))
		}
		if !isMember {
			return models.Message{}, apperr.Forbidden("not a member of this conversation")
		}
		row.ConversationID = conv.ID
	}

	msg, inserted, err := s.repos.Messages.Insert(ctx, row)
	if err != nil {
		return models.Message{}, err
	}
	if !inserted {
		return msg, nil
	}
	if err := s.repos.Conversations.Touch(ctx, msg.ConversationID, msg.CreatedAt); err != nil {
		s.logger.Warn("last activity not bumped", zap.Int64("conversation_id", msg.ConversationID), zap.Error(err))
	}

	kind := string(models.KindGroup)
	if msg.IsDirect() {
		kind = string(models.KindDirect)
	}
	observability.IncMessagesAppended(kind)
	span.SetAttributes(attribute.Int64("message.id", msg.ID), attribute.Int64("conversation.id", msg.ConversationID))
	s.notify(ctx, realtime.NewChange(realtime.MessageCreated, "messages", msg.ID, topics...))
	return msg, nil
}

// Get returns a message the viewer can currently see.
func (s *MessageService) Get(ctx context.Context, viewerID string, messageID int64) (models.Message, error) {
	msg, _, err := s.readable(ctx, viewerID, messageID)
	return msg, err
}

// readable loads a message and checks that viewerID may see it.
func (s *MessageService) readable(ctx context.Context, viewerID string, messageID int64) (models.Message, Access, error) {
	msg, err := s.repos.Messages.Get(ctx, messageID)
	if err != nil {
		return models.Message{}, Access{}, err
	}
	acc, err := resolveAccess(ctx, s.repos, viewerID, models.Target{ConversationID: msg.ConversationID})
	if err != nil {
		return models.Message{}, Access{}, err
	}
	if acc.Blocked {
		return models.Message{}, Access{}, apperr.Forbidden("messaging is blocked between these users")
	}
	return msg, acc, nil
}

// ownedInWindow loads a message for a sender-only mutation. Checks run in
// order: existence, ownership, then the edit window.
func (s *MessageService) ownedInWindow(ctx context.Context, callerID string, messageID int64) (models.Message, bool, error) {
	msg, err := s.repos.Messages.Get(ctx, messageID)
	if err != nil {
		return models.Message{}, false, err
	}
	if msg.SenderID != callerID {
		return models.Message{}, false, apperr.Forbidden("only the sender can change this message")
	}
	withinWindow := s.clock.Now().Sub(msg.CreatedAt) <= s.opts.EditWindow
	return msg, withinWindow, nil
}

// EditMessage rewrites the text of the caller's own message.
func (s *MessageService) EditMessage(ctx context.Context, callerID string, messageID int64, text string) (models.Message, error) {
	msg, withinWindow, err := s.ownedInWindow(ctx, callerID, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.IsDeleted {
		return models.Message{}, apperr.Validation("deleted messages cannot be edited")
	}
	text = strings.TrimSpace(text)
	if models.ContentOf(text, msg.Content.ImageURL).IsEmpty() {
		return models.Message{}, apperr.Validation("message must have text or an image")
	}
	if err := s.validateText(text); err != nil {
		return models.Message{}, err
	}
	if !withinWindow {
		return models.Message{}, apperr.WindowExpired("the edit window has passed")
	}

	now := s.clock.Now()
	if err := s.repos.Messages.UpdateText(ctx, messageID, text, now); err != nil {
		return models.Message{}, err
	}
	msg.Content = models.ContentOf(text, msg.Content.ImageURL)
	msg.EditedAt = &now
	s.notify(ctx, realtime.NewChange(realtime.MessageEdited, "messages", msg.ID, realtime.ConversationTopic(msg.ConversationID)))
	return msg, nil
}

// DeleteForEveryone tombstones the caller's own message. Repeating it on a
// tombstone is a no-op.
func (s *MessageService) DeleteForEveryone(ctx context.Context, callerID string, messageID int64) error {
	msg, withinWindow, err := s.ownedInWindow(ctx, callerID, messageID)
	if err != nil {
		return err
	}
	if msg.IsDeleted {
		return nil
	}
	if !withinWindow {
		return apperr.WindowExpired("the delete window has passed")
	}
	if err := s.repos.Messages.Tombstone(ctx, messageID); err != nil {
		return err
	}
	// A tombstone leaves the unread count, which lives on the user topics.
	topics := []realtime.Topic{realtime.ConversationTopic(msg.ConversationID)}
	if msg.IsDirect() {
		topics = append(topics, realtime.UserTopic(msg.SenderID), realtime.UserTopic(msg.ReceiverID))
	}
	s.notify(ctx, realtime.NewChange(realtime.MessageDeleted, "messages", msg.ID, topics...))
	return nil
}

// DeleteForMe hides a message from viewerID only. There is no time limit.
func (s *MessageService) DeleteForMe(ctx context.Context, viewerID string, messageID int64) error {
	msg, _, err := s.readable(ctx, viewerID, messageID)
	if err != nil {
		return err
	}
	if err := s.repos.Deletions.Hide(ctx, msg.ID, viewerID, s.clock.Now()); err != nil {
		return err
	}
	s.notify(ctx, realtime.NewChange(realtime.MessageHidden, "message_deletions", msg.ID, realtime.UserTopic(viewerID)))
	return nil
}

// React toggles userID's emoji on a message and reports whether it is now
// present.
func (s *MessageService) React(ctx context.Context, messageID int64, userID, emoji string) (bool, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return false, apperr.Validation("emoji is required")
	}
	msg, _, err := s.readable(ctx, userID, messageID)
	if err != nil {
		return false, err
	}
	if msg.IsDeleted {
		return false, apperr.Validation("deleted messages cannot be reacted to")
	}
	added, err := s.repos.Reactions.Toggle(ctx, msg.ID, userID, emoji, s.clock.Now())
	if err != nil {
		return false, err
	}
	s.notify(ctx, realtime.NewChange(realtime.ReactionChanged, "message_reactions", msg.ID, realtime.ConversationTopic(msg.ConversationID)))
	return added, nil
}

// pinnable checks that pinnerID belongs to the conversation and that the
// message is part of it.
func (s *MessageService) pinnable(ctx context.Context, conversationID, messageID int64, pinnerID string) error {
	acc, err := resolveAccess(ctx, s.repos, pinnerID, models.Target{ConversationID: conversationID})
	if err != nil {
		return err
	}
	if acc.Blocked {
		return apperr.Forbidden("messaging is blocked between these users")
	}
	msg, err := s.repos.Messages.Get(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.ConversationID != conversationID {
		return apperr.NotFound("message not found in this conversation")
	}
	return nil
}

// Pin pins a message. Pinning an already pinned message is a no-op.
func (s *MessageService) Pin(ctx context.Context, conversationID, messageID int64, pinnerID string) error {
	if err := s.pinnable(ctx, conversationID, messageID, pinnerID); err != nil {
		return err
	}
	err := s.repos.Pins.Pin(ctx, models.Pin{
		ConversationID: conversationID,
		MessageID:      messageID,
		PinnedBy:       pinnerID,
		PinnedAt:       s.clock.Now(),
	})
	if err != nil {
		return err
	}
	s.notify(ctx, realtime.NewChange(realtime.PinChanged, "pinned_messages", messageID, realtime.ConversationTopic(conversationID)))
	return nil
}

// Unpin removes a pin. Unpinning a message that is not pinned is a no-op.
func (s *MessageService) Unpin(ctx context.Context, conversationID, messageID int64, userID string) error {
	if err := s.pinnable(ctx, conversationID, messageID, userID); err != nil {
		return err
	}
	if err := s.repos.Pins.Unpin(ctx, conversationID, messageID); err != nil {
		return err
	}
	s.notify(ctx, realtime.NewChange(realtime.PinChanged, "pinned_messages", messageID, realtime.ConversationTopic(conversationID)))
	return nil
}

// ListPins returns a conversation's pins, newest first.
func (s *MessageService) ListPins(ctx context.Context, viewerID string, conversationID int64) ([]models.Pin, error) {
	acc, err := resolveAccess(ctx, s.repos, viewerID, models.Target{ConversationID: conversationID})
	if err != nil {
		return nil, err
	}
	if acc.Blocked {
		return []models.Pin{}, nil
	}
	return s.repos.Pins.List(ctx, conversationID)
}
