package service

import (
	"context"

	"go.uber.org/zap"

	"chat-sync-service/internal/clock"
	"chat-sync-service/internal/models"
	"chat-sync-service/internal/realtime"
	"chat-sync-service/internal/signals"
)

// TypingService relays fire-and-forget typing signals.
type TypingService struct {
	base
	store signals.TypingStore
}

func NewTypingService(repos Repos, store signals.TypingStore, clk clock.Clock, notifier realtime.Notifier, logger *zap.Logger) *TypingService {
	return &TypingService{base: newBase(repos, clk, notifier, logger), store: store}
}

// SendTyping records that userID is typing in target. Signals into a blocked
// pair or a pair without a conversation are dropped.
func (s *TypingService) SendTyping(ctx context.Context, userID string, target models.Target) error {
	acc, err := resolveAccess(ctx, s.repos, userID, target)
	if err != nil {
		return err
	}
	if !acc.Exists || acc.Blocked {
		return nil
	}
	names, err := displayNames(ctx, s.repos, []string{userID})
	if err != nil {
		return err
	}
	convID := acc.Conversation.ID
	if err := s.store.Touch(ctx, convID, models.TypingUser{UserID: userID, DisplayName: names[userID]}); err != nil {
		return err
	}
	s.notify(ctx, realtime.NewChange(realtime.Typing, "typing", convID, realtime.ConversationTopic(convID)))
	return nil
}

// Active lists who is typing in a conversation, excluding viewerID.
func (s *TypingService) Active(ctx context.Context, viewerID string, conversationID int64) ([]models.TypingUser, error) {
	users, err := s.store.Active(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	out := make([]models.TypingUser, 0, len(users))
	for _, u := range users {
		if u.UserID != viewerID {
			out = append(out, u)
		}
	}
	return out, nil
}
