package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"chat-sync-service/internal/apperr"
	"chat-sync-service/internal/clock"
	"chat-sync-service/internal/models"
	"chat-sync-service/internal/realtime"
)

// BlockService maintains the block registry.
type BlockService struct {
	base
}

func NewBlockService(repos Repos, clk clock.Clock, notifier realtime.Notifier, logger *zap.Logger) *BlockService {
	return &BlockService{base: newBase(repos, clk, notifier, logger)}
}

func validatePair(a, b string) error {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return apperr.Validation("both user ids are required")
	}
	if a == b {
		return apperr.Validation("user ids must differ")
	}
	return nil
}

// Block records that blockerID blocked blockedID. Repeating it is a no-op.
func (s *BlockService) Block(ctx context.Context, blockerID, blockedID string) error {
	if err := validatePair(blockerID, blockedID); err != nil {
		return err
	}
	if err := s.repos.Blocks.Block(ctx, blockerID, blockedID, s.clock.Now()); err != nil {
		return err
	}
	s.notifyPair(ctx, blockerID, blockedID)
	return nil
}

// Unblock removes the block. Messages hidden by it become visible again.
func (s *BlockService) Unblock(ctx context.Context, blockerID, blockedID string) error {
	if err := validatePair(blockerID, blockedID); err != nil {
		return err
	}
	if err := s.repos.Blocks.Unblock(ctx, blockerID, blockedID); err != nil {
		return err
	}
	s.notifyPair(ctx, blockerID, blockedID)
	return nil
}

func (s *BlockService) IsBlockedEitherDirection(ctx context.Context, a, b string) (bool, error) {
	return s.repos.Blocks.IsBlockedEitherDirection(ctx, a, b)
}

// ListBlocked returns the profiles blockerID has blocked, newest first.
func (s *BlockService) ListBlocked(ctx context.Context, blockerID string) ([]models.User, error) {
	blocks, err := s.repos.Blocks.ListBlocked(ctx, blockerID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(blocks))
	for _, b := range blocks {
		ids = append(ids, b.BlockedID)
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

func (s *BlockService) notifyPair(ctx context.Context, a, b string) {
	topics := []realtime.Topic{realtime.UserTopic(a), realtime.UserTopic(b)}
	low, high := models.CanonicalPair(a, b)
	conv, err := s.repos.Conversations.FindDirect(ctx, low, high)
	switch {
	case err == nil:
		topics = append(topics, realtime.ConversationTopic(conv.ID))
	case !errors.Is(err, apperr.ErrNotFound):
		s.logger.Warn("block fan-out without conversation topic", zap.Error(err))
	}
	s.notify(ctx, realtime.NewChange(realtime.BlockChanged, "blocked_users", a+":"+b, topics...))
}
