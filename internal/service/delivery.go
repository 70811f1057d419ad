package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"chat-sync-service/internal/apperr"
	"chat-sync-service/internal/clock"
	"chat-sync-service/internal/models"
	"chat-sync-service/internal/observability"
	"chat-sync-service/internal/realtime"
)

// DeliveryService advances direct-message receipts. Transitions are keyed
// by (receiver, sender) pair and only ever move forward.
type DeliveryService struct {
	base
}

func NewDeliveryService(repos Repos, clk clock.Clock, notifier realtime.Notifier, logger *zap.Logger) *DeliveryService {
	return &DeliveryService{base: newBase(repos, clk, notifier, logger)}
}

// MarkDelivered moves senderID's sent messages to receiverID to delivered.
func (s *DeliveryService) MarkDelivered(ctx context.Context, receiverID, senderID string) (int64, error) {
	return s.advance(ctx, receiverID, senderID, models.StatusDelivered)
}

// MarkRead moves senderID's sent and delivered messages to receiverID to read.
func (s *DeliveryService) MarkRead(ctx context.Context, receiverID, senderID string) (int64, error) {
	return s.advance(ctx, receiverID, senderID, models.StatusRead)
}

// MarkAllDelivered runs when receiverID's client becomes active: every
// sender with pending sent messages is acknowledged.
func (s *DeliveryService) MarkAllDelivered(ctx context.Context, receiverID string) (int64, error) {
	senders, err := s.repos.Messages.PendingSenders(ctx, receiverID, models.StatusDelivered)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, sender := range senders {
		n, err := s.advance(ctx, receiverID, sender, models.StatusDelivered)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (s *DeliveryService) advance(ctx context.Context, receiverID, senderID string, to models.DeliveryStatus) (n int64, err error) {
	ctx, span := startSpan(ctx, "delivery.Advance", trace.WithAttributes(
		attribute.String("receiver.id", receiverID),
		attribute.String("sender.id", senderID),
		attribute.String("status", string(to)),
	))
	defer func() { endSpan(span, err) }()

	if err := validatePair(receiverID, senderID); err != nil {
		return 0, err
	}
	blocked, err := s.repos.Blocks.IsBlockedEitherDirection(ctx, receiverID, senderID)
	if err != nil {
		return 0, err
	}
	if blocked {
		return 0, nil
	}

	n, err = s.repos.Messages.AdvanceStatus(ctx, receiverID, senderID, to)
	if err != nil || n == 0 {
		return n, err
	}
	observability.AddStatusTransitions(string(to), n)

	topics := []realtime.Topic{realtime.UserTopic(receiverID), realtime.UserTopic(senderID)}
	low, high := models.CanonicalPair(receiverID, senderID)
	conv, convErr := s.repos.Conversations.FindDirect(ctx, low, high)
	switch {
	case convErr == nil:
		topics = append(topics, realtime.ConversationTopic(conv.ID))
	case !errors.Is(convErr, apperr.ErrNotFound):
		s.logger.Warn("status fan-out without conversation topic", zap.Error(convErr))
	}
	s.notify(ctx, realtime.NewChange(realtime.StatusChanged, "messages", senderID+":"+receiverID, topics...))
	return n, nil
}
