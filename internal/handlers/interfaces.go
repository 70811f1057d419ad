package handlers

import (
	"context"
	"time"

	"chat-sync-service/internal/blob"
	"chat-sync-service/internal/models"
	"chat-sync-service/internal/service"
)

// ConversationService is the conversation directory as the API uses it.
type ConversationService interface {
	ResolveDirect(ctx context.Context, idA, idB string) (models.Conversation, error)
	CreateGroup(ctx context.Context, name, creatorID string, memberIDs []string) (models.Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]models.ConversationSummary, error)
	Get(ctx context.Context, viewerID string, conversationID int64) (models.Conversation, error)
	Members(ctx context.Context, viewerID string, conversationID int64) ([]models.User, error)
	LeaveGroup(ctx context.Context, userID string, conversationID int64) error
}

// MessageService is the message store and visibility pipeline.
type MessageService interface {
	Append(ctx context.Context, in service.AppendInput) (models.Message, error)
	ViewFor(ctx context.Context, viewerID string, target models.Target) ([]models.MessageView, error)
	Thread(ctx context.Context, viewerID string, target models.Target, loc *time.Location) ([]models.DayBucket, error)
	Search(ctx context.Context, viewerID string, target models.Target, query string) ([]models.MessageView, error)
	EditMessage(ctx context.Context, callerID string, messageID int64, text string) (models.Message, error)
	DeleteForEveryone(ctx context.Context, callerID string, messageID int64) error
	DeleteForMe(ctx context.Context, viewerID string, messageID int64) error
	React(ctx context.Context, messageID int64, userID, emoji string) (bool, error)
	Pin(ctx context.Context, conversationID, messageID int64, pinnerID string) error
	Unpin(ctx context.Context, conversationID, messageID int64, userID string) error
	ListPins(ctx context.Context, viewerID string, conversationID int64) ([]models.Pin, error)
}

type BlockService interface {
	Block(ctx context.Context, blockerID, blockedID string) error
	Unblock(ctx context.Context, blockerID, blockedID string) error
	ListBlocked(ctx context.Context, blockerID string) ([]models.User, error)
	IsBlockedEitherDirection(ctx context.Context, a, b string) (bool, error)
}

type DeliveryService interface {
	MarkDelivered(ctx context.Context, receiverID, senderID string) (int64, error)
	MarkRead(ctx context.Context, receiverID, senderID string) (int64, error)
}

type TypingService interface {
	SendTyping(ctx context.Context, userID string, target models.Target) error
}

type UserService interface {
	Get(ctx context.Context, userID string) (models.User, error)
	UpdateProfile(ctx context.Context, userID string, upd models.ProfileUpdate) (models.User, error)
	Search(ctx context.Context, viewerID, query string, limit int) ([]models.User, error)
}

type BlobStore interface {
	Put(ctx context.Context, kind blob.Kind, filename string, data []byte) (string, error)
}
