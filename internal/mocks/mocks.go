package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"chat-sync-service/internal/blob"
	"chat-sync-service/internal/models"
	"chat-sync-service/internal/service"
)

type ConversationServiceMock struct {
	mock.Mock
}

func (m *ConversationServiceMock) ResolveDirect(ctx context.Context, idA, idB string) (models.Conversation, error) {
	args := m.Called(ctx, idA, idB)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationServiceMock) CreateGroup(ctx context.Context, name, creatorID string, memberIDs []string) (models.Conversation, error) {
	args := m.Called(ctx, name, creatorID, memberIDs)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationServiceMock) ListForUser(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	args := m.Called(ctx, userID)
	var list []models.ConversationSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ConversationSummary)
	}
	return list, args.Error(1)
}

func (m *ConversationServiceMock) Get(ctx context.Context, viewerID string, conversationID int64) (models.Conversation, error) {
	args := m.Called(ctx, viewerID, conversationID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationServiceMock) Members(ctx context.Context, viewerID string, conversationID int64) ([]models.User, error) {
	args := m.Called(ctx, viewerID, conversationID)
	var users []models.User
	if val := args.Get(0); val != nil {
		users = val.([]models.User)
	}
	return users, args.Error(1)
}

func (m *ConversationServiceMock) LeaveGroup(ctx context.Context, userID string, conversationID int64) error {
	args := m.Called(ctx, userID, conversationID)
	return args.Error(0)
}

type MessageServiceMock struct {
	mock.Mock
}

func (m *MessageServiceMock) Append(ctx context.Context, in service.AppendInput) (models.Message, error) {
	args := m.Called(ctx, in)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageServiceMock) ViewFor(ctx context.Context, viewerID string, target models.Target) ([]models.MessageView, error) {
	args := m.Called(ctx, viewerID, target)
	var views []models.MessageView
	if val := args.Get(0); val != nil {
		views = val.([]models.MessageView)
	}
	return views, args.Error(1)
}

func (m *MessageServiceMock) Thread(ctx context.Context, viewerID string, target models.Target, loc *time.Location) ([]models.DayBucket, error) {
	args := m.Called(ctx, viewerID, target, loc)
	var days []models.DayBucket
	if val := args.Get(0); val != nil {
		days = val.([]models.DayBucket)
	}
	return days, args.Error(1)
}

func (m *MessageServiceMock) Search(ctx context.Context, viewerID string, target models.Target, query string) ([]models.MessageView, error) {
	args := m.Called(ctx, viewerID, target, query)
	var views []models.MessageView
	if val := args.Get(0); val != nil {
		views = val.([]models.MessageView)
	}
	return views, args.Error(1)
}

func (m *MessageServiceMock) EditMessage(ctx context.Context, callerID string, messageID int64, text string) (models.Message, error) {
	args := m.Called(ctx, callerID, messageID, text)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageServiceMock) DeleteForEveryone(ctx context.Context, callerID string, messageID int64) error {
	args := m.Called(ctx, callerID, messageID)
	return args.Error(0)
}

func (m *MessageServiceMock) DeleteForMe(ctx context.Context, viewerID string, messageID int64) error {
	args := m.Called(ctx, viewerID, messageID)
	return args.Error(0)
}

func (m *MessageServiceMock) React(ctx context.Context, messageID int64, userID, emoji string) (bool, error) {
	args := m.Called(ctx, messageID, userID, emoji)
	return args.Bool(0), args.Error(1)
}

func (m *MessageServiceMock) Pin(ctx context.Context, conversationID, messageID int64, pinnerID string) error {
	args := m.Called(ctx, conversationID, messageID, pinnerID)
	return args.Error(0)
}

func (m *MessageServiceMock) Unpin(ctx context.Context, conversationID, messageID int64, userID string) error {
	args := m.Called(ctx, conversationID, messageID, userID)
	return args.Error(0)
}

func (m *MessageServiceMock) ListPins(ctx context.Context, viewerID string, conversationID int64) ([]models.Pin, error) {
	args := m.Called(ctx, viewerID, conversationID)
	var pins []models.Pin
	if val := args.Get(0); val != nil {
		pins = val.([]models.Pin)
	}
	return pins, args.Error(1)
}

type BlockServiceMock struct {
	mock.Mock
}

func (m *BlockServiceMock) Block(ctx context.Context, blockerID, blockedID string) error {
	args := m.Called(ctx, blockerID, blockedID)
	return args.Error(0)
}

func (m *BlockServiceMock) Unblock(ctx context.Context, blockerID, blockedID string) error {
	args := m.Called(ctx, blockerID, blockedID)
	return args.Error(0)
}

func (m *BlockServiceMock) ListBlocked(ctx context.Context, blockerID string) ([]models.User, error) {
	args := m.Called(ctx, blockerID)
	var users []models.User
	if val := args.Get(0); val != nil {
		users = val.([]models.User)
	}
	return users, args.Error(1)
}

func (m *BlockServiceMock) IsBlockedEitherDirection(ctx context.Context, a, b string) (bool, error) {
	args := m.Called(ctx, a, b)
	return args.Bool(0), args.Error(1)
}

type DeliveryServiceMock struct {
	mock.Mock
}

func (m *DeliveryServiceMock) MarkDelivered(ctx context.Context, receiverID, senderID string) (int64, error) {
	args := m.Called(ctx, receiverID, senderID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *DeliveryServiceMock) MarkRead(ctx context.Context, receiverID, senderID string) (int64, error) {
	args := m.Called(ctx, receiverID, senderID)
	return args.Get(0).(int64), args.Error(1)
}

type TypingServiceMock struct {
	mock.Mock
}

func (m *TypingServiceMock) SendTyping(ctx context.Context, userID string, target models.Target) error {
	args := m.Called(ctx, userID, target)
	return args.Error(0)
}

type UserServiceMock struct {
	mock.Mock
}

func (m *UserServiceMock) Get(ctx context.Context, userID string) (models.User, error) {
	args := m.Called(ctx, userID)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserServiceMock) UpdateProfile(ctx context.Context, userID string, upd models.ProfileUpdate) (models.User, error) {
	args := m.Called(ctx, userID, upd)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserServiceMock) Search(ctx context.Context, viewerID, query string, limit int) ([]models.User, error) {
	args := m.Called(ctx, viewerID, query, limit)
	var users []models.User
	if val := args.Get(0); val != nil {
		users = val.([]models.User)
	}
	return users, args.Error(1)
}

type BlobStoreMock struct {
	mock.Mock
}

func (m *BlobStoreMock) Put(ctx context.Context, kind blob.Kind, filename string, data []byte) (string, error) {
	args := m.Called(ctx, kind, filename, data)
	return args.String(0), args.Error(1)
}
