package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"chat-sync-service/internal/apperr"
	"chat-sync-service/internal/blob"
	"chat-sync-service/internal/models"
	"chat-sync-service/internal/service"
)

// maxUploadRead caps how much of a multipart file is buffered before the
// blob store applies its per-kind limit.
const maxUploadRead = 8 << 20

// MessageHandler serves thread reads and message commands.
type MessageHandler struct {
	messages MessageService
	delivery DeliveryService
	blobs    BlobStore
	audit    Auditor
}

// NewMessageHandler builds a MessageHandler. blobs and audit may be nil.
func NewMessageHandler(messages MessageService, delivery DeliveryService, blobs BlobStore, audit Auditor) *MessageHandler {
	return &MessageHandler{
		messages: messages,
		delivery: delivery,
		blobs:    blobs,
		audit:    audit,
	}
}

// GetMessages returns the caller's view of a thread. With group_by=day the
// view is bucketed by calendar day in the tz location (UTC by default).
func (h *MessageHandler) GetMessages(c *gin.Context) {
	userID := c.GetString("userID")
	target, ok := targetFromQuery(c)
	if !ok {
		return
	}

	if c.Query("group_by") == "day" {
		loc := time.UTC
		if tz := c.Query("tz"); tz != "" {
			l, err := time.LoadLocation(tz)
			if err != nil {
				badRequest(c, "invalid tz")
				return
			}
			loc = l
		}
		days, err := h.messages.Thread(c.Request.Context(), userID, target, loc)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"days": days})
		return
	}

	views, err := h.messages.ViewFor(c.Request.Context(), userID, target)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": views})
}

type postMessageRequest struct {
	ReceiverID     string `json:"receiver_id"`
	ConversationID int64  `json:"conversation_id"`
	Text           string `json:"text"`
	ImageURL       string `json:"image_url"`
	ClientToken    string `json:"client_token"`
}

func (h *MessageHandler) PostMessage(c *gin.Context) {
	userID := c.GetString("userID")

	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}

	msg, err := h.messages.Append(c.Request.Context(), service.AppendInput{
		SenderID:    userID,
		Target:      models.Target{ReceiverID: req.ReceiverID, ConversationID: req.ConversationID},
		Text:        req.Text,
		ImageURL:    req.ImageURL,
		ClientToken: req.ClientToken,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// Search returns the caller's visible messages in a thread matching q.
func (h *MessageHandler) Search(c *gin.Context) {
	userID := c.GetString("userID")
	target, ok := targetFromQuery(c)
	if !ok {
		return
	}

	views, err := h.messages.Search(c.Request.Context(), userID, target, c.Query("q"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": views})
}

type editMessageRequest struct {
	Text string `json:"text"`
}

func (h *MessageHandler) EditMessage(c *gin.Context) {
	userID := c.GetString("userID")
	messageID, ok := parseID(c, "message_id")
	if !ok {
		return
	}

	var req editMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}

	msg, err := h.messages.EditMessage(c.Request.Context(), userID, messageID, req.Text)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, msg)
}

// DeleteMessageForAll tombstones the caller's own message for everyone.
func (h *MessageHandler) DeleteMessageForAll(c *gin.Context) {
	userID := c.GetString("userID")
	messageID, ok := parseID(c, "message_id")
	if !ok {
		return
	}

	if err := h.messages.DeleteForEveryone(c.Request.Context(), userID, messageID); err != nil {
		respondError(c, err)
		return
	}

	audit(c, h.audit, "message.deleted", "message deleted for everyone", map[string]any{"message_id": messageID})
	c.Status(http.StatusNoContent)
}

// DeleteMessageForMe hides a message from the caller only.
func (h *MessageHandler) DeleteMessageForMe(c *gin.Context) {
	userID := c.GetString("userID")
	messageID, ok := parseID(c, "message_id")
	if !ok {
		return
	}

	if err := h.messages.DeleteForMe(c.Request.Context(), userID, messageID); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type reactRequest struct {
	Emoji string `json:"emoji"`
}

// React toggles the caller's emoji on a message.
func (h *MessageHandler) React(c *gin.Context) {
	userID := c.GetString("userID")
	messageID, ok := parseID(c, "message_id")
	if !ok {
		return
	}

	var req reactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}

	added, err := h.messages.React(c.Request.Context(), messageID, userID, req.Emoji)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"added": added})
}

type receiptRequest struct {
	SenderID string `json:"sender_id" binding:"required"`
}

func (h *MessageHandler) MarkDelivered(c *gin.Context) {
	h.receipt(c, h.delivery.MarkDelivered)
}

func (h *MessageHandler) MarkRead(c *gin.Context) {
	h.receipt(c, h.delivery.MarkRead)
}

func (h *MessageHandler) receipt(c *gin.Context, mark func(ctx context.Context, receiverID, senderID string) (int64, error)) {
	userID := c.GetString("userID")

	var req receiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}

	n, err := mark(c.Request.Context(), userID, req.SenderID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": n})
}

// UploadImage stores a message image and returns its URL for a later send.
func (h *MessageHandler) UploadImage(c *gin.Context) {
	url, ok := upload(c, h.blobs, blob.KindImage)
	if !ok {
		return
	}
	c.JSON(http.StatusCreated, gin.H{"url": url})
}

func upload(c *gin.Context, store BlobStore, kind blob.Kind) (string, bool) {
	if store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "uploads not configured", "code": apperr.KindTransient})
		return "", false
	}

	header, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "file is required")
		return "", false
	}
	file, err := header.Open()
	if err != nil {
		badRequest(c, "unreadable file")
		return "", false
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadRead))
	if err != nil {
		badRequest(c, "unreadable file")
		return "", false
	}

	url, err := store.Put(c.Request.Context(), kind, header.Filename, data)
	if err != nil {
		respondError(c, err)
		return "", false
	}
	return url, true
}
