package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ConversationHandler serves the conversation list and group management.
type ConversationHandler struct {
	conversations ConversationService
	messages      MessageService
	typing        TypingService
	audit         Auditor
}

// NewConversationHandler builds a ConversationHandler. audit may be nil.
func NewConversationHandler(conversations ConversationService, messages MessageService, typing TypingService, audit Auditor) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		messages:      messages,
		typing:        typing,
		audit:         audit,
	}
}

// ListConversations returns the caller's conversation list, newest activity first.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	userID := c.GetString("userID")

	summaries, err := h.conversations.ListForUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

type startDirectRequest struct {
	PeerID string `json:"peer_id" binding:"required"`
}

// StartDirect returns the direct conversation with a peer, creating it if needed.
func (h *ConversationHandler) StartDirect(c *gin.Context) {
	userID := c.GetString("userID")

	var req startDirectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}

	conv, err := h.conversations.ResolveDirect(c.Request.Context(), userID, req.PeerID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, conv)
}

type createGroupRequest struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"member_ids"`
}

func (h *ConversationHandler) CreateGroup(c *gin.Context) {
	userID := c.GetString("userID")

	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}

	conv, err := h.conversations.CreateGroup(c.Request.Context(), req.Name, userID, req.MemberIDs)
	if err != nil {
		respondError(c, err)
		return
	}

	audit(c, h.audit, "group.created", "group created", map[string]any{
		"conversation_id": conv.ID,
		"members":         len(req.MemberIDs) + 1,
	})
	c.JSON(http.StatusCreated, conv)
}

// Get returns one conversation the caller belongs to.
func (h *ConversationHandler) Get(c *gin.Context) {
	conversationID, ok := parseID(c, "conversation_id")
	if !ok {
		return
	}

	conv, err := h.conversations.Get(c.Request.Context(), c.GetString("userID"), conversationID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, conv)
}

func (h *ConversationHandler) Members(c *gin.Context) {
	userID := c.GetString("userID")
	conversationID, ok := parseID(c, "conversation_id")
	if !ok {
		return
	}

	members, err := h.conversations.Members(c.Request.Context(), userID, conversationID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"members": members})
}

// Leave removes the caller from a group.
func (h *ConversationHandler) Leave(c *gin.Context) {
	userID := c.GetString("userID")
	conversationID, ok := parseID(c, "conversation_id")
	if !ok {
		return
	}

	if err := h.conversations.LeaveGroup(c.Request.Context(), userID, conversationID); err != nil {
		respondError(c, err)
		return
	}

	audit(c, h.audit, "group.left", "left group", map[string]any{"conversation_id": conversationID})
	c.Status(http.StatusNoContent)
}

func (h *ConversationHandler) ListPins(c *gin.Context) {
	userID := c.GetString("userID")
	conversationID, ok := parseID(c, "conversation_id")
	if !ok {
		return
	}

	pins, err := h.messages.ListPins(c.Request.Context(), userID, conversationID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"pins": pins})
}

type pinRequest struct {
	MessageID int64 `json:"message_id" binding:"required"`
}

func (h *ConversationHandler) Pin(c *gin.Context) {
	userID := c.GetString("userID")
	conversationID, ok := parseID(c, "conversation_id")
	if !ok {
		return
	}

	var req pinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}

	if err := h.messages.Pin(c.Request.Context(), conversationID, req.MessageID, userID); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *ConversationHandler) Unpin(c *gin.Context) {
	userID := c.GetString("userID")
	conversationID, ok := parseID(c, "conversation_id")
	if !ok {
		return
	}
	messageID, ok := parseID(c, "message_id")
	if !ok {
		return
	}

	if err := h.messages.Unpin(c.Request.Context(), conversationID, messageID, userID); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// Typing records that the caller is typing in the addressed thread.
func (h *ConversationHandler) Typing(c *gin.Context) {
	userID := c.GetString("userID")
	target, ok := targetFromQuery(c)
	if !ok {
		return
	}

	if err := h.typing.SendTyping(c.Request.Context(), userID, target); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusAccepted)
}
