package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chat-sync-service/internal/blob"
	"chat-sync-service/internal/models"
)

const defaultSearchLimit = 20

// UserHandler serves the caller's profile, user search and the block list.
type UserHandler struct {
	users  UserService
	blocks BlockService
	blobs  BlobStore
	audit  Auditor
}

func NewUserHandler(users UserService, blocks BlockService, blobs BlobStore, audit Auditor) *UserHandler {
	return &UserHandler{users: users, blocks: blocks, blobs: blobs, audit: audit}
}

func (h *UserHandler) Me(c *gin.Context) {
	user, err := h.users.Get(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// UpdateProfile applies the non-null fields of the body to the caller's profile.
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	userID := c.GetString("userID")

	var upd models.ProfileUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		badRequest(c, "invalid body")
		return
	}

	user, err := h.users.UpdateProfile(c.Request.Context(), userID, upd)
	if err != nil {
		respondError(c, err)
		return
	}

	audit(c, h.audit, "profile.updated", "profile updated", nil)
	c.JSON(http.StatusOK, user)
}

// UploadAvatar stores an avatar image and sets it on the caller's profile.
func (h *UserHandler) UploadAvatar(c *gin.Context) {
	url, ok := upload(c, h.blobs, blob.KindAvatar)
	if !ok {
		return
	}

	user, err := h.users.UpdateProfile(c.Request.Context(), c.GetString("userID"), models.ProfileUpdate{AvatarURL: &url})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, user)
}

func (h *UserHandler) Search(c *gin.Context) {
	limit := defaultSearchLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, "invalid limit")
			return
		}
		limit = n
	}

	users, err := h.users.Search(c.Request.Context(), c.GetString("userID"), c.Query("q"), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (h *UserHandler) ListBlocked(c *gin.Context) {
	users, err := h.blocks.ListBlocked(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocked": users})
}

// BlockStatus reports whether the caller and user_id are in a block relation,
// whichever side blocked.
func (h *UserHandler) BlockStatus(c *gin.Context) {
	blocked, err := h.blocks.IsBlockedEitherDirection(c.Request.Context(), c.GetString("userID"), c.Param("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocked": blocked})
}

// Block is idempotent; blocking an already blocked user succeeds.
func (h *UserHandler) Block(c *gin.Context) {
	userID := c.GetString("userID")
	blockedID := c.Param("user_id")

	if err := h.blocks.Block(c.Request.Context(), userID, blockedID); err != nil {
		respondError(c, err)
		return
	}

	audit(c, h.audit, "user.blocked", "user blocked", map[string]any{"blocked_id": blockedID})
	c.Status(http.StatusNoContent)
}

func (h *UserHandler) Unblock(c *gin.Context) {
	userID := c.GetString("userID")
	blockedID := c.Param("user_id")

	if err := h.blocks.Unblock(c.Request.Context(), userID, blockedID); err != nil {
		respondError(c, err)
		return
	}

	audit(c, h.audit, "user.unblocked", "user unblocked", map[string]any{"blocked_id": blockedID})
	c.Status(http.StatusNoContent)
}
