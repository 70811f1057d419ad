package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chat-sync-service/internal/apperr"
	"chat-sync-service/internal/models"
)

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindWindowExpired:
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindTransient:
		return http.StatusServiceUnavailable
	case apperr.KindUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as {"error", "code"} with the status of its kind.
func respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	_ = c.Error(err)
	c.JSON(statusFor(kind), gin.H{"error": apperr.MessageOf(err), "code": kind})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": apperr.KindValidation})
}

func parseID(c *gin.Context, param string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid "+param)
		return 0, false
	}
	return id, true
}

// targetFromQuery reads receiver_id or conversation_id from the query string.
func targetFromQuery(c *gin.Context) (models.Target, bool) {
	t := models.Target{ReceiverID: c.Query("receiver_id")}
	if raw := c.Query("conversation_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			badRequest(c, "invalid conversation_id")
			return models.Target{}, false
		}
		t.ConversationID = id
	}
	if !t.Valid() {
		badRequest(c, "exactly one of receiver_id or conversation_id is required")
		return models.Target{}, false
	}
	return t, true
}
