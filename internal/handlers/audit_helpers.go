package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-sync-service/internal/middleware"
)

// Auditor records user actions. *telemetry.AuditEmitter satisfies it.
type Auditor interface {
	Emit(ctx context.Context, level, action, text, requestID string, userID *string, fields map[string]any)
}

func requestIDFromContext(c *gin.Context) string {
	if id := c.GetString(middleware.RequestIDKey); id != "" {
		return id
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(middleware.RequestIDKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) *string {
	if id := c.GetString(middleware.UserIDKey); id != "" {
		return &id
	}
	return nil
}

func audit(c *gin.Context, a Auditor, action, text string, fields map[string]any) {
	if a == nil {
		return
	}
	a.Emit(c.Request.Context(), "INFO", action, text, requestIDFromContext(c), userIDFromContext(c), fields)
}
