package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chat-sync-service/internal/auth"
	"chat-sync-service/internal/models"
)

// Verifier checks a bearer token.
type Verifier interface {
	Verify(token string) (auth.Identity, error)
}

// Provisioner creates the user row on first sign-in.
type Provisioner interface {
	Provision(ctx context.Context, userID, name, email string) (models.User, error)
}

// BearerToken returns the token from the Authorization header, falling back
// to the token query parameter used by browser websockets.
func BearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// AuthMiddleware validates the bearer token, provisions the caller and
// stores its id under "userID".
func AuthMiddleware(verifier Verifier, users Provisioner, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization", "code": "unauthenticated"})
			return
		}

		id, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "code": "unauthenticated"})
			return
		}

		if _, err := users.Provision(c.Request.Context(), id.UserID, id.Name, id.Email); err != nil {
			logger.Error("user provisioning failed", zap.String("user_id", id.UserID), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "could not load user", "code": "transient"})
			return
		}

		c.Set(UserIDKey, id.UserID)
		c.Next()
	}
}
