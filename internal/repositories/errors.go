package repositories

import (
	"errors"
	"strings"

	"github.com/lib/pq"

	"chat-sync-service/internal/apperr"
)

var (
	ErrUserNotFound         = apperr.NotFound("user not found")
	ErrConversationNotFound = apperr.NotFound("conversation not found")
	ErrMessageNotFound      = apperr.NotFound("message not found")
	ErrUsernameTaken        = apperr.Validation("username already taken")
)

// storageErr marks a database failure as transient.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return apperr.Transient(op, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
