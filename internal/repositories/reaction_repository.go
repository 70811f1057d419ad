package repositories

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"chat-sync-service/internal/models"
)

// ReactionRepository stores per-user emoji reactions.
type ReactionRepository interface {
	Toggle(ctx context.Context, messageID int64, userID, emoji string, now time.Time) (bool, error)
	ListForConversation(ctx context.Context, conversationID int64) ([]models.Reaction, error)
}

// ReactionRepo is a sqlx implementation of ReactionRepository.
type ReactionRepo struct {
	db *sqlx.DB
}

// NewReactionRepo constructs a ReactionRepo.
func NewReactionRepo(db *sqlx.DB) *ReactionRepo {
	return &ReactionRepo{db: db}
}

// Toggle removes the (message, user, emoji) row when present and inserts it
// otherwise. The bool result reports whether the reaction is now present.
func (r *ReactionRepo) Toggle(ctx context.Context, messageID int64, userID, emoji string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM message_reactions WHERE message_id = ? AND user_id = ? AND emoji = ?`),
		messageID, userID, emoji)
	if err != nil {
		return false, storageErr("remove reaction", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return false, nil
	}
	_, err = r.db.ExecContext(ctx, r.db.Rebind(`INSERT INTO message_reactions (message_id, user_id, emoji, created_at)
        VALUES (?, ?, ?, ?) ON CONFLICT (message_id, user_id, emoji) DO NOTHING`), messageID, userID, emoji, now)
	if err != nil {
		return false, storageErr("add reaction", err)
	}
	return true, nil
}

// ListForConversation returns every reaction on a conversation's messages.
func (r *ReactionRepo) ListForConversation(ctx context.Context, conversationID int64) ([]models.Reaction, error) {
	var reactions []models.Reaction
	err := r.db.SelectContext(ctx, &reactions, r.db.Rebind(`SELECT mr.message_id, mr.user_id, mr.emoji, mr.created_at
        FROM message_reactions mr
        INNER JOIN messages m ON m.id = mr.message_id
        WHERE m.conversation_id = ?`), conversationID)
	if err != nil {
		return nil, storageErr("list reactions", err)
	}
	return reactions, nil
}
