package repositories

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// DeletionRepository records per-viewer "delete for me" markers.
type DeletionRepository interface {
	Hide(ctx context.Context, messageID int64, userID string, now time.Time) error
	HiddenIn(ctx context.Context, conversationID int64, userID string) (map[int64]struct{}, error)
}

// DeletionRepo is a sqlx implementation of DeletionRepository.
type DeletionRepo struct {
	db *sqlx.DB
}

// NewDeletionRepo constructs a DeletionRepo.
func NewDeletionRepo(db *sqlx.DB) *DeletionRepo {
	return &DeletionRepo{db: db}
}

// Hide marks a message deleted for userID only. Repeating it is a no-op.
func (r *DeletionRepo) Hide(ctx context.Context, messageID int64, userID string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`INSERT INTO message_deletions (message_id, user_id, deleted_at)
        VALUES (?, ?, ?) ON CONFLICT (message_id, user_id) DO NOTHING`), messageID, userID, now)
	return storageErr("hide message", err)
}

// HiddenIn returns the ids of a conversation's messages userID deleted for
// themselves.
func (r *DeletionRepo) HiddenIn(ctx context.Context, conversationID int64, userID string) (map[int64]struct{}, error) {
	var ids []int64
	err := r.db.SelectContext(ctx, &ids, r.db.Rebind(`SELECT md.message_id FROM message_deletions md
        INNER JOIN messages m ON m.id = md.message_id
        WHERE m.conversation_id = ? AND md.user_id = ?`), conversationID, userID)
	if err != nil {
		return nil, storageErr("list hidden messages", err)
	}
	hidden := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		hidden[id] = struct{}{}
	}
	return hidden, nil
}
