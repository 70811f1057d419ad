package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"chat-sync-service/internal/models"
)

// PinRepository stores pinned messages per conversation.
type PinRepository interface {
	Pin(ctx context.Context, pin models.Pin) error
	Unpin(ctx context.Context, conversationID, messageID int64) error
	List(ctx context.Context, conversationID int64) ([]models.Pin, error)
}

// PinRepo is a sqlx implementation of PinRepository.
type PinRepo struct {
	db *sqlx.DB
}

// NewPinRepo constructs a PinRepo.
func NewPinRepo(db *sqlx.DB) *PinRepo {
	return &PinRepo{db: db}
}

// Pin inserts the pin unless the message is already pinned.
func (r *PinRepo) Pin(ctx context.Context, pin models.Pin) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`INSERT INTO pinned_messages (conversation_id, message_id, pinned_by, pinned_at)
        VALUES (?, ?, ?, ?) ON CONFLICT (conversation_id, message_id) DO NOTHING`),
		pin.ConversationID, pin.MessageID, pin.PinnedBy, pin.PinnedAt)
	return storageErr("pin message", err)
}

// Unpin removes the pin if present.
func (r *PinRepo) Unpin(ctx context.Context, conversationID, messageID int64) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM pinned_messages WHERE conversation_id = ? AND message_id = ?`),
		conversationID, messageID)
	return storageErr("unpin message", err)
}

// List returns a conversation's pins, newest first.
func (r *PinRepo) List(ctx context.Context, conversationID int64) ([]models.Pin, error) {
	var pins []models.Pin
	err := r.db.SelectContext(ctx, &pins, r.db.Rebind(`SELECT conversation_id, message_id, pinned_by, pinned_at
        FROM pinned_messages WHERE conversation_id = ? ORDER BY pinned_at DESC, message_id DESC`), conversationID)
	if err != nil {
		return nil, storageErr("list pins", err)
	}
	return pins, nil
}
