package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"chat-sync-service/internal/models"
)

// MessageRepository defines message persistence and delivery-state updates.
type MessageRepository interface {
	Insert(ctx context.Context, msg NewMessage) (models.Message, bool, error)
	Get(ctx context.Context, id int64) (models.Message, error)
	GetByClientToken(ctx context.Context, senderID, token string) (models.Message, error)
	ListByConversation(ctx context.Context, conversationID int64) ([]models.Message, error)
	UpdateText(ctx context.Context, id int64, text string, editedAt time.Time) error
	Tombstone(ctx context.Context, id int64) error
	AdvanceStatus(ctx context.Context, receiverID, senderID string, to models.DeliveryStatus) (int64, error)
	PendingSenders(ctx context.Context, receiverID string, to models.DeliveryStatus) ([]string, error)
	UnreadCounts(ctx context.Context, userID string) (map[int64]int, error)
}

// NewMessage is the input to Insert.
type NewMessage struct {
	ConversationID int64
	SenderID       string
	ReceiverID     string
	Content        models.Content
	Status         models.DeliveryStatus
	ClientToken    string
	CreatedAt      time.Time
}

// messageRow mirrors the messages table. Content is resolved from body and
// image_url when converting to models.Message.
type messageRow struct {
	ID             int64          `db:"id"`
	ConversationID int64          `db:"conversation_id"`
	SenderID       string         `db:"sender_id"`
	ReceiverID     sql.NullString `db:"receiver_id"`
	Body           string         `db:"body"`
	ImageURL       string         `db:"image_url"`
	Status         sql.NullString `db:"status"`
	CreatedAt      time.Time      `db:"created_at"`
	EditedAt       sql.NullTime   `db:"edited_at"`
	IsDeleted      bool           `db:"is_deleted"`
	ClientToken    sql.NullString `db:"client_token"`
}

func (row messageRow) toModel() models.Message {
	msg := models.Message{
		ID:             row.ID,
		ConversationID: row.ConversationID,
		SenderID:       row.SenderID,
		ReceiverID:     row.ReceiverID.String,
		Content:        models.ContentOf(row.Body, row.ImageURL),
		CreatedAt:      row.CreatedAt.UTC(),
		IsDeleted:      row.IsDeleted,
		Status:         models.DeliveryStatus(row.Status.String),
		ClientToken:    row.ClientToken.String,
	}
	if row.IsDeleted {
		msg.Content = models.Content{Kind: models.ContentNone}
	}
	if row.EditedAt.Valid {
		at := row.EditedAt.Time.UTC()
		msg.EditedAt = &at
	}
	return msg
}

const messageColumns = `id, conversation_id, sender_id, receiver_id, body, image_url, status, created_at, edited_at, is_deleted, client_token`

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Insert stores a message. When msg carries a client token already used by the
// same sender, the originally stored message is returned and the bool result
// is false.
func (r *MessageRepo) Insert(ctx context.Context, msg NewMessage) (models.Message, bool, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`INSERT INTO messages
        (conversation_id, sender_id, receiver_id, body, image_url, status, created_at, is_deleted, client_token)
        VALUES (?, ?, NULLIF(?, ''), ?, ?, NULLIF(?, ''), ?, FALSE, NULLIF(?, ''))
        ON CONFLICT (sender_id, client_token) DO NOTHING
        RETURNING `+messageColumns),
		msg.ConversationID, msg.SenderID, msg.ReceiverID, msg.Content.Text, msg.Content.ImageURL,
		string(msg.Status), msg.CreatedAt, msg.ClientToken)
	if errors.Is(err, sql.ErrNoRows) && msg.ClientToken != "" {
		existing, getErr := r.GetByClientToken(ctx, msg.SenderID, msg.ClientToken)
		return existing, false, getErr
	}
	if err != nil {
		return models.Message{}, false, storageErr("insert message", err)
	}
	return row.toModel(), true, nil
}

// Get retrieves a single message.
func (r *MessageRepo) Get(ctx context.Context, id int64) (models.Message, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT `+messageColumns+` FROM messages WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, storageErr("get message", err)
	}
	return row.toModel(), nil
}

// GetByClientToken retrieves the message a sender stored under token.
func (r *MessageRepo) GetByClientToken(ctx context.Context, senderID, token string) (models.Message, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT `+messageColumns+` FROM messages WHERE sender_id = ? AND client_token = ?`),
		senderID, token)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, storageErr("get message by token", err)
	}
	return row.toModel(), nil
}

// ListByConversation returns every message of a conversation in insertion order.
func (r *MessageRepo) ListByConversation(ctx context.Context, conversationID int64) ([]models.Message, error) {
	var rows []messageRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`SELECT `+messageColumns+` FROM messages
        WHERE conversation_id = ? ORDER BY id`), conversationID)
	if err != nil {
		return nil, storageErr("list messages", err)
	}
	msgs := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, row.toModel())
	}
	return msgs, nil
}

// UpdateText replaces the text of a live message and stamps edited_at.
func (r *MessageRepo) UpdateText(ctx context.Context, id int64, text string, editedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE messages SET body = ?, edited_at = ? WHERE id = ? AND is_deleted = FALSE`),
		text, editedAt, id)
	if err != nil {
		return storageErr("edit message", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// Tombstone permanently clears a message's content.
func (r *MessageRepo) Tombstone(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE messages SET is_deleted = TRUE, body = '', image_url = '' WHERE id = ?`), id)
	return storageErr("delete message", err)
}

// AdvanceStatus moves direct messages from senderID to receiverID forward to
// status to. Rows already at or past to are untouched.
func (r *MessageRepo) AdvanceStatus(ctx context.Context, receiverID, senderID string, to models.DeliveryStatus) (int64, error) {
	below := to.Below()
	if len(below) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`UPDATE messages SET status = ?
        WHERE receiver_id = ? AND sender_id = ? AND status IN (?)`, string(to), receiverID, senderID, statusStrings(below))
	if err != nil {
		return 0, storageErr("advance status", err)
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return 0, storageErr("advance status", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PendingSenders lists senders with messages to receiverID that could advance
// to status to, skipping pairs in a block relation.
func (r *MessageRepo) PendingSenders(ctx context.Context, receiverID string, to models.DeliveryStatus) ([]string, error) {
	below := to.Below()
	if len(below) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT DISTINCT m.sender_id FROM messages m
        WHERE m.receiver_id = ? AND m.status IN (?)
        AND NOT EXISTS (
            SELECT 1 FROM blocked_users b
            WHERE (b.blocker_id = m.receiver_id AND b.blocked_id = m.sender_id)
               OR (b.blocker_id = m.sender_id AND b.blocked_id = m.receiver_id)
        )
        ORDER BY m.sender_id`, receiverID, statusStrings(below))
	if err != nil {
		return nil, storageErr("list pending senders", err)
	}
	var senders []string
	if err := r.db.SelectContext(ctx, &senders, r.db.Rebind(query), args...); err != nil {
		return nil, storageErr("list pending senders", err)
	}
	return senders, nil
}

// UnreadCounts returns, per conversation, how many live messages addressed to
// userID are not yet read.
func (r *MessageRepo) UnreadCounts(ctx context.Context, userID string) (map[int64]int, error) {
	var rows []struct {
		ConversationID int64 `db:"conversation_id"`
		Unread         int   `db:"unread"`
	}
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`SELECT conversation_id, COUNT(*) AS unread FROM messages
        WHERE receiver_id = ? AND status <> ? AND is_deleted = FALSE
        GROUP BY conversation_id`), userID, string(models.StatusRead))
	if err != nil {
		return nil, storageErr("count unread", err)
	}
	counts := make(map[int64]int, len(rows))
	for _, row := range rows {
		counts[row.ConversationID] = row.Unread
	}
	return counts, nil
}

func statusStrings(statuses []models.DeliveryStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
