package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"chat-sync-service/internal/models"
)

// ConversationRepository abstracts conversation and membership persistence.
type ConversationRepository interface {
	EnsureDirect(ctx context.Context, low, high string, now time.Time) (models.Conversation, bool, error)
	FindDirect(ctx context.Context, low, high string) (models.Conversation, error)
	CreateGroup(ctx context.Context, name, creatorID string, memberIDs []string, now time.Time) (models.Conversation, error)
	Get(ctx context.Context, id int64) (models.Conversation, error)
	IsMember(ctx context.Context, conversationID int64, userID string) (bool, error)
	Members(ctx context.Context, conversationID int64) ([]models.Member, error)
	RemoveMember(ctx context.Context, conversationID int64, userID string) (bool, error)
	ListDirect(ctx context.Context, userID string) ([]models.Conversation, error)
	ListGroups(ctx context.Context, userID string) ([]models.Conversation, error)
	Touch(ctx context.Context, conversationID int64, at time.Time) error
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

const conversationColumns = `id, kind, user_low, user_high, name, created_by, created_at, last_activity_at`

// EnsureDirect inserts the direct row for the canonical pair if absent and
// returns the stored row. Concurrent callers all observe the same row; the
// bool result is true only for the caller whose insert won.
func (r *ConversationRepo) EnsureDirect(ctx context.Context, low, high string, now time.Time) (models.Conversation, bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`INSERT INTO conversations (kind, user_low, user_high, created_at, last_activity_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (user_low, user_high) DO NOTHING`),
		models.KindDirect, low, high, now, now)
	if err != nil {
		return models.Conversation{}, false, storageErr("insert direct conversation", err)
	}
	created, _ := res.RowsAffected()
	conv, err := r.FindDirect(ctx, low, high)
	return conv, created > 0, err
}

// FindDirect fetches the direct row for the canonical pair.
func (r *ConversationRepo) FindDirect(ctx context.Context, low, high string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, r.db.Rebind(`SELECT `+conversationColumns+` FROM conversations
        WHERE kind = ? AND user_low = ? AND user_high = ?`), models.KindDirect, low, high)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return models.Conversation{}, storageErr("find direct conversation", err)
	}
	return conv, nil
}

// CreateGroup creates a group and its members atomically. The creator is
// always a member.
func (r *ConversationRepo) CreateGroup(ctx context.Context, name, creatorID string, memberIDs []string, now time.Time) (models.Conversation, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, storageErr("begin group tx", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var conv models.Conversation
	if err = tx.GetContext(ctx, &conv, tx.Rebind(`INSERT INTO conversations (kind, name, created_by, created_at, last_activity_at)
        VALUES (?, ?, ?, ?, ?)
        RETURNING `+conversationColumns),
		models.KindGroup, name, creatorID, now, now); err != nil {
		return models.Conversation{}, storageErr("insert group", err)
	}

	memberSet := map[string]struct{}{creatorID: {}}
	for _, id := range memberIDs {
		memberSet[id] = struct{}{}
	}
	ids := make([]string, 0, len(memberSet))
	for id := range memberSet {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if _, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO conversation_members (conversation_id, user_id, joined_at)
            VALUES (?, ?, ?) ON CONFLICT (conversation_id, user_id) DO NOTHING`), conv.ID, id, now); err != nil {
			return models.Conversation{}, storageErr("insert group member", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Conversation{}, storageErr("commit group", err)
	}
	return conv, nil
}

// Get fetches a conversation by id.
func (r *ConversationRepo) Get(ctx context.Context, id int64) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, r.db.Rebind(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return models.Conversation{}, storageErr("get conversation", err)
	}
	return conv, nil
}

// IsMember checks group membership.
func (r *ConversationRepo) IsMember(ctx context.Context, conversationID int64, userID string) (bool, error) {
	var count int
	err := r.db.GetContext(ctx, &count, r.db.Rebind(`SELECT COUNT(*) FROM conversation_members WHERE conversation_id = ? AND user_id = ?`),
		conversationID, userID)
	if err != nil {
		return false, storageErr("check membership", err)
	}
	return count > 0, nil
}

// Members lists a group's members in join order.
func (r *ConversationRepo) Members(ctx context.Context, conversationID int64) ([]models.Member, error) {
	var members []models.Member
	err := r.db.SelectContext(ctx, &members, r.db.Rebind(`SELECT conversation_id, user_id, joined_at FROM conversation_members
        WHERE conversation_id = ? ORDER BY joined_at, user_id`), conversationID)
	if err != nil {
		return nil, storageErr("list members", err)
	}
	return members, nil
}

// RemoveMember deletes a membership row and reports whether one existed.
func (r *ConversationRepo) RemoveMember(ctx context.Context, conversationID int64, userID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM conversation_members WHERE conversation_id = ? AND user_id = ?`),
		conversationID, userID)
	if err != nil {
		return false, storageErr("remove member", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListDirect returns direct conversations the user participates in.
func (r *ConversationRepo) ListDirect(ctx context.Context, userID string) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := r.db.SelectContext(ctx, &convs, r.db.Rebind(`SELECT `+conversationColumns+` FROM conversations
        WHERE kind = ? AND (user_low = ? OR user_high = ?)`), models.KindDirect, userID, userID)
	if err != nil {
		return nil, storageErr("list direct conversations", err)
	}
	return convs, nil
}

// ListGroups returns groups with a membership row for the user.
func (r *ConversationRepo) ListGroups(ctx context.Context, userID string) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := r.db.SelectContext(ctx, &convs, r.db.Rebind(`SELECT c.id, c.kind, c.user_low, c.user_high, c.name, c.created_by, c.created_at, c.last_activity_at
        FROM conversations c
        INNER JOIN conversation_members cm ON cm.conversation_id = c.id
        WHERE c.kind = ? AND cm.user_id = ?`), models.KindGroup, userID)
	if err != nil {
		return nil, storageErr("list groups", err)
	}
	return convs, nil
}

// Touch moves last_activity_at forward to at. Older timestamps are ignored.
func (r *ConversationRepo) Touch(ctx context.Context, conversationID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE conversations SET last_activity_at = ? WHERE id = ? AND last_activity_at < ?`),
		at, conversationID, at)
	return storageErr("touch conversation", err)
}
