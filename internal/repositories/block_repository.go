package repositories

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"chat-sync-service/internal/models"
)

// BlockRepository abstracts the directional block list.
type BlockRepository interface {
	Block(ctx context.Context, blockerID, blockedID string, now time.Time) error
	Unblock(ctx context.Context, blockerID, blockedID string) error
	IsBlockedEitherDirection(ctx context.Context, a, b string) (bool, error)
	ListBlocked(ctx context.Context, blockerID string) ([]models.Block, error)
	BlockedPeers(ctx context.Context, userID string) (map[string]struct{}, error)
}

// BlockRepo is a sqlx implementation of BlockRepository.
type BlockRepo struct {
	db *sqlx.DB
}

// NewBlockRepo constructs a BlockRepo.
func NewBlockRepo(db *sqlx.DB) *BlockRepo {
	return &BlockRepo{db: db}
}

// Block records blockerID -> blockedID. Repeating it is a no-op.
func (r *BlockRepo) Block(ctx context.Context, blockerID, blockedID string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`INSERT INTO blocked_users (blocker_id, blocked_id, created_at)
        VALUES (?, ?, ?) ON CONFLICT (blocker_id, blocked_id) DO NOTHING`), blockerID, blockedID, now)
	return storageErr("block user", err)
}

// Unblock removes blockerID -> blockedID if present.
func (r *BlockRepo) Unblock(ctx context.Context, blockerID, blockedID string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM blocked_users WHERE blocker_id = ? AND blocked_id = ?`), blockerID, blockedID)
	return storageErr("unblock user", err)
}

// IsBlockedEitherDirection reports whether a blocked b or b blocked a.
func (r *BlockRepo) IsBlockedEitherDirection(ctx context.Context, a, b string) (bool, error) {
	var count int
	err := r.db.GetContext(ctx, &count, r.db.Rebind(`SELECT COUNT(*) FROM blocked_users
        WHERE (blocker_id = ? AND blocked_id = ?) OR (blocker_id = ? AND blocked_id = ?)`), a, b, b, a)
	if err != nil {
		return false, storageErr("check block", err)
	}
	return count > 0, nil
}

// ListBlocked returns the users blockerID has blocked, newest first.
func (r *BlockRepo) ListBlocked(ctx context.Context, blockerID string) ([]models.Block, error) {
	var blocks []models.Block
	err := r.db.SelectContext(ctx, &blocks, r.db.Rebind(`SELECT blocker_id, blocked_id, created_at FROM blocked_users
        WHERE blocker_id = ? ORDER BY created_at DESC, blocked_id`), blockerID)
	if err != nil {
		return nil, storageErr("list blocked users", err)
	}
	return blocks, nil
}

// BlockedPeers returns every user in a block relation with userID, in either
// direction.
func (r *BlockRepo) BlockedPeers(ctx context.Context, userID string) (map[string]struct{}, error) {
	var blocks []models.Block
	err := r.db.SelectContext(ctx, &blocks, r.db.Rebind(`SELECT blocker_id, blocked_id, created_at FROM blocked_users
        WHERE blocker_id = ? OR blocked_id = ?`), userID, userID)
	if err != nil {
		return nil, storageErr("list block relations", err)
	}
	peers := make(map[string]struct{}, len(blocks))
	for _, b := range blocks {
		if b.BlockerID == userID {
			peers[b.BlockedID] = struct{}{}
		} else {
			peers[b.BlockerID] = struct{}{}
		}
	}
	return peers, nil
}
