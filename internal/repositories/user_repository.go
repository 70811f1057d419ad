package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"chat-sync-service/internal/models"
)

// UserRepository abstracts user profile persistence.
type UserRepository interface {
	Provision(ctx context.Context, user models.User, now time.Time) (models.User, bool, error)
	Get(ctx context.Context, id string) (models.User, error)
	GetMany(ctx context.Context, ids []string) (map[string]models.User, error)
	Update(ctx context.Context, id string, upd models.ProfileUpdate, now time.Time) (models.User, error)
	Search(ctx context.Context, query string, excludeID string, limit int) ([]models.User, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

const userColumns = `id, name, full_name, COALESCE(username, '') AS username, email, avatar_url, created_at, updated_at`

// Provision inserts the user on first sign-in. Existing rows are left untouched.
// The bool result reports whether a row was created.
func (r *UserRepo) Provision(ctx context.Context, user models.User, now time.Time) (models.User, bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`INSERT INTO users (id, name, full_name, username, email, avatar_url, created_at, updated_at)
        VALUES (?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?)
        ON CONFLICT (id) DO NOTHING`),
		user.ID, user.Name, user.FullName, user.Username, user.Email, user.AvatarURL, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			// username collision: provision without it
			user.Username = ""
			return r.Provision(ctx, user, now)
		}
		return models.User{}, false, storageErr("provision user", err)
	}
	created, _ := res.RowsAffected()
	stored, err := r.Get(ctx, user.ID)
	return stored, created > 0, err
}

// Get fetches a user by id.
func (r *UserRepo) Get(ctx context.Context, id string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, r.db.Rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	if err != nil {
		return models.User{}, storageErr("get user", err)
	}
	return user, nil
}

// GetMany fetches users keyed by id. Unknown ids are absent from the result.
func (r *UserRepo) GetMany(ctx context.Context, ids []string) (map[string]models.User, error) {
	result := make(map[string]models.User, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	query, args, err := sqlx.In(`SELECT `+userColumns+` FROM users WHERE id IN (?)`, ids)
	if err != nil {
		return nil, storageErr("get users", err)
	}
	var users []models.User
	if err := r.db.SelectContext(ctx, &users, r.db.Rebind(query), args...); err != nil {
		return nil, storageErr("get users", err)
	}
	for _, u := range users {
		result[u.ID] = u
	}
	return result, nil
}

// Update applies the non-nil fields of upd.
func (r *UserRepo) Update(ctx context.Context, id string, upd models.ProfileUpdate, now time.Time) (models.User, error) {
	user, err := r.Get(ctx, id)
	if err != nil {
		return models.User{}, err
	}
	if upd.Name != nil {
		user.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.FullName != nil {
		user.FullName = strings.TrimSpace(*upd.FullName)
	}
	if upd.Username != nil {
		user.Username = strings.TrimSpace(*upd.Username)
	}
	if upd.AvatarURL != nil {
		user.AvatarURL = *upd.AvatarURL
	}

	_, err = r.db.ExecContext(ctx, r.db.Rebind(`UPDATE users
        SET name = ?, full_name = ?, username = NULLIF(?, ''), avatar_url = ?, updated_at = ?
        WHERE id = ?`),
		user.Name, user.FullName, user.Username, user.AvatarURL, now, id)
	if isUniqueViolation(err) {
		return models.User{}, ErrUsernameTaken
	}
	if err != nil {
		return models.User{}, storageErr("update user", err)
	}
	return r.Get(ctx, id)
}

// Search matches name, full name, username or email case-insensitively.
func (r *UserRepo) Search(ctx context.Context, query string, excludeID string, limit int) ([]models.User, error) {
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	var users []models.User
	err := r.db.SelectContext(ctx, &users, r.db.Rebind(`SELECT `+userColumns+` FROM users
        WHERE id <> ?
        AND (LOWER(name) LIKE ? OR LOWER(full_name) LIKE ? OR LOWER(COALESCE(username, '')) LIKE ? OR LOWER(email) LIKE ?)
        ORDER BY id
        LIMIT ?`),
		excludeID, pattern, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, storageErr("search users", err)
	}
	return users, nil
}
