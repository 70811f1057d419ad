package models

import (
	"strings"
	"time"
)

// User is a profile record keyed by the identity provider's user id.
type User struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name,omitempty"`
	FullName  string    `db:"full_name" json:"full_name,omitempty"`
	Username  string    `db:"username" json:"username,omitempty"`
	Email     string    `db:"email" json:"email,omitempty"`
	AvatarURL string    `db:"avatar_url" json:"avatar_url,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// DisplayName resolves the name shown for u: name, full name, username, then
// the local part of the email address.
func (u *User) DisplayName() string {
	if u == nil {
		return "Unknown"
	}
	for _, candidate := range []string{u.Name, u.FullName, u.Username} {
		if s := strings.TrimSpace(candidate); s != "" {
			return s
		}
	}
	if local, _, _ := strings.Cut(u.Email, "@"); local != "" {
		return local
	}
	return "Unknown"
}

// ProfileUpdate carries the mutable profile fields. Nil fields are left as is.
type ProfileUpdate struct {
	Name      *string `json:"name"`
	FullName  *string `json:"full_name"`
	Username  *string `json:"username"`
	AvatarURL *string `json:"avatar_url"`
}
