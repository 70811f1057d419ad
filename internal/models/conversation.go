package models

import (
	"database/sql"
	"time"
)

// ConversationKind distinguishes direct pairs from named groups.
type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group"
)

// Conversation is a direct pair or a group. Direct rows keep their two
// participants in canonical order (UserLow < UserHigh).
type Conversation struct {
	ID             int64            `db:"id" json:"id"`
	Kind           ConversationKind `db:"kind" json:"kind"`
	UserLow        sql.NullString   `db:"user_low" json:"-"`
	UserHigh       sql.NullString   `db:"user_high" json:"-"`
	Name           sql.NullString   `db:"name" json:"-"`
	CreatedBy      sql.NullString   `db:"created_by" json:"-"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
	LastActivityAt time.Time        `db:"last_activity_at" json:"last_activity_at"`
}

// CanonicalPair orders two user ids so the smaller one comes first.
func CanonicalPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// IsDirect reports whether c is a direct conversation.
func (c Conversation) IsDirect() bool { return c.Kind == KindDirect }

// HasParticipant reports whether userID is one of the two direct participants.
func (c Conversation) HasParticipant(userID string) bool {
	return c.IsDirect() && (c.UserLow.String == userID || c.UserHigh.String == userID)
}

// Peer returns the other participant of a direct conversation.
func (c Conversation) Peer(userID string) string {
	if c.UserLow.String == userID {
		return c.UserHigh.String
	}
	return c.UserLow.String
}

// Member is a group membership row.
type Member struct {
	ConversationID int64     `db:"conversation_id" json:"conversation_id"`
	UserID         string    `db:"user_id" json:"user_id"`
	JoinedAt       time.Time `db:"joined_at" json:"joined_at"`
}

// ConversationSummary is one row of a user's conversation list.
type ConversationSummary struct {
	ID             int64            `json:"id"`
	Kind           ConversationKind `json:"kind"`
	Title          string           `json:"title"`
	PeerID         string           `json:"peer_id,omitempty"`
	LastActivityAt time.Time        `json:"last_activity_at"`
	UnreadCount    int              `json:"unread_count"`
	// Online is set on direct entries whose peer has a live session.
	Online bool `json:"online,omitempty"`
}

// Target addresses a message thread: a direct peer or a conversation id.
type Target struct {
	ReceiverID     string `json:"receiver_id,omitempty"`
	ConversationID int64  `json:"conversation_id,omitempty"`
}

// Valid reports whether exactly one addressing field is set.
func (t Target) Valid() bool {
	return (t.ReceiverID != "") != (t.ConversationID != 0)
}

// IsDirect reports whether t addresses a peer rather than a conversation id.
func (t Target) IsDirect() bool { return t.ReceiverID != "" }
