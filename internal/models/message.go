package models

import (
	"strings"
	"time"
)

// ContentKind tags which parts of a message's content are present.
type ContentKind string

const (
	ContentNone  ContentKind = "none"
	ContentText  ContentKind = "text"
	ContentImage ContentKind = "image"
	ContentMixed ContentKind = "mixed"
)

// Content is the message payload, resolved once from the stored columns.
type Content struct {
	Kind     ContentKind `json:"kind"`
	Text     string      `json:"text,omitempty"`
	ImageURL string      `json:"image_url,omitempty"`
}

// ContentOf builds a Content and tags its kind.
func ContentOf(text, imageURL string) Content {
	hasText := strings.TrimSpace(text) != ""
	hasImage := strings.TrimSpace(imageURL) != ""
	c := Content{Text: text, ImageURL: imageURL}
	switch {
	case hasText && hasImage:
		c.Kind = ContentMixed
	case hasText:
		c.Kind = ContentText
	case hasImage:
		c.Kind = ContentImage
	default:
		c = Content{Kind: ContentNone}
	}
	return c
}

func (c Content) IsEmpty() bool { return c.Kind == ContentNone || c.Kind == "" }

func (c Content) HasImage() bool { return c.Kind == ContentImage || c.Kind == ContentMixed }

// DeliveryStatus is the per-message receipt state of a direct message.
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
)

// Rank orders statuses; unknown statuses rank 0.
func (s DeliveryStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

func (s DeliveryStatus) Valid() bool { return s.Rank() > 0 }

// Below returns the statuses that may advance to s.
func (s DeliveryStatus) Below() []DeliveryStatus {
	var out []DeliveryStatus
	for _, candidate := range []DeliveryStatus{StatusSent, StatusDelivered, StatusRead} {
		if candidate.Rank() < s.Rank() {
			out = append(out, candidate)
		}
	}
	return out
}

// Message is a stored message. ReceiverID and Status are set for direct
// messages only.
type Message struct {
	ID             int64          `json:"id"`
	ConversationID int64          `json:"conversation_id"`
	SenderID       string         `json:"sender_id"`
	ReceiverID     string         `json:"receiver_id,omitempty"`
	Content        Content        `json:"content"`
	CreatedAt      time.Time      `json:"created_at"`
	EditedAt       *time.Time     `json:"edited_at,omitempty"`
	IsDeleted      bool           `json:"is_deleted"`
	Status         DeliveryStatus `json:"status,omitempty"`
	ClientToken    string         `json:"client_token,omitempty"`
}

// IsDirect reports whether m belongs to a direct pair.
func (m Message) IsDirect() bool { return m.ReceiverID != "" }

// Reaction is one (message, user, emoji) row.
type Reaction struct {
	MessageID int64     `db:"message_id" json:"message_id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Emoji     string    `db:"emoji" json:"emoji"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Pin marks a message as pinned within a conversation.
type Pin struct {
	ConversationID int64     `db:"conversation_id" json:"conversation_id"`
	MessageID      int64     `db:"message_id" json:"message_id"`
	PinnedBy       string    `db:"pinned_by" json:"pinned_by"`
	PinnedAt       time.Time `db:"pinned_at" json:"pinned_at"`
}

// Block is a directional block row.
type Block struct {
	BlockerID string    `db:"blocker_id" json:"blocker_id"`
	BlockedID string    `db:"blocked_id" json:"blocked_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
