package models

import "time"

// DeletedPlaceholder replaces the content of a tombstoned message.
const DeletedPlaceholder = "Message deleted"

// ReactionSummary lists the users that reacted with one emoji.
type ReactionSummary struct {
	Emoji   string   `json:"emoji"`
	UserIDs []string `json:"user_ids"`
}

// MessageView is a message as one viewer sees it.
type MessageView struct {
	ID             int64             `json:"id"`
	ConversationID int64             `json:"conversation_id"`
	SenderID       string            `json:"sender_id"`
	SenderName     string            `json:"sender_name"`
	Content        Content           `json:"content"`
	Deleted        bool              `json:"deleted"`
	Edited         bool              `json:"edited"`
	EditedAt       *time.Time        `json:"edited_at,omitempty"`
	Reactions      []ReactionSummary `json:"reactions"`
	Status         DeliveryStatus    `json:"status,omitempty"`
	Pinned         bool              `json:"pinned"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Equal compares two views field by field.
func (v MessageView) Equal(o MessageView) bool {
	if v.ID != o.ID || v.ConversationID != o.ConversationID || v.SenderID != o.SenderID ||
		v.SenderName != o.SenderName || v.Content != o.Content || v.Deleted != o.Deleted ||
		v.Edited != o.Edited || v.Status != o.Status || v.Pinned != o.Pinned ||
		!v.CreatedAt.Equal(o.CreatedAt) {
		return false
	}
	if (v.EditedAt == nil) != (o.EditedAt == nil) {
		return false
	}
	if v.EditedAt != nil && !v.EditedAt.Equal(*o.EditedAt) {
		return false
	}
	if len(v.Reactions) != len(o.Reactions) {
		return false
	}
	for i := range v.Reactions {
		a, b := v.Reactions[i], o.Reactions[i]
		if a.Emoji != b.Emoji || len(a.UserIDs) != len(b.UserIDs) {
			return false
		}
		for j := range a.UserIDs {
			if a.UserIDs[j] != b.UserIDs[j] {
				return false
			}
		}
	}
	return true
}

// Equal compares two conversation summaries.
func (s ConversationSummary) Equal(o ConversationSummary) bool {
	return s.ID == o.ID && s.Kind == o.Kind && s.Title == o.Title && s.PeerID == o.PeerID &&
		s.UnreadCount == o.UnreadCount && s.Online == o.Online && s.LastActivityAt.Equal(o.LastActivityAt)
}

// DayBucket groups a day's messages for display.
type DayBucket struct {
	Day      string        `json:"day"`
	Label    string        `json:"label"`
	Messages []MessageView `json:"messages"`
}

// GroupByDay splits ordered views into calendar-day buckets in loc. Labels
// are "Today", "Yesterday", or the long date relative to now.
func GroupByDay(views []MessageView, now time.Time, loc *time.Location) []DayBucket {
	if loc == nil {
		loc = time.UTC
	}
	today := now.In(loc).Format(time.DateOnly)
	yesterday := now.In(loc).AddDate(0, 0, -1).Format(time.DateOnly)

	var buckets []DayBucket
	for _, v := range views {
		local := v.CreatedAt.In(loc)
		day := local.Format(time.DateOnly)
		if len(buckets) == 0 || buckets[len(buckets)-1].Day != day {
			label := local.Format("January 2, 2006")
			switch day {
			case today:
				label = "Today"
			case yesterday:
				label = "Yesterday"
			}
			buckets = append(buckets, DayBucket{Day: day, Label: label})
		}
		last := &buckets[len(buckets)-1]
		last.Messages = append(last.Messages, v)
	}
	return buckets
}

// TypingUser is a live typing indicator.
type TypingUser struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}
