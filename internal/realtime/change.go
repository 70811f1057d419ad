// Package realtime carries change notifications from writers to the viewer
// sessions that need to resync.
package realtime

import (
	"strconv"
	"strings"
)

// Topic names a set of interested viewers.
type Topic string

func UserTopic(userID string) Topic { return Topic("user:" + userID) }

func ConversationTopic(conversationID int64) Topic {
	return Topic("conversation:" + strconv.FormatInt(conversationID, 10))
}

// ConversationID parses a conversation topic. ok is false for other topics.
func (t Topic) ConversationID() (id int64, ok bool) {
	rest, found := strings.CutPrefix(string(t), "conversation:")
	if !found {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	return id, err == nil
}

type ChangeKind string

const (
	MessageCreated      ChangeKind = "message_created"
	MessageEdited       ChangeKind = "message_edited"
	MessageDeleted      ChangeKind = "message_deleted"
	MessageHidden       ChangeKind = "message_hidden"
	StatusChanged       ChangeKind = "status_changed"
	ReactionChanged     ChangeKind = "reaction_changed"
	PinChanged          ChangeKind = "pin_changed"
	ConversationCreated ChangeKind = "conversation_created"
	MembershipChanged   ChangeKind = "membership_changed"
	BlockChanged        ChangeKind = "block_changed"
	ProfileChanged      ChangeKind = "profile_changed"
	PresenceChanged     ChangeKind = "presence_changed"
	Typing              ChangeKind = "typing"
)

// Change says that a row changed and which topics must resync. It carries no
// payload; receivers recompute their state from storage.
type Change struct {
	Kind   ChangeKind `json:"kind"`
	Table  string     `json:"table"`
	RowID  string     `json:"row_id"`
	Topics []Topic    `json:"topics"`
	Origin string     `json:"origin,omitempty"`
}

// NewChange builds a Change with duplicate topics removed.
func NewChange(kind ChangeKind, table string, rowID any, topics ...Topic) Change {
	seen := make(map[Topic]struct{}, len(topics))
	uniq := make([]Topic, 0, len(topics))
	for _, t := range topics {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		uniq = append(uniq, t)
	}
	var id string
	switch v := rowID.(type) {
	case int64:
		id = strconv.FormatInt(v, 10)
	case string:
		id = v
	}
	return Change{Kind: kind, Table: table, RowID: id, Topics: uniq}
}
