package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"chat-sync-service/internal/apperr"
	"chat-sync-service/internal/models"
)

// ViewFor returns the messages of target as viewerID sees them, oldest first.
// A blocked direct pair and a direct pair without a conversation both yield
// an empty slice.
func (s *MessageService) ViewFor(ctx context.Context, viewerID string, target models.Target) (views []models.MessageView, err error) {
	ctx, span := startSpan(ctx, "messages.ViewFor", trace.WithAttributes(attribute.String("viewer.id", viewerID)))
	defer func() { endSpan(span, err) }()

	acc, err := resolveAccess(ctx, s.repos, viewerID, target)
	if err != nil {
		return nil, err
	}
	if !acc.Exists {
		return []models.MessageView{}, nil
	}
	convID := acc.Conversation.ID
	span.SetAttributes(attribute.Int64("conversation.id", convID))

	msgs, err := s.repos.Messages.ListByConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if acc.Blocked {
		return []models.MessageView{}, nil
	}

	hidden, err := s.repos.Deletions.HiddenIn(ctx, convID, viewerID)
	if err != nil {
		return nil, err
	}
	msgs = dropHidden(msgs, hidden)

	reactions, err := s.repos.Reactions.ListForConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	pins, err := s.repos.Pins.List(ctx, convID)
	if err != nil {
		return nil, err
	}
	senders := make([]string, 0, len(msgs))
	for _, m := range msgs {
		senders = append(senders, m.SenderID)
	}
	names, err := displayNames(ctx, s.repos, senders)
	if err != nil {
		return nil, err
	}

	views = annotate(msgs, annotations{
		reactions: summarizeReactions(reactions),
		pinned:    pinnedSet(pins),
		names:     names,
	})
	SortViews(views)
	return views, nil
}

// Thread is ViewFor grouped into calendar days in loc.
func (s *MessageService) Thread(ctx context.Context, viewerID string, target models.Target, loc *time.Location) ([]models.DayBucket, error) {
	views, err := s.ViewFor(ctx, viewerID, target)
	if err != nil {
		return nil, err
	}
	return models.GroupByDay(views, s.clock.Now(), loc), nil
}

// Search returns the visible messages of target whose text contains query,
// case-insensitively. Image messages match the word "image".
func (s *MessageService) Search(ctx context.Context, viewerID string, target models.Target, query string) ([]models.MessageView, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, apperr.Validation("search query is required")
	}
	views, err := s.ViewFor(ctx, viewerID, target)
	if err != nil {
		return nil, err
	}
	matches := make([]models.MessageView, 0)
	for _, v := range views {
		if v.Deleted {
			continue
		}
		if strings.Contains(strings.ToLower(v.Content.Text), q) || (v.Content.HasImage() && strings.Contains("image", q)) {
			matches = append(matches, v)
		}
	}
	return matches, nil
}

func dropHidden(msgs []models.Message, hidden map[int64]struct{}) []models.Message {
	if len(hidden) == 0 {
		return msgs
	}
	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := hidden[m.ID]; !ok {
			out = append(out, m)
		}
	}
	return out
}

type annotations struct {
	reactions map[int64][]models.ReactionSummary
	pinned    map[int64]struct{}
	names     map[string]string
}

func annotate(msgs []models.Message, a annotations) []models.MessageView {
	views := make([]models.MessageView, 0, len(msgs))
	for _, m := range msgs {
		v := models.MessageView{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			SenderID:       m.SenderID,
			SenderName:     a.names[m.SenderID],
			Content:        m.Content,
			Deleted:        m.IsDeleted,
			Edited:         m.EditedAt != nil,
			EditedAt:       m.EditedAt,
			Reactions:      a.reactions[m.ID],
			Status:         m.Status,
			CreatedAt:      m.CreatedAt,
		}
		if m.IsDeleted {
			v.Content = models.Content{Kind: models.ContentNone, Text: models.DeletedPlaceholder}
			v.Reactions = nil
		}
		if v.Reactions == nil {
			v.Reactions = []models.ReactionSummary{}
		}
		if _, ok := a.pinned[m.ID]; ok {
			v.Pinned = true
		}
		views = append(views, v)
	}
	return views
}

// summarizeReactions groups reactions per message as emoji -> sorted user ids,
// with emojis sorted.
func summarizeReactions(reactions []models.Reaction) map[int64][]models.ReactionSummary {
	byMessage := make(map[int64]map[string][]string)
	for _, r := range reactions {
		emojis, ok := byMessage[r.MessageID]
		if !ok {
			emojis = make(map[string][]string)
			byMessage[r.MessageID] = emojis
		}
		emojis[r.Emoji] = append(emojis[r.Emoji], r.UserID)
	}

	out := make(map[int64][]models.ReactionSummary, len(byMessage))
	for id, emojis := range byMessage {
		summaries := make([]models.ReactionSummary, 0, len(emojis))
		for emoji, users := range emojis {
			sort.Strings(users)
			summaries = append(summaries, models.ReactionSummary{Emoji: emoji, UserIDs: users})
		}
		sort.Slice(summaries, func(i, j int) bool { return summaries[i].Emoji < summaries[j].Emoji })
		out[id] = summaries
	}
	return out
}

func pinnedSet(pins []models.Pin) map[int64]struct{} {
	set := make(map[int64]struct{}, len(pins))
	for _, p := range pins {
		set[p.MessageID] = struct{}{}
	}
	return set
}

// SortViews orders by creation time with the message id as tiebreak.
func SortViews(views []models.MessageView) {
	sort.SliceStable(views, func(i, j int) bool {
		a, b := views[i], views[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
