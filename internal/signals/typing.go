// Package signals holds short-lived per-conversation state that is never
// persisted: typing indicators and unsent drafts.
package signals

import (
	"context"
	"sort"
	"sync"
	"time"

	"chat-sync-service/internal/clock"
	"chat-sync-service/internal/models"
)

// DefaultTypingTTL is how long an indicator stays visible after the last
// keystroke signal.
const DefaultTypingTTL = 3 * time.Second

// TypingStore records typing signals with a fixed TTL.
type TypingStore interface {
	Touch(ctx context.Context, conversationID int64, user models.TypingUser) error
	Active(ctx context.Context, conversationID int64) ([]models.TypingUser, error)
}

type typingEntry struct {
	name      string
	expiresAt time.Time
}

// MemoryTyping is an in-process TypingStore.
type MemoryTyping struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   clock.Clock
	entries map[int64]map[string]typingEntry
}

func NewMemoryTyping(clk clock.Clock, ttl time.Duration) *MemoryTyping {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &MemoryTyping{ttl: ttl, clock: clk, entries: make(map[int64]map[string]typingEntry)}
}

func (m *MemoryTyping) Touch(_ context.Context, conversationID int64, user models.TypingUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.entries[conversationID]
	if !ok {
		conv = make(map[string]typingEntry)
		m.entries[conversationID] = conv
	}
	conv[user.UserID] = typingEntry{name: user.DisplayName, expiresAt: m.clock.Now().Add(m.ttl)}
	return nil
}

// Active returns unexpired typers ordered by user id and prunes the rest.
func (m *MemoryTyping) Active(_ context.Context, conversationID int64) ([]models.TypingUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	conv := m.entries[conversationID]
	var users []models.TypingUser
	for id, e := range conv {
		if !now.Before(e.expiresAt) {
			delete(conv, id)
			continue
		}
		users = append(users, models.TypingUser{UserID: id, DisplayName: e.name})
	}
	if len(conv) == 0 {
		delete(m.entries, conversationID)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users, nil
}
