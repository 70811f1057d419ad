package signals

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"chat-sync-service/internal/clock"
	"chat-sync-service/internal/models"
)

// RedisTyping shares typing state across instances. Each conversation keeps
// a sorted set of user ids scored by expiry (unix ms) and a hash of display
// names.
type RedisTyping struct {
	cli    redis.UniversalClient
	ttl    time.Duration
	clock  clock.Clock
	prefix string
}

func NewRedisTyping(cli redis.UniversalClient, clk clock.Clock, ttl time.Duration) *RedisTyping {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &RedisTyping{cli: cli, ttl: ttl, clock: clk, prefix: "chat:typing"}
}

func (r *RedisTyping) setKey(conversationID int64) string {
	return fmt.Sprintf("%s:%d", r.prefix, conversationID)
}

func (r *RedisTyping) namesKey(conversationID int64) string {
	return fmt.Sprintf("%s:%d:names", r.prefix, conversationID)
}

func (r *RedisTyping) Touch(ctx context.Context, conversationID int64, user models.TypingUser) error {
	expires := r.clock.Now().Add(r.ttl).UnixMilli()
	setKey, namesKey := r.setKey(conversationID), r.namesKey(conversationID)

	pipe := r.cli.TxPipeline()
	pipe.ZAdd(ctx, setKey, redis.Z{Score: float64(expires), Member: user.UserID})
	pipe.HSet(ctx, namesKey, user.UserID, user.DisplayName)
	pipe.Expire(ctx, setKey, 2*r.ttl)
	pipe.Expire(ctx, namesKey, 2*r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis typing touch: %w", err)
	}
	return nil
}

func (r *RedisTyping) Active(ctx context.Context, conversationID int64) ([]models.TypingUser, error) {
	setKey, namesKey := r.setKey(conversationID), r.namesKey(conversationID)
	now := strconv.FormatInt(r.clock.Now().UnixMilli(), 10)

	if err := r.cli.ZRemRangeByScore(ctx, setKey, "-inf", now).Err(); err != nil {
		return nil, fmt.Errorf("redis typing prune: %w", err)
	}
	ids, err := r.cli.ZRangeByScore(ctx, setKey, &redis.ZRangeBy{Min: "(" + now, Max: "+inf"}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis typing range: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	names, err := r.cli.HMGet(ctx, namesKey, ids...).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis typing names: %w", err)
	}

	users := make([]models.TypingUser, 0, len(ids))
	for i, id := range ids {
		user := models.TypingUser{UserID: id}
		if i < len(names) {
			if s, ok := names[i].(string); ok {
				user.DisplayName = s
			}
		}
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users, nil
}
