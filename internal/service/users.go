package service

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"chat-sync-service/internal/apperr"
	"chat-sync-service/internal/clock"
	"chat-sync-service/internal/models"
	"chat-sync-service/internal/realtime"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// UserService owns profile records and display-name resolution.
type UserService struct {
	base
}

func NewUserService(repos Repos, clk clock.Clock, notifier realtime.Notifier, logger *zap.Logger) *UserService {
	return &UserService{base: newBase(repos, clk, notifier, logger)}
}

// Provision creates the user on first authentication from identity claims.
func (s *UserService) Provision(ctx context.Context, userID, name, email string) (models.User, error) {
	if strings.TrimSpace(userID) == "" {
		return models.User{}, apperr.Unauthenticated("missing user id")
	}
	user, created, err := s.repos.Users.Provision(ctx, models.User{ID: userID, Name: strings.TrimSpace(name), Email: email}, s.clock.Now())
	if err != nil {
		return models.User{}, err
	}
	if created {
		s.logger.Info("user provisioned", zap.String("user_id", userID))
	}
	return user, nil
}

func (s *UserService) Get(ctx context.Context, userID string) (models.User, error) {
	return s.repos.Users.Get(ctx, userID)
}

// UpdateProfile applies a profile change made by the owning user and tells
// every conversation the user takes part in to resync.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, upd models.ProfileUpdate) (models.User, error) {
	if upd.Username != nil {
		name := strings.TrimSpace(*upd.Username)
		if name != "" && !usernamePattern.MatchString(name) {
			return models.User{}, apperr.Validation("username may contain only letters, digits and underscores")
		}
	}
	user, err := s.repos.Users.Update(ctx, userID, upd, s.clock.Now())
	if err != nil {
		return models.User{}, err
	}

	topics := []realtime.Topic{realtime.UserTopic(userID)}
	direct, err := s.repos.Conversations.ListDirect(ctx, userID)
	if err != nil {
		s.logger.Warn("profile fan-out skipped", zap.Error(err))
	}
	for _, c := range direct {
		topics = append(topics, realtime.UserTopic(c.Peer(userID)), realtime.ConversationTopic(c.ID))
	}
	groups, err := s.repos.Conversations.ListGroups(ctx, userID)
	if err != nil {
		s.logger.Warn("profile fan-out skipped", zap.Error(err))
	}
	for _, g := range groups {
		topics = append(topics, realtime.ConversationTopic(g.ID))
	}
	s.notify(ctx, realtime.NewChange(realtime.ProfileChanged, "users", userID, topics...))
	return user, nil
}

// Search finds users by name, username or email, excluding the viewer and
// anyone in a block relation with them.
func (s *UserService) Search(ctx context.Context, viewerID, query string, limit int) ([]models.User, error) {
	if strings.TrimSpace(query) == "" {
		return []models.User{}, nil
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	users, err := s.repos.Users.Search(ctx, query, viewerID, limit)
	if err != nil {
		return nil, err
	}
	blocked, err := s.repos.Blocks.BlockedPeers(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	out := make([]models.User, 0, len(users))
	for _, u := range users {
		if _, ok := blocked[u.ID]; !ok {
			out = append(out, u)
		}
	}
	return out, nil
}

// displayNames resolves display names for ids; unknown ids map to "Unknown".
func displayNames(ctx context.Context, repos Repos, ids []string) (map[string]string, error) {
	users, err := repos.Users.GetMany(ctx, uniqueStrings(ids))
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(ids))
	for _, id := range ids {
		if u, ok := users[id]; ok {
			names[id] = u.DisplayName()
		} else {
			names[id] = (*models.User)(nil).DisplayName()
		}
	}
	return names, nil
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
