// Package service implements the conversation and message synchronization
// engine on top of the repositories.
package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"chat-sync-service/internal/clock"
	"chat-sync-service/internal/realtime"
	"chat-sync-service/internal/repositories"
)

var tracer = otel.Tracer("chat-sync-service/service")

// Repos bundles the repositories used by the services.
type Repos struct {
	Users         repositories.UserRepository
	Conversations repositories.ConversationRepository
	Blocks        repositories.BlockRepository
	Messages      repositories.MessageRepository
	Reactions     repositories.ReactionRepository
	Deletions     repositories.DeletionRepository
	Pins          repositories.PinRepository
}

// NewRepos builds the sqlx repositories over db.
func NewRepos(db *sqlx.DB) Repos {
	return Repos{
		Users:         repositories.NewUserRepo(db),
		Conversations: repositories.NewConversationRepo(db),
		Blocks:        repositories.NewBlockRepo(db),
		Messages:      repositories.NewMessageRepo(db),
		Reactions:     repositories.NewReactionRepo(db),
		Deletions:     repositories.NewDeletionRepo(db),
		Pins:          repositories.NewPinRepo(db),
	}
}

// Options holds the tunables shared by the services.
type Options struct {
	EditWindow    time.Duration
	MaxTextLength int
}

func (o Options) withDefaults() Options {
	if o.EditWindow <= 0 {
		o.EditWindow = 10 * time.Minute
	}
	if o.MaxTextLength <= 0 {
		o.MaxTextLength = 5000
	}
	return o
}

// base carries the dependencies every service shares.
type base struct {
	repos    Repos
	clock    clock.Clock
	notifier realtime.Notifier
	logger   *zap.Logger
}

func newBase(repos Repos, clk clock.Clock, notifier realtime.Notifier, logger *zap.Logger) base {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return base{repos: repos, clock: clk, notifier: notifier, logger: logger}
}

// notify publishes a change after a committed write. The write already
// happened, so failures are only logged.
func (b base) notify(ctx context.Context, c realtime.Change) {
	if b.notifier == nil || len(c.Topics) == 0 {
		return
	}
	if err := b.notifier.Publish(ctx, c); err != nil {
		b.logger.Warn("change notification failed",
			zap.String("kind", string(c.Kind)),
			zap.String("row_id", c.RowID),
			zap.Error(err),
		)
	}
}

func startSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, opts...)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
