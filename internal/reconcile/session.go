package reconcile

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"chat-sync-service/internal/apperr"
	"chat-sync-service/internal/models"
	"chat-sync-service/internal/observability"
	"chat-sync-service/internal/realtime"
	"chat-sync-service/internal/service"
	"chat-sync-service/internal/signals"
)

// Directory lists conversations and resolves thread access.
type Directory interface {
	ListForUser(ctx context.Context, userID string) ([]models.ConversationSummary, error)
	Resolve(ctx context.Context, viewerID string, target models.Target) (service.Access, error)
}

// Messages reads threads and accepts sends.
type Messages interface {
	ViewFor(ctx context.Context, viewerID string, target models.Target) ([]models.MessageView, error)
	Append(ctx context.Context, in service.AppendInput) (models.Message, error)
}

// Typing reports active typers.
type Typing interface {
	Active(ctx context.Context, viewerID string, conversationID int64) ([]models.TypingUser, error)
}

// Receipts acknowledges messages the viewer has on screen.
type Receipts interface {
	MarkRead(ctx context.Context, receiverID, senderID string) (int64, error)
}

// Deps are the read and write paths a session uses. Typing and Receipts may
// be nil.
type Deps struct {
	Directory Directory
	Messages  Messages
	Typing    Typing
	Receipts  Receipts
}

const (
	defaultBuffer     = 64
	defaultTypingPoll = time.Second
)

type watch struct {
	target models.Target
	convID int64
	synced bool
	snap   viewSnapshot
	typers []models.TypingUser
}

// Session is one viewer connection. It is safe for concurrent use; resyncs
// are serialized.
type Session struct {
	viewerID string
	deps     Deps
	sub      *realtime.Subscription
	out      chan Patch
	drafts   *signals.Drafts
	logger   *zap.Logger

	TypingPoll time.Duration

	mu      sync.Mutex
	list    *listSnapshot
	watches map[models.Target]*watch
}

// NewSession subscribes viewerID's user topic on broker.
func NewSession(viewerID string, broker *realtime.Broker, deps Deps, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		viewerID:   viewerID,
		deps:       deps,
		sub:        broker.Subscribe(defaultBuffer, realtime.UserTopic(viewerID)),
		out:        make(chan Patch, defaultBuffer),
		drafts:     signals.NewDrafts(),
		logger:     logger.With(zap.String("viewer_id", viewerID)),
		TypingPoll: defaultTypingPoll,
		watches:    make(map[models.Target]*watch),
	}
}

// Patches is the outgoing frame stream.
func (s *Session) Patches() <-chan Patch { return s.out }

// Close stops change delivery. Run returns afterwards.
func (s *Session) Close() { s.sub.Close() }

// Run applies incoming changes until ctx ends or the session is closed.
func (s *Session) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.TypingPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-s.sub.C():
			if !ok {
				return nil
			}
			if err := s.Apply(ctx, c); err != nil {
				s.logger.Warn("resync failed", zap.String("change", string(c.Kind)), zap.Error(err))
			}
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Warn("typing poll failed", zap.Error(err))
			}
		}
	}
}

// Apply resyncs whatever c may have touched. A change on the viewer's own
// topic resyncs everything; a conversation change resyncs that thread. After
// the broker dropped a change for this session everything is resynced, since
// the lost change could have named any topic.
func (s *Session) Apply(ctx context.Context, c realtime.Change) error {
	if s.sub.TakeOverflow() {
		return s.Resync(ctx)
	}
	own := realtime.UserTopic(s.viewerID)
	convs := make(map[int64]struct{})
	for _, t := range c.Topics {
		if t == own {
			return s.Resync(ctx)
		}
		if id, ok := t.ConversationID(); ok {
			convs[id] = struct{}{}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, w := range s.watches {
		if _, ok := convs[w.convID]; ok && w.convID != 0 {
			errs = append(errs, s.syncWatch(ctx, w))
		}
	}
	return errors.Join(errs...)
}

// Resync recomputes the list and every watched thread.
func (s *Session) Resync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	errs := []error{s.syncList(ctx)}
	for _, w := range s.watches {
		errs = append(errs, s.syncWatch(ctx, w))
	}
	return errors.Join(errs...)
}

// Watch starts syncing target and sends its initial state.
func (s *Session) Watch(ctx context.Context, target models.Target) error {
	if !target.Valid() {
		return apperr.Validation("exactly one of receiver_id or conversation_id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.watches[target]
	if !ok {
		w = &watch{target: target}
		s.watches[target] = w
	}
	if err := s.syncWatch(ctx, w); err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindForbidden, apperr.KindNotFound, apperr.KindValidation:
			delete(s.watches, target)
		}
		return err
	}
	return nil
}

// Unwatch stops syncing target.
func (s *Session) Unwatch(target models.Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.watches[target]
	if !ok {
		return
	}
	delete(s.watches, target)
	if w.convID != 0 && !s.convWatchedLocked(w.convID) {
		s.sub.Remove(realtime.ConversationTopic(w.convID))
	}
}

func (s *Session) convWatchedLocked(convID int64) bool {
	for _, w := range s.watches {
		if w.convID == convID {
			return true
		}
	}
	return false
}

// Tick re-polls typing for threads that currently show an indicator, so
// indicators disappear once they expire.
func (s *Session) Tick(ctx context.Context) error {
	if s.deps.Typing == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, w := range s.watches {
		if len(w.typers) == 0 || w.convID == 0 {
			continue
		}
		typers, err := s.deps.Typing.Active(ctx, s.viewerID, w.convID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if sameTypers(w.typers, typers) {
			continue
		}
		w.typers = typers
		s.emit(ctx, Patch{Type: PatchView, View: &ViewPatch{Target: w.target, ConversationID: w.convID, Typing: &typers}})
	}
	return errors.Join(errs...)
}

func (s *Session) syncList(ctx context.Context) error {
	observability.IncResync()
	items, err := s.deps.Directory.ListForUser(ctx, s.viewerID)
	if err != nil {
		return err
	}
	next := newListSnapshot(items)
	var p *ListPatch
	if s.list == nil {
		p = &ListPatch{Reset: true, Upserted: items, Order: next.order}
	} else {
		p = diffList(*s.list, next)
	}
	s.list = &next
	if !p.empty() {
		s.emit(ctx, Patch{Type: PatchList, List: p})
	}
	return nil
}

func (s *Session) syncWatch(ctx context.Context, w *watch) error {
	observability.IncResync()
	acc, err := s.deps.Directory.Resolve(ctx, s.viewerID, w.target)
	if err != nil {
		if k := apperr.KindOf(err); (k == apperr.KindForbidden || k == apperr.KindNotFound) && w.synced {
			s.revoke(ctx, w)
			return nil
		}
		return err
	}
	if acc.Exists && acc.Conversation.ID != w.convID {
		w.convID = acc.Conversation.ID
		s.sub.Add(realtime.ConversationTopic(w.convID))
	}

	views, err := s.deps.Messages.ViewFor(ctx, s.viewerID, w.target)
	if err != nil {
		return err
	}
	var typers []models.TypingUser
	if s.deps.Typing != nil && w.convID != 0 && !acc.Blocked {
		if typers, err = s.deps.Typing.Active(ctx, s.viewerID, w.convID); err != nil {
			return err
		}
	}

	if typers == nil {
		typers = []models.TypingUser{}
	}

	next := newViewSnapshot(views)
	p := &ViewPatch{Target: w.target, ConversationID: w.convID}
	if !w.synced {
		p.Reset = true
		p.Upserted = views
		p.Order = next.order
		p.Typing = &typers
	} else {
		diffView(w.snap, next, p)
		if !sameTypers(w.typers, typers) {
			p.Typing = &typers
		}
	}
	w.snap, w.typers, w.synced = next, typers, true
	if !p.empty() {
		s.emit(ctx, Patch{Type: PatchView, View: p})
	}

	if acc.Peer != "" && !acc.Blocked {
		s.acknowledge(ctx, acc.Peer, views)
	}
	return nil
}

// acknowledge marks the peer's messages read while the thread is open.
func (s *Session) acknowledge(ctx context.Context, peer string, views []models.MessageView) {
	if s.deps.Receipts == nil {
		return
	}
	for _, v := range views {
		if v.SenderID == peer && !v.Deleted && v.Status != models.StatusRead {
			if _, err := s.deps.Receipts.MarkRead(ctx, s.viewerID, peer); err != nil {
				s.logger.Warn("mark read failed", zap.String("peer_id", peer), zap.Error(err))
			}
			return
		}
	}
}

// revoke drops a thread the viewer lost access to and tells the client to
// clear it.
func (s *Session) revoke(ctx context.Context, w *watch) {
	delete(s.watches, w.target)
	if w.convID != 0 && !s.convWatchedLocked(w.convID) {
		s.sub.Remove(realtime.ConversationTopic(w.convID))
	}
	p := &ViewPatch{Target: w.target, ConversationID: w.convID, Revoked: true, Removed: append([]int64{}, w.snap.order...)}
	s.emit(ctx, Patch{Type: PatchView, View: p})
}

func (s *Session) emit(ctx context.Context, p Patch) {
	observability.IncPatch(p.Type)
	select {
	case s.out <- p:
	case <-ctx.Done():
	}
}

func draftKey(t models.Target) string {
	if t.IsDirect() {
		return "user:" + t.ReceiverID
	}
	return "conversation:" + strconv.FormatInt(t.ConversationID, 10)
}

// SaveDraft stores unsent text for target.
func (s *Session) SaveDraft(target models.Target, text string) {
	s.drafts.Save(draftKey(target), text)
}

// Draft returns the unsent text for target.
func (s *Session) Draft(target models.Target) string {
	return s.drafts.Get(draftKey(target))
}

// Send appends a message as the viewer and clears the target's draft once
// the store accepted it.
func (s *Session) Send(ctx context.Context, target models.Target, text, imageURL, clientToken string) (models.Message, error) {
	msg, err := s.deps.Messages.Append(ctx, service.AppendInput{
		SenderID:    s.viewerID,
		Target:      target,
		Text:        text,
		ImageURL:    imageURL,
		ClientToken: clientToken,
	})
	if err != nil {
		return models.Message{}, err
	}
	s.drafts.Clear(draftKey(target))
	return msg, nil
}
