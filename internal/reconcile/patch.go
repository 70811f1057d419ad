// Package reconcile keeps a viewer's conversation list and open threads in
// sync. Every change notification triggers a full recomputation; only the
// difference against the last snapshot is sent to the client.
package reconcile

import (
	"slices"

	"chat-sync-service/internal/models"
)

const (
	PatchList = "list_patch"
	PatchView = "view_patch"
)

// Patch is one server frame.
type Patch struct {
	Type string     `json:"type"`
	List *ListPatch `json:"list,omitempty"`
	View *ViewPatch `json:"view,omitempty"`
}

// ListPatch updates the conversation list. Reset replaces the client state.
type ListPatch struct {
	Reset    bool                         `json:"reset,omitempty"`
	Upserted []models.ConversationSummary `json:"upserted,omitempty"`
	Removed  []int64                      `json:"removed,omitempty"`
	Order    []int64                      `json:"order,omitempty"`
}

// ViewPatch updates one watched thread. Order is set only when the message
// order changed, Typing only when the set of typers changed.
type ViewPatch struct {
	Target         models.Target        `json:"target"`
	ConversationID int64                `json:"conversation_id,omitempty"`
	Reset          bool                 `json:"reset,omitempty"`
	Revoked        bool                 `json:"revoked,omitempty"`
	Upserted       []models.MessageView `json:"upserted,omitempty"`
	Removed        []int64              `json:"removed,omitempty"`
	Order          []int64              `json:"order,omitempty"`
	Typing         *[]models.TypingUser `json:"typing,omitempty"`
}

func (p *ListPatch) empty() bool {
	return !p.Reset && len(p.Upserted) == 0 && len(p.Removed) == 0 && p.Order == nil
}

func (p *ViewPatch) empty() bool {
	return !p.Reset && !p.Revoked && len(p.Upserted) == 0 && len(p.Removed) == 0 && p.Order == nil && p.Typing == nil
}

type listSnapshot struct {
	byID  map[int64]models.ConversationSummary
	order []int64
}

func newListSnapshot(items []models.ConversationSummary) listSnapshot {
	s := listSnapshot{byID: make(map[int64]models.ConversationSummary, len(items)), order: make([]int64, 0, len(items))}
	for _, it := range items {
		s.byID[it.ID] = it
		s.order = append(s.order, it.ID)
	}
	return s
}

func diffList(prev, next listSnapshot) *ListPatch {
	p := &ListPatch{}
	for _, id := range next.order {
		cur := next.byID[id]
		if old, ok := prev.byID[id]; !ok || !old.Equal(cur) {
			p.Upserted = append(p.Upserted, cur)
		}
	}
	for _, id := range prev.order {
		if _, ok := next.byID[id]; !ok {
			p.Removed = append(p.Removed, id)
		}
	}
	if !slices.Equal(prev.order, next.order) {
		p.Order = append([]int64{}, next.order...)
	}
	return p
}

type viewSnapshot struct {
	byID  map[int64]models.MessageView
	order []int64
}

func newViewSnapshot(views []models.MessageView) viewSnapshot {
	s := viewSnapshot{byID: make(map[int64]models.MessageView, len(views)), order: make([]int64, 0, len(views))}
	for _, v := range views {
		s.byID[v.ID] = v
		s.order = append(s.order, v.ID)
	}
	return s
}

func diffView(prev, next viewSnapshot, p *ViewPatch) {
	for _, id := range next.order {
		cur := next.byID[id]
		if old, ok := prev.byID[id]; !ok || !old.Equal(cur) {
			p.Upserted = append(p.Upserted, cur)
		}
	}
	for _, id := range prev.order {
		if _, ok := next.byID[id]; !ok {
			p.Removed = append(p.Removed, id)
		}
	}
	if !slices.Equal(prev.order, next.order) {
		p.Order = append([]int64{}, next.order...)
	}
}

func sameTypers(a, b []models.TypingUser) bool {
	return slices.Equal(a, b)
}
