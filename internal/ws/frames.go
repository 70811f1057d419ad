package ws

import (
	"chat-sync-service/internal/apperr"
	"chat-sync-service/internal/models"
)

// Client frame types.
const (
	FrameWatch   = "watch"
	FrameUnwatch = "unwatch"
	FrameResync  = "resync"
	FrameTyping  = "typing"
	FrameDraft   = "draft"
	FrameSend    = "send"
)

// Server frame types besides the reconcile patches. A draft frame is also
// sent back after a watch when the target has unsent text.
const (
	FrameAck   = "ack"
	FrameError = "error"
)

// ClientFrame is anything a client may send.
type ClientFrame struct {
	Type        string        `json:"type"`
	Target      models.Target `json:"target"`
	Text        string        `json:"text,omitempty"`
	ImageURL    string        `json:"image_url,omitempty"`
	ClientToken string        `json:"client_token,omitempty"`
}

type ackFrame struct {
	Type        string `json:"type"`
	ClientToken string `json:"client_token,omitempty"`
	MessageID   int64  `json:"message_id"`
}

type draftFrame struct {
	Type   string        `json:"type"`
	Target models.Target `json:"target"`
	Text   string        `json:"text"`
}

type errorFrame struct {
	Type    string      `json:"type"`
	Request string      `json:"request,omitempty"`
	Code    apperr.Kind `json:"code"`
	Error   string      `json:"error"`
}

func newErrorFrame(request string, err error) errorFrame {
	return errorFrame{Type: FrameError, Request: request, Code: apperr.KindOf(err), Error: apperr.MessageOf(err)}
}
