package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// AuditEmitter publishes user-visible actions (sends, edits, deletions,
// blocks) as audit envelopes.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	logger      *zap.Logger
	now         func() time.Time
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level  string         `json:"level"`
	Text   string         `json:"text"`
	Action string         `json:"action,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, logger *zap.Logger) *AuditEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Emit publishes one audit record. Failures are logged, never returned.
func (e *AuditEmitter) Emit(ctx context.Context, level, action, text, requestID string, userID *string, fields map[string]any) {
	if e == nil || e.publisher == nil {
		return
	}

	e.logger.Debug("audit emit",
		zap.String("level", level),
		zap.String("action", action),
		zap.String("request_id", requestID),
		zap.Stringp("user_id", userID),
	)
	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    e.now().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        userID,
		Payload: AuditPayload{
			Level:  level,
			Text:   text,
			Action: action,
			Fields: fields,
		},
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		e.logger.Warn("audit publish failed", zap.String("action", action), zap.Error(err))
	}
}
