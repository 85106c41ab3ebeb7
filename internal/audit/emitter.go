// Package audit publishes user-visible account changes to the audit log stream.
package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const RoutingKey = "audit.chat_sync"

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

type Envelope struct {
	SchemaVersion int     `json:"schema_version"`
	EventType     string  `json:"event_type"`
	OccurredAt    string  `json:"occurred_at"`
	Service       string  `json:"service"`
	Environment   string  `json:"environment"`
	RequestID     string  `json:"request_id"`
	UserID        string  `json:"user_id,omitempty"`
	Payload       Payload `json:"payload"`
}

type Payload struct {
	Action string         `json:"action"`
	Fields map[string]any `json:"fields,omitempty"`
}

type Emitter struct {
	publisher   Publisher
	service     string
	environment string
	logger      zerolog.Logger
	now         func() time.Time
}

func NewEmitter(publisher Publisher, service, environment string, logger zerolog.Logger) *Emitter {
	return &Emitter{publisher: publisher, service: service, environment: environment, logger: logger, now: time.Now}
}

// Emit is best effort: publish failures are logged and swallowed.
func (e *Emitter) Emit(ctx context.Context, action, requestID, userID string, fields map[string]any) {
	if e == nil || e.publisher == nil {
		return
	}
	envelope := Envelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        userID,
		Payload:       Payload{Action: action, Fields: fields},
	}
	e.logger.Debug().Str("action", action).Str("request_id", requestID).Str("user_id", userID).Msg("audit emit")
	if err := e.publisher.Publish(ctx, RoutingKey, envelope, map[string]string{"x-request-id": requestID}); err != nil {
		e.logger.Warn().Err(err).Str("action", action).Msg("audit publish failed")
	}
}
