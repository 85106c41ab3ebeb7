package audit

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"chat-sync/internal/mocks"
)

func TestEmitPublishesEnvelope(t *testing.T) {
	pub := new(mocks.PublisherMock)
	e := NewEmitter(pub, "chat-sync", "test", zerolog.Nop())
	e.now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }

	want := Envelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    "2024-05-01T00:00:00Z",
		Service:       "chat-sync",
		Environment:   "test",
		RequestID:     "req-1",
		UserID:        "u1",
		Payload:       Payload{Action: "notification_settings.updated", Fields: map[string]any{"push_notifications_enabled": true}},
	}
	pub.On("Publish", mock.Anything, RoutingKey, want, map[string]string{"x-request-id": "req-1"}).Return(nil).Once()

	e.Emit(context.Background(), "notification_settings.updated", "req-1", "u1", map[string]any{"push_notifications_enabled": true})

	pub.AssertExpectations(t)
}

func TestEmitSwallowsPublishError(t *testing.T) {
	pub := new(mocks.PublisherMock)
	pub.On("Publish", mock.Anything, RoutingKey, mock.Anything, mock.Anything).Return(assert.AnError).Once()

	assert.NotPanics(t, func() {
		NewEmitter(pub, "chat-sync", "test", zerolog.Nop()).Emit(context.Background(), "x", "r", "u", nil)
	})
	pub.AssertExpectations(t)

	var nilEmitter *Emitter
	assert.NotPanics(t, func() { nilEmitter.Emit(context.Background(), "x", "r", "u", nil) })
}
