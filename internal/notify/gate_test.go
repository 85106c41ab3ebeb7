package notify

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/mocks"
	"chat-sync/internal/models"
)

const me = "me"

var enabled = models.NotificationPreference{UserID: me, PushNotificationsEnabled: true}

func inserted(sender string) models.Message {
	return models.Message{ID: "m4", RoomID: "r1", SenderID: sender, SenderName: "Bob", Content: "hi", CreatedAt: time.Now()}
}

func TestDeliverInBackground(t *testing.T) {
	gate := NewGate(zerolog.Nop())

	decision := gate.Evaluate(inserted("u2"), models.LifecycleBackground, enabled, true, me)

	require.True(t, decision.Deliver)
	require.NotNil(t, decision.Notification)
	assert.Equal(t, "Bob", decision.Notification.Title)
	assert.Equal(t, "hi", decision.Notification.Body)
	assert.Equal(t, models.NotificationData{Type: "message", RoomID: "r1"}, decision.Notification.Data)
}

func TestFallbackLabels(t *testing.T) {
	gate := NewGate(zerolog.Nop())
	msg := inserted("u2")
	msg.SenderName = ""
	msg.Content = "  "

	decision := gate.Evaluate(msg, models.LifecycleBackground, enabled, true, me)

	require.True(t, decision.Deliver)
	assert.Equal(t, FallbackTitle, decision.Notification.Title)
	assert.Equal(t, FallbackBody, decision.Notification.Body)
}

func TestNeverNotifiesOwnMessage(t *testing.T) {
	gate := NewGate(zerolog.Nop())

	for _, state := range []models.LifecycleState{models.LifecycleActive, models.LifecycleBackground, models.LifecycleInactive} {
		decision := gate.Evaluate(inserted(me), state, enabled, true, me)
		assert.False(t, decision.Deliver, state)
		assert.Nil(t, decision.Notification, state)
	}
}

func TestForegroundSuppressesRegardlessOfPreference(t *testing.T) {
	gate := NewGate(zerolog.Nop())

	for _, state := range []models.LifecycleState{models.LifecycleActive, models.LifecycleInactive} {
		for _, pref := range []models.NotificationPreference{enabled, {UserID: me}} {
			decision := gate.Evaluate(inserted("u2"), state, pref, true, me)
			assert.False(t, decision.Deliver)
			assert.Equal(t, models.SuppressForeground, decision.Reason)
		}
	}
}

func TestDisabledPreferenceSuppresses(t *testing.T) {
	gate := NewGate(zerolog.Nop())

	decision := gate.Evaluate(inserted("u2"), models.LifecycleBackground, models.NotificationPreference{UserID: me}, true, me)

	assert.False(t, decision.Deliver)
	assert.Equal(t, models.SuppressDisabled, decision.Reason)
}

func TestUnknownPreferenceSuppresses(t *testing.T) {
	gate := NewGate(zerolog.Nop())

	decision := gate.Evaluate(inserted("u2"), models.LifecycleBackground, models.NotificationPreference{}, false, me)

	assert.False(t, decision.Deliver)
	assert.Equal(t, models.SuppressPreferenceUnknown, decision.Reason)
}

func TestAMQPPresenterPublishes(t *testing.T) {
	pub := new(mocks.PublisherMock)
	n := models.Notification{Title: "Bob", Body: "hi", Data: models.NotificationData{Type: "message", RoomID: "r1"}}
	pub.On("Publish", mock.Anything, "notifications.push", n, mock.Anything).Return(nil).Once()

	err := NewAMQPPresenter(pub, "notifications.push").Present(context.Background(), n)

	require.NoError(t, err)
	pub.AssertExpectations(t)
}
