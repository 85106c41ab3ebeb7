// Package notify decides whether an inserted message should raise a notification
// and hands accepted notifications to the host.
package notify

import (
	"strings"

	"github.com/rs/zerolog"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

const (
	FallbackTitle = "Unknown user"
	FallbackBody  = "New message"
)

// Gate decides whether an inserted message raises a notification.
type Gate struct {
	logger zerolog.Logger
}

// NewGate returns a Gate that logs suppressed messages at debug level.
func NewGate(logger zerolog.Logger) *Gate {
	return &Gate{logger: logger.With().Str("component", "notify").Logger()}
}

// Evaluate must be given the lifecycle and preference values current when the insert fired.
// prefLoaded is false while the preference has not been fetched yet; that suppresses delivery.
func (g *Gate) Evaluate(msg models.Message, lifecycle models.LifecycleState, pref models.NotificationPreference, prefLoaded bool, currentUserID string) models.NotificationDecision {
	decision := g.decide(msg, lifecycle, pref, prefLoaded, currentUserID)
	if decision.Deliver {
		observability.IncNotification("deliver", "")
	} else {
		observability.IncNotification("suppressed", string(decision.Reason))
		g.logger.Debug().
			Str("room_id", msg.RoomID).
			Str("message_id", msg.ID).
			Str("reason", string(decision.Reason)).
			Msg("notification suppressed")
	}
	return decision
}

func (g *Gate) decide(msg models.Message, lifecycle models.LifecycleState, pref models.NotificationPreference, prefLoaded bool, currentUserID string) models.NotificationDecision {
	if lifecycle != models.LifecycleBackground {
		return models.Suppressed(models.SuppressForeground)
	}
	if msg.SenderID == currentUserID {
		return models.Suppressed(models.SuppressOwnMessage)
	}
	if !prefLoaded {
		return models.Suppressed(models.SuppressPreferenceUnknown)
	}
	if !pref.PushNotificationsEnabled {
		return models.Suppressed(models.SuppressDisabled)
	}

	title := strings.TrimSpace(msg.SenderName)
	if title == "" {
		title = FallbackTitle
	}
	body := strings.TrimSpace(msg.Content)
	if body == "" {
		body = FallbackBody
	}
	return models.NotificationDecision{
		Deliver: true,
		Notification: &models.Notification{
			Title: title,
			Body:  body,
			Data:  models.NotificationData{Type: models.NotificationTypeMessage, RoomID: msg.RoomID},
		},
	}
}
