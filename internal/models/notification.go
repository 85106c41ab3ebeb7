package models

// NotificationTypeMessage routes a notification tap to a chat room.
const NotificationTypeMessage = "message"

// NotificationData is carried with a notification so a tap can be routed.
type NotificationData struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// Notification is a request to the host platform to show a local/push notification.
type Notification struct {
	Title string           `json:"title"`
	Body  string           `json:"body"`
	Data  NotificationData `json:"data"`
}

// SuppressReason explains why a notification was not delivered.
type SuppressReason string

const (
	SuppressForeground        SuppressReason = "foreground"
	SuppressOwnMessage        SuppressReason = "own_message"
	SuppressDisabled          SuppressReason = "disabled"
	SuppressPreferenceUnknown SuppressReason = "preference_unknown"
)

// NotificationDecision is the outcome of gating one inserted message.
// Notification is set only when Deliver is true.
type NotificationDecision struct {
	Deliver      bool
	Reason       SuppressReason
	Notification *Notification
}

// Suppressed builds a decision that carries no notification.
func Suppressed(reason SuppressReason) NotificationDecision {
	return NotificationDecision{Reason: reason}
}
