package models

// ConnectionStatus reports the state of a live room subscription.
type ConnectionStatus string

const (
	StatusConnecting ConnectionStatus = "connecting"
	StatusSubscribed ConnectionStatus = "subscribed"
	StatusClosed     ConnectionStatus = "closed"
	StatusError      ConnectionStatus = "error"
)

// Ended reports whether the subscription stopped delivering events.
func (s ConnectionStatus) Ended() bool {
	return s == StatusError || s == StatusClosed
}

// LifecycleState is the host application's visibility.
type LifecycleState string

const (
	LifecycleActive     LifecycleState = "active"
	LifecycleBackground LifecycleState = "background"
	LifecycleInactive   LifecycleState = "inactive"
)

// ParseLifecycleState maps host input to a known state.
func ParseLifecycleState(s string) (LifecycleState, bool) {
	switch LifecycleState(s) {
	case LifecycleActive, LifecycleBackground, LifecycleInactive:
		return LifecycleState(s), true
	}
	return "", false
}

// NotificationPreference holds a user's push notification setting.
type NotificationPreference struct {
	UserID                   string `db:"user_id" json:"user_id"`
	PushNotificationsEnabled bool   `db:"push_notifications_enabled" json:"push_notifications_enabled"`
}

// UnreadCount is the number of unread messages from others in a room.
type UnreadCount struct {
	RoomID string `db:"room_id" json:"room_id"`
	Unread int    `db:"unread" json:"unread"`
}
