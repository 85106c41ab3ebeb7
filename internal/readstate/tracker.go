// Package readstate persists "read" marks for the current user.
package readstate

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"chat-sync/internal/observability"
)

// Store is the persistence side of read tracking.
type Store interface {
	MarkRoomRead(ctx context.Context, roomID, userID string) (int64, error)
	CountUnread(ctx context.Context, roomID, userID string) (int, error)
}

// Tracker marks rooms read for a user and reports unread counts.
type Tracker struct {
	store  Store
	logger zerolog.Logger
}

// NewTracker wraps store.
func NewTracker(store Store, logger zerolog.Logger) *Tracker {
	return &Tracker{store: store, logger: logger.With().Str("component", "readstate").Logger()}
}

// MarkRoomRead marks every message in roomID not sent by userID as read and returns the
// number of rows changed. Failures are logged and returned; callers must not surface them
// to the conversation view.
func (t *Tracker) MarkRoomRead(ctx context.Context, roomID, userID string) (int64, error) {
	n, err := t.store.MarkRoomRead(ctx, roomID, userID)
	if err != nil {
		observability.IncReadMark("error")
		t.logger.Warn().Err(err).Str("room_id", roomID).Str("user_id", userID).Msg("mark room read failed")
		return 0, fmt.Errorf("mark room %s read: %w", roomID, err)
	}
	observability.IncReadMark("ok")
	t.logger.Debug().Str("room_id", roomID).Int64("updated", n).Msg("room marked read")
	return n, nil
}

// UnreadCount returns how many messages in roomID userID has not read.
func (t *Tracker) UnreadCount(ctx context.Context, roomID, userID string) (int, error) {
	n, err := t.store.CountUnread(ctx, roomID, userID)
	if err != nil {
		return 0, fmt.Errorf("count unread for room %s: %w", roomID, err)
	}
	return n, nil
}
