// Package realtime wraps a per-room live event source behind a single-subscription adapter.
package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

// RawHandlers receive undecoded events from a Source. They may be called from any goroutine.
type RawHandlers struct {
	Insert func(payload []byte)
	Status func(status models.ConnectionStatus)
}

// Source is a live event source delivering insert notifications for one room per subscription.
type Source interface {
	Subscribe(ctx context.Context, roomID string, handlers RawHandlers) (Subscription, error)
}

// Subscription is a live subscription returned by a Source.
type Subscription interface {
	Unsubscribe() error
}

// Handlers receive normalized events for an open handle.
type Handlers struct {
	Insert func(msg models.Message)
	Status func(status models.ConnectionStatus)
}

// Handle identifies one open subscription. The zero value is never returned.
type Handle struct {
	id     uint64
	roomID string

	mu     sync.Mutex
	sub    Subscription
	closed bool
}

// RoomID returns the room the handle is subscribed to.
func (h *Handle) RoomID() string {
	if h == nil {
		return ""
	}
	return h.roomID
}

func (h *Handle) isOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.closed
}

// Adapter keeps at most one open subscription at a time.
type Adapter struct {
	source Source
	logger zerolog.Logger

	mu      sync.Mutex
	current *Handle
	nextID  uint64
}

// NewAdapter constructs an Adapter over source.
func NewAdapter(source Source, logger zerolog.Logger) *Adapter {
	return &Adapter{source: source, logger: logger.With().Str("component", "event_source").Logger()}
}

// Open closes any previously open handle and then subscribes to roomID.
// The source is never retried: a failed subscribe reports StatusError and returns the error.
func (a *Adapter) Open(ctx context.Context, roomID string, handlers Handlers) (*Handle, error) {
	a.mu.Lock()
	previous := a.current
	a.current = nil
	a.mu.Unlock()
	a.Close(previous)

	a.mu.Lock()
	a.nextID++
	handle := &Handle{id: a.nextID, roomID: roomID}
	a.current = handle
	a.mu.Unlock()

	emitStatus := func(status models.ConnectionStatus) {
		if !handle.isOpen() {
			return
		}
		observability.IncSubscriptionStatus(string(status))
		a.logger.Debug().Str("room_id", roomID).Str("status", string(status)).Msg("connection status")
		if handlers.Status != nil {
			handlers.Status(status)
		}
	}

	emitStatus(models.StatusConnecting)
	sub, err := a.source.Subscribe(ctx, roomID, RawHandlers{
		Insert: func(payload []byte) { a.deliver(handle, handlers, payload) },
		Status: emitStatus,
	})
	if err != nil {
		emitStatus(models.StatusError)
		a.Close(handle)
		return nil, fmt.Errorf("subscribe room %s: %w", roomID, err)
	}

	handle.mu.Lock()
	closed := handle.closed
	if !closed {
		handle.sub = sub
	}
	handle.mu.Unlock()
	if closed {
		// Close raced with Subscribe; release the subscription we just got.
		if err := sub.Unsubscribe(); err != nil {
			a.logger.Warn().Err(err).Str("room_id", roomID).Msg("unsubscribe failed")
		}
	}
	return handle, nil
}

// Close releases handle. Closing nil, closed or superseded handles is a no-op.
func (a *Adapter) Close(handle *Handle) {
	if handle == nil {
		return
	}
	handle.mu.Lock()
	if handle.closed {
		handle.mu.Unlock()
		return
	}
	handle.closed = true
	sub := handle.sub
	handle.sub = nil
	handle.mu.Unlock()

	a.mu.Lock()
	if a.current == handle {
		a.current = nil
	}
	a.mu.Unlock()

	if sub == nil {
		return
	}
	if err := sub.Unsubscribe(); err != nil {
		a.logger.Warn().Err(err).Str("room_id", handle.roomID).Msg("unsubscribe failed")
	}
}

// Current returns the open handle, if any.
func (a *Adapter) Current() *Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *Adapter) deliver(handle *Handle, handlers Handlers, payload []byte) {
	if !handle.isOpen() {
		observability.IncSyncInsert("stale")
		return
	}
	msg, err := models.DecodeInsert(payload)
	if err != nil {
		observability.IncSyncInsert("malformed")
		a.logger.Warn().Err(err).Str("room_id", handle.roomID).Msg("dropping malformed insert event")
		return
	}
	if msg.RoomID != handle.roomID {
		observability.IncSyncInsert("malformed")
		a.logger.Warn().Str("room_id", handle.roomID).Str("event_room_id", msg.RoomID).Str("message_id", msg.ID).Msg("dropping insert for another room")
		return
	}
	if handlers.Insert != nil {
		handlers.Insert(msg)
	}
}
