package mocks

import (
	"context"
	"encoding/json"
	"sync"

	"chat-sync/internal/models"
	"chat-sync/internal/realtime"
)

// FakeSource is an in-memory live event source. Subscriptions acknowledge immediately unless HoldAck is set.
type FakeSource struct {
	mu      sync.Mutex
	calls   []string
	latest  map[string]*FakeSubscription
	Err     error
	HoldAck bool
}

// FakeSubscription records whether it was released.
type FakeSubscription struct {
	source   *FakeSource
	roomID   string
	handlers realtime.RawHandlers
	released bool
}

func NewFakeSource() *FakeSource {
	return &FakeSource{latest: make(map[string]*FakeSubscription)}
}

func (f *FakeSource) Subscribe(ctx context.Context, roomID string, handlers realtime.RawHandlers) (realtime.Subscription, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "subscribe:"+roomID)
	if f.Err != nil {
		err := f.Err
		f.mu.Unlock()
		return nil, err
	}
	sub := &FakeSubscription{source: f, roomID: roomID, handlers: handlers}
	f.latest[roomID] = sub
	hold := f.HoldAck
	f.mu.Unlock()

	if !hold {
		handlers.Status(models.StatusSubscribed)
	}
	return sub, nil
}

func (s *FakeSubscription) Unsubscribe() error {
	s.source.mu.Lock()
	defer s.source.mu.Unlock()
	if !s.released {
		s.released = true
		s.source.calls = append(s.source.calls, "unsubscribe:"+s.roomID)
	}
	return nil
}

// Emit delivers msg through the latest subscription for roomID, released or not.
func (f *FakeSource) Emit(roomID string, msg models.Message) {
	payload, _ := json.Marshal(msg)
	f.EmitRaw(roomID, payload)
}

// EmitRaw delivers an arbitrary payload through the latest subscription for roomID.
func (f *FakeSource) EmitRaw(roomID string, payload []byte) {
	if sub := f.subscription(roomID); sub != nil {
		sub.handlers.Insert(payload)
	}
}

// EmitStatus reports a connection status through the latest subscription for roomID.
func (f *FakeSource) EmitStatus(roomID string, status models.ConnectionStatus) {
	if sub := f.subscription(roomID); sub != nil {
		sub.handlers.Status(status)
	}
}

// Calls returns the ordered subscribe/unsubscribe log.
func (f *FakeSource) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Live counts subscriptions that have not been released.
func (f *FakeSource) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	live := 0
	for _, sub := range f.latest {
		if !sub.released {
			live++
		}
	}
	return live
}

func (f *FakeSource) subscription(roomID string) *FakeSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest[roomID]
}

var _ realtime.Source = (*FakeSource)(nil)
