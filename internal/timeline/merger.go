// Package timeline merges a room's initial message page with live inserts.
package timeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"chat-sync/internal/models"
)

// DefaultPageSize is the number of recent messages loaded when a room opens.
const DefaultPageSize = 50

// Loader fetches the most recent messages of a room in ascending creation order.
type Loader interface {
	RecentMessages(ctx context.Context, roomID string, limit int) ([]models.Message, error)
}

// Merger owns the ordered message list of the active room.
// It is not safe for concurrent use; the session controller serializes access.
type Merger struct {
	loader Loader
	logger zerolog.Logger

	roomID   string
	messages []models.Message
	index    map[string]struct{}
}

// NewMerger constructs an empty Merger.
func NewMerger(loader Loader, logger zerolog.Logger) *Merger {
	return &Merger{
		loader: loader,
		logger: logger.With().Str("component", "timeline").Logger(),
		index:  make(map[string]struct{}),
	}
}

// LoadInitial fetches the newest limit messages of roomID, ascending by created_at.
// It does not touch the merger's state; pass the result to Install.
func (m *Merger) LoadInitial(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	page, err := m.loader.RecentMessages(ctx, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("load messages for room %s: %w", roomID, err)
	}
	return m.normalizePage(roomID, page), nil
}

// normalizePage sorts by created_at and drops duplicates and rows that fail validation.
func (m *Merger) normalizePage(roomID string, page []models.Message) []models.Message {
	out := make([]models.Message, 0, len(page))
	seen := make(map[string]struct{}, len(page))
	for _, msg := range page {
		if err := msg.Validate(); err != nil || msg.RoomID != roomID {
			m.logger.Warn().Str("room_id", roomID).Str("message_id", msg.ID).Msg("dropping invalid message from initial page")
			continue
		}
		if _, dup := seen[msg.ID]; dup {
			continue
		}
		seen[msg.ID] = struct{}{}
		out = append(out, msg)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Install replaces the list with an initial page for roomID.
func (m *Merger) Install(roomID string, page []models.Message) []models.Message {
	m.roomID = roomID
	m.messages = make([]models.Message, 0, len(page))
	m.index = make(map[string]struct{}, len(page))
	for _, msg := range page {
		if _, dup := m.index[msg.ID]; dup {
			continue
		}
		m.index[msg.ID] = struct{}{}
		m.messages = append(m.messages, msg)
	}
	return m.Snapshot()
}

// ApplyInsert appends msg unless its id is already present. applied is false for duplicates and
// for messages of another room; the list is then returned unchanged. Existing entries are never
// reordered, so a message older than the tail is still appended.
func (m *Merger) ApplyInsert(msg models.Message) (list []models.Message, applied bool) {
	if msg.RoomID != m.roomID {
		return m.Snapshot(), false
	}
	if _, dup := m.index[msg.ID]; dup {
		return m.Snapshot(), false
	}
	if n := len(m.messages); n > 0 && msg.CreatedAt.Before(m.messages[n-1].CreatedAt) {
		m.logger.Debug().Str("room_id", m.roomID).Str("message_id", msg.ID).Msg("insert older than tail, appending in arrival order")
	}
	m.index[msg.ID] = struct{}{}
	m.messages = append(m.messages, msg)
	return m.Snapshot(), true
}

// MarkReadLocally mirrors a bulk read into the list and returns how many entries changed.
func (m *Merger) MarkReadLocally(currentUserID string) int {
	changed := 0
	for i := range m.messages {
		if m.messages[i].SenderID != currentUserID && !m.messages[i].IsRead {
			m.messages[i].IsRead = true
			changed++
		}
	}
	return changed
}

// Reset forgets the room and its messages.
func (m *Merger) Reset() {
	m.roomID = ""
	m.messages = nil
	m.index = make(map[string]struct{})
}

// RoomID returns the room the list belongs to, or "" after Reset.
func (m *Merger) RoomID() string {
	return m.roomID
}

// Snapshot returns a copy of the list.
func (m *Merger) Snapshot() []models.Message {
	out := make([]models.Message, len(m.messages))
	copy(out, m.messages)
	return out
}
