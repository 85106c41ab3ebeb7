package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/rabbitmq"
)

const (
	wsKind       = "room"
	wsRoutingKey = "ws_events.rooms"
	writeTimeout = 5 * time.Second
)

// Hub maintains active websocket rooms.
type Hub struct {
	rooms     map[string]map[*websocket.Conn]bool
	connInfo  map[string]map[*websocket.Conn]ConnInfo
	mu        sync.RWMutex
	publisher rabbitmq.Publisher
	logger    zerolog.Logger
}

// NewHub creates an empty hub. Connection lifecycle events go to publisher.
func NewHub(publisher rabbitmq.Publisher, logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:     make(map[string]map[*websocket.Conn]bool),
		connInfo:  make(map[string]map[*websocket.Conn]ConnInfo),
		publisher: publisher,
		logger:    logger,
	}
}

// AddClient registers a websocket connection to a room.
func (h *Hub) AddClient(roomID string, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[*websocket.Conn]bool)
	}
	h.rooms[roomID][conn] = true
	if _, ok := h.connInfo[roomID]; !ok {
		h.connInfo[roomID] = make(map[*websocket.Conn]ConnInfo)
	}
	h.connInfo[roomID][conn] = info
}

// RemoveClient removes a websocket connection.
func (h *Hub) RemoveClient(roomID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[roomID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.rooms, roomID)
		}
	}
	if infos, ok := h.connInfo[roomID]; ok {
		delete(infos, conn)
		if len(infos) == 0 {
			delete(h.connInfo, roomID)
		}
	}
}

// ClientCount returns the number of connections subscribed to a room.
func (h *Hub) ClientCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// BroadcastMessage sends an insert event to all clients in a room.
func (h *Hub) BroadcastMessage(roomID string, msg models.Message) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.rooms[roomID]))
	for conn := range h.rooms[roomID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	event := models.RoomEvent{Type: models.RoomEventMessage, Message: &msg}
	payload, _ := json.Marshal(event)
	for _, conn := range conns {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Warn().Err(err).Str("room_id", roomID).Msg("websocket write error")
			h.publishWSEvent(roomID, conn, "ws_error", err.Error())
			conn.Close()
			h.RemoveClient(roomID, conn)
		}
	}
}

func (h *Hub) publishWSEvent(roomID string, conn *websocket.Conn, event, reason string) {
	info, ok := h.getConnInfo(roomID, conn)
	if !ok {
		return
	}
	h.publishConnEvent(context.Background(), roomID, info, event, reason)
}

func (h *Hub) publishConnEvent(ctx context.Context, roomID string, info ConnInfo, event, reason string) {
	observability.IncWSEvent(wsKind, event)
	if h.publisher == nil {
		return
	}
	payload := observability.WSEventPayload(wsKind, roomID, event, info.ConnID, info.UserID, info.DeviceID, info.IP, reason, time.Since(info.ConnectedAt).Milliseconds())
	_ = h.publisher.Publish(ctx, wsRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}

func (h *Hub) getConnInfo(roomID string, conn *websocket.Conn) (ConnInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if infos, ok := h.connInfo[roomID]; ok {
		info, exists := infos[conn]
		return info, exists
	}
	return ConnInfo{}, false
}
