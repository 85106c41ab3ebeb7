package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chat-sync/internal/models"
	"chat-sync/internal/realtime"
)

// Source subscribes to room inserts over the server's websocket endpoint.
type Source struct {
	baseURL string
	userID  string
	dialer  *websocket.Dialer
	logger  zerolog.Logger
}

// NewSource builds a websocket source for baseURL (ws:// or wss://).
func NewSource(baseURL, userID string, logger zerolog.Logger) *Source {
	return &Source{
		baseURL: baseURL,
		userID:  userID,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:  logger,
	}
}

func (s *Source) roomURL(roomID string) (string, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse websocket url: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/rooms/" + roomID
	q := u.Query()
	q.Set("user_id", s.userID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Subscribe dials the room stream. The subscription is acknowledged once the handshake completes.
func (s *Source) Subscribe(ctx context.Context, roomID string, handlers realtime.RawHandlers) (realtime.Subscription, error) {
	target, err := s.roomURL(roomID)
	if err != nil {
		return nil, err
	}
	conn, _, err := s.dialer.DialContext(ctx, target, http.Header{"X-User-ID": {s.userID}})
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}

	sub := &clientSubscription{conn: conn, roomID: roomID, logger: s.logger}
	handlers.Status(models.StatusSubscribed)
	go sub.read(handlers)
	return sub, nil
}

type clientSubscription struct {
	conn   *websocket.Conn
	roomID string
	logger zerolog.Logger

	once   sync.Once
	mu     sync.Mutex
	closed bool
}

func (s *clientSubscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *clientSubscription) read(handlers realtime.RawHandlers) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.isClosed() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				handlers.Status(models.StatusClosed)
				return
			}
			s.logger.Warn().Err(err).Str("room_id", s.roomID).Msg("websocket subscription failed")
			handlers.Status(models.StatusError)
			return
		}

		var frame struct {
			Type    string          `json:"type"`
			Message json.RawMessage `json:"message"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Warn().Err(err).Str("room_id", s.roomID).Msg("dropping undecodable websocket frame")
			continue
		}
		if frame.Type != models.RoomEventMessage {
			continue
		}
		handlers.Insert(frame.Message)
	}
}

func (s *clientSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		deadline := time.Now().Add(time.Second)
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = s.conn.Close()
	})
	return err
}
