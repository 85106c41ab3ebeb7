package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"chat-sync/internal/models"
	"chat-sync/internal/rabbitmq"
	"chat-sync/internal/repositories"
	"chat-sync/internal/ws"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// RoomHandler serves the message store over HTTP and fans new messages out to live subscribers.
type RoomHandler struct {
	messages  repositories.MessageRepository
	hub       *ws.Hub
	publisher rabbitmq.Publisher
	logger    zerolog.Logger
}

func NewRoomHandler(messages repositories.MessageRepository, hub *ws.Hub, publisher rabbitmq.Publisher, logger zerolog.Logger) *RoomHandler {
	return &RoomHandler{messages: messages, hub: hub, publisher: publisher, logger: logger}
}

// ListMessages returns messages ascending by created_at. Without an offset it returns the newest page.
func (h *RoomHandler) ListMessages(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	limit, err := intQuery(c, "limit", defaultPageSize)
	if err != nil || limit <= 0 || limit > maxPageSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	var msgs []models.Message
	if raw, present := c.GetQuery("offset"); present {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
			return
		}
		msgs, err = h.messages.ListMessages(c.Request.Context(), roomID, limit, offset)
		if err != nil {
			h.internalError(c, err, "failed to load messages")
			return
		}
	} else {
		msgs, err = h.messages.RecentMessages(c.Request.Context(), roomID, limit)
		if err != nil {
			h.internalError(c, err, "failed to load messages")
			return
		}
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage stores a message and broadcasts it to websocket and AMQP subscribers.
func (h *RoomHandler) PostMessage(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	var req struct {
		Content    string  `json:"content"`
		SenderName string  `json:"sender_name"`
		Attachment *string `json:"attachment"`
		ReplyTo    *string `json:"reply_to"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Content) == "" && req.Attachment == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content or attachment is required"})
		return
	}

	if req.ReplyTo != nil {
		parent, err := h.messages.GetMessage(c.Request.Context(), *req.ReplyTo)
		if err != nil {
			if errors.Is(err, repositories.ErrMessageNotFound) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "reply_to message not found"})
				return
			}
			h.internalError(c, err, "failed to load reply_to message")
			return
		}
		if parent.RoomID != roomID {
			c.JSON(http.StatusBadRequest, gin.H{"error": "reply_to message belongs to another room"})
			return
		}
	}

	msg, err := h.messages.CreateMessage(c.Request.Context(), models.Message{
		RoomID:     roomID,
		SenderID:   userIDFromContext(c),
		SenderName: req.SenderName,
		Content:    req.Content,
		Attachment: req.Attachment,
		ReplyTo:    req.ReplyTo,
	})
	if err != nil {
		h.internalError(c, err, "failed to store message")
		return
	}

	h.hub.BroadcastMessage(roomID, msg)
	if err := h.publisher.Publish(c.Request.Context(), rabbitmq.RoomRoutingKey(roomID), msg, brokerHeaders(c)); err != nil {
		h.logger.Warn().Err(err).Str("room_id", roomID).Str("message_id", msg.ID).Msg("publish insert failed")
	}
	c.JSON(http.StatusCreated, msg)
}

// MarkRead marks every message in the room not sent by the caller as read.
func (h *RoomHandler) MarkRead(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	updated, err := h.messages.MarkRoomRead(c.Request.Context(), roomID, userIDFromContext(c))
	if err != nil {
		h.internalError(c, err, "failed to mark messages read")
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

func (h *RoomHandler) Unread(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	n, err := h.messages.CountUnread(c.Request.Context(), roomID, userIDFromContext(c))
	if err != nil {
		h.internalError(c, err, "failed to count unread messages")
		return
	}
	c.JSON(http.StatusOK, models.UnreadCount{RoomID: roomID, Unread: n})
}

func (h *RoomHandler) internalError(c *gin.Context, err error, msg string) {
	h.logger.Error().Err(err).Str("request_id", requestIDFromContext(c)).Str("path", c.FullPath()).Msg(msg)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}

func roomIDParam(c *gin.Context) (string, bool) {
	roomID := strings.TrimSpace(c.Param("room_id"))
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return "", false
	}
	return roomID, true
}

func intQuery(c *gin.Context, key string, fallback int) (int, error) {
	raw, ok := c.GetQuery(key)
	if !ok {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
