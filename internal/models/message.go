package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidMessage is returned when an insert payload lacks a required field.
var ErrInvalidMessage = errors.New("invalid message")

// Message represents a chat room message.
type Message struct {
	ID         string    `db:"id" json:"id"`
	RoomID     string    `db:"room_id" json:"room_id"`
	SenderID   string    `db:"sender_id" json:"sender_id"`
	SenderName string    `db:"sender_name" json:"sender_name"`
	Content    string    `db:"content" json:"content"`
	Attachment *string   `db:"attachment" json:"attachment,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	IsRead     bool      `db:"is_read" json:"is_read"`
	ReplyTo    *string   `db:"reply_to" json:"reply_to,omitempty"`
}

// Validate checks the fields every stored message carries.
func (m Message) Validate() error {
	switch {
	case strings.TrimSpace(m.ID) == "":
		return fmt.Errorf("%w: missing id", ErrInvalidMessage)
	case strings.TrimSpace(m.RoomID) == "":
		return fmt.Errorf("%w: missing room_id", ErrInvalidMessage)
	case strings.TrimSpace(m.SenderID) == "":
		return fmt.Errorf("%w: missing sender_id", ErrInvalidMessage)
	case m.CreatedAt.IsZero():
		return fmt.Errorf("%w: missing created_at", ErrInvalidMessage)
	}
	return nil
}

// DecodeInsert turns a raw insert payload into a validated message.
func DecodeInsert(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// RoomEvent is broadcasted through websockets.
type RoomEvent struct {
	Type    string   `json:"type"`
	Message *Message `json:"message,omitempty"`
}

// RoomEventMessage is the only event type emitted for rooms.
const RoomEventMessage = "message"
