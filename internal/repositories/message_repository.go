package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/oklog/ulid/v2"

	"chat-sync/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for room messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	RecentMessages(ctx context.Context, roomID string, limit int) ([]models.Message, error)
	ListMessages(ctx context.Context, roomID string, limit, offset int) ([]models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	MarkRoomRead(ctx context.Context, roomID string, userID string) (int64, error)
	CountUnread(ctx context.Context, roomID string, userID string) (int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, room_id, sender_id, sender_name, content, attachment, created_at, is_read, reply_to`

// CreateMessage stores a message and assigns it a time-ordered id.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	var stored models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (id, room_id, sender_id, sender_name, content, attachment, created_at, reply_to)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING `+messageColumns,
		msg.ID, msg.RoomID, msg.SenderID, msg.SenderName, msg.Content, msg.Attachment, msg.CreatedAt, msg.ReplyTo).
		StructScan(&stored)
	return stored, err
}

// RecentMessages returns the newest limit messages of a room in ascending creation order.
func (r *MessageRepo) RecentMessages(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM (
            SELECT ` + messageColumns + ` FROM messages WHERE room_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2
        ) recent ORDER BY created_at ASC, id ASC`
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, roomID, limit)
	return msgs, err
}

// ListMessages returns a page of room messages ordered by creation.
func (r *MessageRepo) ListMessages(ctx context.Context, roomID string, limit, offset int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages WHERE room_id=$1 ORDER BY created_at ASC, id ASC LIMIT $2 OFFSET $3`, roomID, limit, offset)
	return msgs, err
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// MarkRoomRead marks every unread message from other senders as read and returns the affected row count.
func (r *MessageRepo) MarkRoomRead(ctx context.Context, roomID string, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET is_read = TRUE WHERE room_id=$1 AND sender_id<>$2 AND is_read = FALSE`, roomID, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountUnread counts unread messages from other senders.
func (r *MessageRepo) CountUnread(ctx context.Context, roomID string, userID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages WHERE room_id=$1 AND sender_id<>$2 AND is_read = FALSE`, roomID, userID)
	return count, err
}
