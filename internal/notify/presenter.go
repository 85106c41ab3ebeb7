package notify

import (
	"context"

	"github.com/rs/zerolog"

	"chat-sync/internal/models"
	"chat-sync/internal/rabbitmq"
)

// Presenter asks the host platform to show a notification.
type Presenter interface {
	Present(ctx context.Context, n models.Notification) error
}

// AMQPPresenter forwards notifications to a push worker over RabbitMQ.
type AMQPPresenter struct {
	publisher  rabbitmq.Publisher
	routingKey string
}

func NewAMQPPresenter(publisher rabbitmq.Publisher, routingKey string) *AMQPPresenter {
	return &AMQPPresenter{publisher: publisher, routingKey: routingKey}
}

func (p *AMQPPresenter) Present(ctx context.Context, n models.Notification) error {
	return p.publisher.Publish(ctx, p.routingKey, n, nil)
}

// LogPresenter writes notifications to the log, for terminals without a push worker.
type LogPresenter struct {
	logger zerolog.Logger
}

func NewLogPresenter(logger zerolog.Logger) *LogPresenter {
	return &LogPresenter{logger: logger}
}

func (p *LogPresenter) Present(_ context.Context, n models.Notification) error {
	p.logger.Info().
		Str("title", n.Title).
		Str("body", n.Body).
		Str("room_id", n.Data.RoomID).
		Msg("notification")
	return nil
}
