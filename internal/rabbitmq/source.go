package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"chat-sync/internal/models"
	"chat-sync/internal/realtime"
)

const closeNotifyWait = time.Second

// Source consumes room inserts from the topic exchange the server publishes to.
// Each subscription gets its own channel and exclusive auto-delete queue.
type Source struct {
	conn     *amqp.Connection
	exchange string
	logger   zerolog.Logger
}

// DialSource connects to RabbitMQ and declares the exchange.
func DialSource(amqpURL, exchange string, logger zerolog.Logger) (*Source, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()
	if err := declareExchange(ch, exchange); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Source{conn: conn, exchange: exchange, logger: logger}, nil
}

// Subscribe binds a private queue to the room's routing key and starts consuming.
func (s *Source) Subscribe(ctx context.Context, roomID string, handlers realtime.RawHandlers) (realtime.Subscription, error) {
	ch, err := s.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, RoomRoutingKey(roomID), s.exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	tag := "chatsync-" + uuid.NewString()
	deliveries, err := ch.ConsumeWithContext(ctx, q.Name, tag, true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("consume: %w", err)
	}

	sub := &subscription{ch: ch, tag: tag, roomID: roomID, logger: s.logger}
	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	handlers.Status(models.StatusSubscribed)
	go sub.consume(deliveries, closed, handlers)
	return sub, nil
}

// Close closes the underlying connection.
func (s *Source) Close() error {
	return s.conn.Close()
}

type subscription struct {
	ch     *amqp.Channel
	tag    string
	roomID string
	logger zerolog.Logger

	once         sync.Once
	mu           sync.Mutex
	unsubscribed bool
}

func (s *subscription) consume(deliveries <-chan amqp.Delivery, closed <-chan *amqp.Error, handlers realtime.RawHandlers) {
	for d := range deliveries {
		handlers.Insert(d.Body)
	}

	s.mu.Lock()
	intentional := s.unsubscribed
	s.mu.Unlock()
	if intentional {
		return
	}

	select {
	case amqpErr, ok := <-closed:
		if ok && amqpErr != nil {
			s.logger.Warn().Str("room_id", s.roomID).Str("reason", amqpErr.Reason).Msg("amqp subscription failed")
			handlers.Status(models.StatusError)
			return
		}
	case <-time.After(closeNotifyWait):
	}
	handlers.Status(models.StatusClosed)
}

func (s *subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.unsubscribed = true
		s.mu.Unlock()
		if cerr := s.ch.Cancel(s.tag, false); cerr != nil {
			err = cerr
		}
		if cerr := s.ch.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}
