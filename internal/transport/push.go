package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/utafrali/notifier/internal/channel"
	"github.com/utafrali/notifier/internal/domain"
)

// AMQPPublisher publishes a single message to an exchange.
type AMQPPublisher interface {
	Publish(ctx context.Context, exchange, key string, msg amqp091.Publishing) error
	IsClosed() bool
	Close() error
}

// rabbitPublisher opens a short-lived channel per publish on a shared connection.
type rabbitPublisher struct {
	conn *amqp091.Connection
}

// DialAMQP connects to RabbitMQ and declares the durable topic exchange used for pushes.
func DialAMQP(url, exchange string) (AMQPPublisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &rabbitPublisher{conn: conn}, nil
}

func (r *rabbitPublisher) Publish(ctx context.Context, exchange, key string, msg amqp091.Publishing) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("open amqp channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	return ch.PublishWithContext(ctx, exchange, key, false, false, msg)
}

func (r *rabbitPublisher) IsClosed() bool {
	return r.conn.IsClosed()
}

func (r *rabbitPublisher) Close() error {
	return r.conn.Close()
}

// PushPayload is the body consumed by the push gateway.
type PushPayload struct {
	NotificationID string         `json:"notification_id"`
	UserID         string         `json:"user_id"`
	Target         string         `json:"target"`
	TargetKind     string         `json:"target_kind"`
	Title          string         `json:"title"`
	Body           string         `json:"body"`
	Type           string         `json:"type"`
	Data           map[string]any `json:"data,omitempty"`
}

// AMQPPush hands push notifications to a gateway through a RabbitMQ exchange.
// Routing keys are "push.<target kind>".
type AMQPPush struct {
	pub      AMQPPublisher
	exchange string
	logger   *slog.Logger
	nowFunc  func() time.Time
}

// NewAMQPPush creates a push transport on top of pub.
func NewAMQPPush(pub AMQPPublisher, exchange string, logger *slog.Logger) *AMQPPush {
	return &AMQPPush{
		pub:      pub,
		exchange: exchange,
		logger:   logger,
		nowFunc:  time.Now,
	}
}

// Send implements channel.Transport.
func (p *AMQPPush) Send(ctx context.Context, msg *channel.Message) (string, error) {
	body, err := json.Marshal(PushPayload{
		NotificationID: msg.NotificationID,
		UserID:         msg.UserID,
		Target:         msg.Recipient,
		TargetKind:     msg.RecipientKind,
		Title:          msg.Subject,
		Body:           msg.Body,
		Type:           msg.Type,
		Data:           msg.Data,
	})
	if err != nil {
		return "", fmt.Errorf("marshal push payload: %w", err)
	}

	id := uuid.NewString()
	key := "push." + msg.RecipientKind

	err = p.pub.Publish(ctx, p.exchange, key, amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		Priority:      amqpPriority(msg.Priority),
		MessageId:     id,
		CorrelationId: msg.NotificationID,
		Timestamp:     p.nowFunc(),
		Body:          body,
	})
	if err != nil {
		return "", fmt.Errorf("publish push: %w", err)
	}

	p.logger.DebugContext(ctx, "push published",
		slog.String("exchange", p.exchange),
		slog.String("key", key),
		slog.String("notification_id", msg.NotificationID),
	)
	return id, nil
}

// Ping implements channel.Transport.
func (p *AMQPPush) Ping(_ context.Context) error {
	if p.pub.IsClosed() {
		return errors.New("amqp connection closed")
	}
	return nil
}

// Close closes the underlying connection.
func (p *AMQPPush) Close() error {
	return p.pub.Close()
}

func amqpPriority(p domain.Priority) uint8 {
	switch p {
	case domain.PriorityCritical:
		return 9
	case domain.PriorityHigh:
		return 6
	case domain.PriorityMedium:
		return 3
	default:
		return 0
	}
}
