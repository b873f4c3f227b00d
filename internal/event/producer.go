package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/utafrali/notifier/internal/domain"
	pkgkafka "github.com/utafrali/notifier/pkg/kafka"
)

// Kafka topics for notification outcome events.
var (
	TopicNotificationSent       = pkgkafka.Topic("notification", "sent")
	TopicNotificationFailed     = pkgkafka.Topic("notification", "failed")
	TopicNotificationSuppressed = pkgkafka.Topic("notification", "suppressed")
)

// Aggregate type constant.
const AggregateTypeNotification = "notification"

// Source identifier for events originating from the notifier.
const SourceNotifier = "notifier"

// ChannelOutcome is the per-channel part of an outcome event.
type ChannelOutcome struct {
	Channel   string `json:"channel"`
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// NotificationSentData is the payload for a notification.sent event.
type NotificationSentData struct {
	ID       string           `json:"id"`
	UserID   string           `json:"user_id"`
	Type     string           `json:"type"`
	Priority string           `json:"priority"`
	Channels []ChannelOutcome `json:"channels"`
	SentAt   *time.Time       `json:"sent_at,omitempty"`
}

// NotificationFailedData is the payload for a notification.failed event.
type NotificationFailedData struct {
	ID               string           `json:"id"`
	UserID           string           `json:"user_id"`
	Type             string           `json:"type"`
	Priority         string           `json:"priority"`
	Channels         []ChannelOutcome `json:"channels"`
	DeliveryAttempts int              `json:"delivery_attempts"`
	Error            string           `json:"error"`
}

// NotificationSuppressedData is the payload for a notification.suppressed event.
type NotificationSuppressedData struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// Publisher is the part of pkg/kafka.Producer the event producer uses.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes notification outcome events to Kafka. A nil publisher
// turns every call into a no-op.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishNotificationSent publishes a notification.sent event.
func (p *Producer) PublishNotificationSent(ctx context.Context, n *domain.Notification, channels []domain.ChannelResult) error {
	data := NotificationSentData{
		ID:       n.ID,
		UserID:   n.UserID,
		Type:     n.Type,
		Priority: string(n.Priority),
		Channels: outcomes(channels),
		SentAt:   n.SentAt,
	}
	return p.publish(ctx, TopicNotificationSent, n, data)
}

// PublishNotificationFailed publishes a notification.failed event.
func (p *Producer) PublishNotificationFailed(ctx context.Context, n *domain.Notification, channels []domain.ChannelResult) error {
	data := NotificationFailedData{
		ID:               n.ID,
		UserID:           n.UserID,
		Type:             n.Type,
		Priority:         string(n.Priority),
		Channels:         outcomes(channels),
		DeliveryAttempts: n.DeliveryAttempts,
		Error:            n.ErrorMessage,
	}
	return p.publish(ctx, TopicNotificationFailed, n, data)
}

// PublishNotificationSuppressed publishes a notification.suppressed event.
func (p *Producer) PublishNotificationSuppressed(ctx context.Context, n *domain.Notification, reason string) error {
	data := NotificationSuppressedData{
		ID:     n.ID,
		UserID: n.UserID,
		Type:   n.Type,
		Reason: reason,
	}
	return p.publish(ctx, TopicNotificationSuppressed, n, data)
}

// publish wraps data in an event keyed by the notification ID. The type and
// priority ride along as metadata so consumers can filter on headers.
func (p *Producer) publish(ctx context.Context, topic string, n *domain.Notification, data any) error {
	if p.kafka == nil {
		return nil
	}

	event, err := pkgkafka.NewEventFromContext(ctx, topic, n.ID, AggregateTypeNotification, SourceNotifier, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	event.WithMetadata("notification_type", n.Type).
		WithMetadata("priority", string(n.Priority))

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published notification event",
		slog.String("topic", topic),
		slog.String("notification_id", n.ID),
	)

	return nil
}

func outcomes(channels []domain.ChannelResult) []ChannelOutcome {
	out := make([]ChannelOutcome, 0, len(channels))
	for _, c := range channels {
		out = append(out, ChannelOutcome{
			Channel:   string(c.Channel),
			Success:   c.Success,
			MessageID: c.MessageID,
			Error:     c.Error,
		})
	}
	return out
}
