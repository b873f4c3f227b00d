package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/utafrali/notifier/internal/domain"
	apperrors "github.com/utafrali/notifier/pkg/errors"
	pkgkafka "github.com/utafrali/notifier/pkg/kafka"
)

// TopicNotificationRequested carries notification requests from other services.
var TopicNotificationRequested = pkgkafka.Topic("notification", "requested")

// Consumer group ID for the notifier.
const ConsumerGroupID = "notifier"

// NotificationRequestedData is the payload of a notification.requested event.
type NotificationRequestedData struct {
	UserID       string          `json:"user_id"`
	Type         string          `json:"type"`
	Priority     domain.Priority `json:"priority"`
	Title        string          `json:"title"`
	Message      string          `json:"message"`
	Data         map[string]any  `json:"data"`
	Channels     []string        `json:"channels"`
	ScheduledFor *time.Time      `json:"scheduled_for"`
	DedupKey     string          `json:"dedup_key"`
}

// Input converts the payload into dispatcher input.
func (d *NotificationRequestedData) Input() *domain.CreateNotificationInput {
	channels := make([]domain.Channel, 0, len(d.Channels))
	for _, c := range d.Channels {
		channels = append(channels, domain.Channel(c))
	}
	return &domain.CreateNotificationInput{
		UserID:       d.UserID,
		Type:         d.Type,
		Priority:     d.Priority,
		Title:        d.Title,
		Message:      d.Message,
		Data:         d.Data,
		Channels:     channels,
		ScheduledFor: d.ScheduledFor,
		DedupKey:     d.DedupKey,
	}
}

// Enqueuer accepts notifications into the dispatch queue.
type Enqueuer interface {
	Queue(ctx context.Context, in *domain.CreateNotificationInput) (*domain.QueueResult, error)
}

// ConsumerHandler turns notification.requested events into queued notifications.
type ConsumerHandler struct {
	queue  Enqueuer
	logger *slog.Logger
}

// NewConsumerHandler creates a new event consumer handler.
func NewConsumerHandler(queue Enqueuer, logger *slog.Logger) *ConsumerHandler {
	return &ConsumerHandler{
		queue:  queue,
		logger: logger,
	}
}

// Handle queues the notification carried by a notification.requested event.
// Malformed or invalid requests are returned as permanent errors so the
// consumer dead-letters them at once. A full queue is a plain error and is
// retried. Other event types are ignored.
func (h *ConsumerHandler) Handle(ctx context.Context, event *pkgkafka.Event) error {
	ctx = event.Context(ctx)

	if event.EventType != TopicNotificationRequested {
		h.logger.WarnContext(ctx, "unknown event type received",
			slog.String("event_type", event.EventType),
			slog.String("event_id", event.EventID),
		)
		return nil
	}

	var data NotificationRequestedData
	if err := event.UnmarshalData(&data); err != nil {
		return pkgkafka.Permanent(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}

	result, err := h.queue.Queue(ctx, data.Input())
	if err != nil {
		err = fmt.Errorf("queue requested notification: %w", err)
		if errors.Is(err, apperrors.ErrInvalidInput) {
			return pkgkafka.Permanent(err)
		}
		return err
	}

	h.logger.InfoContext(ctx, "notification request queued",
		slog.String("event_id", event.EventID),
		slog.String("source", event.Source),
		slog.String("notification_id", result.Notification.ID),
		slog.Int("queue_size", result.QueueSize),
	)
	return nil
}

// NewConsumer creates the Kafka consumer for notification requests. Handling
// is idempotent on event ID when store is non-nil, and exhausted messages go
// to dlq when it is non-nil.
func NewConsumer(brokers []string, handler *ConsumerHandler, store pkgkafka.IdempotencyStore, dlq pkgkafka.DeadLetterPublisher, logger *slog.Logger) *pkgkafka.Consumer {
	handle := pkgkafka.Handler(handler.Handle)
	if store != nil {
		handle = pkgkafka.IdempotentHandler(store, handle, logger)
	}

	var opts []pkgkafka.ConsumerOption
	if dlq != nil {
		opts = append(opts, pkgkafka.WithDLQ(dlq))
	}

	cfg := pkgkafka.ConsumerConfig{
		Brokers:  brokers,
		GroupID:  ConsumerGroupID,
		Topic:    TopicNotificationRequested,
		MinBytes: 1,
		MaxBytes: 10e6,
	}

	return pkgkafka.NewConsumer(cfg, handle, logger, opts...)
}
