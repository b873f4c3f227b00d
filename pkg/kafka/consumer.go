package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// maxHandlerRetries is the maximum number of times a message handler will be
// attempted before the message is dead-lettered (or skipped) and committed.
const maxHandlerRetries = 3

// defaultRetryBackoff is multiplied by the attempt number between handler retries.
const defaultRetryBackoff = 100 * time.Millisecond

// Handler is a function that processes a Kafka event.
type Handler func(ctx context.Context, event *Event) error

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks a handler error that retrying cannot fix. The consumer
// dead-letters such messages on the first failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe permanentError
	return errors.As(err, &pe)
}

// ConsumerConfig holds Kafka consumer configuration.
type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topic    string
	MinBytes int
	MaxBytes int
}

// DeadLetterPublisher receives messages whose handler failed on every attempt.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, originalMsg kafka.Message, lastErr error, consumerGroup string) error
}

// ConsumerOption customizes a Consumer.
type ConsumerOption func(*Consumer)

// WithDLQ routes poison messages to the given dead-letter publisher instead of dropping them.
func WithDLQ(dlq DeadLetterPublisher) ConsumerOption {
	return func(c *Consumer) {
		c.dlq = dlq
	}
}

// Consumer wraps the kafka-go reader for consuming events.
type Consumer struct {
	reader    *kafka.Reader
	topic     string
	group     string
	logger    *slog.Logger
	handler   Handler
	dlq       DeadLetterPublisher
	backoff   time.Duration
	closeOnce sync.Once
}

// NewConsumer creates a new Kafka consumer for a specific topic and group.
func NewConsumer(cfg ConsumerConfig, handler Handler, logger *slog.Logger, opts ...ConsumerOption) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
	})

	c := &Consumer{
		reader:  r,
		topic:   cfg.Topic,
		group:   cfg.GroupID,
		logger:  logger,
		handler: handler,
		backoff: defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins consuming messages. It blocks until the context is canceled.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started",
		slog.String("topic", c.topic),
		slog.String("group", c.group),
		slog.Bool("dlq", c.dlq != nil),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping", slog.String("topic", c.topic))
			return c.Close()
		default:
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Error("failed to fetch message", slog.String("error", err.Error()))
				continue
			}

			if err := c.process(ctx, msg); err != nil && ctx.Err() != nil {
				return nil
			}

			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				c.logger.Error("failed to commit message", slog.String("error", err.Error()))
			}
		}
	}
}

// process handles one fetched message. It returns an error only when the
// message must not be committed.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	countConsumed(c.topic, c.group, outcomeReceived)

	msgCtx := ExtractTraceContext(ctx, &msg)
	msgCtx, span := otel.Tracer(tracerName).Start(msgCtx, "kafka.consume "+msg.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.String("messaging.kafka.consumer.group", c.group),
			attribute.Int("messaging.kafka.destination.partition", msg.Partition),
			attribute.Int64("messaging.kafka.message.offset", msg.Offset),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		consumerProcessingDuration.WithLabelValues(c.topic, c.group).Observe(time.Since(start).Seconds())
	}()

	log := c.logger.With(
		slog.String("topic", msg.Topic),
		slog.Int("partition", msg.Partition),
		slog.Int64("offset", msg.Offset),
	)

	event, err := UnmarshalEvent(msg.Value)
	if err != nil {
		log.ErrorContext(msgCtx, "failed to unmarshal event", slog.String("error", err.Error()))
		span.SetStatus(codes.Error, "unmarshal event")
		c.deadLetter(msgCtx, msg, fmt.Errorf("unmarshal event: %w", err))
		return nil
	}
	span.SetAttributes(attribute.String("messaging.message.id", event.EventID))
	log = log.With(
		slog.String("event_type", event.EventType),
		slog.String("aggregate_id", event.AggregateID),
	)

	lastErr := c.handleWithRetry(msgCtx, log, event)
	if lastErr == nil {
		countConsumed(c.topic, c.group, outcomeProcessed)
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	log.ErrorContext(msgCtx, "giving up on message",
		slog.String("error", lastErr.Error()),
		slog.Bool("permanent", IsPermanent(lastErr)),
	)
	c.deadLetter(msgCtx, msg, lastErr)
	return nil
}

// handleWithRetry runs the handler up to maxHandlerRetries times with linear
// backoff, stopping early on a Permanent error. It returns the last error.
func (c *Consumer) handleWithRetry(ctx context.Context, log *slog.Logger, event *Event) error {
	var err error
	for attempt := 1; attempt <= maxHandlerRetries; attempt++ {
		if err = c.handler(ctx, event); err == nil || IsPermanent(err) {
			return err
		}
		log.WarnContext(ctx, "handler failed",
			slog.String("error", err.Error()),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxHandlerRetries),
		)
		if attempt == maxHandlerRetries {
			break
		}

		t := time.NewTimer(time.Duration(attempt) * c.backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, lastErr error) {
	if c.dlq == nil {
		countConsumed(c.topic, c.group, outcomeFailed)
		return
	}
	if err := c.dlq.Publish(ctx, msg, lastErr, c.group); err != nil {
		c.logger.Error("failed to dead-letter message",
			slog.String("topic", msg.Topic),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
		countConsumed(c.topic, c.group, outcomeFailed)
		return
	}
	countConsumed(c.topic, c.group, outcomeDeadLettered)
}

// Close closes the consumer. It is safe to call multiple times.
func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.reader != nil {
			err = c.reader.Close()
		}
	})
	return err
}

// TopicPrefix is the standard prefix for all notifier Kafka topics.
const TopicPrefix = "notifier"

// Topic constructs a fully-qualified topic name.
func Topic(domain, action string) string {
	return fmt.Sprintf("%s.%s.%s", TopicPrefix, domain, action)
}
