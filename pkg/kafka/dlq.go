package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// DLQTopicPrefix is prepended to a source topic to name its dead-letter topic.
const DLQTopicPrefix = "notifier.dlq"

// DLQTopic names the dead-letter topic for originalTopic.
func DLQTopic(originalTopic string) string {
	return DLQTopicPrefix + "." + originalTopic
}

// messageWriter is the part of *kafka.Writer the dead-letter producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DLQProducer parks messages the consumer gave up on. Each write is
// acknowledged by all replicas before Publish returns.
type DLQProducer struct {
	writer messageWriter
	logger *slog.Logger
	now    func() time.Time
}

var _ DeadLetterPublisher = (*DLQProducer)(nil)

// NewDLQProducer creates a synchronous dead-letter producer.
func NewDLQProducer(brokers []string, logger *slog.Logger) *DLQProducer {
	return &DLQProducer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			BatchSize:    1,
			BatchTimeout: 100 * time.Millisecond,
			RequiredAcks: kafka.RequireAll,
		},
		logger: logger,
		now:    time.Now,
	}
}

// Publish copies msg to its dead-letter topic. The original key, value and
// headers are kept and dlq.* headers record where the message came from and
// why it failed.
func (d *DLQProducer) Publish(ctx context.Context, msg kafka.Message, lastErr error, group string) error {
	out := deadLetter(msg, lastErr, group, d.now())
	log := d.logger.With(
		slog.String("dlq_topic", out.Topic),
		slog.String("original_topic", msg.Topic),
		slog.Int("partition", msg.Partition),
		slog.Int64("offset", msg.Offset),
	)

	err := d.writer.WriteMessages(ctx, out)
	countPublished(out.Topic, err)
	if err != nil {
		log.ErrorContext(ctx, "dead-letter publish failed", slog.String("error", err.Error()))
		return fmt.Errorf("publish to DLQ %s: %w", out.Topic, err)
	}

	log.WarnContext(ctx, "message dead-lettered", slog.String("consumer_group", group))
	return nil
}

// Close flushes and closes the writer.
func (d *DLQProducer) Close() error {
	return d.writer.Close()
}

func deadLetter(msg kafka.Message, lastErr error, group string, at time.Time) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Headers)+6)
	headers = append(headers, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: "dlq.original_topic", Value: []byte(msg.Topic)},
		kafka.Header{Key: "dlq.original_partition", Value: strconv.AppendInt(nil, int64(msg.Partition), 10)},
		kafka.Header{Key: "dlq.original_offset", Value: strconv.AppendInt(nil, msg.Offset, 10)},
		kafka.Header{Key: "dlq.consumer_group", Value: []byte(group)},
		kafka.Header{Key: "dlq.failed_at", Value: at.UTC().AppendFormat(nil, time.RFC3339)},
	)
	if lastErr != nil {
		headers = append(headers, kafka.Header{Key: "dlq.error", Value: []byte(lastErr.Error())})
	}
	return kafka.Message{
		Topic:   DLQTopic(msg.Topic),
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
}
