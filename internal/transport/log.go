package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/notifier/internal/channel"
)

// Log is a transport that logs messages and always succeeds. It is used in
// development and for channels without a configured backend.
type Log struct {
	name   string
	delay  time.Duration
	logger *slog.Logger
}

// NewLog creates a logging transport. A positive delay simulates sending latency.
func NewLog(name string, delay time.Duration, logger *slog.Logger) *Log {
	return &Log{
		name:   name,
		delay:  delay,
		logger: logger,
	}
}

// Send implements channel.Transport.
func (l *Log) Send(ctx context.Context, msg *channel.Message) (string, error) {
	if l.delay > 0 {
		select {
		case <-time.After(l.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	id := "log-" + uuid.NewString()

	l.logger.InfoContext(ctx, "log transport: message sent",
		slog.String("transport", l.name),
		slog.String("message_id", id),
		slog.String("notification_id", msg.NotificationID),
		slog.String("user_id", msg.UserID),
		slog.String("recipient", msg.Recipient),
		slog.String("type", msg.Type),
		slog.String("subject", msg.Subject),
		slog.String("priority", string(msg.Priority)),
	)

	return id, nil
}

// Ping implements channel.Transport.
func (l *Log) Ping(context.Context) error {
	return nil
}
