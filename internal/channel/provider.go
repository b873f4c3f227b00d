// Package channel defines delivery channel providers and the registry that
// holds one provider per channel.
package channel

import (
	"context"
	"errors"
	"time"

	"github.com/utafrali/notifier/internal/domain"
)

// Errors returned by providers. The first group are local rejections that
// happen before the transport is touched.
var (
	ErrChannelDisabled  = errors.New("channel disabled")
	ErrRateLimited      = errors.New("channel rate limit exceeded")
	ErrChannelUnhealthy = errors.New("channel unhealthy")
	ErrUnsupportedType  = errors.New("notification type not supported by channel")
	ErrInvalidRecipient = errors.New("missing or invalid recipient")
	ErrTransport        = errors.New("transport error")
)

// IsLocalRejection reports whether err was produced by the provider itself
// without reaching the transport. Such errors say nothing about the health of
// the downstream service.
func IsLocalRejection(err error) bool {
	return errors.Is(err, ErrChannelDisabled) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrChannelUnhealthy) ||
		errors.Is(err, ErrUnsupportedType) ||
		errors.Is(err, ErrInvalidRecipient)
}

// SendResult is what a provider reports for a single delivery.
type SendResult struct {
	Success   bool
	MessageID string
	Error     string
}

// Health is the latest health probe outcome of a provider.
type Health struct {
	Healthy   bool
	LastError string
	LastCheck time.Time
}

// Provider delivers notifications over one channel.
type Provider interface {
	Channel() domain.Channel
	Send(ctx context.Context, n *domain.Notification, pref *domain.Preference) (SendResult, error)
	IsAvailable(ctx context.Context) bool
	Supports(notificationType string) bool
	RateLimit() domain.RateLimit
	RateLimitStatus() domain.RateLimitStatus

	Start(ctx context.Context)
	Stop()
	Healthy() bool
	Health() Health
	CheckHealth(ctx context.Context) error
}

// Message is the transport level representation of a notification.
type Message struct {
	NotificationID string
	UserID         string
	Type           string
	Priority       domain.Priority
	Recipient      string
	RecipientKind  string
	Subject        string
	Body           string
	Data           map[string]any
}

// Recipient kinds.
const (
	RecipientEmail       = "email"
	RecipientPhoneNumber = "phone_number"
	RecipientDeviceToken = "device_token"
	RecipientTopic       = "topic"
	RecipientUser        = "user"
)

// Transport moves a message to an external system.
type Transport interface {
	// Send delivers the message and returns the identifier assigned by the remote side.
	Send(ctx context.Context, msg *Message) (string, error)

	// Ping checks that the remote side is reachable.
	Ping(ctx context.Context) error
}

// Config holds the settings shared by all providers.
type Config struct {
	Enabled        bool
	RateLimit      domain.RateLimit
	HealthInterval time.Duration
	HealthTimeout  time.Duration
}

// DefaultEmailConfig returns the email provider defaults.
func DefaultEmailConfig() Config {
	return Config{
		Enabled:        true,
		RateLimit:      domain.RateLimit{Requests: 1000, Window: time.Minute},
		HealthInterval: 30 * time.Second,
		HealthTimeout:  5 * time.Second,
	}
}

// DefaultSMSConfig returns the SMS provider defaults.
func DefaultSMSConfig() Config {
	return Config{
		Enabled:        true,
		RateLimit:      domain.RateLimit{Requests: 30, Window: time.Minute},
		HealthInterval: 5 * time.Minute,
		HealthTimeout:  10 * time.Second,
	}
}

// DefaultPushConfig returns the push provider defaults.
func DefaultPushConfig() Config {
	return Config{
		Enabled:        true,
		RateLimit:      domain.RateLimit{Requests: 1000, Window: time.Minute},
		HealthInterval: 10 * time.Minute,
		HealthTimeout:  10 * time.Second,
	}
}

// DefaultInAppConfig returns the in-app provider defaults.
func DefaultInAppConfig() Config {
	return Config{
		Enabled:        true,
		RateLimit:      domain.RateLimit{Requests: 10000, Window: time.Minute},
		HealthInterval: time.Minute,
		HealthTimeout:  5 * time.Second,
	}
}
