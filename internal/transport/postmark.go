// Package transport contains the adapters that move messages to external
// delivery systems. Each adapter implements channel.Transport.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"

	"github.com/utafrali/notifier/internal/channel"
)

// ErrInvalidConfig is returned when a transport is constructed with missing settings.
var ErrInvalidConfig = errors.New("invalid transport configuration")

// PostmarkConfig holds the Postmark credentials and sender identity.
type PostmarkConfig struct {
	ServerToken  string
	AccountToken string
	From         string
	ReplyTo      string

	// BaseURL overrides the API endpoint.
	BaseURL string
}

// Postmark sends email through the Postmark transactional API.
type Postmark struct {
	client *postmark.Client
	cfg    PostmarkConfig
}

// NewPostmark creates a Postmark transport.
func NewPostmark(cfg PostmarkConfig) (*Postmark, error) {
	if cfg.ServerToken == "" {
		return nil, fmt.Errorf("%w: postmark server token is required", ErrInvalidConfig)
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("%w: postmark sender address is required", ErrInvalidConfig)
	}

	client := postmark.NewClient(cfg.ServerToken, cfg.AccountToken)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}

	return &Postmark{client: client, cfg: cfg}, nil
}

// Send implements channel.Transport.
func (p *Postmark) Send(ctx context.Context, msg *channel.Message) (string, error) {
	resp, err := p.client.SendEmail(ctx, postmark.Email{
		From:     p.cfg.From,
		ReplyTo:  p.cfg.ReplyTo,
		To:       msg.Recipient,
		Subject:  msg.Subject,
		TextBody: msg.Body,
		Tag:      msg.Type,
		Headers: []postmark.Header{
			{Name: "X-Notification-ID", Value: msg.NotificationID},
		},
	})
	if err != nil {
		return "", fmt.Errorf("postmark send: %w", err)
	}
	if resp.ErrorCode > 0 {
		return "", fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message)
	}
	return resp.MessageID, nil
}

// Ping implements channel.Transport by fetching the server the token belongs to.
func (p *Postmark) Ping(ctx context.Context) error {
	if _, err := p.client.GetCurrentServer(ctx); err != nil {
		return fmt.Errorf("postmark ping: %w", err)
	}
	return nil
}
