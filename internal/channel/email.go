package channel

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/notifier/internal/domain"
	"github.com/utafrali/notifier/pkg/validator"
)

// EmailProvider delivers notifications by email. It accepts every notification type.
type EmailProvider struct {
	*base
}

// NewEmailProvider creates an email provider on top of the given transport.
func NewEmailProvider(cfg Config, transport Transport, logger *slog.Logger) *EmailProvider {
	return &EmailProvider{base: newBase(domain.ChannelEmail, cfg, transport, logger)}
}

// Supports reports whether the provider accepts the notification type.
func (p *EmailProvider) Supports(string) bool {
	return true
}

// Send emails the notification title as subject and message as body to data.email.
func (p *EmailProvider) Send(ctx context.Context, n *domain.Notification, _ *domain.Preference) (SendResult, error) {
	to := n.DataString("email")
	if to == "" {
		return SendResult{}, fmt.Errorf("%w: data.email is required", ErrInvalidRecipient)
	}
	if err := validator.Var(to, "email"); err != nil {
		return SendResult{}, fmt.Errorf("%w: %q is not an email address", ErrInvalidRecipient, to)
	}

	return p.deliver(ctx, &Message{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Type:           n.Type,
		Priority:       n.Priority,
		Recipient:      to,
		RecipientKind:  RecipientEmail,
		Subject:        n.Title,
		Body:           n.Message,
		Data:           n.Data,
	})
}
