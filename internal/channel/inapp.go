package channel

import (
	"context"
	"log/slog"

	"github.com/utafrali/notifier/internal/domain"
)

// InAppProvider stores notifications in the user's in-app inbox.
type InAppProvider struct {
	*base
}

// NewInAppProvider creates an in-app provider on top of the given transport.
func NewInAppProvider(cfg Config, transport Transport, logger *slog.Logger) *InAppProvider {
	return &InAppProvider{base: newBase(domain.ChannelInApp, cfg, transport, logger)}
}

// Supports accepts every notification type.
func (p *InAppProvider) Supports(string) bool {
	return true
}

// Send writes the notification to the inbox of n.UserID.
func (p *InAppProvider) Send(ctx context.Context, n *domain.Notification, _ *domain.Preference) (SendResult, error) {
	return p.deliver(ctx, &Message{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Type:           n.Type,
		Priority:       n.Priority,
		Recipient:      n.UserID,
		RecipientKind:  RecipientUser,
		Subject:        n.Title,
		Body:           n.Message,
		Data:           n.Data,
	})
}
