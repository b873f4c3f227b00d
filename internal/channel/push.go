package channel

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/notifier/internal/domain"
)

var pushExcludedTypes = map[string]struct{}{
	domain.TypePasswordReset:     {},
	domain.TypeEmailVerification: {},
}

// PushProvider delivers mobile push notifications.
type PushProvider struct {
	*base
}

// NewPushProvider creates a push provider on top of the given transport.
func NewPushProvider(cfg Config, transport Transport, logger *slog.Logger) *PushProvider {
	return &PushProvider{base: newBase(domain.ChannelPush, cfg, transport, logger)}
}

// Supports rejects types that must not show up on a lock screen.
func (p *PushProvider) Supports(notificationType string) bool {
	_, excluded := pushExcludedTypes[notificationType]
	return !excluded
}

// Send pushes to data.device_token, or to the user's topic when no token is given.
func (p *PushProvider) Send(ctx context.Context, n *domain.Notification, _ *domain.Preference) (SendResult, error) {
	if !p.Supports(n.Type) {
		return SendResult{}, fmt.Errorf("%w: %s over push", ErrUnsupportedType, n.Type)
	}

	recipient, kind := n.DataString("device_token"), RecipientDeviceToken
	if recipient == "" {
		recipient, kind = UserTopic(n.UserID), RecipientTopic
	}

	return p.deliver(ctx, &Message{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Type:           n.Type,
		Priority:       n.Priority,
		Recipient:      recipient,
		RecipientKind:  kind,
		Subject:        n.Title,
		Body:           n.Message,
		Data:           n.Data,
	})
}

// UserTopic is the push topic every device of a user subscribes to.
func UserTopic(userID string) string {
	return "user-" + userID
}
