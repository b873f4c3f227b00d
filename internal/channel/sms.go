package channel

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/notifier/internal/domain"
	"github.com/utafrali/notifier/pkg/validator"
)

// MaxSMSLength is the number of characters an SMS body is truncated to.
const MaxSMSLength = 160

var smsTypes = map[string]struct{}{
	domain.TypeSecurityAlert:       {},
	domain.TypeSystemAlert:         {},
	domain.TypePasswordReset:       {},
	domain.TypeTwoFactorAuth:       {},
	domain.TypeAccountVerification: {},
	domain.TypeCriticalUpdate:      {},
}

// SMSProvider delivers urgent, security related notifications by text message.
type SMSProvider struct {
	*base
}

// NewSMSProvider creates an SMS provider on top of the given transport.
func NewSMSProvider(cfg Config, transport Transport, logger *slog.Logger) *SMSProvider {
	return &SMSProvider{base: newBase(domain.ChannelSMS, cfg, transport, logger)}
}

// Supports reports whether the type is on the SMS allowlist.
func (p *SMSProvider) Supports(notificationType string) bool {
	_, ok := smsTypes[notificationType]
	return ok
}

// Send texts "title: message" to data.phone_number, which must be in E.164 format.
func (p *SMSProvider) Send(ctx context.Context, n *domain.Notification, _ *domain.Preference) (SendResult, error) {
	if !p.Supports(n.Type) {
		return SendResult{}, fmt.Errorf("%w: %s over sms", ErrUnsupportedType, n.Type)
	}

	phone := n.DataString("phone_number")
	if phone == "" {
		return SendResult{}, fmt.Errorf("%w: data.phone_number is required", ErrInvalidRecipient)
	}
	if err := validator.Var(phone, "e164"); err != nil {
		return SendResult{}, fmt.Errorf("%w: %q is not an E.164 phone number", ErrInvalidRecipient, phone)
	}

	return p.deliver(ctx, &Message{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Type:           n.Type,
		Priority:       n.Priority,
		Recipient:      phone,
		RecipientKind:  RecipientPhoneNumber,
		Body:           smsBody(n.Title, n.Message),
		Data:           n.Data,
	})
}

func smsBody(title, message string) string {
	body := []rune(title + ": " + message)
	if len(body) > MaxSMSLength {
		body = body[:MaxSMSLength]
	}
	return string(body)
}
