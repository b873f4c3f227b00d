package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/utafrali/notifier/internal/channel"
	"github.com/utafrali/notifier/pkg/httpclient"
)

// SMSWebhookConfig points the SMS transport at an HTTP relay.
type SMSWebhookConfig struct {
	URL       string
	HealthURL string
	APIKey    string
	Sender    string
}

// SMSWebhook posts text messages to an SMS relay over HTTP.
type SMSWebhook struct {
	client *httpclient.Client
	cfg    SMSWebhookConfig
}

type smsRequest struct {
	To             string `json:"to"`
	From           string `json:"from,omitempty"`
	Body           string `json:"body"`
	NotificationID string `json:"notification_id"`
}

type smsResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// NewSMSWebhook creates an SMS transport.
func NewSMSWebhook(cfg SMSWebhookConfig, client *httpclient.Client) (*SMSWebhook, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: sms webhook url is required", ErrInvalidConfig)
	}
	return &SMSWebhook{client: client, cfg: cfg}, nil
}

// Send implements channel.Transport.
func (s *SMSWebhook) Send(ctx context.Context, msg *channel.Message) (string, error) {
	resp, err := s.client.PostJSON(ctx, s.cfg.URL, smsRequest{
		To:             msg.Recipient,
		From:           s.cfg.Sender,
		Body:           msg.Body,
		NotificationID: msg.NotificationID,
	}, s.headers())
	if err != nil {
		return "", fmt.Errorf("sms gateway: %w", err)
	}

	if resp.StatusCode >= 300 {
		return "", httpclient.ParseResponseError(resp, "sms-gateway")
	}
	defer func() { _ = resp.Body.Close() }()

	var out smsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode sms gateway response: %w", err)
	}
	if out.Status == "rejected" {
		return "", fmt.Errorf("sms gateway rejected message %s", out.MessageID)
	}
	return out.MessageID, nil
}

// Ping implements channel.Transport. Without a health URL the relay is assumed reachable.
func (s *SMSWebhook) Ping(ctx context.Context) error {
	if s.cfg.HealthURL == "" {
		return nil
	}
	resp, err := s.client.Get(ctx, s.cfg.HealthURL)
	if err != nil {
		return fmt.Errorf("sms gateway health: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return httpclient.ParseResponseError(resp, "sms-gateway")
	}
	return resp.Body.Close()
}

func (s *SMSWebhook) headers() map[string]string {
	if s.cfg.APIKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + s.cfg.APIKey}
}
