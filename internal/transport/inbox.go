package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/notifier/internal/channel"
)

const inboxKeyPrefix = "notifier:inbox:"

// InboxEntry is one message in a user's in-app inbox.
type InboxEntry struct {
	ID             string         `json:"id"`
	NotificationID string         `json:"notification_id"`
	Type           string         `json:"type"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	Data           map[string]any `json:"data,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// RedisInbox keeps a bounded, newest-first list of in-app messages per user
// and announces each new entry on the user's pub/sub channel.
type RedisInbox struct {
	client  *redis.Client
	maxSize int64
	ttl     time.Duration
	nowFunc func() time.Time
}

// NewRedisInbox creates an in-app inbox transport. Inboxes keep at most
// maxSize entries and expire ttl after the last write.
func NewRedisInbox(client *redis.Client, maxSize int64, ttl time.Duration) *RedisInbox {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &RedisInbox{
		client:  client,
		maxSize: maxSize,
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

// InboxKey returns the list key holding userID's inbox.
func InboxKey(userID string) string {
	return inboxKeyPrefix + userID
}

// InboxChannel returns the pub/sub channel on which userID's new entries are announced.
func InboxChannel(userID string) string {
	return inboxKeyPrefix + userID + ":events"
}

// Send implements channel.Transport.
func (r *RedisInbox) Send(ctx context.Context, msg *channel.Message) (string, error) {
	entry := InboxEntry{
		ID:             uuid.NewString(),
		NotificationID: msg.NotificationID,
		Type:           msg.Type,
		Title:          msg.Subject,
		Message:        msg.Body,
		Data:           msg.Data,
		CreatedAt:      r.nowFunc().UTC(),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("marshal inbox entry: %w", err)
	}

	key := InboxKey(msg.Recipient)

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, r.maxSize-1)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	pipe.Publish(ctx, InboxChannel(msg.Recipient), data)

	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("redis write inbox: %w", err)
	}

	return entry.ID, nil
}

// List returns a page of userID's inbox, newest first, plus the inbox size.
func (r *RedisInbox) List(ctx context.Context, userID string, offset, limit int) ([]InboxEntry, int, error) {
	if limit <= 0 || int64(limit) > r.maxSize {
		limit = int(r.maxSize)
	}
	if offset < 0 {
		offset = 0
	}

	key := InboxKey(userID)

	pipe := r.client.Pipeline()
	lenCmd := pipe.LLen(ctx, key)
	rangeCmd := pipe.LRange(ctx, key, int64(offset), int64(offset+limit-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, 0, fmt.Errorf("redis read inbox: %w", err)
	}

	raw := rangeCmd.Val()
	entries := make([]InboxEntry, 0, len(raw))
	for _, item := range raw {
		var e InboxEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, 0, fmt.Errorf("unmarshal inbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, int(lenCmd.Val()), nil
}

// Ping implements channel.Transport.
func (r *RedisInbox) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
