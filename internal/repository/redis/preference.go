package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/notifier/internal/domain"
	"github.com/utafrali/notifier/internal/repository"
)

const keyPrefix = "notifier:pref:"

// PreferenceCache implements repository.PreferenceRepository as a read-through
// Redis cache in front of another preference store. Cache failures are logged
// and fall back to the underlying store.
type PreferenceCache struct {
	next   repository.PreferenceRepository
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewPreferenceCache wraps next with a Redis cache whose entries live for ttl.
func NewPreferenceCache(next repository.PreferenceRepository, client *redis.Client, ttl time.Duration, logger *slog.Logger) *PreferenceCache {
	return &PreferenceCache{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func cacheKey(userID, notificationType string) string {
	return keyPrefix + userID + ":" + notificationType
}

// Get returns the cached preference, loading it from the underlying store on a miss.
func (c *PreferenceCache) Get(ctx context.Context, userID, notificationType string) (*domain.Preference, error) {
	key := cacheKey(userID, notificationType)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p domain.Preference
		if err := json.Unmarshal(data, &p); err == nil {
			return &p, nil
		}
		c.logger.WarnContext(ctx, "discarding corrupt cached preference", slog.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.WarnContext(ctx, "preference cache read failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}

	p, err := c.next.Get(ctx, userID, notificationType)
	if err != nil {
		return nil, err
	}

	c.store(ctx, p)
	return p, nil
}

// Create persists the preference and populates the cache.
func (c *PreferenceCache) Create(ctx context.Context, p *domain.Preference) error {
	if err := c.next.Create(ctx, p); err != nil {
		return err
	}
	c.store(ctx, p)
	return nil
}

// Update persists the preference and drops the cached copy.
func (c *PreferenceCache) Update(ctx context.Context, p *domain.Preference) error {
	if err := c.next.Update(ctx, p); err != nil {
		return err
	}
	c.invalidate(ctx, p.UserID, p.NotificationType)
	return nil
}

// ListByUser is served by the underlying store.
func (c *PreferenceCache) ListByUser(ctx context.Context, userID string) ([]domain.Preference, error) {
	return c.next.ListByUser(ctx, userID)
}

func (c *PreferenceCache) store(ctx context.Context, p *domain.Preference) {
	data, err := json.Marshal(p)
	if err != nil {
		c.logger.WarnContext(ctx, "marshal preference for cache", slog.String("error", err.Error()))
		return
	}
	key := cacheKey(p.UserID, p.NotificationType)
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "preference cache write failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

func (c *PreferenceCache) invalidate(ctx context.Context, userID, notificationType string) {
	key := cacheKey(userID, notificationType)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.WarnContext(ctx, "preference cache invalidation failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}
