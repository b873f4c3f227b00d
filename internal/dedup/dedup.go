// Package dedup suppresses repeated notifications that share a dedup key
// within a time window.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultWindow is how long a dedup key is remembered when no window is configured.
const DefaultWindow = 24 * time.Hour

const keyPrefix = "notifier:dedup:"

// Guard records dedup keys. Claim returns true the first time a key is seen
// within the window and false for every repeat.
type Guard interface {
	Claim(ctx context.Context, key string) (bool, error)
}

// RedisGuard implements Guard with SET NX and a TTL, so the window is shared by
// every instance that talks to the same Redis.
type RedisGuard struct {
	client *redis.Client
	window time.Duration
}

// NewRedisGuard creates a Redis-backed guard. A non-positive window uses DefaultWindow.
func NewRedisGuard(client *redis.Client, window time.Duration) *RedisGuard {
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisGuard{client: client, window: window}
}

// Claim atomically records key and reports whether it was new.
func (g *RedisGuard) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, keyPrefix+key, time.Now().UTC().Format(time.RFC3339), g.window).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx dedup key: %w", err)
	}
	return ok, nil
}

// MemoryGuard implements Guard in process. Expired keys are dropped lazily.
type MemoryGuard struct {
	mu      sync.Mutex
	entries map[string]time.Time
	window  time.Duration
	now     func() time.Time
}

// NewMemoryGuard creates an in-memory guard. A non-positive window uses DefaultWindow.
func NewMemoryGuard(window time.Duration) *MemoryGuard {
	if window <= 0 {
		window = DefaultWindow
	}
	return &MemoryGuard{
		entries: make(map[string]time.Time),
		window:  window,
		now:     time.Now,
	}
}

// Claim records key and reports whether it was new.
func (g *MemoryGuard) Claim(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if seen, ok := g.entries[key]; ok && now.Sub(seen) < g.window {
		return false, nil
	}
	g.entries[key] = now

	// Sweep expired keys once the map grows past the bound.
	if len(g.entries) > 10000 {
		for k, ts := range g.entries {
			if now.Sub(ts) >= g.window {
				delete(g.entries, k)
			}
		}
	}
	return true, nil
}

// Len returns the number of remembered keys, including expired ones not yet swept.
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
