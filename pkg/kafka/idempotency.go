package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyStore remembers which event IDs were handled successfully.
// Implementations must be safe for concurrent use.
type IdempotencyStore interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
}

// sweepEvery is how many MarkProcessed calls pass between sweeps of expired
// entries in the memory store.
const sweepEvery = 256

// MemoryIdempotencyStore keeps processed event IDs in process memory for ttl.
// It only deduplicates redeliveries to the same instance.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
	ttl     time.Duration
	marks   int
	now     func() time.Time
}

// NewMemoryIdempotencyStore creates an in-memory store whose entries expire
// after ttl.
func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		expires: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryIdempotencyStore) Seen(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.expires[eventID]
	if !ok {
		return false, nil
	}
	if !s.now().Before(exp) {
		delete(s.expires, eventID)
		return false, nil
	}
	return true, nil
}

func (s *MemoryIdempotencyStore) MarkProcessed(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.expires[eventID] = now.Add(s.ttl)

	s.marks++
	if s.marks%sweepEvery == 0 {
		for id, exp := range s.expires {
			if !now.Before(exp) {
				delete(s.expires, id)
			}
		}
	}
	return nil
}

// Len returns the number of tracked IDs, expired ones not yet swept included.
func (s *MemoryIdempotencyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.expires)
}

// RedisIdempotencyStore keeps processed event IDs in Redis so every instance
// of a consumer group shares them.
type RedisIdempotencyStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisIdempotencyStore creates a Redis backed store. Keys are
// prefix+eventID and expire after ttl.
func NewRedisIdempotencyStore(client *redis.Client, prefix string, ttl time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisIdempotencyStore) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("check processed event %s: %w", eventID, err)
	}
	return n > 0, nil
}

func (s *RedisIdempotencyStore) MarkProcessed(ctx context.Context, eventID string) error {
	if err := s.client.Set(ctx, s.prefix+eventID, time.Now().UTC().Format(time.RFC3339), s.ttl).Err(); err != nil {
		return fmt.Errorf("mark processed event %s: %w", eventID, err)
	}
	return nil
}

// IdempotentHandler skips events whose ID the store has already seen. An
// event is marked only after inner succeeds, so a failed attempt is retried
// on redelivery. Events without an ID and store lookup failures fall through
// to inner.
func IdempotentHandler(store IdempotencyStore, inner Handler, logger *slog.Logger) Handler {
	return func(ctx context.Context, event *Event) error {
		if event.EventID == "" {
			return inner(ctx, event)
		}

		seen, err := store.Seen(ctx, event.EventID)
		if err != nil {
			logger.WarnContext(ctx, "idempotency lookup failed, handling event",
				slog.String("event_id", event.EventID),
				slog.String("error", err.Error()),
			)
		}
		if seen {
			consumerDuplicates.WithLabelValues(event.EventType).Inc()
			logger.DebugContext(ctx, "skipping duplicate event",
				slog.String("event_id", event.EventID),
				slog.String("event_type", event.EventType),
			)
			return nil
		}

		if err := inner(ctx, event); err != nil {
			return err
		}

		if err := store.MarkProcessed(ctx, event.EventID); err != nil {
			logger.WarnContext(ctx, "failed to mark event processed",
				slog.String("event_id", event.EventID),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}
}
