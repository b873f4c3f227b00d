// Package ratelimit implements a sliding-window request log used to throttle
// outbound deliveries per channel.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter allows at most limit requests in any window-long interval.
// It is safe for concurrent use.
type Limiter struct {
	mu         sync.Mutex
	limit      int
	window     time.Duration
	timestamps []time.Time
	nowFunc    func() time.Time
}

// Stats is a snapshot of the limiter window.
type Stats struct {
	Count   int
	Limit   int
	ResetAt time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.nowFunc = now
	}
}

// New creates a limiter that admits limit requests per window.
func New(limit int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		limit:   limit,
		window:  window,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records a request and returns true if it fits in the window.
// A rejected request is not recorded.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	l.evict(now)

	if len(l.timestamps) >= l.limit {
		return false
	}
	l.timestamps = append(l.timestamps, now)
	return true
}

// Stats returns the number of requests in the current window and when the
// oldest of them expires.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	l.evict(now)

	resetAt := now
	if len(l.timestamps) > 0 {
		resetAt = l.timestamps[0].Add(l.window)
	}

	return Stats{
		Count:   len(l.timestamps),
		Limit:   l.limit,
		ResetAt: resetAt,
	}
}

// Limit returns the configured request count and window.
func (l *Limiter) Limit() (int, time.Duration) {
	return l.limit, l.window
}

// Reset clears the window.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timestamps = nil
}

// evict drops timestamps that are at least one window old. Timestamps are
// appended in order so the expired ones form a prefix.
func (l *Limiter) evict(now time.Time) {
	i := 0
	for i < len(l.timestamps) && now.Sub(l.timestamps[i]) >= l.window {
		i++
	}
	if i > 0 {
		l.timestamps = append(l.timestamps[:0], l.timestamps[i:]...)
	}
}
