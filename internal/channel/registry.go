package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/utafrali/notifier/internal/domain"
)

// Registry holds at most one provider per channel. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[domain.Channel]Provider
	logger    *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		providers: make(map[domain.Channel]Provider),
		logger:    logger,
	}
}

// Register adds p, replacing and stopping any provider already registered for its channel.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	old, exists := r.providers[p.Channel()]
	r.providers[p.Channel()] = p
	r.mu.Unlock()

	if exists && old != p {
		old.Stop()
		r.logger.Info("channel provider replaced", slog.String("channel", string(p.Channel())))
	}
}

// Unregister removes and stops the provider for c. It reports whether one was registered.
func (r *Registry) Unregister(c domain.Channel) bool {
	r.mu.Lock()
	p, ok := r.providers[c]
	delete(r.providers, c)
	r.mu.Unlock()

	if ok {
		p.Stop()
	}
	return ok
}

// Get returns the provider for c.
func (r *Registry) Get(c domain.Channel) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[c]
	return p, ok
}

// Channels returns the registered channels in delivery order.
func (r *Registry) Channels() []domain.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Channel, 0, len(r.providers))
	for _, c := range domain.Channels() {
		if _, ok := r.providers[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// SupportingChannels returns the registered channels whose provider accepts the type.
func (r *Registry) SupportingChannels(notificationType string) []domain.Channel {
	out := make([]domain.Channel, 0, 4)
	for _, p := range r.snapshot() {
		if p.Supports(notificationType) {
			out = append(out, p.Channel())
		}
	}
	return out
}

// CheckAllHealth probes every provider concurrently. A failing or panicking
// probe is reported for its own channel only.
func (r *Registry) CheckAllHealth(ctx context.Context) map[domain.Channel]error {
	providers := r.snapshot()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[domain.Channel]error, len(providers))
	)

	for _, p := range providers {
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()
			err := probe(ctx, p)
			mu.Lock()
			results[p.Channel()] = err
			mu.Unlock()
		}(p)
	}

	wg.Wait()
	return results
}

func probe(ctx context.Context, p Provider) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("health check panicked: %v", rec)
		}
	}()
	return p.CheckHealth(ctx)
}

// RateLimitStatus returns the current window of every provider.
func (r *Registry) RateLimitStatus() map[domain.Channel]domain.RateLimitStatus {
	out := make(map[domain.Channel]domain.RateLimitStatus)
	for _, p := range r.snapshot() {
		out[p.Channel()] = p.RateLimitStatus()
	}
	return out
}

// Start starts the health loop of every provider.
func (r *Registry) Start(ctx context.Context) {
	for _, p := range r.snapshot() {
		p.Start(ctx)
	}
}

// Stop stops every provider.
func (r *Registry) Stop() {
	for _, p := range r.snapshot() {
		p.Stop()
	}
}

// snapshot returns the providers in delivery order without holding the lock
// while callers talk to them.
func (r *Registry) snapshot() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, 0, len(r.providers))
	for _, c := range domain.Channels() {
		if p, ok := r.providers[c]; ok {
			out = append(out, p)
		}
	}
	return out
}
