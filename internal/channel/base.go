package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/utafrali/notifier/internal/domain"
	"github.com/utafrali/notifier/internal/ratelimit"
)

// base carries the behaviour shared by every provider: the enabled flag, a
// rate limiter, and a periodic health probe against the transport.
type base struct {
	channel   domain.Channel
	cfg       Config
	transport Transport
	limiter   *ratelimit.Limiter
	logger    *slog.Logger
	nowFunc   func() time.Time

	mu     sync.RWMutex
	health Health

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

func newBase(ch domain.Channel, cfg Config, transport Transport, logger *slog.Logger) *base {
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 5 * time.Second
	}
	return &base{
		channel:   ch,
		cfg:       cfg,
		transport: transport,
		limiter:   ratelimit.New(cfg.RateLimit.Requests, cfg.RateLimit.Window),
		logger:    logger.With(slog.String("channel", string(ch))),
		nowFunc:   time.Now,
		// Providers start healthy until a probe says otherwise.
		health: Health{Healthy: true},
	}
}

func (b *base) Channel() domain.Channel {
	return b.channel
}

func (b *base) RateLimit() domain.RateLimit {
	return b.cfg.RateLimit
}

func (b *base) RateLimitStatus() domain.RateLimitStatus {
	s := b.limiter.Stats()
	return domain.RateLimitStatus{Count: s.Count, Limit: s.Limit, ResetAt: s.ResetAt}
}

// IsAvailable reports whether the channel is enabled and its last probe succeeded.
func (b *base) IsAvailable(_ context.Context) bool {
	return b.cfg.Enabled && b.Healthy()
}

func (b *base) Healthy() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.health.Healthy
}

func (b *base) Health() Health {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.health
}

// CheckHealth probes the transport and records the outcome.
func (b *base) CheckHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.HealthTimeout)
	defer cancel()

	err := b.transport.Ping(ctx)
	b.recordHealth(err)
	if err != nil {
		return fmt.Errorf("%s health check: %w", b.channel, err)
	}
	return nil
}

func (b *base) recordHealth(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasHealthy := b.health.Healthy
	b.health.Healthy = err == nil
	b.health.LastCheck = b.nowFunc()
	b.health.LastError = ""
	if err != nil {
		b.health.LastError = err.Error()
	}

	if wasHealthy && err != nil {
		b.logger.Warn("channel health check failed", slog.String("error", err.Error()))
	} else if !wasHealthy && err == nil {
		b.logger.Info("channel recovered")
	}
}

// Start runs an initial probe and then probes every HealthInterval until Stop.
func (b *base) Start(ctx context.Context) {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	if b.cancel != nil || b.cfg.HealthInterval <= 0 {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})

	go func() {
		defer close(b.done)

		_ = b.CheckHealth(loopCtx)

		ticker := time.NewTicker(b.cfg.HealthInterval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				_ = b.CheckHealth(loopCtx)
			}
		}
	}()
}

// Stop ends the health loop and waits for it to exit.
func (b *base) Stop() {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	if b.cancel == nil {
		return
	}
	b.cancel()
	<-b.done
	b.cancel = nil
	b.done = nil
}

// deliver applies the local gates and hands the message to the transport.
func (b *base) deliver(ctx context.Context, msg *Message) (SendResult, error) {
	if !b.cfg.Enabled {
		return SendResult{}, ErrChannelDisabled
	}
	if !b.Healthy() {
		return SendResult{}, ErrChannelUnhealthy
	}
	if !b.limiter.Allow() {
		return SendResult{}, ErrRateLimited
	}

	id, err := b.transport.Send(ctx, msg)
	if err != nil {
		return SendResult{Error: err.Error()}, fmt.Errorf("%w: %s: %w", ErrTransport, b.channel, err)
	}

	b.logger.DebugContext(ctx, "message handed to transport",
		slog.String("notification_id", msg.NotificationID),
		slog.String("message_id", id),
	)

	return SendResult{Success: true, MessageID: id}, nil
}
