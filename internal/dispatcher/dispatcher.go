// Package dispatcher routes notifications to their delivery channels. It owns
// the per-channel circuit breakers, the priority queue with its periodic flush,
// and the retry sweep over failed notifications.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/utafrali/notifier/internal/breaker"
	"github.com/utafrali/notifier/internal/channel"
	"github.com/utafrali/notifier/internal/dedup"
	"github.com/utafrali/notifier/internal/domain"
	"github.com/utafrali/notifier/internal/repository"
	apperrors "github.com/utafrali/notifier/pkg/errors"
)

const tracerName = "github.com/utafrali/notifier/internal/dispatcher"

// Errors recorded in channel results or returned to callers.
var (
	ErrProviderNotRegistered = errors.New("no provider registered for channel")
	ErrCircuitOpen           = breaker.ErrCircuitOpen
	ErrTransport             = channel.ErrTransport
	ErrPersistence           = errors.New("persistence failure")
	ErrNoEnabledChannels     = errors.New("no enabled channels")
)

// Config holds the queue, retry and isolation settings of the dispatcher.
type Config struct {
	MaxQueueSize  int
	BatchSize     int
	FlushInterval time.Duration

	RetryAttempts  int
	RetryDelay     time.Duration
	RetryInterval  time.Duration
	RetryBatchSize int

	// SendTimeout bounds a single provider call. Zero leaves calls unbounded.
	SendTimeout time.Duration
	// TimeoutCountsAsFailure decides whether a send that hits SendTimeout counts
	// towards opening the channel's breaker.
	TimeoutCountsAsFailure bool
	// RetryHonorsQuietHours re-applies quiet hours when failed notifications are retried.
	RetryHonorsQuietHours bool

	Breaker breaker.Config
}

// DefaultConfig returns the default dispatcher settings.
func DefaultConfig() Config {
	return Config{
		MaxQueueSize:           10000,
		BatchSize:              100,
		FlushInterval:          5 * time.Second,
		RetryAttempts:          3,
		RetryDelay:             30 * time.Second,
		RetryInterval:          time.Minute,
		RetryBatchSize:         100,
		TimeoutCountsAsFailure: true,
		RetryHonorsQuietHours:  true,
		Breaker:                breaker.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = def.MaxQueueSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = def.FlushInterval
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = def.RetryAttempts
	}
	if c.RetryBatchSize <= 0 {
		c.RetryBatchSize = def.RetryBatchSize
	}
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker = def.Breaker
	}
	return c
}

// PreferenceSource resolves the preference that governs a notification.
type PreferenceSource interface {
	Get(ctx context.Context, userID, notificationType string) (*domain.Preference, error)
}

// EventPublisher announces dispatch outcomes to other services.
type EventPublisher interface {
	PublishNotificationSent(ctx context.Context, n *domain.Notification, channels []domain.ChannelResult) error
	PublishNotificationFailed(ctx context.Context, n *domain.Notification, channels []domain.ChannelResult) error
	PublishNotificationSuppressed(ctx context.Context, n *domain.Notification, reason string) error
}

// Ticker is the part of time.Ticker the background loop needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	t *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Deps are the collaborators of the dispatcher. Dedup, Events, Now and
// NewTicker are optional.
type Deps struct {
	Store       repository.NotificationRepository
	Preferences PreferenceSource
	Registry    *channel.Registry
	Dedup       dedup.Guard
	Events      EventPublisher
	Logger      *slog.Logger
	Now         func() time.Time
	NewTicker   func(time.Duration) Ticker
}

// Dispatcher delivers notifications over their enabled channels.
type Dispatcher struct {
	cfg       Config
	store     repository.NotificationRepository
	prefs     PreferenceSource
	registry  *channel.Registry
	dedup     dedup.Guard
	events    EventPublisher
	logger    *slog.Logger
	now       func() time.Time
	newTicker func(time.Duration) Ticker
	tracer    trace.Tracer
	breakers  map[domain.Channel]*breaker.Breaker

	mu    sync.Mutex
	queue []*domain.Notification

	flushing atomic.Bool
	retrying atomic.Bool
	stopped  atomic.Bool

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a dispatcher with one circuit breaker per channel.
func New(cfg Config, deps Deps) *Dispatcher {
	cfg = cfg.withDefaults()

	d := &Dispatcher{
		cfg:       cfg,
		store:     deps.Store,
		prefs:     deps.Preferences,
		registry:  deps.Registry,
		dedup:     deps.Dedup,
		events:    deps.Events,
		logger:    deps.Logger,
		now:       deps.Now,
		newTicker: deps.NewTicker,
		tracer:    otel.Tracer(tracerName),
		breakers:  make(map[domain.Channel]*breaker.Breaker, len(domain.Channels())),
	}
	if d.now == nil {
		d.now = func() time.Time { return time.Now().UTC() }
	}
	if d.newTicker == nil {
		d.newTicker = newTimeTicker
	}

	// Local rejections and caller cancellation say nothing about the downstream
	// service and are not counted.
	exclude := func(err error) bool {
		if channel.IsLocalRejection(err) || errors.Is(err, context.Canceled) {
			return true
		}
		return !cfg.TimeoutCountsAsFailure && errors.Is(err, context.DeadlineExceeded)
	}
	for _, ch := range domain.Channels() {
		d.breakers[ch] = breaker.New(string(ch), cfg.Breaker, exclude, d.logger)
	}

	return d
}

// Dispatch validates the input and delivers the notification immediately.
// Only validation errors are returned; delivery failures are reported in the result.
func (d *Dispatcher) Dispatch(ctx context.Context, in *domain.CreateNotificationInput) (*domain.DispatchResult, error) {
	n, err := domain.NewNotification(in, uuid.New().String(), d.now())
	if err != nil {
		return nil, err
	}

	result := d.dispatchSingle(ctx, n, false)
	return &result, nil
}

// Queue validates the input and appends the notification to the dispatch queue.
// A full queue is rejected with a QueueFull error and a stopped dispatcher
// with ServiceUnavailable. Critical notifications trigger a flush before Queue returns.
func (d *Dispatcher) Queue(ctx context.Context, in *domain.CreateNotificationInput) (*domain.QueueResult, error) {
	n, err := domain.NewNotification(in, uuid.New().String(), d.now())
	if err != nil {
		return nil, err
	}
	if d.stopped.Load() {
		return nil, apperrors.ServiceUnavailable("dispatcher is stopped")
	}
	snapshot := *n

	d.mu.Lock()
	if len(d.queue) >= d.cfg.MaxQueueSize {
		d.mu.Unlock()
		d.logger.WarnContext(ctx, "dispatch queue full, rejecting notification",
			slog.String("user_id", n.UserID),
			slog.Int("capacity", d.cfg.MaxQueueSize),
		)
		return nil, apperrors.QueueFull(d.cfg.MaxQueueSize)
	}
	d.queue = append(d.queue, n)
	size := len(d.queue)
	queueSize.Set(float64(size))
	d.mu.Unlock()

	d.logger.DebugContext(ctx, "notification queued",
		slog.String("notification_id", n.ID),
		slog.String("priority", string(n.Priority)),
		slog.Int("queue_size", size),
	)

	result := &domain.QueueResult{Notification: snapshot, QueueSize: size}
	if n.IsCritical() {
		result.Flushed = d.ProcessQueue(ctx)
	}
	return result, nil
}

// ProcessQueue dispatches up to BatchSize queued notifications, highest
// priority first. Notifications scheduled for later stay queued. When another
// flush is already running it returns an empty result without touching the queue.
func (d *Dispatcher) ProcessQueue(ctx context.Context) *domain.BatchDispatchResult {
	result := &domain.BatchDispatchResult{Results: make([]domain.DispatchResult, 0)}

	if !d.flushing.CompareAndSwap(false, true) {
		return result
	}
	defer d.flushing.Store(false)

	start := time.Now()
	for _, n := range d.takeBatch(d.now()) {
		result.Add(d.dispatchSingle(ctx, n, false))
	}
	result.Duration = time.Since(start)

	if result.Total > 0 {
		d.logger.InfoContext(ctx, "dispatch queue flushed",
			slog.Int("total", result.Total),
			slog.Int("successful", result.Successful),
			slog.Int("failed", result.Failed),
			slog.Duration("duration", result.Duration),
		)
	}

	return result
}

func (d *Dispatcher) takeBatch(now time.Time) []*domain.Notification {
	d.mu.Lock()
	defer d.mu.Unlock()

	sort.SliceStable(d.queue, func(i, j int) bool {
		return d.queue[i].Priority.Rank() > d.queue[j].Priority.Rank()
	})

	batch := make([]*domain.Notification, 0, min(d.cfg.BatchSize, len(d.queue)))
	remaining := make([]*domain.Notification, 0, len(d.queue))
	for _, n := range d.queue {
		due := n.ScheduledFor == nil || !n.ScheduledFor.After(now)
		if due && len(batch) < d.cfg.BatchSize {
			batch = append(batch, n)
			continue
		}
		remaining = append(remaining, n)
	}

	d.queue = remaining
	queueSize.Set(float64(len(remaining)))
	return batch
}

// RetryFailed re-dispatches failed notifications that are below the attempt
// ceiling and were last updated more than the retry delay ago. Only the status of a retried
// notification is written back. A concurrent sweep returns an empty result.
func (d *Dispatcher) RetryFailed(ctx context.Context) (*domain.BatchDispatchResult, error) {
	result := &domain.BatchDispatchResult{Results: make([]domain.DispatchResult, 0)}

	if !d.retrying.CompareAndSwap(false, true) {
		return result, nil
	}
	defer d.retrying.Store(false)

	start := time.Now()
	cutoff := d.now().Add(-d.cfg.RetryDelay)

	failed, err := d.store.List(ctx, repository.Filter{
		Status:        domain.StatusFailed,
		AttemptsBelow: d.cfg.RetryAttempts,
		UpdatedBefore: &cutoff,
		Limit:         d.cfg.RetryBatchSize,
	})
	if err != nil {
		return result, fmt.Errorf("%w: list failed notifications: %w", ErrPersistence, err)
	}

	for i := range failed {
		result.Add(d.dispatchSingle(ctx, &failed[i], true))
	}
	result.Duration = time.Since(start)

	if result.Total > 0 {
		d.logger.InfoContext(ctx, "failed notifications retried",
			slog.Int("total", result.Total),
			slog.Int("successful", result.Successful),
			slog.Int("failed", result.Failed),
		)
	}

	return result, nil
}

// ChannelHealth probes every registered provider and reports its availability,
// breaker state and rate limit window. A failing probe only affects its own channel.
func (d *Dispatcher) ChannelHealth(ctx context.Context) []domain.ChannelHealth {
	probes := d.registry.CheckAllHealth(ctx)

	out := make([]domain.ChannelHealth, 0, len(probes))
	for _, ch := range d.registry.Channels() {
		p, ok := d.registry.Get(ch)
		if !ok {
			continue
		}

		h := p.Health()
		entry := domain.ChannelHealth{
			Channel:         ch,
			Available:       p.IsAvailable(ctx),
			CircuitState:    d.breakers[ch].State(),
			RateLimit:       p.RateLimit(),
			RateLimitStatus: p.RateLimitStatus(),
			LastError:       h.LastError,
		}
		if err := probes[ch]; err != nil {
			entry.Available = false
			entry.LastError = err.Error()
		}
		if !h.LastCheck.IsZero() {
			lastCheck := h.LastCheck
			entry.LastCheck = &lastCheck
		}

		out = append(out, entry)
	}

	return out
}

// QueueStats reports the queue length by priority and whether a flush is running.
func (d *Dispatcher) QueueStats() domain.QueueStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	byPriority := make(map[domain.Priority]int, len(domain.Priorities()))
	for _, p := range domain.Priorities() {
		byPriority[p] = 0
	}
	for _, n := range d.queue {
		byPriority[n.Priority]++
	}

	return domain.QueueStats{
		Size:       len(d.queue),
		InFlight:   d.flushing.Load(),
		ByPriority: byPriority,
	}
}

// BreakerStats returns a snapshot of every channel breaker.
func (d *Dispatcher) BreakerStats() map[domain.Channel]breaker.Stats {
	out := make(map[domain.Channel]breaker.Stats, len(d.breakers))
	for ch, b := range d.breakers {
		out[ch] = b.Stats()
	}
	return out
}

// dispatchSingle runs the delivery pipeline for one notification. In retry mode
// the notification is already stored, so only its status is written back, and
// the dedup guard is skipped. Cancelling ctx does not abort a delivery once it
// has started; SendTimeout is the only bound on provider calls.
func (d *Dispatcher) dispatchSingle(ctx context.Context, n *domain.Notification, retry bool) domain.DispatchResult {
	ctx = context.WithoutCancel(ctx)
	ctx, span := d.tracer.Start(ctx, "dispatcher.dispatch",
		trace.WithAttributes(
			attribute.String("notification.id", n.ID),
			attribute.String("notification.type", n.Type),
			attribute.String("notification.priority", string(n.Priority)),
			attribute.Bool("notification.retry", retry),
		),
	)
	defer span.End()

	start := time.Now()
	now := d.now()
	result := domain.DispatchResult{
		Notification: n,
		Channels:     make([]domain.ChannelResult, 0, len(n.Channels)),
	}

	pref := d.resolvePreference(ctx, n, now)

	if reason := d.suppressionReason(pref, n, now, retry); reason != "" {
		if retry {
			d.settleSuppressedRetry(ctx, n, reason, now)
		}
		d.suppress(ctx, n, &result, reason)
		span.SetAttributes(attribute.String("notification.suppressed", reason))
		result.Duration = time.Since(start)
		return result
	}

	if !retry && n.DedupKey != "" && d.dedup != nil {
		first, err := d.dedup.Claim(ctx, n.UserID+":"+n.DedupKey)
		if err != nil {
			d.logger.WarnContext(ctx, "dedup guard unavailable, dispatching anyway",
				slog.String("notification_id", n.ID),
				slog.String("error", err.Error()),
			)
		} else if !first {
			d.suppress(ctx, n, &result, domain.SuppressedDuplicate)
			span.SetAttributes(attribute.String("notification.suppressed", domain.SuppressedDuplicate))
			result.Duration = time.Since(start)
			return result
		}
	}

	if err := n.TransitionTo(domain.StatusQueued, now); err != nil {
		result.Error = err.Error()
		span.SetStatus(codes.Error, result.Error)
		result.Duration = time.Since(start)
		return result
	}

	if !retry {
		if err := d.store.Create(ctx, n); err != nil {
			d.persistenceFailed(ctx, n, "create", err)
		}
	}

	channels := enabledChannels(n.Channels, pref)
	for _, ch := range channels {
		cr := d.sendChannel(ctx, ch, n, pref)
		if cr.Success {
			result.OverallSuccess = true
		}
		result.Channels = append(result.Channels, cr)
	}

	finished := d.now()
	if result.OverallSuccess {
		_ = n.TransitionTo(domain.StatusSent, finished)
	} else {
		_ = n.TransitionTo(domain.StatusFailed, finished)
		if len(channels) == 0 {
			result.Error = ErrNoEnabledChannels.Error()
			n.ErrorMessage = result.Error
		} else {
			n.ErrorMessage = joinErrors(result.Channels)
		}
		span.SetStatus(codes.Error, n.ErrorMessage)
	}

	if err := d.store.UpdateStatus(ctx, n.ID, repository.StatusUpdateFrom(n)); err != nil {
		d.persistenceFailed(ctx, n, "update", err)
	}

	notificationsTotal.WithLabelValues(string(n.Status)).Inc()
	d.publish(ctx, n, result.Channels)

	d.logger.InfoContext(ctx, "notification dispatched",
		slog.String("notification_id", n.ID),
		slog.String("user_id", n.UserID),
		slog.String("status", string(n.Status)),
		slog.Int("channels", len(channels)),
		slog.Bool("retry", retry),
	)

	result.Duration = time.Since(start)
	return result
}

func (d *Dispatcher) resolvePreference(ctx context.Context, n *domain.Notification, now time.Time) *domain.Preference {
	pref, err := d.prefs.Get(ctx, n.UserID, n.Type)
	if err != nil {
		d.logger.WarnContext(ctx, "preference lookup failed, using defaults",
			slog.String("notification_id", n.ID),
			slog.String("user_id", n.UserID),
			slog.String("error", err.Error()),
		)
		return domain.DefaultPreference(n.UserID, n.Type, now)
	}
	return pref
}

func (d *Dispatcher) suppressionReason(pref *domain.Preference, n *domain.Notification, now time.Time, retry bool) string {
	reason := pref.SuppressionReason(n, now)
	if retry && reason == domain.SuppressedQuietHours && !d.cfg.RetryHonorsQuietHours {
		if n.ScheduledFor != nil && n.ScheduledFor.After(now) {
			return domain.SuppressedScheduled
		}
		return ""
	}
	return reason
}

// settleSuppressedRetry writes back a retry that was suppressed so the sweep
// moves past it. A disabled preference cancels the notification. Any other
// reason keeps it failed and restarts its retry delay.
func (d *Dispatcher) settleSuppressedRetry(ctx context.Context, n *domain.Notification, reason string, now time.Time) {
	if reason == domain.SuppressedDisabled {
		if err := n.TransitionTo(domain.StatusCancelled, now); err != nil {
			d.logger.WarnContext(ctx, "cannot cancel suppressed retry",
				slog.String("notification_id", n.ID),
				slog.String("error", err.Error()),
			)
			return
		}
		n.ErrorMessage = reason
	} else {
		n.UpdatedAt = now
	}

	if err := d.store.UpdateStatus(ctx, n.ID, repository.StatusUpdateFrom(n)); err != nil {
		d.persistenceFailed(ctx, n, "update", err)
	}
}

func (d *Dispatcher) suppress(ctx context.Context, n *domain.Notification, result *domain.DispatchResult, reason string) {
	result.Suppressed = true
	result.OverallSuccess = true
	result.SuppressionReason = reason

	notificationsTotal.WithLabelValues("suppressed").Inc()

	if d.events != nil {
		if err := d.events.PublishNotificationSuppressed(ctx, n, reason); err != nil {
			d.logger.WarnContext(ctx, "failed to publish notification.suppressed event",
				slog.String("notification_id", n.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	d.logger.InfoContext(ctx, "notification suppressed",
		slog.String("notification_id", n.ID),
		slog.String("user_id", n.UserID),
		slog.String("reason", reason),
	)
}

// sendChannel delivers over one channel through its breaker. Every failure is
// captured in the returned result.
func (d *Dispatcher) sendChannel(ctx context.Context, ch domain.Channel, n *domain.Notification, pref *domain.Preference) domain.ChannelResult {
	start := time.Now()
	cr := domain.ChannelResult{Channel: ch}

	var (
		res channel.SendResult
		err error
	)

	provider, ok := d.registry.Get(ch)
	cb, hasBreaker := d.breakers[ch]
	switch {
	case !ok:
		err = fmt.Errorf("%w: %s", ErrProviderNotRegistered, ch)
	case !hasBreaker:
		err = fmt.Errorf("no circuit breaker for channel %s", ch)
	default:
		err = cb.Execute(func() error {
			sendCtx := ctx
			if d.cfg.SendTimeout > 0 {
				var cancel context.CancelFunc
				sendCtx, cancel = context.WithTimeout(ctx, d.cfg.SendTimeout)
				defer cancel()
			}

			var sendErr error
			res, sendErr = provider.Send(sendCtx, n, pref)
			if sendErr != nil {
				return sendErr
			}
			if !res.Success {
				return fmt.Errorf("%w: %s: %s", ErrTransport, ch, res.Error)
			}
			return nil
		})
	}

	dispatchDuration.WithLabelValues(string(ch)).Observe(time.Since(start).Seconds())

	if err != nil {
		retryAt := d.now().Add(d.cfg.RetryDelay)
		cr.Error = err.Error()
		cr.RetryAt = &retryAt
		dispatchTotal.WithLabelValues(string(ch), outcomeFailure).Inc()

		d.logger.WarnContext(ctx, "channel delivery failed",
			slog.String("notification_id", n.ID),
			slog.String("channel", string(ch)),
			slog.String("error", err.Error()),
		)
		return cr
	}

	cr.Success = true
	cr.MessageID = res.MessageID
	dispatchTotal.WithLabelValues(string(ch), outcomeSuccess).Inc()
	return cr
}

func (d *Dispatcher) publish(ctx context.Context, n *domain.Notification, channels []domain.ChannelResult) {
	if d.events == nil {
		return
	}

	var err error
	if n.Status == domain.StatusSent {
		err = d.events.PublishNotificationSent(ctx, n, channels)
	} else {
		err = d.events.PublishNotificationFailed(ctx, n, channels)
	}
	if err != nil {
		d.logger.WarnContext(ctx, "failed to publish notification event",
			slog.String("notification_id", n.ID),
			slog.String("status", string(n.Status)),
			slog.String("error", err.Error()),
		)
	}
}

func (d *Dispatcher) persistenceFailed(ctx context.Context, n *domain.Notification, op string, err error) {
	err = fmt.Errorf("%w: %s notification: %w", ErrPersistence, op, err)
	d.logger.ErrorContext(ctx, "notification bookkeeping failed, continuing delivery",
		slog.String("notification_id", n.ID),
		slog.String("error", err.Error()),
	)
}

// enabledChannels intersects the requested channels with the preference, in
// enumeration order.
func enabledChannels(requested []domain.Channel, pref *domain.Preference) []domain.Channel {
	wanted := make(map[domain.Channel]struct{}, len(requested))
	for _, c := range requested {
		wanted[c] = struct{}{}
	}

	out := make([]domain.Channel, 0, len(requested))
	for _, c := range pref.EnabledChannels() {
		if _, ok := wanted[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

func joinErrors(results []domain.ChannelResult) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		if !r.Success {
			parts = append(parts, fmt.Sprintf("%s: %s", r.Channel, r.Error))
		}
	}
	return strings.Join(parts, "; ")
}
