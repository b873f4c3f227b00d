// Package breaker isolates failing delivery channels behind a circuit breaker.
package breaker

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
)

// Errors returned when the breaker rejects a call without running it.
var (
	ErrCircuitOpen     = gobreaker.ErrOpenState
	ErrTooManyRequests = gobreaker.ErrTooManyRequests
)

// State names reported in health output.
const (
	StateClosed   = "CLOSED"
	StateHalfOpen = "HALF_OPEN"
	StateOpen     = "OPEN"
)

// Config holds the thresholds of a breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32

	// RecoveryTimeout is how long the breaker stays open before letting a probe through.
	RecoveryTimeout time.Duration

	// SuccessThreshold is the number of consecutive half-open successes that closes the breaker.
	SuccessThreshold uint32
}

// DefaultConfig returns the default breaker thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 3,
	}
}

var circuitBreakerState = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "notifier_circuit_breaker_state",
		Help: "Current state of the channel circuit breaker (0=closed, 1=half-open, 2=open)",
	},
	[]string{"channel"},
)

func init() {
	prometheus.MustRegister(circuitBreakerState)
}

// stateToFloat maps gobreaker states to prometheus gauge values.
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateName(state gobreaker.State) string {
	switch state {
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}

// Stats is a snapshot of a breaker.
type Stats struct {
	State                string     `json:"state"`
	ConsecutiveFailures  uint32     `json:"consecutive_failures"`
	ConsecutiveSuccesses uint32     `json:"consecutive_successes"`
	TotalRequests        uint32     `json:"total_requests"`
	LastFailure          *time.Time `json:"last_failure,omitempty"`
}

// Breaker guards one delivery channel. It is safe for concurrent use.
type Breaker struct {
	name    string
	cb      *gobreaker.CircuitBreaker[struct{}]
	exclude func(error) bool
	logger  *slog.Logger

	mu          sync.Mutex
	lastFailure time.Time
}

// New creates a breaker for the named channel. Errors for which exclude returns
// true are passed through without counting as success or failure.
func New(name string, cfg Config, exclude func(error) bool, logger *slog.Logger) *Breaker {
	if exclude == nil {
		exclude = func(error) bool { return false }
	}

	b := &Breaker{
		name:    name,
		exclude: exclude,
		logger:  logger,
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.SuccessThreshold,
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("channel", name),
				slog.String("from", stateName(from)),
				slog.String("to", stateName(to)),
			)
			circuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
		IsExcluded: exclude,
	}

	b.cb = gobreaker.NewCircuitBreaker[struct{}](settings)
	circuitBreakerState.WithLabelValues(name).Set(0)

	return b
}

// Execute runs fn through the breaker. When the breaker is open fn is not
// invoked and ErrCircuitOpen is returned.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	if err != nil && !b.exclude(err) && !IsRejection(err) {
		b.mu.Lock()
		b.lastFailure = time.Now()
		b.mu.Unlock()
	}
	return err
}

// Name returns the channel the breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state name.
func (b *Breaker) State() string {
	return stateName(b.cb.State())
}

// Stats returns the current counters and the time of the last counted failure.
func (b *Breaker) Stats() Stats {
	counts := b.cb.Counts()

	s := Stats{
		State:                stateName(b.cb.State()),
		ConsecutiveFailures:  counts.ConsecutiveFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		TotalRequests:        counts.Requests,
	}

	b.mu.Lock()
	if !b.lastFailure.IsZero() {
		lf := b.lastFailure
		s.LastFailure = &lf
	}
	b.mu.Unlock()

	return s
}

// IsRejection reports whether err came from the breaker itself rather than the guarded call.
func IsRejection(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests)
}
