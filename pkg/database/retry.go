package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	startupAttempts = 3
	startupBaseWait = time.Second
)

// startupRetry reruns a startup step while it fails with a connection error.
// Any other error is returned on the spot.
type startupRetry struct {
	attempts int
	baseWait time.Duration
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func newStartupRetry(logger *slog.Logger) startupRetry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return startupRetry{
		attempts: startupAttempts,
		baseWait: startupBaseWait,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

func (r startupRetry) run(ctx context.Context, step string, fn func() error) error {
	var err error
	for attempt := range r.attempts {
		if attempt > 0 {
			wait := jittered(r.baseWait << (attempt - 1))
			r.logger.Warn(step+" failed, retrying",
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", r.attempts),
				slog.Duration("backoff", wait),
				slog.String("error", err.Error()),
			)
			if serr := r.sleep(ctx, wait); serr != nil {
				return fmt.Errorf("%s: %w", step, serr)
			}
		}
		if err = fn(); err == nil || !isConnectionError(err) {
			return err
		}
	}
	return fmt.Errorf("%s after %d attempts: %w", step, r.attempts, err)
}

// jittered spreads d by up to 25% either way.
func jittered(d time.Duration) time.Duration {
	return d + time.Duration(float64(d)*0.25*(2*rand.Float64()-1)) // #nosec G404 -- retry jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isConnectionError reports whether err means the server could not be reached
// or dropped the session, as opposed to rejecting the statement itself.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exception; 57P01 and 57P03 are server
		// shutdown and startup.
		return strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "57P01" || pgErr.Code == "57P03"
	}

	var connErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.As(err, &connErr), errors.As(err, &netErr):
		return true
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return true
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return true
	}
	return pgconn.SafeToRetry(err)
}
