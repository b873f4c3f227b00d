package dispatcher

import (
	"context"
	"log/slog"
	"time"
)

// drainPollInterval is how long Stop waits for a concurrent flush before draining again.
const drainPollInterval = 10 * time.Millisecond

// Start launches the background loop that flushes the queue every
// FlushInterval and retries failed notifications every RetryInterval.
// Calling Start on a running dispatcher is a no-op.
func (d *Dispatcher) Start(ctx context.Context) {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	if d.cancel != nil {
		return
	}
	d.stopped.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})

	go d.run(ctx, d.done)

	d.logger.Info("dispatcher started",
		slog.Duration("flush_interval", d.cfg.FlushInterval),
		slog.Duration("retry_interval", d.cfg.RetryInterval),
		slog.Int("batch_size", d.cfg.BatchSize),
	)
}

func (d *Dispatcher) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	// Work started by a tick runs to completion even when the loop is cancelled.
	work := context.WithoutCancel(ctx)

	flush := d.newTicker(d.cfg.FlushInterval)
	defer flush.Stop()

	var retryC <-chan time.Time
	if d.cfg.RetryInterval > 0 {
		retry := d.newTicker(d.cfg.RetryInterval)
		defer retry.Stop()
		retryC = retry.C()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-flush.C():
			d.ProcessQueue(work)
		case <-retryC:
			if _, err := d.RetryFailed(work); err != nil {
				d.logger.Error("retry sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Stop ends the background loop and drains the queue. From then on Queue
// rejects new notifications until Start is called again. Notifications still
// scheduled for later are dropped and logged. Stop returns ctx.Err() if the
// context ends before the queue is drained.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.stopped.Store(true)

	d.lifecycle.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.lifecycle.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := d.drain(ctx); err != nil {
		return err
	}

	if left := d.QueueStats().Size; left > 0 {
		d.logger.Warn("dispatcher stopped with scheduled notifications still queued",
			slog.Int("queued", left),
		)
	}

	d.logger.Info("dispatcher stopped")
	return nil
}

func (d *Dispatcher) drain(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if r := d.ProcessQueue(ctx); r.Total > 0 {
			continue
		}

		// Nothing was taken: either the queue holds no due work or another
		// flush holds the in-flight flag.
		if !d.flushing.Load() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(drainPollInterval):
		}
	}
}
