// Package pipeline wires the listener, correlator and invoker into the
// runner event loop and announces finished runs.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/sdr-runner/internal/correlator"
	"github.com/couchcryptid/sdr-runner/internal/domain"
	"github.com/couchcryptid/sdr-runner/internal/observability"
)

// expireInterval is how often pending granules are checked against their deadline.
const expireInterval = time.Second

// Extractor reads the next notification from the subscribe topics.
type Extractor interface {
	Extract(ctx context.Context) (domain.Notification, error)
}

// Processor accepts closed granules for processing without blocking on them.
type Processor interface {
	Submit(g domain.Granule) error
}

// Runner is the event loop: it filters incoming notifications, feeds the
// correlator, and hands closed granules to the processor.
type Runner struct {
	extractor  Extractor
	filter     *Filter
	correlator *correlator.Correlator
	processor  Processor
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *observability.Metrics

	ready   atomic.Bool
	pending atomic.Int64
	last    atomic.Int64 // unix nanos of the last accepted notification
}

// New creates a Runner. The correlator is owned by the Runner's loop.
func New(e Extractor, f *Filter, c *correlator.Correlator, p Processor, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Runner {
	return &Runner{
		extractor:  e,
		filter:     f,
		correlator: c,
		processor:  p,
		clock:      clock,
		logger:     logger,
		metrics:    metrics,
	}
}

// CheckReadiness returns nil once a notification has been received or a
// dataset published.
func (r *Runner) CheckReadiness(_ context.Context) error {
	if !r.ready.Load() {
		return errors.New("runner has not received any notifications yet")
	}
	return nil
}

// MarkReady flags the runner as ready.
func (r *Runner) MarkReady() {
	r.ready.Store(true)
}

// Status reports the runner's correlation state.
func (r *Runner) Status() map[string]any {
	st := map[string]any{
		"ready":            r.ready.Load(),
		"pending_granules": r.pending.Load(),
	}
	if last := r.last.Load(); last > 0 {
		st["last_notification"] = time.Unix(0, last).UTC().Format(time.RFC3339)
	}
	return st
}

// Run executes the event loop until the context is cancelled, then closes
// every pending granule and hands it to the processor.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("runner started")
	r.metrics.RunnerRunning.Set(1)
	defer r.metrics.RunnerRunning.Set(0)

	incoming := make(chan domain.Notification)
	go r.read(ctx, incoming)

	ticker := r.clock.NewTicker(expireInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("runner stopping", "reason", ctx.Err(), "pending_granules", r.correlator.Len())
			r.dispatch(r.correlator.Flush(r.clock.Now()))
			return nil
		case n := <-incoming:
			r.accept(ctx, n)
		case <-ticker.Chan():
			r.dispatch(r.correlator.Expire(r.clock.Now()))
		}
	}
}

// read pulls notifications off the bus, backing off on transport errors.
func (r *Runner) read(ctx context.Context, out chan<- domain.Notification) {
	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for ctx.Err() == nil {
		n, err := r.extractor.Extract(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, domain.ErrMalformed) {
				r.logger.Warn("malformed notification, skipping message", "error", err)
				r.metrics.NotificationsDropped.WithLabelValues("decode").Inc()
				continue
			}
			r.logger.Error("receive failed", "error", err, "retry_in", backoff)
			r.metrics.TransportErrors.Inc()
			if !sleepWithContext(ctx, r.clock, backoff) {
				return
			}
			backoff = retry.NextBackoff(backoff, maxBackoff)
			continue
		}
		backoff = 200 * time.Millisecond

		select {
		case out <- n:
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runner) accept(ctx context.Context, n domain.Notification) {
	r.metrics.NotificationsReceived.Inc()
	r.ready.Store(true)
	now := r.clock.Now()
	defer r.commitOffset(ctx, n)

	if err := r.filter.Accept(&n); err != nil {
		r.logger.Info("notification skipped", "reason", err, "uri", n.URI, "platform", n.PlatformName)
		r.metrics.NotificationsDropped.WithLabelValues("filter").Inc()
		return
	}
	if r.correlator.Seen(n.Path(), now) {
		r.logger.Info("file already processed, skipping", "uri", n.URI)
		r.metrics.NotificationsDropped.WithLabelValues("duplicate").Inc()
		return
	}

	r.last.Store(now.UnixNano())
	r.logger.Debug("notification accepted", "uri", n.URI, "platform", n.Platform(), "start_time", n.StartTime, "orbit", n.OrbitNumber)
	r.dispatch(r.correlator.Add(n, now))
}

func (r *Runner) dispatch(granules []domain.Granule) {
	defer func() {
		n := int64(r.correlator.Len())
		r.pending.Store(n)
		r.metrics.GranulesPending.Set(float64(n))
	}()

	for _, g := range granules {
		r.metrics.GranulesClosed.Inc()
		r.logger.Info("granule closed", "granule", g.ID(), "files", len(g.Files), "start", g.Start, "end", g.End)
		if err := r.processor.Submit(g); err != nil {
			r.logger.Error("submit granule failed", "granule", g.ID(), "error", err)
		}
	}
}

// commitOffset commits the message offset if a commit function is available.
func (r *Runner) commitOffset(ctx context.Context, n domain.Notification) {
	if n.Commit == nil {
		return
	}
	if err := n.Commit(ctx); err != nil {
		r.logger.Warn("commit offset failed", "error", err, "uri", n.URI)
	}
}

// sleepWithContext is retry.SleepWithContext on an injected clock.
func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
