// Package invoker runs the external SDR processor on closed granules with at
// most ncpus runs in flight, and hands the produced files to a callback.
package invoker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/couchcryptid/sdr-runner/internal/command"
	"github.com/couchcryptid/sdr-runner/internal/config"
	"github.com/couchcryptid/sdr-runner/internal/domain"
	"github.com/couchcryptid/sdr-runner/internal/observability"
)

var (
	// ErrClosed is returned by Submit after Shutdown.
	ErrClosed = errors.New("invoker is shut down")

	errNoOutput = errors.New("no SDR files produced")
)

// Result describes a successful processing run.
type Result struct {
	RunID     string
	Granule   domain.Granule
	OutputDir string
	// Files are the SDR products in their final location.
	Files    []string
	Duration time.Duration
}

// ResultHandler receives every successful run.
type ResultHandler func(ctx context.Context, res Result)

// Options configure an Invoker.
type Options struct {
	NCPUs       int
	Call        string
	CallOptions []string
	// WorkingDir holds the per-run scratch directories.
	WorkingDir string
	Level1Home string
	// Sensor selects which products are collected after a run.
	Sensor string
	// Grace is how long a run has to exit after SIGTERM on shutdown.
	Grace time.Duration
}

// OptionsFromProfile derives invoker settings from a site profile.
func OptionsFromProfile(p *config.Profile) Options {
	return Options{
		NCPUs:       p.NCPUs,
		Call:        p.SDRCall,
		CallOptions: p.SDROptions,
		WorkingDir:  p.WorkingDir,
		Level1Home:  p.Level1Home,
		Sensor:      p.Sensor,
		Grace:       10 * time.Second,
	}
}

// Invoker queues granules and processes them in submission order.
type Invoker struct {
	opts    Options
	exec    command.Executor
	guard   *sync.RWMutex
	sem     *semaphore.Weighted
	handler ResultHandler
	metrics *observability.Metrics
	logger  *slog.Logger

	mu     sync.Mutex
	queue  []domain.Granule
	closed bool
	wake   chan struct{}

	runCtx     context.Context
	cancelRuns context.CancelFunc
	workers    sync.WaitGroup
	done       chan struct{}
}

// New creates an Invoker and starts its dispatcher. guard is read-locked
// for the duration of each external run.
func New(opts Options, exec command.Executor, guard *sync.RWMutex, handler ResultHandler, metrics *observability.Metrics, logger *slog.Logger) *Invoker {
	if opts.NCPUs < 1 {
		opts.NCPUs = 1
	}
	if opts.Sensor == "" {
		opts.Sensor = "viirs"
	}
	if guard == nil {
		guard = &sync.RWMutex{}
	}
	if handler == nil {
		handler = func(context.Context, Result) {}
	}
	runCtx, cancel := context.WithCancel(context.Background())
	inv := &Invoker{
		opts:       opts,
		exec:       exec,
		guard:      guard,
		sem:        semaphore.NewWeighted(int64(opts.NCPUs)),
		handler:    handler,
		metrics:    metrics,
		logger:     logger,
		wake:       make(chan struct{}, 1),
		runCtx:     runCtx,
		cancelRuns: cancel,
		done:       make(chan struct{}),
	}
	go inv.dispatch()
	return inv
}

// Submit queues a granule for processing. It never blocks on running work.
func (inv *Invoker) Submit(g domain.Granule) error {
	inv.mu.Lock()
	if inv.closed {
		inv.mu.Unlock()
		return ErrClosed
	}
	inv.queue = append(inv.queue, g)
	inv.metrics.ProcessingQueued.Set(float64(len(inv.queue)))
	inv.mu.Unlock()

	inv.signal()
	return nil
}

// Shutdown stops accepting granules and waits for the queued and running
// ones. When ctx expires first, running processes are terminated and the
// remaining queue is dropped.
func (inv *Invoker) Shutdown(ctx context.Context) error {
	inv.mu.Lock()
	inv.closed = true
	inv.mu.Unlock()
	inv.signal()

	select {
	case <-inv.done:
		inv.cancelRuns()
		return nil
	case <-ctx.Done():
	}

	inv.mu.Lock()
	dropped := len(inv.queue)
	inv.queue = nil
	inv.metrics.ProcessingQueued.Set(0)
	inv.mu.Unlock()
	inv.cancelRuns()
	if dropped > 0 {
		inv.logger.Warn("shutdown timeout, dropping queued granules", "count", dropped)
	}
	<-inv.done
	return ctx.Err()
}

func (inv *Invoker) signal() {
	select {
	case inv.wake <- struct{}{}:
	default:
	}
}

// next blocks until a granule is queued. It reports false once the invoker
// is closed and the queue is empty.
func (inv *Invoker) next() (domain.Granule, bool) {
	for {
		inv.mu.Lock()
		if len(inv.queue) > 0 {
			g := inv.queue[0]
			inv.queue = inv.queue[1:]
			inv.metrics.ProcessingQueued.Set(float64(len(inv.queue)))
			inv.mu.Unlock()
			return g, true
		}
		closed := inv.closed
		inv.mu.Unlock()
		if closed {
			return domain.Granule{}, false
		}

		select {
		case <-inv.wake:
		case <-inv.runCtx.Done():
			return domain.Granule{}, false
		}
	}
}

func (inv *Invoker) dispatch() {
	defer close(inv.done)
	defer inv.workers.Wait()

	for {
		g, ok := inv.next()
		if !ok {
			return
		}
		if err := inv.sem.Acquire(inv.runCtx, 1); err != nil {
			inv.logger.Warn("granule dropped at shutdown", "granule", g.ID())
			return
		}
		inv.workers.Add(1)
		go func() {
			defer inv.workers.Done()
			defer inv.sem.Release(1)
			inv.process(inv.runCtx, g)
		}()
	}
}

func (inv *Invoker) process(ctx context.Context, g domain.Granule) {
	runID := uuid.NewString()
	logger := inv.logger.With("granule", g.ID(), "run_id", runID)

	inv.metrics.ProcessingActive.Inc()
	defer inv.metrics.ProcessingActive.Dec()

	res, err := inv.run(ctx, runID, g, logger)
	if err != nil {
		inv.metrics.ProcessingRuns.WithLabelValues("failure").Inc()
		logger.Error("sdr processing failed", "error", err)
		return
	}
	inv.metrics.ProcessingRuns.WithLabelValues("success").Inc()
	logger.Info("sdr processing complete", "files", len(res.Files), "output_dir", res.OutputDir, "duration", res.Duration)
	inv.handler(ctx, res)
}

func (inv *Invoker) run(ctx context.Context, runID string, g domain.Granule, logger *slog.Logger) (Result, error) {
	if err := os.MkdirAll(inv.opts.WorkingDir, 0o755); err != nil {
		return Result{}, &domain.ProcessingFailure{Granule: g.ID(), ExitCode: -1, Err: err}
	}
	dir, err := os.MkdirTemp(inv.opts.WorkingDir, "sdr_"+g.ID()+"_")
	if err != nil {
		return Result{}, &domain.ProcessingFailure{Granule: g.ID(), ExitCode: -1, Err: fmt.Errorf("create run dir: %w", err)}
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("failed to remove run dir", "dir", dir, "error", err)
		}
	}()

	args := append(append([]string(nil), inv.opts.CallOptions...), g.Paths()...)
	spec := command.Spec{
		Name:  inv.opts.Call,
		Args:  args,
		Dir:   dir,
		Env:   []string{config.EnvWorkDir + "=" + dir},
		Grace: inv.opts.Grace,
	}
	logger.Info("starting sdr processing", "files", len(g.Files), "dir", dir)

	out, err := inv.execute(ctx, spec, logger)
	inv.metrics.ProcessingDuration.Observe(out.Duration.Seconds())
	if err != nil {
		return Result{}, &domain.ProcessingFailure{Granule: g.ID(), ExitCode: out.ExitCode, Output: out.Tail, Err: err}
	}

	files, err := collectSDR(dir, inv.opts.Sensor)
	if err == nil && len(files) == 0 {
		err = errNoOutput
	}
	if err != nil {
		return Result{}, &domain.ProcessingFailure{Granule: g.ID(), ExitCode: out.ExitCode, Output: out.Tail, Err: err}
	}

	outputDir := filepath.Join(inv.opts.Level1Home, g.ID())
	moved, err := moveFiles(files, outputDir)
	if err == nil {
		_, err = markComplete(outputDir)
	}
	if err != nil {
		return Result{}, &domain.ProcessingFailure{Granule: g.ID(), ExitCode: out.ExitCode, Err: err}
	}

	return Result{
		RunID:     runID,
		Granule:   g,
		OutputDir: outputDir,
		Files:     moved,
		Duration:  out.Duration,
	}, nil
}

func (inv *Invoker) execute(ctx context.Context, spec command.Spec, logger *slog.Logger) (command.Result, error) {
	inv.guard.RLock()
	defer inv.guard.RUnlock()

	return inv.exec.Run(ctx, spec, func(stream, line string) {
		logger.Debug(line, "stream", stream)
	})
}
