// Package refresher keeps the LUT and dynamic ancillary caches of the SDR
// toolchain up to date by running the vendor mirror scripts when the last
// successful update is older than a threshold.
package refresher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/sdr-runner/internal/command"
	"github.com/couchcryptid/sdr-runner/internal/config"
	"github.com/couchcryptid/sdr-runner/internal/domain"
	"github.com/couchcryptid/sdr-runner/internal/observability"
)

// Kind names a refreshable cache.
type Kind string

const (
	LUT Kind = "LUT"
	ANC Kind = "ANC"
)

// State is the refresh state of one resource.
type State int

const (
	Fresh State = iota
	Checking
	Updating
	Failed
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Checking:
		return "checking"
	case Updating:
		return "updating"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// remoteDirEnv tells the mirror scripts which URL to fetch from.
const remoteDirEnv = "JPSS_REMOTE_ANC_DIR"

// Resource describes one cache and how to refresh it.
type Resource struct {
	Kind Kind
	// Mirror is the update script. Empty disables refreshing.
	Mirror      string
	URL         string
	StampPrefix string
	MaxAge      time.Duration
	// Dir is the cache directory, checked for content. Optional.
	Dir string
}

// Options configure a Refresher.
type Options struct {
	Resources []Resource
	// Interval between freshness checks.
	Interval time.Duration
	// WorkDir is passed to the mirror scripts and used as their working directory.
	WorkDir string
	Timeout time.Duration
	Grace   time.Duration
}

// OptionsFromProfile derives the LUT and ANC resources from a site profile.
func OptionsFromProfile(p *config.Profile, workDir string) Options {
	return Options{
		Resources: []Resource{
			{
				Kind:        LUT,
				Mirror:      p.MirrorLUTsCall,
				URL:         p.RemoteLUTURL,
				StampPrefix: p.LUTStampPrefix,
				MaxAge:      p.LUTMaxAge,
				Dir:         p.LUTDir,
			},
			{
				Kind:        ANC,
				Mirror:      p.MirrorAncCall,
				URL:         p.RemoteAncURL,
				StampPrefix: p.AncStampPrefix,
				MaxAge:      p.DownloadTrialFrequency,
			},
		},
		Interval: p.DownloadTrialFrequency,
		WorkDir:  workDir,
		Timeout:  p.UpdateTimeout,
		Grace:    10 * time.Second,
	}
}

// Refresher checks and updates caches on a schedule.
type Refresher struct {
	opts    Options
	exec    command.Executor
	guard   *sync.RWMutex
	clock   clockwork.Clock
	metrics *observability.Metrics
	logger  *slog.Logger

	mu         sync.Mutex
	states     map[Kind]State
	lastUpdate map[Kind]time.Time
}

// New creates a Refresher. guard is write-locked while an update runs so
// processing never reads a half-mirrored cache.
func New(opts Options, exec command.Executor, guard *sync.RWMutex, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Refresher {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if guard == nil {
		guard = &sync.RWMutex{}
	}
	return &Refresher{
		opts:       opts,
		exec:       exec,
		guard:      guard,
		clock:      clock,
		metrics:    metrics,
		logger:     logger,
		states:     make(map[Kind]State),
		lastUpdate: make(map[Kind]time.Time),
	}
}

// State returns the current state of a resource.
func (r *Refresher) State(kind Kind) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[kind]
}

// Status reports the state and last successful update of every resource.
func (r *Refresher) Status() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]any, len(r.opts.Resources))
	for _, res := range r.opts.Resources {
		st := map[string]any{"state": r.states[res.Kind].String()}
		if t, ok := r.lastUpdate[res.Kind]; ok {
			st["last_update"] = t.UTC().Format(time.RFC3339)
		}
		out[string(res.Kind)] = st
	}
	return out
}

func (r *Refresher) setState(kind Kind, s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[kind] = s
}

// Run checks immediately and then every Interval until ctx is cancelled.
// Update failures are logged and retried on the next tick.
func (r *Refresher) Run(ctx context.Context) error {
	r.Tick(ctx) //nolint:errcheck // failures are logged in Tick

	ticker := r.clock.NewTicker(r.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			r.Tick(ctx) //nolint:errcheck // failures are logged in Tick
		}
	}
}

// Tick checks every resource once and updates the stale ones. The returned
// error joins the refresh failures of this tick.
func (r *Refresher) Tick(ctx context.Context) error {
	var errs []error
	for _, res := range r.opts.Resources {
		if ctx.Err() != nil {
			break
		}
		if res.Mirror == "" {
			r.logger.Debug("no update script configured, refresh disabled", "resource", res.Kind)
			continue
		}
		if err := r.refresh(ctx, res); err != nil {
			r.logger.Error("cache refresh failed", "resource", res.Kind, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Refresher) refresh(ctx context.Context, res Resource) error {
	r.setState(res.Kind, Checking)
	now := r.clock.Now()

	if res.Dir != "" {
		r.checkDir(res)
	}

	last, ok, err := LatestStamp(res.StampPrefix)
	if err != nil {
		r.logger.Warn("reading update stamps failed, treating as stale", "resource", res.Kind, "error", err)
	}
	r.mu.Lock()
	if mem, seen := r.lastUpdate[res.Kind]; seen && (!ok || mem.After(last)) {
		last, ok = mem, true
	}
	r.mu.Unlock()

	if ok && now.Sub(last) < res.MaxAge {
		r.logger.Debug("cache is fresh", "resource", res.Kind, "last_update", last, "max_age", res.MaxAge)
		r.setState(res.Kind, Fresh)
		return nil
	}

	r.logger.Info("cache is stale, starting update", "resource", res.Kind, "url", res.URL)
	r.setState(res.Kind, Updating)
	if err := r.update(ctx, res); err != nil {
		r.setState(res.Kind, Failed)
		r.metrics.RefreshAttempts.WithLabelValues(string(res.Kind), "failure").Inc()
		return err
	}

	done := r.clock.Now()
	path, err := WriteStamp(res.StampPrefix, done)
	if err != nil {
		r.setState(res.Kind, Failed)
		r.metrics.RefreshAttempts.WithLabelValues(string(res.Kind), "failure").Inc()
		return &domain.RefreshFailure{Resource: string(res.Kind), Err: err}
	}
	r.mu.Lock()
	r.lastUpdate[res.Kind] = done
	r.mu.Unlock()
	r.setState(res.Kind, Fresh)
	r.metrics.RefreshAttempts.WithLabelValues(string(res.Kind), "success").Inc()
	r.logger.Info("cache updated", "resource", res.Kind, "stamp", path)
	return nil
}

func (r *Refresher) update(ctx context.Context, res Resource) error {
	r.guard.Lock()
	defer r.guard.Unlock()

	runCtx := ctx
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	spec := command.Spec{
		Name:  res.Mirror,
		Args:  []string{"-W", r.opts.WorkDir},
		Dir:   r.opts.WorkDir,
		Env:   []string{remoteDirEnv + "=" + res.URL},
		Grace: r.opts.Grace,
	}
	logger := r.logger.With("resource", res.Kind)
	result, err := r.exec.Run(runCtx, spec, func(stream, line string) {
		if stream == command.Stderr {
			logger.Warn(line, "stream", stream)
			return
		}
		logger.Info(line, "stream", stream)
	})
	if err != nil {
		return &domain.RefreshFailure{Resource: string(res.Kind), ExitCode: result.ExitCode, Err: err}
	}
	return nil
}

func (r *Refresher) checkDir(res Resource) {
	entries, err := os.ReadDir(res.Dir)
	switch {
	case err != nil:
		r.logger.Warn("cache directory unreadable", "resource", res.Kind, "dir", res.Dir, "error", err)
	case len(entries) == 0:
		r.logger.Warn("cache directory is empty", "resource", res.Kind, "dir", res.Dir)
	}
}
