package invoker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/sdr-runner/internal/command"
	"github.com/couchcryptid/sdr-runner/internal/domain"
	"github.com/couchcryptid/sdr-runner/internal/observability"
)

// --- mocks ---

// fakeSDR pretends to be the SDR processor: it writes one SVM01 and one
// GMODO file per input RDR into its working directory.
type fakeSDR struct {
	mu       sync.Mutex
	specs    []command.Spec
	exitCode int
	noOutput bool
	delay    time.Duration
	block    bool

	active atomic.Int32
	peak   atomic.Int32
}

func (f *fakeSDR) Run(ctx context.Context, spec command.Spec, onLine func(stream, line string)) (command.Result, error) {
	f.mu.Lock()
	f.specs = append(f.specs, spec)
	f.mu.Unlock()

	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if f.block {
		<-ctx.Done()
		return command.Result{ExitCode: -1, Tail: []string{"terminated"}}, ctx.Err()
	}
	time.Sleep(f.delay)
	onLine(command.Stdout, "processing "+spec.Name)

	if f.exitCode != 0 {
		return command.Result{ExitCode: f.exitCode, Tail: []string{"ERROR: no LUTs"}}, fmt.Errorf("exited with code %d", f.exitCode)
	}
	if !f.noOutput {
		for i, rdr := range spec.Args {
			if !strings.HasSuffix(rdr, ".h5") {
				continue
			}
			name := fmt.Sprintf("SVM01_j01_d20240101_t12%02d001_e12%02d255_b31234_c1_cspp_dev.h5", i, i)
			geo := fmt.Sprintf("GMODO_j01_d20240101_t12%02d001_e12%02d255_b31234_c1_cspp_dev.h5", i, i)
			for _, file := range []string{name, geo} {
				if err := os.WriteFile(filepath.Join(spec.Dir, file), []byte("hdf5"), 0o600); err != nil {
					return command.Result{ExitCode: 1}, err
				}
			}
		}
		if err := os.WriteFile(filepath.Join(spec.Dir, "viirs_sdr.log"), []byte("log"), 0o600); err != nil {
			return command.Result{ExitCode: 1}, err
		}
	}
	return command.Result{Duration: f.delay}, nil
}

func (f *fakeSDR) calls() []command.Spec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]command.Spec(nil), f.specs...)
}

type collector struct {
	mu      sync.Mutex
	results []Result
}

func (c *collector) handle(_ context.Context, r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
}

func (c *collector) all() []Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Result(nil), c.results...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testGranule(minute int) domain.Granule {
	start := time.Date(2024, 1, 1, 12, minute, 0, 0, time.UTC)
	return domain.NewGranule([]domain.Notification{{
		URI:          fmt.Sprintf("/rdr/RNSCA-RVIRS_j01_d20240101_t12%02d000_e12%02d255_b31234_c1_drlu_ops.h5", minute, minute),
		PlatformName: "NOAA-20",
		StartTime:    start,
		EndTime:      start.Add(85 * time.Second),
		OrbitNumber:  31234,
	}})
}

func newTestInvoker(t *testing.T, ncpus int, exec command.Executor, handler ResultHandler) (*Invoker, Options, *observability.Metrics) {
	t.Helper()
	root := t.TempDir()
	opts := Options{
		NCPUs:       ncpus,
		Call:        "viirs_sdr.sh",
		CallOptions: []string{"-p", "4"},
		WorkingDir:  filepath.Join(root, "work"),
		Level1Home:  filepath.Join(root, "lvl1"),
	}
	m := observability.NewMetricsForTesting()
	inv := New(opts, exec, nil, handler, m, discardLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = inv.Shutdown(ctx)
	})
	return inv, opts, m
}

func shutdown(t *testing.T, inv *Invoker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, inv.Shutdown(ctx))
}

func TestInvoker_Success(t *testing.T) {
	exec := &fakeSDR{}
	var c collector
	inv, opts, m := newTestInvoker(t, 1, exec, c.handle)

	g := testGranule(0)
	require.NoError(t, inv.Submit(g))
	shutdown(t, inv)

	calls := exec.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "viirs_sdr.sh", calls[0].Name)
	assert.Equal(t, append([]string{"-p", "4"}, g.Paths()...), calls[0].Args)
	assert.Equal(t, []string{"CSPP_WORKDIR=" + calls[0].Dir}, calls[0].Env)
	assert.Equal(t, opts.WorkingDir, filepath.Dir(calls[0].Dir))
	assert.NoDirExists(t, calls[0].Dir, "run dir is removed")

	results := c.all()
	require.Len(t, results, 1)
	res := results[0]
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, filepath.Join(opts.Level1Home, "noaa20_20240101_1200_31234"), res.OutputDir)
	require.Len(t, res.Files, 2)
	for _, f := range res.Files {
		assert.FileExists(t, f)
		assert.Equal(t, res.OutputDir, filepath.Dir(f))
	}
	assert.NoFileExists(t, filepath.Join(res.OutputDir, "viirs_sdr.log"))
	assert.FileExists(t, res.OutputDir+".okay")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProcessingRuns.WithLabelValues("success")))
}

func TestInvoker_ConcurrencyBoundedByNCPUs(t *testing.T) {
	exec := &fakeSDR{delay: 30 * time.Millisecond}
	var c collector
	inv, _, _ := newTestInvoker(t, 2, exec, c.handle)

	for i := range 8 {
		require.NoError(t, inv.Submit(testGranule(i)))
	}
	shutdown(t, inv)

	assert.Len(t, c.all(), 8)
	assert.LessOrEqual(t, exec.peak.Load(), int32(2))
	assert.Equal(t, int32(2), exec.peak.Load())
}

func TestInvoker_FIFO(t *testing.T) {
	exec := &fakeSDR{delay: 5 * time.Millisecond}
	inv, _, _ := newTestInvoker(t, 1, exec, nil)

	var want []string
	for i := range 5 {
		g := testGranule(i)
		want = append(want, g.Paths()[0])
		require.NoError(t, inv.Submit(g))
	}
	shutdown(t, inv)

	var got []string
	for _, spec := range exec.calls() {
		got = append(got, spec.Args[len(spec.Args)-1])
	}
	assert.Equal(t, want, got)
}

func TestInvoker_FailureNotRetried(t *testing.T) {
	exec := &fakeSDR{exitCode: 2}
	var c collector
	inv, opts, m := newTestInvoker(t, 1, exec, c.handle)

	require.NoError(t, inv.Submit(testGranule(0)))
	shutdown(t, inv)

	assert.Len(t, exec.calls(), 1)
	assert.Empty(t, c.all())
	assert.NoDirExists(t, filepath.Join(opts.Level1Home, "noaa20_20240101_1200_31234"))
	assert.NoFileExists(t, filepath.Join(opts.Level1Home, "noaa20_20240101_1200_31234.okay"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProcessingRuns.WithLabelValues("failure")))
}

func TestInvoker_NoOutputIsFailure(t *testing.T) {
	exec := &fakeSDR{noOutput: true}
	var c collector
	inv, _, m := newTestInvoker(t, 1, exec, c.handle)

	_, err := inv.run(context.Background(), "run-1", testGranule(0), discardLogger())
	var pf *domain.ProcessingFailure
	require.True(t, errors.As(err, &pf))
	assert.ErrorIs(t, err, errNoOutput)
	assert.Equal(t, "noaa20_20240101_1200_31234", pf.Granule)

	require.NoError(t, inv.Submit(testGranule(0)))
	shutdown(t, inv)
	assert.Empty(t, c.all())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProcessingRuns.WithLabelValues("failure")))
}

func TestInvoker_ShutdownTimeoutTerminatesRuns(t *testing.T) {
	exec := &fakeSDR{block: true}
	inv, _, _ := newTestInvoker(t, 1, exec, nil)

	require.NoError(t, inv.Submit(testGranule(0)))
	require.NoError(t, inv.Submit(testGranule(1)))
	require.Eventually(t, func() bool { return len(exec.calls()) == 1 }, 5*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := inv.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, exec.calls(), 1, "queued granule is dropped")

	assert.ErrorIs(t, inv.Submit(testGranule(2)), ErrClosed)
}

func TestInvoker_ReadLocksCache(t *testing.T) {
	guard := &sync.RWMutex{}
	exec := &fakeSDR{}
	inv := New(Options{NCPUs: 1, Call: "viirs_sdr.sh", WorkingDir: t.TempDir(), Level1Home: t.TempDir()},
		exec, guard, nil, observability.NewMetricsForTesting(), discardLogger())

	guard.Lock()
	require.NoError(t, inv.Submit(testGranule(0)))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, exec.calls(), "processing waits for the cache update")
	guard.Unlock()

	shutdown(t, inv)
	assert.Len(t, exec.calls(), 1)
}
