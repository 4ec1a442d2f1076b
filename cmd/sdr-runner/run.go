package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpadapter "github.com/couchcryptid/sdr-runner/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/sdr-runner/internal/adapter/kafka"
	"github.com/couchcryptid/sdr-runner/internal/command"
	"github.com/couchcryptid/sdr-runner/internal/config"
	"github.com/couchcryptid/sdr-runner/internal/correlator"
	"github.com/couchcryptid/sdr-runner/internal/domain"
	"github.com/couchcryptid/sdr-runner/internal/invoker"
	"github.com/couchcryptid/sdr-runner/internal/observability"
	"github.com/couchcryptid/sdr-runner/internal/pipeline"
	"github.com/couchcryptid/sdr-runner/internal/refresher"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Listen for RDR notifications and process granules until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts)
		},
	}
}

func run(ctx context.Context, opts *rootOptions) error {
	if err := config.CheckEnvironment(nil); err != nil {
		return err
	}
	profile, pub, err := opts.loadProfile()
	if err != nil {
		return err
	}

	logger, logCloser, err := observability.NewLogger(observability.LogOptions{
		Level:        opts.logLevel,
		Format:       opts.logFormat,
		File:         opts.logFile,
		RotationDays: profile.LogRotationDays,
		Backups:      profile.LogRotationBackups,
	})
	if err != nil {
		return err
	}
	defer logCloser.Close()
	metrics := observability.NewMetrics()

	if err := os.MkdirAll(profile.WorkingDir, 0o755); err != nil {
		return fmt.Errorf("create working dir: %w", err)
	}
	lock := flock.New(filepath.Join(profile.WorkingDir, "sdr-runner-"+profile.Site+".lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another sdr-runner for site %s is already running (%s)", profile.Site, lock.Path())
	}
	defer lock.Unlock()

	logger.Info("starting sdr-runner",
		"profile", profile.Name,
		"site", profile.Site,
		"mode", profile.Mode,
		"ncpus", profile.NCPUs,
		"subscribe_topics", profile.SubscribeTopics,
		"publish_topic", profile.PublishTopic,
	)

	exec := command.Exec{}
	clock := clockwork.NewRealClock()
	// Held for writing while a cache update runs, for reading while the processor does.
	guard := &sync.RWMutex{}

	ref := refresher.New(refresher.OptionsFromProfile(profile, profile.WorkingDir), exec, guard, clock, metrics, logger)

	writer := kafkaadapter.NewWriter(profile, pub, logger)
	announcer := pipeline.NewAnnouncer(writer, domain.PublishOptions{
		Topic:  profile.PublishTopic,
		Site:   profile.Site,
		Mode:   profile.Mode,
		Sender: sender(),
		Clock:  clock,
	}, logger, metrics)
	inv := invoker.New(invoker.OptionsFromProfile(profile), exec, guard, announcer.Handle, metrics, logger)

	reader := kafkaadapter.NewReader(profile, logger)
	corr := correlator.New(correlator.Options{
		Tolerance:       profile.GranuleTolerance,
		DuplicateWindow: profile.DuplicateWindow,
	})
	runner := pipeline.New(reader, pipeline.NewFilter(profile.Sensor), corr, inv, clock, logger, metrics)
	announcer.OnPublished = runner.MarkReady

	srv := httpadapter.NewServer(profile.HTTPAddr, httpadapter.Options{
		Ready:  runner,
		Status: status{runner: runner, refresher: ref},
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), profile.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return ref.Run(gctx) })
	g.Go(func() error { return runner.Run(gctx) })

	err = g.Wait()
	logger.Info("shutting down", "timeout", profile.ShutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), profile.ShutdownTimeout)
	defer cancel()
	if serr := inv.Shutdown(shutdownCtx); serr != nil {
		logger.Error("processing did not finish before shutdown timeout", "error", serr)
	}
	closeAll(logger, reader, writer)

	logger.Info("shutdown complete")
	return err
}

type closer interface{ Close() error }

func closeAll(logger *slog.Logger, cs ...closer) {
	for _, c := range cs {
		if err := c.Close(); err != nil {
			logger.Error("close failed", "component", fmt.Sprintf("%T", c), "error", err)
		}
	}
}

// status merges the runner and cache state for /status.
type status struct {
	runner    *pipeline.Runner
	refresher *refresher.Refresher
}

func (s status) Status() map[string]any {
	st := s.runner.Status()
	st["caches"] = s.refresher.Status()
	return st
}

// sender identifies this process in outbound notifications as user@host.
func sender() string {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	name := "sdr-runner"
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	return name + "@" + host
}
