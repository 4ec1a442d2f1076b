package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/sdr-runner/internal/domain"
	"github.com/couchcryptid/sdr-runner/internal/invoker"
	"github.com/couchcryptid/sdr-runner/internal/observability"
)

// publishTimeout bounds a single dataset announcement.
const publishTimeout = 30 * time.Second

// Publisher writes outbound notifications.
type Publisher interface {
	Publish(ctx context.Context, n domain.Notification) error
}

// Announcer publishes a dataset notification for every successful run.
type Announcer struct {
	publisher Publisher
	opts      domain.PublishOptions
	logger    *slog.Logger
	metrics   *observability.Metrics
	// OnPublished, when set, is called after each successful publish.
	OnPublished func()
}

// NewAnnouncer creates an Announcer publishing under opts.Topic.
func NewAnnouncer(p Publisher, opts domain.PublishOptions, logger *slog.Logger, metrics *observability.Metrics) *Announcer {
	return &Announcer{publisher: p, opts: opts, logger: logger, metrics: metrics}
}

// Handle is an invoker.ResultHandler. Publish failures are logged; the
// produced files stay in place.
func (a *Announcer) Handle(ctx context.Context, res invoker.Result) {
	n := domain.NewSDRNotification(res.Granule, res.Files, a.opts)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := a.publisher.Publish(ctx, n); err != nil {
		a.metrics.PublishErrors.Inc()
		a.logger.Error("publish failed", "granule", res.Granule.ID(), "run_id", res.RunID, "error", err)
		return
	}
	a.metrics.Published.Inc()
	a.logger.Info("sdr dataset published", "granule", res.Granule.ID(), "topic", n.Topic, "files", len(n.Dataset))
	if a.OnPublished != nil {
		a.OnPublished()
	}
}
