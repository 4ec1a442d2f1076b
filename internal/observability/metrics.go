package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sdr_runner"

// Metrics holds the Prometheus counters, histograms, and gauges for the runner.
type Metrics struct {
	NotificationsReceived prometheus.Counter
	NotificationsDropped  *prometheus.CounterVec // labels: reason={decode,filter,duplicate}
	TransportErrors       prometheus.Counter
	RunnerRunning         prometheus.Gauge

	// Correlation metrics.
	GranulesClosed  prometheus.Counter
	GranulesPending prometheus.Gauge

	// Processing metrics.
	ProcessingRuns     *prometheus.CounterVec // labels: outcome={success,failure}
	ProcessingDuration prometheus.Histogram
	ProcessingActive   prometheus.Gauge
	ProcessingQueued   prometheus.Gauge

	// Cache refresh metrics.
	RefreshAttempts *prometheus.CounterVec // labels: resource={LUT,ANC}, outcome={success,failure}

	// Publishing metrics.
	Published     prometheus.Counter
	PublishErrors prometheus.Counter
}

func buildMetrics() *Metrics {
	return &Metrics{
		NotificationsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_received_total",
			Help:      "Total notifications read from the subscribe topics.",
		}),
		NotificationsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Notifications discarded before correlation, by reason.",
		}, []string{"reason"}),
		TransportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Total failures receiving from the message bus.",
		}),
		RunnerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runner_running",
			Help:      "1 when the runner loop is active, 0 when shut down.",
		}),
		GranulesClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "granules_closed_total",
			Help:      "Total granules closed by the correlator.",
		}),
		GranulesPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "granules_pending",
			Help:      "Granules currently collecting files.",
		}),
		ProcessingRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processing_runs_total",
			Help:      "SDR processing runs by outcome.",
		}, []string{"outcome"}),
		ProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processing_duration_seconds",
			Help:      "Wall time of SDR processing runs.",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 2400},
		}),
		ProcessingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "processing_active",
			Help:      "SDR processing runs in flight.",
		}),
		ProcessingQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "processing_queued",
			Help:      "Granules waiting for a processing slot.",
		}),
		RefreshAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_attempts_total",
			Help:      "LUT and ancillary cache update attempts by resource and outcome.",
		}, []string{"resource", "outcome"}),
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_total",
			Help:      "Total dataset notifications written to the publish topic.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Total failures writing dataset notifications.",
		}),
	}
}

// NewMetrics creates and registers all runner metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := buildMetrics()
	prometheus.MustRegister(
		m.NotificationsReceived,
		m.NotificationsDropped,
		m.TransportErrors,
		m.RunnerRunning,
		m.GranulesClosed,
		m.GranulesPending,
		m.ProcessingRuns,
		m.ProcessingDuration,
		m.ProcessingActive,
		m.ProcessingQueued,
		m.RefreshAttempts,
		m.Published,
		m.PublishErrors,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return buildMetrics()
}
