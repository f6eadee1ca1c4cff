package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the tracking engine.
type Metrics struct {
	// Tracking metrics
	EventsAccepted  *prometheus.CounterVec
	EventsDuplicate *prometheus.CounterVec
	EventsRejected  *prometheus.CounterVec
	TrackLatency    *prometheus.HistogramVec

	// Publish metrics
	PublishAttempts *prometheus.CounterVec
	PublishFailures *prometheus.CounterVec

	// Reporting metrics
	StatsRequests *prometheus.CounterVec
	StatsLatency  prometheus.Histogram

	// Retention metrics
	EventsPurged prometheus.Counter

	// Archive metrics
	ArchiveFlushed prometheus.Counter
	ArchiveDropped prometheus.Counter

	// System metrics
	DBConnections    *prometheus.GaugeVec
	GeoLookupLatency prometheus.Histogram

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec
}

var (
	// DefaultMetrics is the global metrics instance
	DefaultMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		// Tracking metrics
		EventsAccepted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_accepted_total",
				Help:      "Events accepted and persisted",
			},
			[]string{"event_type"},
		),
		EventsDuplicate: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_duplicate_total",
				Help:      "Events rejected as duplicates",
			},
			[]string{"event_type"},
		),
		EventsRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_rejected_total",
				Help:      "Events rejected by validation or persistence failure",
			},
			[]string{"event_type", "reason"},
		),
		TrackLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "track_latency_seconds",
				Help:      "Tracking request processing latency",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
			},
			[]string{"outcome"},
		),

		// Publish metrics
		PublishAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publish_attempts_total",
				Help:      "Live notification publish attempts, counting each retry",
			},
			[]string{"event"},
		),
		PublishFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publish_failures_total",
				Help:      "Live notifications dropped after exhausting retries",
			},
			[]string{"event"},
		),

		// Reporting metrics
		StatsRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stats_requests_total",
				Help:      "Statistics requests by timeframe",
			},
			[]string{"timeframe"},
		),
		StatsLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stats_latency_seconds",
				Help:      "Statistics query latency",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),

		// Retention metrics
		EventsPurged: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_purged_total",
				Help:      "Raw events removed by the retention sweep",
			},
		),

		// Archive metrics
		ArchiveFlushed: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archive_flushed_total",
				Help:      "Events flushed to the analytical archive",
			},
		),
		ArchiveDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archive_dropped_total",
				Help:      "Events dropped because the archive buffer was full",
			},
		),

		// System metrics
		DBConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections",
				Help:      "Database connection pool stats",
			},
			[]string{"state"}, // idle, in_use, total
		),
		GeoLookupLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "geo_lookup_latency_seconds",
				Help:      "GeoIP lookup latency",
				Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01},
			},
		),

		// Rate limiting metrics
		RateLimitHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Rate limit rejections",
			},
			[]string{"endpoint"},
		),
	}

	DefaultMetrics = m
	return m
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAccepted records an accepted event.
func (m *Metrics) RecordAccepted(eventType string, latency time.Duration) {
	m.EventsAccepted.WithLabelValues(eventType).Inc()
	m.TrackLatency.WithLabelValues("accepted").Observe(latency.Seconds())
}

// RecordDuplicate records a duplicate event.
func (m *Metrics) RecordDuplicate(eventType string, latency time.Duration) {
	m.EventsDuplicate.WithLabelValues(eventType).Inc()
	m.TrackLatency.WithLabelValues("duplicate").Observe(latency.Seconds())
}

// RecordRejected records a rejected event.
func (m *Metrics) RecordRejected(eventType, reason string) {
	m.EventsRejected.WithLabelValues(eventType, reason).Inc()
}

// RecordPublishAttempt records one transport attempt, retries included.
func (m *Metrics) RecordPublishAttempt(event string) {
	m.PublishAttempts.WithLabelValues(event).Inc()
}

// RecordPublishDropped records a notification dropped after exhausting
// its retries.
func (m *Metrics) RecordPublishDropped(event string) {
	m.PublishFailures.WithLabelValues(event).Inc()
}

// RecordStats records a statistics request.
func (m *Metrics) RecordStats(timeframe string, latency time.Duration) {
	m.StatsRequests.WithLabelValues(timeframe).Inc()
	m.StatsLatency.Observe(latency.Seconds())
}

// RecordArchiveFlushed records events flushed to the analytical archive.
func (m *Metrics) RecordArchiveFlushed(count int) {
	m.ArchiveFlushed.Add(float64(count))
}

// RecordArchiveDropped records an event dropped on a full archive buffer.
func (m *Metrics) RecordArchiveDropped() {
	m.ArchiveDropped.Inc()
}

// RecordPurged records retention sweep deletions.
func (m *Metrics) RecordPurged(count int64) {
	m.EventsPurged.Add(float64(count))
}

// RecordGeoLookup records GeoIP lookup latency.
func (m *Metrics) RecordGeoLookup(latency time.Duration) {
	m.GeoLookupLatency.Observe(latency.Seconds())
}

// UpdateDBConnections updates connection pool gauges.
func (m *Metrics) UpdateDBConnections(idle, inUse, total int) {
	m.DBConnections.WithLabelValues("idle").Set(float64(idle))
	m.DBConnections.WithLabelValues("in_use").Set(float64(inUse))
	m.DBConnections.WithLabelValues("total").Set(float64(total))
}

// RecordRateLimitHit records a rate limit rejection.
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.RateLimitHits.WithLabelValues(endpoint).Inc()
}
