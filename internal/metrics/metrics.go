// Package metrics exposes the player daemon's Prometheus instrumentation
// (§6 "metrics"): download throughput and cache-hit ratio, schedule
// resolution latency, and CMS transport health. Modeled on
// cartographus's internal/metrics (promauto-registered package globals,
// one Record* helper per subsystem).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Download Metrics
	DownloadsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "playerd_downloads_active",
			Help: "Current number of in-flight file downloads",
		},
	)

	DownloadsQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "playerd_downloads_queued",
			Help: "Current number of downloads waiting for a concurrency slot",
		},
	)

	DownloadsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playerd_downloads_completed_total",
			Help: "Total number of completed file downloads",
		},
		[]string{"kind", "result"}, // result: "success", "failed", "integrity_warn"
	)

	DownloadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "playerd_download_bytes_total",
			Help: "Total bytes downloaded from the CMS",
		},
	)

	DownloadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "playerd_download_duration_seconds",
			Help:    "Duration of a single file download",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 300, 900},
		},
		[]string{"kind"},
	)

	// Content Store Metrics
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "playerd_cache_hits_total",
			Help: "Total number of content store hits (file already present)",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "playerd_cache_misses_total",
			Help: "Total number of content store misses (file had to be fetched)",
		},
	)

	StoreBytesUsed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "playerd_store_bytes_used",
			Help: "Current number of bytes occupied by the content store",
		},
	)

	// Transport Metrics
	CMSRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playerd_cms_requests_total",
			Help: "Total number of CMS transport requests",
		},
		[]string{"op", "result"}, // result: "success", "retryable", "failed"
	)

	CMSRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "playerd_cms_request_duration_seconds",
			Help:    "Duration of a CMS transport call, including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "playerd_cms_circuit_breaker_state",
			Help: "CMS transport circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	// Schedule Resolver Metrics
	ScheduleResolveDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "playerd_schedule_resolve_duration_seconds",
			Help:    "Duration of a single schedule resolution pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	ScheduleActiveItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "playerd_schedule_active_items",
			Help: "Number of layouts currently eligible to play",
		},
	)

	ProofOfPlayEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playerd_proof_of_play_events_total",
			Help: "Total number of proof-of-play events recorded",
		},
		[]string{"event"}, // "layout_start", "layout_end", "widget_start", "widget_end"
	)

	// Collector Metrics
	CollectionCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "playerd_collection_cycle_duration_seconds",
			Help:    "Duration of one full collection cycle (register, manifest, schedule)",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)

	ActiveLayoutCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "playerd_active_layout_count",
			Help: "Number of layout IDs in the resolver's current play sequence",
		},
	)
)

// RecordDownloadCompleted records a finished download and its duration.
func RecordDownloadCompleted(kind, result string, size int64, duration time.Duration) {
	DownloadsCompleted.WithLabelValues(kind, result).Inc()
	DownloadBytesTotal.Add(float64(size))
	DownloadDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordCacheLookup records whether a requested file was already present
// in the content store.
func RecordCacheLookup(hit bool) {
	if hit {
		CacheHits.Inc()
	} else {
		CacheMisses.Inc()
	}
}

// RecordCMSRequest records a completed CMS transport call.
func RecordCMSRequest(op, result string, duration time.Duration) {
	CMSRequestsTotal.WithLabelValues(op, result).Inc()
	CMSRequestDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordProofOfPlay records one proof-of-play event for the collector.
func RecordProofOfPlay(event string) {
	ProofOfPlayEventsTotal.WithLabelValues(event).Inc()
}
