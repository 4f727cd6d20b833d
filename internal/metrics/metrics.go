// Package metrics exposes Prometheus collectors for the orchestration
// service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	recordsDiscoveredTotal    *prometheus.CounterVec
	recordsPersistedTotal     *prometheus.CounterVec
	enrichmentTotal           *prometheus.CounterVec
	enrichmentDurationSeconds *prometheus.HistogramVec
	enrichmentInflight        prometheus.Gauge
	projectRunsTotal          *prometheus.CounterVec
	activeProjects            prometheus.Gauge
	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDuration       *prometheus.HistogramVec
	subscribersGauge          prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call multiple
// times.
func Init() {
	once.Do(func() {
		recordsDiscoveredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadscout_records_discovered_total",
				Help: "Records extracted during the discovery phase, labeled by kind and site.",
			},
			[]string{"kind", "site"},
		)

		recordsPersistedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadscout_records_persisted_total",
				Help: "Records upserted into the result store, labeled by kind.",
			},
			[]string{"kind"},
		)

		enrichmentTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadscout_enrichment_total",
				Help: "Enrichment attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		enrichmentDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leadscout_enrichment_duration_seconds",
				Help:    "Histogram of per-site enrichment latency.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		)

		enrichmentInflight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "leadscout_enrichment_inflight",
				Help: "Site visits currently in flight inside the enrichment fanout.",
			},
		)

		projectRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadscout_project_runs_total",
				Help: "Completed project runs, labeled by terminal status.",
			},
			[]string{"status"},
		)

		activeProjects = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "leadscout_active_projects",
				Help: "Projects with a crawl currently executing.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadscout_http_requests_total",
				Help: "HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leadscout_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		subscribersGauge = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "leadscout_live_subscribers",
				Help: "Currently connected live subscribers.",
			},
		)
	})
}

// Handler returns an http.Handler exposing the Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRecordsDiscovered adds to the discovery counter.
func ObserveRecordsDiscovered(kind, site string, n int) {
	if recordsDiscoveredTotal == nil || n <= 0 {
		return
	}
	recordsDiscoveredTotal.WithLabelValues(kind, site).Add(float64(n))
}

// ObserveRecordPersisted increments the persisted counter for a kind.
func ObserveRecordPersisted(kind string) {
	if recordsPersistedTotal == nil {
		return
	}
	recordsPersistedTotal.WithLabelValues(kind).Inc()
}

// ObserveEnrichment records one enrichment attempt.
func ObserveEnrichment(outcome string, d time.Duration) {
	if enrichmentTotal == nil {
		return
	}
	enrichmentTotal.WithLabelValues(outcome).Inc()
	enrichmentDurationSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

// EnrichmentInflightAdd moves the in-flight gauge.
func EnrichmentInflightAdd(delta float64) {
	if enrichmentInflight == nil {
		return
	}
	enrichmentInflight.Add(delta)
}

// ObserveProjectRun counts one finished run by terminal status.
func ObserveProjectRun(status string) {
	if projectRunsTotal == nil {
		return
	}
	projectRunsTotal.WithLabelValues(status).Inc()
}

// ActiveProjectsAdd moves the active-projects gauge.
func ActiveProjectsAdd(delta float64) {
	if activeProjects == nil {
		return
	}
	activeProjects.Add(delta)
}

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SubscribersAdd moves the live-subscriber gauge.
func SubscribersAdd(delta float64) {
	if subscribersGauge == nil {
		return
	}
	subscribersGauge.Add(delta)
}
