// Package metrics provides Prometheus collectors for ingestion and queries.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cryptodash"

type Metrics struct {
	// Ingestion
	RunsTotal    *prometheus.CounterVec
	PairsFetched *prometheus.CounterVec
	PairsFailed  *prometheus.CounterVec
	RowsWritten  *prometheus.CounterVec
	RunDuration  prometheus.Histogram
	LastRunOK    prometheus.Gauge

	// Upstream
	UpstreamLatency *prometheus.HistogramVec

	// Queries
	QueryDuration *prometheus.HistogramVec
	CacheRequests *prometheus.CounterVec

	// Retention
	RowsPruned *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers all collectors on reg. Pass a fresh prometheus.NewRegistry()
// in tests to avoid duplicate registration.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "runs_total",
			Help:      "Ingestion runs by final state",
		}, []string{"state"}),
		PairsFetched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "pairs_fetched_total",
			Help:      "Coin/currency pairs fetched successfully by phase",
		}, []string{"phase"}),
		PairsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "pairs_failed_total",
			Help:      "Coin/currency pairs skipped after an upstream error by phase",
		}, []string{"phase"}),
		RowsWritten: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "rows_written_total",
			Help:      "Price rows written by table",
		}, []string{"table"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "run_duration_seconds",
			Help:      "Duration of ingestion runs",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200},
		}),
		LastRunOK: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful ingestion run",
		}),
		UpstreamLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Market data API request latency by endpoint and outcome",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint", "outcome"}),
		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Price query latency by granularity",
			Buckets:   prometheus.DefBuckets,
		}, []string{"granularity"}),
		CacheRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "cache_requests_total",
			Help:      "Price query cache lookups by result",
		}, []string{"result"}),
		RowsPruned: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "rows_pruned_total",
			Help:      "Rows deleted by the retention worker by table",
		}, []string{"table"}),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// The helpers below accept a nil receiver so components can run without
// metrics in tests.

func (m *Metrics) ObserveUpstream(endpoint, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.UpstreamLatency.WithLabelValues(endpoint, outcome).Observe(seconds)
}

func (m *Metrics) ObserveRun(state string, seconds float64, successUnix float64) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(state).Inc()
	m.RunDuration.Observe(seconds)
	if successUnix > 0 {
		m.LastRunOK.Set(successUnix)
	}
}

func (m *Metrics) PairFetched(phase string) {
	if m == nil {
		return
	}
	m.PairsFetched.WithLabelValues(phase).Inc()
}

func (m *Metrics) PairFailed(phase string) {
	if m == nil {
		return
	}
	m.PairsFailed.WithLabelValues(phase).Inc()
}

func (m *Metrics) RowsWrittenTo(table string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.RowsWritten.WithLabelValues(table).Add(float64(n))
}

func (m *Metrics) ObserveQuery(granularity string, seconds float64) {
	if m == nil {
		return
	}
	m.QueryDuration.WithLabelValues(granularity).Observe(seconds)
}

func (m *Metrics) CacheResult(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) Pruned(table string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.RowsPruned.WithLabelValues(table).Add(float64(n))
}
