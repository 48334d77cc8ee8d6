// Package metrics exposes Prometheus collectors for the scan pipeline.
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
	scansTotal                 *prometheus.CounterVec
	admissionsTotal            *prometheus.CounterVec
	agentRunsTotal             *prometheus.CounterVec
	agentDurationSeconds       *prometheus.HistogramVec
	rankQueriesTotal           *prometheus.CounterVec
	rankCacheTotal             *prometheus.CounterVec
	scanScore                  *prometheus.HistogramVec
	activeScans                prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scansTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siteaudit_scans_total",
				Help: "Total number of finished scans, labeled by mode and terminal status.",
			},
			[]string{"mode", "status"},
		)

		admissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siteaudit_admissions_total",
				Help: "Scan admissions, labeled by outcome (admitted, deduplicated, error).",
			},
			[]string{"outcome"},
		)

		agentRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siteaudit_agent_runs_total",
				Help: "Terminal agent runs, labeled by agent and status.",
			},
			[]string{"agent", "status"},
		)

		agentDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "siteaudit_agent_duration_seconds",
				Help:    "Histogram of agent run durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"agent"},
		)

		rankQueriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siteaudit_rank_queries_total",
				Help: "SERP queries issued by the rank checker, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		rankCacheTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siteaudit_rank_cache_total",
				Help: "SERP cache lookups, labeled by result (hit, miss, error).",
			},
			[]string{"result"},
		)

		scanScore = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "siteaudit_scan_overall_score",
				Help:    "Distribution of composite scores, labeled by mode.",
				Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			},
			[]string{"mode"},
		)

		activeScans = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "siteaudit_active_scans",
				Help: "Number of scans currently running in this process.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveScan records a finished scan.
func ObserveScan(mode, status string, overall int) {
	Init()
	scansTotal.WithLabelValues(mode, status).Inc()
	if status != "failed" {
		scanScore.WithLabelValues(mode).Observe(float64(overall))
	}
}

// ObserveAdmission records the outcome of an admission attempt.
func ObserveAdmission(outcome string) {
	Init()
	admissionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveAgentRun records a terminal agent run.
func ObserveAgentRun(agent, status string, duration time.Duration) {
	Init()
	agentRunsTotal.WithLabelValues(agent, status).Inc()
	if status != "skipped" {
		agentDurationSeconds.WithLabelValues(agent).Observe(duration.Seconds())
	}
}

// ObserveRankQuery records one SERP query outcome (ranked, unranked, error, deadline).
func ObserveRankQuery(outcome string) {
	Init()
	rankQueriesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRankCache records a SERP cache lookup.
func ObserveRankCache(result string) {
	Init()
	rankCacheTotal.WithLabelValues(result).Inc()
}

// IncActiveScans increments the active scans gauge.
func IncActiveScans() {
	Init()
	activeScans.Inc()
}

// DecActiveScans decrements the active scans gauge.
func DecActiveScans() {
	Init()
	activeScans.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
