// Package metrics exposes Prometheus instrumentation for sync runs, upstream
// fetches and the read API.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync Metrics
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mgnrega_sync_runs_total",
			Help: "Total number of sync runs by trigger and outcome",
		},
		[]string{"trigger", "outcome"}, // trigger: cron, api, cli; outcome: success, failure
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mgnrega_sync_duration_seconds",
			Help:    "Wall-clock duration of sync runs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	SyncRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mgnrega_sync_rows_total",
			Help: "Rows seen by sync runs, by disposition",
		},
		[]string{"disposition"}, // fetched, upserted, failed, skipped
	)

	SyncPages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mgnrega_sync_pages_total",
			Help: "Total number of upstream pages fetched",
		},
	)

	SyncInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mgnrega_sync_in_flight",
			Help: "Number of sync runs currently executing",
		},
	)

	SyncOverlaps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mgnrega_sync_overlaps_total",
			Help: "Sync runs started while another run was in flight",
		},
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mgnrega_sync_last_success_timestamp_seconds",
			Help: "Unix time of the most recent successful sync run",
		},
	)

	// Upstream Fetch Metrics
	FetchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datagov_fetch_attempts_total",
			Help: "Upstream fetch outcomes: success, retry, exhausted",
		},
		[]string{"outcome"},
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Monitoring Metrics
	AlertsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mgnrega_alerts_sent_total",
			Help: "Alerts dispatched by the staleness checker",
		},
		[]string{"kind", "channel"},
	)
)

// RecordSyncRun records the outcome and row counts of one sync run.
func RecordSyncRun(trigger string, duration time.Duration, fetched, upserted, failed, skipped int, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	SyncRunsTotal.WithLabelValues(trigger, outcome).Inc()
	SyncDuration.Observe(duration.Seconds())
	SyncRows.WithLabelValues("fetched").Add(float64(fetched))
	SyncRows.WithLabelValues("upserted").Add(float64(upserted))
	SyncRows.WithLabelValues("failed").Add(float64(failed))
	SyncRows.WithLabelValues("skipped").Add(float64(skipped))
	if err == nil {
		SyncLastSuccess.Set(float64(time.Now().Unix()))
	}
}

// RecordAPIRequest records an API request with its status and latency.
func RecordAPIRequest(method, route string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
