// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "duckgrid",
		Name:      "query_duration_seconds",
		Help:      "Latency of assembled grid queries, by table and kind (rows, count).",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"table", "kind"})

	QueryErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "duckgrid",
		Name:      "query_errors_total",
		Help:      "Grid queries that failed to execute.",
	}, []string{"table", "kind"})

	RowsReturned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "duckgrid",
		Name:      "rows_returned_total",
		Help:      "Rows handed back to grid clients.",
	}, []string{"table"})

	OpenSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "duckgrid",
		Name:      "open_sessions",
		Help:      "Engine sessions currently leased.",
	})

	InflightPages = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "duckgrid",
		Name:      "inflight_page_requests",
		Help:      "Page requests holding a slot of the per-table concurrency cap.",
	}, []string{"table"})

	StateOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "duckgrid",
		Name:      "viewstate_operations_total",
		Help:      "View-state store operations by op and outcome.",
	}, []string{"op", "outcome"})
)
