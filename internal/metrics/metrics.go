// Package metrics holds the Prometheus collectors for the tracker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "swap_tracker"

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion
	LogsFetched     prometheus.Counter
	LogsFiltered    prometheus.Counter
	SwapsNormalized *prometheus.CounterVec
	SwapsDropped    *prometheus.CounterVec

	// Valuation
	LegsValued     *prometheus.CounterVec
	OracleRequests *prometheus.CounterVec
	BatchDuration  prometheus.Histogram
	LastBatchBlock prometheus.Gauge

	// Persistence
	RowsInserted   prometheus.Counter
	InsertFailures prometheus.Counter
	SinkFailures   *prometheus.CounterVec

	// Webhook
	WebhookRequests *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers every collector on reg. Use prometheus.NewRegistry in tests
// to avoid duplicate registration on the default registry.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		LogsFetched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "logs_fetched_total",
			Help:      "Swap logs returned by eth_getLogs or webhooks",
		}),
		LogsFiltered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "logs_filtered_total",
			Help:      "Swap logs whose sender is in the wallet allowlist",
		}),
		SwapsNormalized: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "swaps_normalized_total",
			Help:      "Swaps normalized by event shape",
		}, []string{"shape"}),
		SwapsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "swaps_dropped_total",
			Help:      "Swap logs dropped before valuation by reason",
		}, []string{"reason"}),
		LegsValued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "valuation",
			Name:      "legs_total",
			Help:      "Swap legs by valuation outcome",
		}, []string{"outcome"}),
		OracleRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "requests_total",
			Help:      "USD price lookups by outcome",
		}, []string{"outcome"}),
		BatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "valuation",
			Name:      "batch_duration_seconds",
			Help:      "Time to normalize, value and persist one block batch",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		LastBatchBlock: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "valuation",
			Name:      "last_batch_block",
			Help:      "Block number of the most recently processed batch",
		}),
		RowsInserted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "rows_inserted_total",
			Help:      "Rows written to swap_events",
		}),
		InsertFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "insert_failures_total",
			Help:      "Rows skipped because the insert failed",
		}),
		SinkFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sinks",
			Name:      "failures_total",
			Help:      "Publish failures by downstream sink",
		}, []string{"sink"}),
		WebhookRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "requests_total",
			Help:      "Webhook requests by result",
		}, []string{"result"}),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
