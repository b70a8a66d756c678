// Package metrics provides Prometheus instrumentation for the repeater.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TransactionsObserved counts target transactions seen by the watcher.
	TransactionsObserved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "repeater_target_transactions_total",
		Help: "Transactions sent to a target account",
	})

	// BatchesMirrored counts rewritten batches, partitioned by operation type.
	BatchesMirrored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repeater_batches_mirrored_total",
		Help: "Target batches rewritten for the repeater",
	}, []string{"type"})

	// Failures counts per-transaction failures by kind.
	Failures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repeater_failures_total",
		Help: "Target transactions that could not be mirrored",
	}, []string{"kind"})

	// PipelineLatency tracks decode to encode time for one transaction.
	PipelineLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "repeater_pipeline_latency_seconds",
		Help:    "Time from decode to encoded repeater batch",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	// SubmissionLatency tracks send to mined time, partitioned by final status.
	SubmissionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "repeater_submission_latency_seconds",
		Help:    "Time from send to receipt of the repeater execute call",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"status"})

	// LastBlock is the last block the watcher walked.
	LastBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "repeater_last_block",
		Help: "Last block processed by the watcher",
	})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
