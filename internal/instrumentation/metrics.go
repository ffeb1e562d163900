// Package instrumentation registers the Prometheus metrics exposed by the
// service, grounded on the teacher pack's analytics instrumentation
// package: one struct of pre-registered collectors, constructed once at
// startup and passed by reference into every component.
package instrumentation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector used across the pipeline.
type Metrics struct {
	TradesProcessedTotal prometheus.Counter
	DepthDiffsAppliedTotal prometheus.Counter
	DepthDiffsDiscardedTotal prometheus.Counter

	BookLevelCount  prometheus.Gauge
	BookCircuitOpen prometheus.Gauge

	IngressQueueDepth    prometheus.Gauge
	IngressCoalescedTotal prometheus.Counter

	PipelineLatencyMs prometheus.Histogram

	ZonesActive    prometheus.Gauge
	ZonesCompleted prometheus.Counter

	SignalsEmittedTotal   *prometheus.CounterVec
	SignalsRejectedTotal  *prometheus.CounterVec
	AnomaliesEmittedTotal *prometheus.CounterVec

	JournalRecordsWrittenTotal prometheus.Counter
	JournalRecordsDroppedTotal prometheus.Counter

	BroadcastClientsConnected     prometheus.Gauge
	BroadcastMessagesDroppedTotal prometheus.Counter
}

// New creates and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TradesProcessedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "orderflow_trades_processed_total",
			Help: "Total aggressive trades processed by the hot pipeline.",
		}),
		DepthDiffsAppliedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "orderflow_depth_diffs_applied_total",
			Help: "Total depth diffs successfully applied to the book.",
		}),
		DepthDiffsDiscardedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "orderflow_depth_diffs_discarded_total",
			Help: "Total depth diffs discarded by sequence validation.",
		}),
		BookLevelCount: f.NewGauge(prometheus.GaugeOpts{
			Name: "orderflow_book_level_count",
			Help: "Current number of price levels held by the book.",
		}),
		BookCircuitOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "orderflow_book_circuit_open",
			Help: "1 if the book's circuit breaker is open, else 0.",
		}),
		IngressQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "orderflow_ingress_queue_depth",
			Help: "Current depth of the bounded ingress queue.",
		}),
		IngressCoalescedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "orderflow_ingress_coalesced_total",
			Help: "Total depth frames coalesced under backpressure.",
		}),
		PipelineLatencyMs: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "orderflow_pipeline_latency_ms",
			Help:    "End-to-end latency from ingress read to coordinator emission.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100},
		}),
		ZonesActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "orderflow_zones_active",
			Help: "Current number of active trading zones.",
		}),
		ZonesCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "orderflow_zones_completed_total",
			Help: "Total trading zones that reached the completed state.",
		}),
		SignalsEmittedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orderflow_signals_emitted_total",
			Help: "Total signals emitted by the coordinator, by pattern type.",
		}, []string{"type"}),
		SignalsRejectedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orderflow_signals_rejected_total",
			Help: "Total candidates rejected by the coordinator, by reason.",
		}, []string{"reason"}),
		AnomaliesEmittedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orderflow_anomalies_emitted_total",
			Help: "Total anomalies emitted, by type and severity.",
		}, []string{"type", "severity"}),
		JournalRecordsWrittenTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "orderflow_journal_records_written_total",
			Help: "Total egress events successfully appended to the journal.",
		}),
		JournalRecordsDroppedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "orderflow_journal_records_dropped_total",
			Help: "Total egress events dropped because the journal channel was full.",
		}),
		BroadcastClientsConnected: f.NewGauge(prometheus.GaugeOpts{
			Name: "orderflow_broadcast_clients_connected",
			Help: "Current number of connected websocket broadcast clients.",
		}),
		BroadcastMessagesDroppedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "orderflow_broadcast_messages_dropped_total",
			Help: "Total broadcast messages dropped because a client's send buffer was full.",
		}),
	}
}
