package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Ingestion pipeline and search metrics.
var (
	// IngestMessagesTotal counts queue messages by outcome:
	// written, quota_retry, redelivery, dead_lettered.
	IngestMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_messages_total",
			Help:      "Queue messages handled by the extraction worker, by outcome",
		},
		[]string{"outcome"},
	)

	ExtractionInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "extraction_inflight",
			Help:      "Extraction calls currently in flight",
		},
	)

	ExtractionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_duration_seconds",
			Help:      "Text extraction call duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"status"},
	)

	IndexUpsertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_upserts_total",
			Help:      "Index worker invocations, by outcome",
		},
		[]string{"outcome"},
	)

	TriggerEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_events_total",
			Help:      "Object store events seen by the trigger, by resolved route; upload_lost counts events never enqueued",
		},
		[]string{"route"},
	)

	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_requests_total",
			Help:      "Search requests, by outcome",
		},
		[]string{"outcome"},
	)
)

var pipelineOnce sync.Once

// RegisterPipelineMetrics registers the pipeline collectors on the default registry.
// Repeated calls are no-ops.
func RegisterPipelineMetrics() {
	pipelineOnce.Do(func() {
		prometheus.MustRegister(
			IngestMessagesTotal,
			ExtractionInflight,
			ExtractionDuration,
			IndexUpsertsTotal,
			TriggerEventsTotal,
			SearchRequestsTotal,
		)
	})
}
