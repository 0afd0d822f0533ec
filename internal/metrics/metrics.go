package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Admission metrics
	eventsReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventgate_events_received_total",
			Help: "Total number of events received on the publish endpoint",
		},
	)

	eventsAcceptedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventgate_events_accepted_total",
			Help: "Total number of events admitted to the queue",
		},
	)

	eventsDuplicateTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventgate_events_duplicate_total",
			Help: "Total number of duplicate events, by detection stage",
		},
		[]string{"stage"},
	)

	eventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventgate_events_dropped_total",
			Help: "Total number of events dropped because the queue was full",
		},
	)

	// Consumer metrics
	eventsProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventgate_events_processed_total",
			Help: "Total number of events committed and handed to the sink",
		},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventgate_queue_depth",
			Help: "Number of events waiting in the in-memory queue",
		},
	)

	sinkDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventgate_sink_duration_seconds",
			Help:    "Sink delivery duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
	)

	// Store maintenance metrics
	storeCleanupDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventgate_store_cleanup_deleted_total",
			Help: "Total number of dedup records removed by the cleanup janitor",
		},
	)
)

// Duplicate detection stages.
const (
	StageAdmission = "admission"
	StageCommit    = "commit"
)

// RecordReceived counts events arriving on the publish endpoint.
func RecordReceived(n int) {
	eventsReceivedTotal.Add(float64(n))
}

// RecordAccepted counts events admitted to the queue.
func RecordAccepted() {
	eventsAcceptedTotal.Inc()
}

// RecordDuplicate counts a duplicate at the given stage, "admission" for the
// publish-time check or "commit" for the consumer fence.
func RecordDuplicate(stage string) {
	eventsDuplicateTotal.WithLabelValues(stage).Inc()
}

// RecordDropped counts an event rejected because the queue was full.
func RecordDropped() {
	eventsDroppedTotal.Inc()
}

// RecordProcessed records a committed event and its sink delivery time.
func RecordProcessed(duration time.Duration) {
	eventsProcessedTotal.Inc()
	sinkDuration.Observe(duration.Seconds())
}

// SetQueueDepth sets the current queue length.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// RecordCleanupDeleted counts records removed by the janitor.
func RecordCleanupDeleted(n int64) {
	storeCleanupDeletedTotal.Add(float64(n))
}

// MetricsHandler returns the Prometheus metrics handler
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
