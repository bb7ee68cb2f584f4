package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scheduleRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridgesched_schedule_requests_total",
			Help: "Total number of scheduling requests",
		},
		[]string{"view", "status"},
	)

	scheduleRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bridgesched_schedule_request_duration_seconds",
			Help:    "Scheduling request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"view"},
	)

	occurrencesGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridgesched_occurrences_generated_total",
			Help: "Occurrences produced by schedule generation",
		},
		[]string{"view"},
	)

	occurrencesPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridgesched_occurrences_persisted_total",
			Help: "Newly observed occurrences written to the store",
		},
		[]string{"view"},
	)

	updateBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridgesched_update_batches_total",
			Help: "Total number of update batches",
		},
		[]string{"status"},
	)

	updateBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bridgesched_update_batch_size",
			Help:    "Rows per update batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		},
	)

	surveyCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridgesched_survey_cache_total",
			Help: "Survey version cache lookups by result",
		},
		[]string{"result"},
	)

	eventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridgesched_events_processed_total",
			Help: "Events handled by the event bus",
		},
		[]string{"type", "status"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridgesched_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	dbConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridgesched_db_connections_in_use",
			Help: "Number of database connections currently in use",
		},
	)

	dbConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridgesched_db_connections_idle",
			Help: "Number of idle database connections",
		},
	)
)

// Survey cache results.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordScheduleRequest(view, status string, duration time.Duration) {
	scheduleRequestsTotal.WithLabelValues(view, status).Inc()
	scheduleRequestDuration.WithLabelValues(view).Observe(duration.Seconds())
}

func RecordOccurrences(view string, generated, persisted int) {
	occurrencesGenerated.WithLabelValues(view).Add(float64(generated))
	occurrencesPersisted.WithLabelValues(view).Add(float64(persisted))
}

func RecordUpdateBatch(status string, size int) {
	updateBatchesTotal.WithLabelValues(status).Inc()
	updateBatchSize.Observe(float64(size))
}

func RecordSurveyCache(result string) {
	surveyCacheTotal.WithLabelValues(result).Inc()
}

func RecordEventProcessed(eventType, status string) {
	eventsProcessedTotal.WithLabelValues(eventType, status).Inc()
}

func UpdateDBStats(open, inUse, idle int) {
	dbConnectionsOpen.Set(float64(open))
	dbConnectionsInUse.Set(float64(inUse))
	dbConnectionsIdle.Set(float64(idle))
}
