package metrics

import "github.com/prometheus/client_golang/prometheus"

// Retrieval pipeline, job ingestion and retry metrics.
var (
	KeywordDegradedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keyword_degraded_total",
			Help:      "Candidate searches that fell back to embedding-only ranking",
		},
		[]string{"reason"}, // "error" / "empty"
	)

	TempVectorCleanupFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "temp_vector_cleanup_failures_total",
			Help:      "Transient query vectors that could not be deleted",
		},
	)

	JobRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_refresh_total",
			Help:      "Job snapshot refreshes by outcome",
		},
		[]string{"status"},
	)

	JobRefreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_refresh_duration_seconds",
			Help:      "Job snapshot refresh duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	JobRefreshLastSuccess = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_refresh_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful job refresh",
		},
	)

	BackfillTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backfill_entities_total",
			Help:      "Entities processed by embedding backfill",
		},
		[]string{"kind", "result"}, // "indexed" / "skipped" / "failed"
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Retried calls to external dependencies",
		},
		[]string{"op"},
	)
)

var retrievalMetricsRegistered bool

// RegisterRetrievalMetrics registers pipeline, ingestion and retry metrics. Must be called once from main.
func RegisterRetrievalMetrics() {
	if retrievalMetricsRegistered {
		return
	}
	prometheus.MustRegister(KeywordDegradedTotal)
	prometheus.MustRegister(TempVectorCleanupFailuresTotal)
	prometheus.MustRegister(JobRefreshTotal)
	prometheus.MustRegister(JobRefreshDuration)
	prometheus.MustRegister(JobRefreshLastSuccess)
	prometheus.MustRegister(BackfillTotal)
	prometheus.MustRegister(RetryAttemptsTotal)
	retrievalMetricsRegistered = true
}
