// internal/infra/metrics/metrics.go
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_deliveries_total",
			Help: "Reminder delivery attempts by schedule kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	armedJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reminder_armed_jobs",
			Help: "Number of reminder timers currently armed",
		},
	)

	fireDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reminder_fire_duration_seconds",
			Help:    "Time spent handling one timer fire, delivery included",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	skippedRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_skipped_records_total",
			Help: "Persisted schedules skipped because they are malformed",
		},
		[]string{"phase"},
	)

	disabledSchedules = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reminder_disabled_schedules_total",
			Help: "Schedules removed by the permanent-failure policy",
		},
	)
)

func RecordDelivery(kind, outcome string) {
	deliveriesTotal.WithLabelValues(kind, outcome).Inc()
}

func SetArmedJobs(n int) {
	armedJobs.Set(float64(n))
}

func ObserveFire(d time.Duration) {
	fireDuration.Observe(d.Seconds())
}

// RecordSkippedRecord counts a malformed record; phase is "recover", "resync" or "fire".
func RecordSkippedRecord(phase string) {
	skippedRecords.WithLabelValues(phase).Inc()
}

func RecordDisabled() {
	disabledSchedules.Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
