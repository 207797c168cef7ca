package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	generationsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "photogen",
			Subsystem: "generations",
			Name:      "created_total",
			Help:      "Generations accepted and queued, by credit source.",
		},
		[]string{"source"},
	)

	regenerations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "photogen",
			Subsystem: "generations",
			Name:      "regenerations_total",
			Help:      "Regenerations queued, by credit source.",
		},
		[]string{"source"},
	)

	rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "photogen",
			Subsystem: "generations",
			Name:      "rejections_total",
			Help:      "Rejected generation requests, by error code.",
		},
		[]string{"code"},
	)

	reservations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "photogen",
			Subsystem: "credits",
			Name:      "reservations_total",
			Help:      "Credit reservation attempts, by pool and result.",
		},
		[]string{"pool", "result"},
	)

	compensations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "photogen",
			Subsystem: "generations",
			Name:      "compensations_total",
			Help:      "Compensating actions run after a failed step, by step.",
		},
		[]string{"step"},
	)

	createDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "photogen",
			Subsystem: "generations",
			Name:      "create_duration_seconds",
			Help:      "Duration of generation admission.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"kind"},
	)
)

func init() {
	Registry.MustRegister(
		generationsCreated,
		regenerations,
		rejections,
		reservations,
		compensations,
		createDuration,
	)
}

// Handler exposes the registry over HTTP.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordGeneration(source string) {
	generationsCreated.WithLabelValues(source).Inc()
}

func RecordRegeneration(source string) {
	regenerations.WithLabelValues(source).Inc()
}

func RecordRejection(code string) {
	rejections.WithLabelValues(code).Inc()
}

// RecordReservation counts one reservation attempt; result is ok, insufficient or race_lost.
func RecordReservation(pool, result string) {
	reservations.WithLabelValues(pool, result).Inc()
}

func RecordCompensation(step string) {
	compensations.WithLabelValues(step).Inc()
}

// ObserveCreate records how long admitting a generation or regeneration took.
func ObserveCreate(kind string, seconds float64) {
	createDuration.WithLabelValues(kind).Observe(seconds)
}
