// Package metrics holds the prometheus collectors of the sync engine.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ucm_sync"

//nolint:gochecknoglobals
var (
	// Registry is served at /metrics.
	Registry = prometheus.NewRegistry()

	unitOutcomeCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unit_outcomes_total",
			Help:      "Count of finished sync units by phase, entity type and outcome.",
		},
		[]string{"phase", "entity_type", "outcome"},
	)
	unitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "unit_duration_seconds",
			Help:      "Time spent syncing one entity type against one target.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"phase", "entity_type"},
	)
	recordsUpsertedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_upserted_total",
			Help:      "Count of entity records written by chunk upserts.",
		},
		[]string{"entity_type"},
	)
	retryCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "axl_retries_total",
			Help:      "Count of AXL calls repeated after a transient failure.",
		},
		[]string{"operation"},
	)
	runOutcomeCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_outcomes_total",
			Help:      "Count of finished sync runs by outcome.",
		},
		[]string{"outcome"},
	)
	phaseTransitionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_transitions_total",
			Help:      "Count of sync run phase transitions.",
		},
		[]string{"phase"},
	)
	runsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_in_flight",
			Help:      "Number of sync runs that have not reached a terminal phase.",
		},
	)
)

var registerMetrics sync.Once

// Register all metrics.
func Register() {
	registerMetrics.Do(func() {
		Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			unitOutcomeCounter,
			unitDuration,
			recordsUpsertedCounter,
			retryCounter,
			runOutcomeCounter,
			phaseTransitionCounter,
			runsInFlight,
		)
	})
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordUnitOutcome records a finished unit and how long it took.
func RecordUnitOutcome(phase, entityType, outcome string, elapsed time.Duration) {
	unitOutcomeCounter.WithLabelValues(phase, entityType, outcome).Inc()
	unitDuration.WithLabelValues(phase, entityType).Observe(elapsed.Seconds())
}

func RecordRecordsUpserted(entityType string, count int) {
	recordsUpsertedCounter.WithLabelValues(entityType).Add(float64(count))
}

func RecordRetry(operation string) {
	retryCounter.WithLabelValues(operation).Inc()
}

func RecordPhaseTransition(phase string) {
	phaseTransitionCounter.WithLabelValues(phase).Inc()
}

// RecordRunStarted and RecordRunFinished keep runs_in_flight balanced.
func RecordRunStarted() {
	runsInFlight.Inc()
}

func RecordRunFinished(outcome string) {
	runsInFlight.Dec()
	runOutcomeCounter.WithLabelValues(outcome).Inc()
}
