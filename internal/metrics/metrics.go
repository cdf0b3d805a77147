package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	lockAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "courtside",
			Name:      "lock_attempts_total",
			Help:      "Slot lock attempts by outcome (held, conflict, error).",
		},
		[]string{"outcome"},
	)

	holdEndings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "courtside",
			Name:      "hold_endings_total",
			Help:      "How active holds ended (expired, lost, released, paid).",
		},
		[]string{"reason"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "courtside",
			Name:      "availability_cache_lookups_total",
			Help:      "Availability cache lookups by result (hit, stale, miss).",
		},
		[]string{"result"},
	)

	refreshErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "courtside",
			Name:      "availability_refresh_errors_total",
			Help:      "Background availability refresh failures (swallowed).",
		},
	)

	paymentOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "courtside",
			Name:      "payment_outcomes_total",
			Help:      "Payment submissions by outcome (verified, rejected, hold_expired, error).",
		},
		[]string{"outcome"},
	)

	activeHolds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "courtside",
			Name:      "active_holds",
			Help:      "Number of holds this client currently believes it owns (0 or 1).",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(lockAttempts, holdEndings, cacheLookups, refreshErrors, paymentOutcomes, activeHolds)
	})
}

func IncLockAttempt(outcome string) { lockAttempts.WithLabelValues(outcome).Inc() }

func IncHoldEnding(reason string) { holdEndings.WithLabelValues(reason).Inc() }

func IncCacheLookup(result string) { cacheLookups.WithLabelValues(result).Inc() }

func IncRefreshError() { refreshErrors.Inc() }

func IncPaymentOutcome(outcome string) { paymentOutcomes.WithLabelValues(outcome).Inc() }

func SetActiveHolds(n float64) { activeHolds.Set(n) }
