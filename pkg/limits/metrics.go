package limits

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lfariabr/excel-pilot-sub000/pkg/breaker"
)

// Metrics contains Prometheus metrics for limit enforcement. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	// Limit decisions
	checks        *prometheus.CounterVec
	budgetCharges *prometheus.CounterVec
	fallbacks     *prometheus.CounterVec
	storeErrors   *prometheus.CounterVec

	// Check latency
	checkDuration *prometheus.HistogramVec

	// Breaker
	breakerState       prometheus.Gauge
	breakerTransitions *prometheus.CounterVec

	// Analytics
	violationsLogged *prometheus.CounterVec
	analyticsErrors  *prometheus.CounterVec
	reportsDropped   prometheus.Counter
}

// NewMetrics registers the collectors on reg under namespace. A nil reg
// uses prometheus.DefaultRegisterer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		checks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "limits",
				Name:      "checks_total",
				Help:      "Total number of rate limit checks by kind, result and decision source",
			},
			[]string{"kind", "result", "source"},
		),

		budgetCharges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "limits",
				Name:      "budget_charges_total",
				Help:      "Total number of token budget charges by result, exceeded cap and decision source",
			},
			[]string{"result", "exceeded", "source"},
		),

		fallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "limits",
				Name:      "fallbacks_total",
				Help:      "Total number of decisions made by the fallback policy",
			},
			[]string{"kind", "behavior"},
		),

		storeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "limits",
				Name:      "store_errors_total",
				Help:      "Total number of failed store calls by operation",
			},
			[]string{"operation"},
		),

		checkDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "limits",
				Name:      "check_duration_seconds",
				Help:      "Duration of limit checks in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs to ~0.8s
			},
			[]string{"operation"},
		),

		breakerState: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "breaker",
				Name:      "state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
		),

		breakerTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "breaker",
				Name:      "transitions_total",
				Help:      "Total number of circuit breaker transitions by target state",
			},
			[]string{"to"},
		),

		violationsLogged: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "analytics",
				Name:      "violations_logged_total",
				Help:      "Total number of violations written to the store",
			},
			[]string{"kind"},
		),

		analyticsErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "analytics",
				Name:      "errors_total",
				Help:      "Total number of swallowed analytics failures by operation",
			},
			[]string{"operation"},
		),

		reportsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "analytics",
				Name:      "reports_dropped_total",
				Help:      "Total number of violation reports dropped after shutdown began",
			},
		),
	}
}

// RecordCheck records a rate limit decision.
func (m *Metrics) RecordCheck(kind string, allowed bool, source string) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(kind, resultLabel(allowed), source).Inc()
}

// RecordBudgetCharge records a token budget decision.
func (m *Metrics) RecordBudgetCharge(allowed bool, exceeded, source string) {
	if m == nil {
		return
	}
	if exceeded == "" {
		exceeded = "none"
	}
	m.budgetCharges.WithLabelValues(resultLabel(allowed), exceeded, source).Inc()
}

// RecordFallback records a decision taken without the store.
func (m *Metrics) RecordFallback(kind string, behavior breaker.Behavior) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(kind, string(behavior)).Inc()
}

// RecordStoreError records a failed store call.
func (m *Metrics) RecordStoreError(operation string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(operation).Inc()
}

// RecordCheckDuration records the duration of a limit check operation.
func (m *Metrics) RecordCheckDuration(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.checkDuration.WithLabelValues(operation).Observe(seconds)
}

// BreakerStateChanged matches breaker.Config.OnStateChange.
func (m *Metrics) BreakerStateChanged(_, to breaker.State) {
	if m == nil {
		return
	}
	m.breakerState.Set(float64(to))
	m.breakerTransitions.WithLabelValues(to.String()).Inc()
}

// ViolationLogged implements analytics.Observer.
func (m *Metrics) ViolationLogged(kind string) {
	if m == nil {
		return
	}
	m.violationsLogged.WithLabelValues(kind).Inc()
}

// AnalyticsError implements analytics.Observer.
func (m *Metrics) AnalyticsError(operation string) {
	if m == nil {
		return
	}
	m.analyticsErrors.WithLabelValues(operation).Inc()
}

// RecordReportDropped records a violation report refused after Close.
func (m *Metrics) RecordReportDropped() {
	if m == nil {
		return
	}
	m.reportsDropped.Inc()
}

func resultLabel(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "blocked"
}
