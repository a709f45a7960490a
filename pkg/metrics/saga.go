package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "txnflow"

// SagaMetrics records orchestrator progress.
type SagaMetrics struct {
	outcomes    *prometheus.CounterVec
	stepLatency *prometheus.HistogramVec
	riskLatency *prometheus.HistogramVec
	inFlight    prometheus.Gauge
	duplicates  prometheus.Counter
}

// NewSagaMetrics registers the saga metrics on the provided registerer.
func NewSagaMetrics(reg prometheus.Registerer) *SagaMetrics {
	if reg == nil {
		return &SagaMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "saga",
		Name:      "outcomes_total",
		Help:      "Sagas that reached a terminal state.",
	}, []string{"status"})
	stepLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "saga",
		Name:      "step_duration_seconds",
		Help:      "Duration of individual saga steps in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"step"})
	riskLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "saga",
		Name:      "risk_latency_seconds",
		Help:      "Latency reported by the risk assessor.",
		Buckets:   []float64{0.25, 0.5, 1, 1.5, 2, 3, 5, 10},
	}, []string{"risk"})
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "saga",
		Name:      "in_flight",
		Help:      "Sagas currently being driven.",
	})
	duplicates := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "saga",
		Name:      "duplicate_commands_total",
		Help:      "Redelivered commands skipped by the idempotency guard.",
	})
	reg.MustRegister(outcomes, stepLatency, riskLatency, inFlight, duplicates)
	return &SagaMetrics{
		outcomes:    outcomes,
		stepLatency: stepLatency,
		riskLatency: riskLatency,
		inFlight:    inFlight,
		duplicates:  duplicates,
	}
}

// IncOutcome counts a saga that finished in the given terminal status.
func (m *SagaMetrics) IncOutcome(status string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(status)).Inc()
}

// ObserveStep records how long the named step took.
func (m *SagaMetrics) ObserveStep(step string, duration time.Duration) {
	if m == nil || m.stepLatency == nil {
		return
	}
	m.stepLatency.WithLabelValues(normalizeLabel(step)).Observe(duration.Seconds())
}

// ObserveRisk records the latency reported for a risk classification.
func (m *SagaMetrics) ObserveRisk(risk string, latency time.Duration) {
	if m == nil || m.riskLatency == nil {
		return
	}
	m.riskLatency.WithLabelValues(normalizeLabel(risk)).Observe(latency.Seconds())
}

func (m *SagaMetrics) IncInFlight() {
	if m == nil || m.inFlight == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *SagaMetrics) DecInFlight() {
	if m == nil || m.inFlight == nil {
		return
	}
	m.inFlight.Dec()
}

func (m *SagaMetrics) IncDuplicate() {
	if m == nil || m.duplicates == nil {
		return
	}
	m.duplicates.Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
