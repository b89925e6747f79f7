package flow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records engine activity. A nil *Metrics records nothing.
type Metrics struct {
	sessionsStarted   prometheus.Counter
	sessionsCompleted prometheus.Counter
	sessionsAbandoned prometheus.Counter
	answers           *prometheus.CounterVec
	stepLatency       *prometheus.HistogramVec
	publishes         *prometheus.CounterVec
	activations       *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flow",
			Subsystem: "sessions",
			Name:      "started_total",
			Help:      "Respondent sessions started",
		}),
		sessionsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flow",
			Subsystem: "sessions",
			Name:      "completed_total",
			Help:      "Respondent sessions completed",
		}),
		sessionsAbandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flow",
			Subsystem: "sessions",
			Name:      "abandoned_total",
			Help:      "Respondent sessions closed before reaching an end node",
		}),
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flow",
			Subsystem: "engine",
			Name:      "answers_total",
			Help:      "Submitted answers by node kind and outcome",
		}, []string{"kind", "outcome"}),
		stepLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flow",
			Subsystem: "engine",
			Name:      "step_duration_seconds",
			Help:      "Time to evaluate a single node",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}, []string{"kind"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flow",
			Subsystem: "versions",
			Name:      "publishes_total",
			Help:      "Publish attempts by outcome",
		}, []string{"outcome"}),
		activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flow",
			Subsystem: "versions",
			Name:      "activations_total",
			Help:      "Activate and unpublish operations",
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.sessionsStarted, m.sessionsCompleted, m.sessionsAbandoned, m.answers,
			m.stepLatency, m.publishes, m.activations)
	}
	return m
}

func (m *Metrics) sessionStarted() {
	if m != nil {
		m.sessionsStarted.Inc()
	}
}

func (m *Metrics) sessionCompleted() {
	if m != nil {
		m.sessionsCompleted.Inc()
	}
}

func (m *Metrics) sessionAbandoned() {
	if m != nil {
		m.sessionsAbandoned.Inc()
	}
}

func (m *Metrics) answer(kind Kind, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "rejected"
	}
	m.answers.WithLabelValues(string(kind), outcome).Inc()
}

func (m *Metrics) step(kind Kind, d time.Duration) {
	if m != nil {
		m.stepLatency.WithLabelValues(string(kind)).Observe(d.Seconds())
	}
}

func (m *Metrics) publish(outcome string) {
	if m != nil {
		m.publishes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) activation(op string) {
	if m != nil {
		m.activations.WithLabelValues(op).Inc()
	}
}
