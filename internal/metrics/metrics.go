package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the tester's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Events           *prometheus.CounterVec
	IgnoredEvents    *prometheus.CounterVec
	Actions          *prometheus.CounterVec
	RecognizeRetries prometheus.Counter
	StaleInputs      *prometheus.CounterVec
	DecisionLatency  prometheus.Histogram
	Sessions         *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ivr",
			Name:      "events_total",
			Help:      "Normalized call events processed, by kind.",
		}, []string{"kind"}),
		IgnoredEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ivr",
			Name:      "ignored_events_total",
			Help:      "Provider callbacks that were not acted upon, by reason.",
		}, []string{"reason"}),
		Actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ivr",
			Name:      "actions_total",
			Help:      "Decisions dispatched, by action type.",
		}, []string{"type"}),
		RecognizeRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ivr",
			Name:      "recognize_retries_total",
			Help:      "Recognition re-arms scheduled after a failure.",
		}),
		StaleInputs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ivr",
			Name:      "stale_inputs_total",
			Help:      "Inputs dropped because they no longer matched the session, by input.",
		}, []string{"input"}),
		DecisionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ivr",
			Name:      "decision_seconds",
			Help:      "Decision policy latency.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		Sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ivr",
			Name:      "sessions_total",
			Help:      "Test runs, by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.Events, m.IgnoredEvents, m.Actions, m.RecognizeRetries, m.StaleInputs, m.DecisionLatency, m.Sessions)
	}
	return m
}

func (m *Metrics) Event(kind string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(kind).Inc()
}

func (m *Metrics) Ignored(reason string) {
	if m == nil {
		return
	}
	m.IgnoredEvents.WithLabelValues(reason).Inc()
}

func (m *Metrics) Action(actionType string) {
	if m == nil {
		return
	}
	m.Actions.WithLabelValues(actionType).Inc()
}

func (m *Metrics) RecognizeRetry() {
	if m == nil {
		return
	}
	m.RecognizeRetries.Inc()
}

func (m *Metrics) Stale(input string) {
	if m == nil {
		return
	}
	m.StaleInputs.WithLabelValues(input).Inc()
}

func (m *Metrics) Decision(d time.Duration) {
	if m == nil {
		return
	}
	m.DecisionLatency.Observe(d.Seconds())
}

func (m *Metrics) Session(outcome string) {
	if m == nil {
		return
	}
	m.Sessions.WithLabelValues(outcome).Inc()
}
