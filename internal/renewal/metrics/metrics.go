package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the renewal workflow.
type Metrics struct {
	// Transition outcomes by action (submit, approve, reject) and result code
	Transitions *prometheus.CounterVec

	TransitionDuration *prometheus.HistogramVec

	// Optimistic concurrency losses
	VersionConflicts prometheus.Counter

	// Side effects that failed after the transition committed
	SideEffectFailures *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trainflow_renewal_transitions_total",
			Help: "Renewal workflow operations by action and outcome",
		}, []string{"action", "outcome"}),
		TransitionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trainflow_renewal_transition_duration_seconds",
			Help:    "Duration of renewal workflow operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"action"}),
		VersionConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "trainflow_renewal_version_conflicts_total",
			Help: "Transitions rejected because a concurrent writer advanced the request",
		}),
		SideEffectFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trainflow_renewal_side_effect_failures_total",
			Help: "Notification or audit writes that failed after a committed transition",
		}, []string{"kind"}), // kind: "notification", "audit"
	}
}

// ObserveTransition records one operation. outcome is "ok" or an error code.
func (m *Metrics) ObserveTransition(action, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(action, outcome).Inc()
	m.TransitionDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncVersionConflict() {
	if m != nil {
		m.VersionConflicts.Inc()
	}
}

func (m *Metrics) IncSideEffectFailure(kind string) {
	if m != nil {
		m.SideEffectFailures.WithLabelValues(kind).Inc()
	}
}
