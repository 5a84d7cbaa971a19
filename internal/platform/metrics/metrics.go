package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a registry preloaded with Go runtime and process collectors.
// Each bounded context registers its own metrics against it.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler exposes reg in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Audit holds metrics for the workflow audit publisher.
type Audit struct {
	Published     *prometheus.CounterVec
	Failed        *prometheus.CounterVec
	BreakerOpened prometheus.Counter
}

func NewAudit(reg prometheus.Registerer) *Audit {
	factory := promauto.With(reg)
	return &Audit{
		Published: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trainflow_audit_events_published_total",
			Help: "Audit events accepted by a sink",
		}, []string{"sink"}), // sink: "primary", "fallback"
		Failed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trainflow_audit_events_failed_total",
			Help: "Audit events a sink failed to accept",
		}, []string{"sink"}),
		BreakerOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "trainflow_audit_breaker_opened_total",
			Help: "Times the audit primary sink circuit opened",
		}),
	}
}

func (m *Audit) IncAuditPublished(sink string) {
	if m != nil {
		m.Published.WithLabelValues(sink).Inc()
	}
}

func (m *Audit) IncAuditFailed(sink string) {
	if m != nil {
		m.Failed.WithLabelValues(sink).Inc()
	}
}

func (m *Audit) IncAuditBreakerOpened() {
	if m != nil {
		m.BreakerOpened.Inc()
	}
}
