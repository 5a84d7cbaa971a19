package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for expiry scans.
type Metrics struct {
	// Scans by trigger (schedule, manual) and outcome (ok, partial, skipped, error)
	Scans *prometheus.CounterVec

	ScanDuration prometheus.Histogram

	CertificationsChecked prometheus.Counter

	// Notifications created, by type (expiry_warning, escalation)
	NotificationsCreated *prometheus.CounterVec

	// Per-item failures isolated by the scan, by stage (monitor, escalation)
	ItemFailures *prometheus.CounterVec

	LastSuccess prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Scans: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trainflow_expiry_scans_total",
			Help: "Expiry scans by trigger and outcome",
		}, []string{"trigger", "outcome"}),
		ScanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "trainflow_expiry_scan_duration_seconds",
			Help:    "Duration of a complete expiry scan",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		CertificationsChecked: factory.NewCounter(prometheus.CounterOpts{
			Name: "trainflow_expiry_certifications_checked_total",
			Help: "Certifications examined by expiry scans",
		}),
		NotificationsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trainflow_expiry_notifications_created_total",
			Help: "Notifications created by expiry scans",
		}, []string{"type"}),
		ItemFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trainflow_expiry_item_failures_total",
			Help: "Certifications skipped by a scan because of an error",
		}, []string{"stage"}),
		LastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "trainflow_expiry_last_success_timestamp_seconds",
			Help: "Unix time of the last scan that completed without item failures",
		}),
	}
}

func (m *Metrics) ObserveScan(trigger, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.Scans.WithLabelValues(trigger, outcome).Inc()
	if outcome == "skipped" {
		return
	}
	m.ScanDuration.Observe(time.Since(start).Seconds())
	if outcome == "ok" {
		m.LastSuccess.SetToCurrentTime()
	}
}

func (m *Metrics) AddChecked(n int) {
	if m != nil {
		m.CertificationsChecked.Add(float64(n))
	}
}

func (m *Metrics) IncCreated(notificationType string) {
	if m != nil {
		m.NotificationsCreated.WithLabelValues(notificationType).Inc()
	}
}

func (m *Metrics) IncItemFailure(stage string) {
	if m != nil {
		m.ItemFailures.WithLabelValues(stage).Inc()
	}
}
