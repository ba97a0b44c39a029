// Package metrics exposes scan pipeline metrics in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"privacyguard/internal/domain/models"
	"privacyguard/internal/domain/services"
)

const namespace = "privacyguard"

// Metrics records rescans and verdict lookups on its own registry
type Metrics struct {
	registry *prometheus.Registry

	ScansTotal     prometheus.Counter
	ScanFailures   *prometheus.CounterVec
	ScanDuration   prometheus.Histogram
	VerdictLookups *prometheus.CounterVec

	SafetyScore    prometheus.Gauge
	AppsScanned    prometheus.Gauge
	Threats        *prometheus.GaugeVec
	UserAppThreats prometheus.Gauge
}

var _ services.ScanRecorder = (*Metrics)(nil)

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ScansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Completed rescans.",
		}),
		ScanFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_failures_total",
			Help:      "Rescans that did not replace the record store, by reason.",
		}, []string{"reason"}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Wall time of completed rescans.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		VerdictLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdict_lookups_total",
			Help:      "Malware verdict lookups, by outcome.",
		}, []string{"outcome"}),
		SafetyScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_safety_score",
			Help:      "Safety score from the most recent rescan.",
		}),
		AppsScanned: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "apps_scanned",
			Help:      "Applications in the most recent rescan.",
		}),
		Threats: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "threats",
			Help:      "Threat counts from the most recent rescan, by severity.",
		}, []string{"severity"}),
		UserAppThreats: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "user_app_threats",
			Help:      "User-installed apps scoring 40 or more in the most recent rescan.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ScansTotal,
		m.ScanFailures,
		m.ScanDuration,
		m.VerdictLookups,
		m.SafetyScore,
		m.AppsScanned,
		m.Threats,
		m.UserAppThreats,
	)
	return m
}

// ObserveScan records a completed rescan
func (m *Metrics) ObserveScan(summary *models.ScanSummary) {
	if summary == nil {
		return
	}
	m.ScansTotal.Inc()
	m.ScanDuration.Observe(summary.Duration().Seconds())
	m.SafetyScore.Set(float64(summary.Device.SafetyScore))
	m.AppsScanned.Set(float64(summary.AppCount))
	m.Threats.WithLabelValues("high").Set(float64(summary.Device.HighRiskCount))
	m.Threats.WithLabelValues("medium").Set(float64(summary.Device.MediumRiskCount))
	m.UserAppThreats.Set(float64(summary.Device.UserAppThreats))
}

// ObserveScanFailure counts a failed rescan
func (m *Metrics) ObserveScanFailure(reason string) {
	m.ScanFailures.WithLabelValues(reason).Inc()
}

// ObserveVerdictLookup counts a verdict lookup
func (m *Metrics) ObserveVerdictLookup(outcome string) {
	m.VerdictLookups.WithLabelValues(outcome).Inc()
}

// Handler serves the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
