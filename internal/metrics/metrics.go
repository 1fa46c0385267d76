package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/alert"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/analysis"
)

const namespace = "sentinel"

// Outcome label values for analysis results
const (
	OutcomeSafe   = "safe"
	OutcomeDanger = "danger"
	OutcomeFailed = "failed"
)

// Metrics holds the counters the monitoring loop updates. Each instance
// owns its registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	FramesProcessed      prometheus.Counter
	PersonFrames         prometheus.Counter
	Escalations          prometheus.Counter
	AnalysisResults      *prometheus.CounterVec
	AnalysisLatency      prometheus.Histogram
	Alerts               *prometheus.CounterVec
	NotificationFailures prometheus.Counter
	EvidenceSaved        prometheus.Counter
	FPS                  prometheus.Gauge
	AlertDisplayed       prometheus.Gauge
}

// New creates the metrics and registers them with Go and process collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		FramesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_processed_total",
			Help:      "Frames taken from the capture queue by the monitoring loop",
		}),
		PersonFrames: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "person_frames_total",
			Help:      "Frames in which the detector found at least one person",
		}),
		Escalations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Frames submitted to the reasoning backend",
		}),
		AnalysisResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_results_total",
			Help:      "Analysis results by outcome",
		}, []string{"outcome"}),
		AnalysisLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_latency_seconds",
			Help:      "Time from escalation to result",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		Alerts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Danger results by delivery state",
		}, []string{"state"}),
		NotificationFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Delivered alerts that no notification channel accepted",
		}),
		EvidenceSaved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evidence_images_total",
			Help:      "Evidence images written",
		}),
		FPS: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loop_fps",
			Help:      "Monitoring loop frames per second over the last second",
		}),
		AlertDisplayed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alert_displayed",
			Help:      "1 while a danger result is within its display window",
		}),
	}
}

// Registry returns the registry backing these metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MustRegister adds extra collectors
func (m *Metrics) MustRegister(cs ...prometheus.Collector) {
	m.registry.MustRegister(cs...)
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveResult counts one analysis result
func (m *Metrics) ObserveResult(r analysis.Result) {
	outcome := OutcomeSafe
	switch {
	case r.Failed:
		outcome = OutcomeFailed
	case r.IsDanger:
		outcome = OutcomeDanger
	}
	m.AnalysisResults.WithLabelValues(outcome).Inc()

	if latency := r.Latency(); latency > 0 {
		m.AnalysisLatency.Observe(latency.Seconds())
	}
}

// ObserveOutcome counts what the coordinator did with a danger result
func (m *Metrics) ObserveOutcome(o alert.Outcome) {
	if !o.Danger {
		return
	}
	if o.Delivered {
		m.Alerts.WithLabelValues("delivered").Inc()
		if !o.NotifiedOK {
			m.NotificationFailures.Inc()
		}
	}
	if o.Suppressed {
		m.Alerts.WithLabelValues("suppressed").Inc()
	}
	m.EvidenceSaved.Add(float64(len(o.Evidence)))
}

// SetDisplayed records whether an alert is currently displayed
func (m *Metrics) SetDisplayed(shown bool) {
	if shown {
		m.AlertDisplayed.Set(1)
		return
	}
	m.AlertDisplayed.Set(0)
}
