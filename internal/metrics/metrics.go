package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the generator's collectors on their own registry
type Metrics struct {
	Registry *prometheus.Registry

	Runs          *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	Unresolved    prometheus.Counter
	Persists      *prometheus.CounterVec
	ActiveRuns    prometheus.Gauge
}

// New registers the collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		Runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docfill_runs_total",
				Help: "Generation runs by outcome",
			},
			[]string{"outcome"},
		),
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docfill_stage_duration_seconds",
				Help:    "Duration of generation stages in seconds",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"stage"},
		),
		Unresolved: f.NewCounter(
			prometheus.CounterOpts{
				Name: "docfill_unresolved_placeholders_total",
				Help: "Placeholder tokens left unresolved in generated documents",
			},
		),
		Persists: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docfill_persist_results_total",
				Help: "Persist outcomes by status",
			},
			[]string{"status"},
		),
		ActiveRuns: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "docfill_active_runs",
				Help: "Generation runs in progress",
			},
		),
	}
}

// ObserveStage records a stage duration
func (m *Metrics) ObserveStage(stage string, elapsed time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
