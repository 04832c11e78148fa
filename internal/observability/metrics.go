// Package observability holds the Prometheus collectors for hydration runs.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stage labels.
const (
	StageSynthesis = "synthesis"
	StageAlignment = "alignment"
	StageSegment   = "segment"
	StageUpload    = "upload"
)

// Metrics records hydration activity. A nil *Metrics is a no-op so
// components can run without instrumentation.
type Metrics struct {
	activeRuns   prometheus.Gauge
	runs         *prometheus.CounterVec
	runDuration  prometheus.Histogram
	batches      *prometheus.CounterVec
	stageLatency *prometheus.HistogramVec
	linesFailed  *prometheus.CounterVec
	audioBytes   *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg. Registering twice with the
// same registry panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		activeRuns: f.NewGauge(prometheus.GaugeOpts{
			Name: "scenepartner_hydration_active_runs",
			Help: "Number of hydration runs in progress",
		}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scenepartner_hydration_runs_total",
			Help: "Total number of hydration runs by outcome",
		}, []string{"outcome"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "scenepartner_hydration_run_duration_seconds",
			Help:    "Duration of hydration runs in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		batches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scenepartner_hydration_batches_total",
			Help: "Total number of synthesis batches by status",
		}, []string{"status"}),
		stageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scenepartner_hydration_stage_latency_seconds",
			Help:    "Latency of external calls per stage in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
		}, []string{"stage"}),
		linesFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scenepartner_hydration_lines_failed_total",
			Help: "Total number of lines that did not receive audio, by stage",
		}, []string{"stage"}),
		audioBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scenepartner_hydration_audio_bytes_total",
			Help: "Total audio bytes handled",
		}, []string{"direction"}), // direction: "synthesized" or "uploaded"
	}
}

// RunStarted records the start of a run.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.activeRuns.Inc()
}

// RunFinished records the end of a run with its outcome.
func (m *Metrics) RunFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.activeRuns.Dec()
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(d.Seconds())
}

// BatchProcessed counts a batch by status ("ok" or "error").
func (m *Metrics) BatchProcessed(success bool) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(statusLabel(success)).Inc()
}

// ObserveStage records the latency of one external call.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageLatency.WithLabelValues(stage).Observe(d.Seconds())
}

// LinesFailed counts n lines that failed at stage.
func (m *Metrics) LinesFailed(stage string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.linesFailed.WithLabelValues(stage).Add(float64(n))
}

// AudioBytes records audio bytes moved in direction.
func (m *Metrics) AudioBytes(direction string, n int) {
	if m == nil {
		return
	}
	m.audioBytes.WithLabelValues(direction).Add(float64(n))
}

func statusLabel(success bool) string {
	if success {
		return "ok"
	}
	return "error"
}
