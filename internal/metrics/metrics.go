// Package metrics provides Prometheus metrics for pipeline runs.
package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PipelineMetrics contains the metrics recorded by pipeline runs.
//
// A nil *PipelineMetrics is valid and records nothing, so callers never need
// to check whether metrics are enabled.
type PipelineMetrics struct {
	RunsTotal          *prometheus.CounterVec
	RunDuration        prometheus.Histogram
	StageDuration      *prometheus.HistogramVec
	SourcesDetected    prometheus.Histogram
	NegativeFluxTotal  prometheus.Counter
	CalibrationLookups *prometheus.CounterVec
	ClipNotConverged   prometheus.Counter

	calibrationCacheDesc *prometheus.Desc
	calibrationCache     atomic.Pointer[CacheStatsFunc]

	registry *prometheus.Registry
}

// CacheStatsFunc reports cumulative cache hits and misses.
type CacheStatsFunc func() (hits, misses int64)

// NewPipelineMetrics creates the metrics and registers them with registry.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "astrophot_runs_total",
			Help: "Total number of pipeline runs partitioned by outcome.",
		},
		[]string{"status"},
	)
	m.RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "astrophot_run_duration_seconds",
			Help:    "Wall time of a complete pipeline run.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
	)
	m.StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "astrophot_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		},
		[]string{"stage"},
	)
	m.SourcesDetected = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "astrophot_sources_detected",
			Help:    "Number of sources detected per run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
	m.NegativeFluxTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "astrophot_negative_flux_total",
			Help: "Sources measured with net flux at or below zero.",
		},
	)
	m.CalibrationLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "astrophot_calibration_lookups_total",
			Help: "Zero-point lookups partitioned by result.",
		},
		[]string{"result"},
	)
	m.ClipNotConverged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "astrophot_clip_not_converged_total",
			Help: "Background estimates that hit the clipping iteration limit.",
		},
	)
	m.calibrationCacheDesc = prometheus.NewDesc(
		"astrophot_calibration_cache_lookups_total",
		"Zero-point cache lookups partitioned by result.",
		[]string{"result"}, nil,
	)
}

// WatchCalibrationCache exports the counters reported by fn on every scrape.
func (m *PipelineMetrics) WatchCalibrationCache(fn CacheStatsFunc) {
	if m == nil || fn == nil {
		return
	}
	m.calibrationCache.Store(&fn)
}

// RecordRun records the outcome and duration of a run.
func (m *PipelineMetrics) RecordRun(d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(d.Seconds())
}

// RecordStage records the duration of one stage.
func (m *PipelineMetrics) RecordStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordSources records the number of detected sources and how many had
// non-positive net flux.
func (m *PipelineMetrics) RecordSources(detected, negative int) {
	if m == nil {
		return
	}
	m.SourcesDetected.Observe(float64(detected))
	m.NegativeFluxTotal.Add(float64(negative))
}

// RecordCalibration records a zero-point lookup.
func (m *PipelineMetrics) RecordCalibration(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.CalibrationLookups.WithLabelValues(result).Inc()
}

// RecordClipNotConverged counts a background estimate that did not converge.
func (m *PipelineMetrics) RecordClipNotConverged() {
	if m == nil {
		return
	}
	m.ClipNotConverged.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.RunsTotal.Describe(ch)
	ch <- m.RunDuration.Desc()
	m.StageDuration.Describe(ch)
	ch <- m.SourcesDetected.Desc()
	ch <- m.NegativeFluxTotal.Desc()
	m.CalibrationLookups.Describe(ch)
	ch <- m.ClipNotConverged.Desc()
	ch <- m.calibrationCacheDesc
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.RunsTotal.Collect(ch)
	ch <- m.RunDuration
	m.StageDuration.Collect(ch)
	ch <- m.SourcesDetected
	ch <- m.NegativeFluxTotal
	m.CalibrationLookups.Collect(ch)
	ch <- m.ClipNotConverged

	if fn := m.calibrationCache.Load(); fn != nil {
		hits, misses := (*fn)()
		ch <- prometheus.MustNewConstMetric(m.calibrationCacheDesc, prometheus.CounterValue, float64(hits), "hit")
		ch <- prometheus.MustNewConstMetric(m.calibrationCacheDesc, prometheus.CounterValue, float64(misses), "miss")
	}
}
