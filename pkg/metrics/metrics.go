// Package metrics collects Prometheus counters for dataset builds.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rlds"

// Metrics holds the counters of one build run. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	episodes     *prometheus.CounterVec
	steps        *prometheus.CounterVec
	skipped      *prometheus.CounterVec
	embeddings   *prometheus.CounterVec
	buildSeconds prometheus.Histogram
}

// New registers the build metrics on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		episodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "episodes_total",
			Help:      "Episodes written, by split.",
		}, []string{"split"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Steps written, by split.",
		}, []string{"split"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "episodes_skipped_total",
			Help:      "Raw files that produced no episode, by split.",
		}, []string{"split"}),
		embeddings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_lookups_total",
			Help:      "Instruction embedding lookups, by cache result.",
		}, []string{"result"}),
		buildSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "episode_build_seconds",
			Help:      "Time to load and assemble one episode.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}
	m.registry.MustRegister(m.episodes, m.steps, m.skipped, m.embeddings, m.buildSeconds)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordEpisode counts one assembled episode.
func (m *Metrics) RecordEpisode(split string, steps int, took time.Duration) {
	if m == nil {
		return
	}
	m.episodes.WithLabelValues(split).Inc()
	m.steps.WithLabelValues(split).Add(float64(steps))
	m.buildSeconds.Observe(took.Seconds())
}

// RecordSkip counts a raw file that was not emitted.
func (m *Metrics) RecordSkip(split string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(split).Inc()
}

// RecordEmbedding counts an embedding lookup.
func (m *Metrics) RecordEmbedding(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.embeddings.WithLabelValues(result).Inc()
}

// WriteFile writes all metrics in the text exposition format, for node_exporter's
// textfile collector.
func (m *Metrics) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
