package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// initPromptMetrics initializes prompt assembler metrics.
func (m *Manager) initPromptMetrics(cfg Config) {
	m.promptBuilds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prompt_builds_total",
			Help:      "Prompts built by mode and whether memory was truncated",
		},
		[]string{"mode", "truncated"},
	)

	m.promptTokens = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prompt_tokens",
			Help:      "Estimated token count of built prompts",
			Buckets:   cfg.PromptTokenBuckets,
		},
		[]string{"mode"},
	)

	m.promptDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prompt_build_duration_seconds",
			Help:      "Prompt assembly duration in seconds, excluding memory retrieval",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		},
	)

	m.registry.MustRegister(m.promptBuilds, m.promptTokens, m.promptDuration)
}

// ObservePrompt records one prompt build.
func (m *Manager) ObservePrompt(minimal bool, tokens int, truncated bool, d time.Duration) {
	if !m.enabled {
		return
	}
	mode := "full"
	if minimal {
		mode = "minimal"
	}
	m.promptBuilds.WithLabelValues(mode, strconv.FormatBool(truncated)).Inc()
	m.promptTokens.WithLabelValues(mode).Observe(float64(tokens))
	m.promptDuration.Observe(d.Seconds())
}
