package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/familyhub/contextd/pkg/memory"
	"github.com/familyhub/contextd/pkg/orchestrator"
)

var _ orchestrator.Recorder = (*Manager)(nil)

// initTierMetrics initializes per-tier and orchestrator metrics.
func (m *Manager) initTierMetrics(cfg Config) {
	m.tierCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_calls_total",
			Help:      "Tier adapter calls by tier, operation and result",
		},
		[]string{"tier", "op", "result"},
	)

	m.tierDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tier_call_duration_seconds",
			Help:      "Tier adapter call duration in seconds",
			Buckets:   cfg.TierDurationBuckets,
		},
		[]string{"tier", "op"},
	)

	m.breakerOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tier_breaker_open",
			Help:      "1 while the tier's circuit breaker is open",
		},
		[]string{"tier"},
	)

	m.contextDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "get_context_duration_seconds",
			Help:      "End-to-end get_context duration in seconds",
			Buckets:   cfg.ContextDurationBuckets,
		},
	)

	m.degradedTiers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_degraded_total",
			Help:      "get_context responses missing a tier, by tier",
		},
		[]string{"tier"},
	)

	m.saveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "save_context_duration_seconds",
			Help:      "save_context duration in seconds by result",
			Buckets:   cfg.ContextDurationBuckets,
		},
		[]string{"result"},
	)

	m.savePartial = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "save_tier_failures_total",
			Help:      "Non-durable tier writes that failed during a successful save",
		},
	)

	m.registry.MustRegister(m.tierCalls, m.tierDuration, m.breakerOpen)
	m.registry.MustRegister(m.contextDuration, m.degradedTiers, m.saveDuration, m.savePartial)

	for _, tier := range memory.AllTiers {
		m.breakerOpen.WithLabelValues(string(tier)).Set(0)
	}
}

// ObserveTierCall records one tier adapter call.
func (m *Manager) ObserveTierCall(tier memory.Tier, op string, d time.Duration, err error) {
	if !m.enabled {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.tierCalls.WithLabelValues(string(tier), op, result).Inc()
	m.tierDuration.WithLabelValues(string(tier), op).Observe(d.Seconds())
}

// SetBreakerState records a breaker transition.
func (m *Manager) SetBreakerState(tier memory.Tier, open bool) {
	if !m.enabled {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.breakerOpen.WithLabelValues(string(tier)).Set(v)
}

// ObserveContext records a completed get_context.
func (m *Manager) ObserveContext(d time.Duration, degraded []memory.Tier) {
	if !m.enabled {
		return
	}
	m.contextDuration.Observe(d.Seconds())
	for _, tier := range degraded {
		m.degradedTiers.WithLabelValues(string(tier)).Inc()
	}
}

// ObserveSave records a completed save_context.
func (m *Manager) ObserveSave(d time.Duration, partialFailures int, err error) {
	if !m.enabled {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.saveDuration.WithLabelValues(result).Observe(d.Seconds())
	if partialFailures > 0 {
		m.savePartial.Add(float64(partialFailures))
	}
}
