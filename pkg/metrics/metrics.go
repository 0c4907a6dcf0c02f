// Package metrics provides Prometheus metrics instrumentation for contextd.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "contextd"

// Manager manages all Prometheus metrics for contextd. A disabled Manager
// accepts every call and records nothing.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	// Tier metrics
	tierCalls    *prometheus.CounterVec
	tierDuration *prometheus.HistogramVec
	breakerOpen  *prometheus.GaugeVec

	// Orchestrator metrics
	contextDuration prometheus.Histogram
	degradedTiers   *prometheus.CounterVec
	saveDuration    *prometheus.HistogramVec
	savePartial     prometheus.Counter

	// Prompt metrics
	promptBuilds   *prometheus.CounterVec
	promptTokens   *prometheus.HistogramVec
	promptDuration prometheus.Histogram

	// Event stream metrics
	eventsPublished  *prometheus.CounterVec
	eventsDropped    prometheus.Counter
	eventSubscribers prometheus.Gauge

	// HTTP metrics
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	httpConnections prometheus.Gauge
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Port    int
	Path    string

	// Histogram bucket configurations
	TierDurationBuckets    []float64
	ContextDurationBuckets []float64
	PromptTokenBuckets     []float64
	HTTPDurationBuckets    []float64
}

// DefaultConfig returns default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:                true,
		Port:                   9091,
		Path:                   "/metrics",
		TierDurationBuckets:    []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.15, 0.25, 0.5, 1},
		ContextDurationBuckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.4, 0.6, 1},
		PromptTokenBuckets:     []float64{250, 500, 1000, 2000, 4000, 5000, 8000, 12000, 16000},
		HTTPDurationBuckets:    []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}
}

// NewManager creates a new metrics manager.
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return &Manager{enabled: false}
	}

	registry := prometheus.NewRegistry()

	// Register Go runtime metrics
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Manager{
		registry: registry,
		enabled:  true,
	}

	m.initTierMetrics(cfg)
	m.initPromptMetrics(cfg)
	m.initEventMetrics()
	m.initHTTPMetrics(cfg)

	return m
}

// Enabled returns whether metrics collection is enabled.
func (m *Manager) Enabled() bool {
	return m.enabled
}

// Registerer returns the registry for collectors owned by other packages,
// or nil when metrics are disabled.
func (m *Manager) Registerer() prometheus.Registerer {
	if !m.enabled {
		return nil
	}
	return m.registry
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Manager) Handler() http.Handler {
	if !m.enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// StartServer starts the metrics HTTP server on the configured port.
func (m *Manager) StartServer(ctx context.Context, port int, path string) error {
	if !m.enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return server.ListenAndServe()
}

// NoOpManager returns a no-op metrics manager for when metrics are disabled.
func NoOpManager() *Manager {
	return &Manager{enabled: false}
}
