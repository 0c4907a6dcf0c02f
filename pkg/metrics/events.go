package metrics

import "github.com/prometheus/client_golang/prometheus"

// initEventMetrics initializes event stream metrics.
func (m *Manager) initEventMetrics() {
	m.eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Orchestrator events published to the event stream by type",
		},
		[]string{"type"},
	)

	m.eventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because a subscriber was too slow",
		},
	)

	m.eventSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_subscribers",
			Help:      "Current number of event stream subscribers",
		},
	)

	m.registry.MustRegister(m.eventsPublished, m.eventsDropped, m.eventSubscribers)
}

// RecordEventPublished counts an event handed to subscribers.
func (m *Manager) RecordEventPublished(eventType string) {
	if !m.enabled {
		return
	}
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

// RecordEventDropped counts an event a subscriber could not take.
func (m *Manager) RecordEventDropped() {
	if !m.enabled {
		return
	}
	m.eventsDropped.Inc()
}

// SetEventSubscribers sets the current subscriber count.
func (m *Manager) SetEventSubscribers(n int) {
	if !m.enabled {
		return
	}
	m.eventSubscribers.Set(float64(n))
}
