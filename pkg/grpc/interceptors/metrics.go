package interceptors

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Metrics holds the health RPC collectors. Every series carries a tier
// label, see tierLabel.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	watchers *prometheus.GaugeVec
	updates  *prometheus.CounterVec
}

// NewMetrics creates the collectors on registerer, reusing any already
// registered under the same names.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		requests: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contextd_grpc_health_requests_total",
			Help: "Health RPCs by method, tier asked about and status code.",
		}, []string{"method", "tier", "code"})),
		duration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "contextd_grpc_health_request_duration_seconds",
			Help:    "Duration of unary health RPCs.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}, []string{"method"})),
		watchers: register(registerer, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "contextd_grpc_health_watchers",
			Help: "Open health Watch streams by tier.",
		}, []string{"tier"})),
		updates: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contextd_grpc_health_watch_updates_total",
			Help: "Status updates pushed to health watchers by tier.",
		}, []string{"tier"})),
	}
}

// MetricsUnaryInterceptor records Check calls.
func MetricsUnaryInterceptor(m *Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		m.requests.WithLabelValues(info.FullMethod, requestTier(req), status.Code(err).String()).Inc()
		m.duration.WithLabelValues(info.FullMethod).Observe(time.Since(start).Seconds())
		return resp, err
	}
}

// MetricsStreamInterceptor tracks Watch streams: the watcher gauge covers
// the stream's life once its tier is known, and every pushed status counts
// as an update.
func MetricsStreamInterceptor(m *Metrics) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		tier := tierNone
		wrapped := &observedStream{
			ServerStream: ss,
			onRecv: func(service string) {
				tier = tierLabel(service)
				m.watchers.WithLabelValues(tier).Inc()
			},
			onSend: func() { m.updates.WithLabelValues(tier).Inc() },
		}
		err := handler(srv, wrapped)
		if wrapped.seen {
			m.watchers.WithLabelValues(tier).Dec()
		}
		m.requests.WithLabelValues(info.FullMethod, tier, status.Code(err).String()).Inc()
		return err
	}
}

func register[C prometheus.Collector](r prometheus.Registerer, c C) C {
	err := r.Register(c)
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	return c
}
