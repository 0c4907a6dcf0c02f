package grpc

import (
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/familyhub/contextd/pkg/grpc/interceptors"
	"github.com/familyhub/contextd/pkg/memory"
	"github.com/familyhub/contextd/pkg/orchestrator"
)

// TierServicePrefix prefixes the per-tier health service names, e.g.
// "contextd.tier.relational".
const TierServicePrefix = interceptors.TierServicePrefix

// TierService returns the health service name of a tier.
func TierService(tier memory.Tier) string {
	return TierServicePrefix + string(tier)
}

// HealthServer wraps the gRPC health check server. Besides the overall
// status it reports one service per memory tier, driven by breaker events.
type HealthServer struct {
	server *health.Server
}

// NewHealthServer creates a new health check server
func NewHealthServer() *HealthServer {
	h := &HealthServer{
		server: health.NewServer(),
	}
	for _, tier := range memory.AllTiers {
		h.server.SetServingStatus(TierService(tier), grpc_health_v1.HealthCheckResponse_SERVING)
	}
	return h
}

// SetServingStatus sets the serving status for a service
func (h *HealthServer) SetServingStatus(service string, status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	h.server.SetServingStatus(service, status)
}

// SetServingStatusAll sets the overall serving status
func (h *HealthServer) SetServingStatusAll(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	h.server.SetServingStatus("", status)
}

// Publish implements orchestrator.EventSink. An open breaker marks its tier
// NOT_SERVING; an open relational breaker also marks the overall service
// NOT_SERVING since saves cannot succeed without it.
func (h *HealthServer) Publish(e orchestrator.Event) {
	var status grpc_health_v1.HealthCheckResponse_ServingStatus
	switch e.Type {
	case orchestrator.EventBreakerOpened:
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	case orchestrator.EventBreakerClosed:
		status = grpc_health_v1.HealthCheckResponse_SERVING
	default:
		return
	}
	h.server.SetServingStatus(TierService(e.Tier), status)
	if e.Tier == memory.TierRelational {
		h.SetServingStatusAll(status)
	}
}

// Sync sets every tier's status from a breaker snapshot.
func (h *HealthServer) Sync(statuses []orchestrator.TierStatus) {
	for _, st := range statuses {
		status := grpc_health_v1.HealthCheckResponse_SERVING
		if st.State == orchestrator.BreakerOpen {
			status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
		h.server.SetServingStatus(TierService(st.Tier), status)
		if st.Tier == memory.TierRelational {
			h.SetServingStatusAll(status)
		}
	}
}

// Shutdown gracefully shuts down the health server
func (h *HealthServer) Shutdown() {
	h.server.Shutdown()
}

// GetServer returns the underlying health server for registration
func (h *HealthServer) GetServer() *health.Server {
	return h.server
}

var _ orchestrator.EventSink = (*HealthServer)(nil)
