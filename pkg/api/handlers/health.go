// Package handlers provides the HTTP handlers of the contextd API.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/familyhub/contextd/pkg/api/response"
	"github.com/familyhub/contextd/pkg/orchestrator"
	"github.com/familyhub/contextd/pkg/version"
)

// readyTimeout bounds the relational health check behind /ready.
const readyTimeout = 2 * time.Second

// HealthChecker is the part of the orchestrator the health endpoints read.
type HealthChecker interface {
	Healthy(ctx context.Context) bool
	Status() []orchestrator.TierStatus
}

// StatusResponse is the body of /status.
type StatusResponse struct {
	Status  string                    `json:"status"`
	Version string                    `json:"version"`
	Uptime  string                    `json:"uptime"`
	Tiers   []orchestrator.TierStatus `json:"tiers"`
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	checker HealthChecker
	started time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(checker HealthChecker) *HealthHandler {
	return &HealthHandler{
		checker: checker,
		started: time.Now(),
	}
}

// Health handles the /health endpoint (liveness check). The process is live
// whenever it can answer; tier failures only affect readiness.
//
//	@Summary	Liveness check
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	map[string]string
//	@Router		/health [get]
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Ready handles the /ready endpoint (readiness check). Ready means the
// relational tier can acknowledge writes.
//
//	@Summary	Readiness check
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	map[string]bool
//	@Failure	503	{object}	map[string]bool
//	@Router		/ready [get]
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if h.checker.Healthy(ctx) {
		response.JSON(w, http.StatusOK, map[string]bool{
			"ready": true,
		})
	} else {
		response.JSON(w, http.StatusServiceUnavailable, map[string]bool{
			"ready": false,
		})
	}
}

// Status handles the /status endpoint (per-tier breaker state).
//
//	@Summary	Tier status
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	StatusResponse
//	@Router		/status [get]
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	tiers := h.checker.Status()
	overall := "ok"
	for _, t := range tiers {
		if t.State == orchestrator.BreakerOpen {
			overall = "degraded"
			break
		}
	}
	response.JSON(w, http.StatusOK, StatusResponse{
		Status:  overall,
		Version: version.Version,
		Uptime:  time.Since(h.started).Round(time.Second).String(),
		Tiers:   tiers,
	})
}
