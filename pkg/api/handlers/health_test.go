package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/familyhub/contextd/pkg/memory"
	"github.com/familyhub/contextd/pkg/orchestrator"
)

type fakeChecker struct {
	healthy bool
	status  []orchestrator.TierStatus
}

func (f *fakeChecker) Healthy(ctx context.Context) bool {
	if _, ok := ctx.Deadline(); !ok {
		return false
	}
	return f.healthy
}

func (f *fakeChecker) Status() []orchestrator.TierStatus { return f.status }

func allClosed() []orchestrator.TierStatus {
	out := make([]orchestrator.TierStatus, 0, len(memory.AllTiers))
	for _, tier := range memory.AllTiers {
		out = append(out, orchestrator.TierStatus{Tier: tier, State: orchestrator.BreakerClosed})
	}
	return out
}

func TestHealthHandler_Health(t *testing.T) {
	handler := NewHealthHandler(&fakeChecker{healthy: false})

	w := httptest.NewRecorder()
	handler.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 even with unhealthy tiers, got %d", w.Code)
	}
}

func TestHealthHandler_Ready(t *testing.T) {
	tests := []struct {
		name       string
		healthy    bool
		wantStatus int
		wantReady  bool
	}{
		{name: "relational healthy", healthy: true, wantStatus: http.StatusOK, wantReady: true},
		{name: "relational down", healthy: false, wantStatus: http.StatusServiceUnavailable, wantReady: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHealthHandler(&fakeChecker{healthy: tt.healthy})

			w := httptest.NewRecorder()
			handler.Ready(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body map[string]bool
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body["ready"] != tt.wantReady {
				t.Errorf("ready = %v, want %v", body["ready"], tt.wantReady)
			}
		})
	}
}

func TestHealthHandler_Status(t *testing.T) {
	status := allClosed()
	handler := NewHealthHandler(&fakeChecker{healthy: true, status: status})

	w := httptest.NewRecorder()
	handler.Status(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	var resp StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if len(resp.Tiers) != len(memory.AllTiers) {
		t.Fatalf("tiers = %d, want %d", len(resp.Tiers), len(memory.AllTiers))
	}

	status[3].State = orchestrator.BreakerOpen
	status[3].ConsecutiveFailures = 5
	w = httptest.NewRecorder()
	handler.Status(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
	if resp.Tiers[3].Tier != memory.TierVector || resp.Tiers[3].ConsecutiveFailures != 5 {
		t.Errorf("vector tier = %+v", resp.Tiers[3])
	}
}
