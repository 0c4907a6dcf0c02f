package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"
)

type recordedRequest struct {
	method, path, status string
	traceID              string
}

type mockMetricsRecorder struct {
	requests    []recordedRequest
	activeConns int
}

func (m *mockMetricsRecorder) RecordHTTPRequest(ctx context.Context, method, path, status string, duration time.Duration) {
	rec := recordedRequest{method: method, path: path, status: status}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		rec.traceID = sc.TraceID().String()
	}
	m.requests = append(m.requests, rec)
}

func (m *mockMetricsRecorder) IncActiveConnections() {
	m.activeConns++
}

func (m *mockMetricsRecorder) DecActiveConnections() {
	m.activeConns--
}

func TestMetrics_Success(t *testing.T) {
	mock := &mockMetricsRecorder{}

	handler := Metrics(mock)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))

	req := httptest.NewRequest("GET", "/api/v1/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if len(mock.requests) != 1 {
		t.Fatalf("Expected 1 request recorded, got %d", len(mock.requests))
	}
	if mock.requests[0].path != "unmatched" {
		t.Errorf("Expected unrouted path to collapse, got %q", mock.requests[0].path)
	}
	if mock.activeConns != 0 {
		t.Errorf("Expected active connections to be 0 after request, got %d", mock.activeConns)
	}
}

func TestMetrics_SkipMetricsEndpoint(t *testing.T) {
	mock := &mockMetricsRecorder{}

	handler := Metrics(mock)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/metrics", nil))

	if len(mock.requests) != 0 {
		t.Errorf("Expected 0 requests recorded for /metrics endpoint, got %d", len(mock.requests))
	}
}

func TestMetrics_RoutePatternLabel(t *testing.T) {
	mock := &mockMetricsRecorder{}

	r := chi.NewRouter()
	r.Use(Metrics(mock))
	r.Get("/api/v1/profiles/{ownerID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, owner := range []string{"alice", "bob", "carol"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/v1/profiles/"+owner, nil))
	}

	if len(mock.requests) != 3 {
		t.Fatalf("Expected 3 requests recorded, got %d", len(mock.requests))
	}
	for _, rec := range mock.requests {
		if rec.path != "/api/v1/profiles/{ownerID}" {
			t.Errorf("path label = %q, want route pattern", rec.path)
		}
		if rec.status != "404" {
			t.Errorf("status label = %q, want 404", rec.status)
		}
	}
}

func TestMetrics_HandlePanic(t *testing.T) {
	mock := &mockMetricsRecorder{}

	handler := Metrics(mock)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	}))

	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic to be propagated")
		}
		if len(mock.requests) != 1 || mock.requests[0].status != "500" {
			t.Errorf("Expected one 500 recorded after panic, got %+v", mock.requests)
		}
		if mock.activeConns != 0 {
			t.Errorf("Expected active connections released, got %d", mock.activeConns)
		}
	}()

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/v1/panic", nil))
}

func TestMetrics_PassesTraceContext(t *testing.T) {
	mock := &mockMetricsRecorder{}
	handler := Metrics(mock)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
		SpanID:     trace.SpanID{2, 2, 2, 2, 2, 2, 2, 2},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/v1/context", nil).WithContext(ctx))

	if len(mock.requests) != 1 {
		t.Fatalf("expected one record, got %d", len(mock.requests))
	}
	if mock.requests[0].traceID != spanCtx.TraceID().String() {
		t.Fatalf("expected trace_id %s, got %s", spanCtx.TraceID(), mock.requests[0].traceID)
	}
}
