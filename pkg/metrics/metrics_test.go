package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/familyhub/contextd/pkg/memory"
)

func TestNewManager(t *testing.T) {
	m := NewManager(DefaultConfig())
	if m == nil {
		t.Fatal("NewManager returned nil")
	}
	if !m.Enabled() {
		t.Error("Expected metrics to be enabled")
	}
	if m.Registerer() == nil {
		t.Error("Expected a registerer when enabled")
	}
}

func TestNewManager_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false

	m := NewManager(cfg)
	if m.Enabled() {
		t.Error("Expected metrics to be disabled")
	}
	if m.Registerer() != nil {
		t.Error("Expected nil registerer when disabled")
	}
}

func TestMetricsHandler(t *testing.T) {
	m := NewManager(DefaultConfig())

	m.ObserveTierCall(memory.TierHotCache, "recent", 2*time.Millisecond, nil)
	m.ObserveContext(40*time.Millisecond, []memory.Tier{memory.TierVector})
	m.ObserveSave(80*time.Millisecond, 1, nil)
	m.ObservePrompt(false, 1200, false, time.Millisecond)
	m.RecordEventPublished("breaker.opened")
	m.RecordHTTPRequest(context.Background(), "GET", "/api/v1/context", "200", 5*time.Millisecond)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	body := w.Body.String()
	expectedMetrics := []string{
		"contextd_tier_calls_total",
		"contextd_tier_call_duration_seconds",
		"contextd_tier_breaker_open",
		"contextd_get_context_duration_seconds",
		"contextd_context_degraded_total",
		"contextd_save_context_duration_seconds",
		"contextd_save_tier_failures_total",
		"contextd_prompt_builds_total",
		"contextd_prompt_tokens",
		"contextd_events_published_total",
		"contextd_http_requests_total",
	}
	for _, metric := range expectedMetrics {
		if !strings.Contains(body, metric) {
			t.Errorf("Expected metric %s not found in output", metric)
		}
	}
}

func TestMetricsHandler_Disabled(t *testing.T) {
	m := NoOpManager()

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 when disabled, got %d", w.Code)
	}
}

func TestTierMetrics(t *testing.T) {
	m := NewManager(DefaultConfig())

	m.ObserveTierCall(memory.TierRelational, "save", 10*time.Millisecond, nil)
	m.ObserveTierCall(memory.TierRelational, "save", 10*time.Millisecond, errors.New("down"))
	m.ObserveTierCall(memory.TierRelational, "save", 10*time.Millisecond, errors.New("down"))

	if got := testutil.ToFloat64(m.tierCalls.WithLabelValues("relational", "save", "ok")); got != 1 {
		t.Errorf("expected 1 ok call, got %v", got)
	}
	if got := testutil.ToFloat64(m.tierCalls.WithLabelValues("relational", "save", "error")); got != 2 {
		t.Errorf("expected 2 failed calls, got %v", got)
	}

	if got := testutil.ToFloat64(m.breakerOpen.WithLabelValues("vector")); got != 0 {
		t.Errorf("expected breaker gauge initialised to 0, got %v", got)
	}
	m.SetBreakerState(memory.TierVector, true)
	if got := testutil.ToFloat64(m.breakerOpen.WithLabelValues("vector")); got != 1 {
		t.Errorf("expected open breaker, got %v", got)
	}
	m.SetBreakerState(memory.TierVector, false)
	if got := testutil.ToFloat64(m.breakerOpen.WithLabelValues("vector")); got != 0 {
		t.Errorf("expected closed breaker, got %v", got)
	}
}

func TestOrchestratorMetrics(t *testing.T) {
	m := NewManager(DefaultConfig())

	m.ObserveContext(time.Millisecond, []memory.Tier{memory.TierVector, memory.TierHotCache})
	m.ObserveContext(time.Millisecond, []memory.Tier{memory.TierVector})
	m.ObserveSave(time.Millisecond, 2, nil)
	m.ObserveSave(time.Millisecond, 0, errors.New("durability"))

	if got := testutil.ToFloat64(m.degradedTiers.WithLabelValues("vector")); got != 2 {
		t.Errorf("expected vector degraded twice, got %v", got)
	}
	if got := testutil.ToFloat64(m.savePartial); got != 2 {
		t.Errorf("expected 2 partial failures, got %v", got)
	}
	if got := testutil.CollectAndCount(m.saveDuration); got != 2 {
		t.Errorf("expected ok and error series, got %d", got)
	}
}

func TestPromptMetrics(t *testing.T) {
	m := NewManager(DefaultConfig())

	m.ObservePrompt(true, 4800, true, time.Millisecond)
	m.ObservePrompt(false, 9000, false, time.Millisecond)

	if got := testutil.ToFloat64(m.promptBuilds.WithLabelValues("minimal", "true")); got != 1 {
		t.Errorf("expected 1 minimal truncated build, got %v", got)
	}
	if got := testutil.ToFloat64(m.promptBuilds.WithLabelValues("full", "false")); got != 1 {
		t.Errorf("expected 1 full build, got %v", got)
	}
}

func TestEventMetrics(t *testing.T) {
	m := NewManager(DefaultConfig())

	m.RecordEventPublished("save.partial")
	m.RecordEventDropped()
	m.SetEventSubscribers(3)

	if got := testutil.ToFloat64(m.eventsPublished.WithLabelValues("save.partial")); got != 1 {
		t.Errorf("expected 1 published event, got %v", got)
	}
	if got := testutil.ToFloat64(m.eventsDropped); got != 1 {
		t.Errorf("expected 1 dropped event, got %v", got)
	}
	if got := testutil.ToFloat64(m.eventSubscribers); got != 3 {
		t.Errorf("expected 3 subscribers, got %v", got)
	}
}

func TestStartServer(t *testing.T) {
	// Reserve a free port.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()

	m := NewManager(DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		err := m.StartServer(ctx, port, "/metrics")
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err = http.Get("http://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(port)) + "/metrics")
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("Failed to fetch metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	cancel()

	select {
	case err := <-errCh:
		t.Errorf("Server error: %v", err)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestNoOpManager(t *testing.T) {
	m := NoOpManager()

	if m.Enabled() {
		t.Error("NoOpManager should not be enabled")
	}

	// These should not panic
	m.ObserveTierCall(memory.TierHotCache, "recent", time.Millisecond, nil)
	m.SetBreakerState(memory.TierHotCache, true)
	m.ObserveContext(time.Millisecond, nil)
	m.ObserveSave(time.Millisecond, 1, nil)
	m.ObservePrompt(true, 10, false, time.Millisecond)
	m.RecordEventPublished("x")
	m.RecordEventDropped()
	m.SetEventSubscribers(1)
	m.RecordHTTPRequest(context.Background(), "GET", "/", "200", time.Millisecond)
	m.IncActiveConnections()
	m.DecActiveConnections()
}

func TestMetricsCardinalityBounded(t *testing.T) {
	m := NewManager(DefaultConfig())

	ops := []string{"recent", "search", "save", "health"}
	for i := 0; i < 10000; i++ {
		tier := memory.AllTiers[i%len(memory.AllTiers)]
		m.ObserveTierCall(tier, ops[(i/len(memory.AllTiers))%len(ops)], time.Duration(i)*time.Microsecond, nil)
		m.ObservePrompt(i%2 == 0, i%16000, i%3 == 0, time.Microsecond)
	}

	// 4 tiers * 4 ops, always ok.
	if got := testutil.CollectAndCount(m.tierCalls); got != 16 {
		t.Errorf("expected 16 tier call series, got %d", got)
	}
	if got := testutil.CollectAndCount(m.promptBuilds); got != 4 {
		t.Errorf("expected 4 prompt build series, got %d", got)
	}
}

func BenchmarkObserveTierCall(b *testing.B) {
	m := NewManager(DefaultConfig())
	d := 2 * time.Millisecond
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.ObserveTierCall(memory.TierHotCache, "recent", d, nil)
	}
}

func BenchmarkRecordHTTPRequest(b *testing.B) {
	m := NewManager(DefaultConfig())
	d := 5 * time.Millisecond
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.RecordHTTPRequest(ctx, "GET", "/api/v1/context", "200", d)
	}
}

func BenchmarkNoOpRecording(b *testing.B) {
	m := NoOpManager()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.ObserveTierCall(memory.TierHotCache, "recent", time.Millisecond, nil)
		m.ObservePrompt(false, 100, false, time.Millisecond)
	}
}
