package tracing

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/familyhub/contextd/config"
	"github.com/familyhub/contextd/pkg/logger"
)

// switchExporter fails while down is set and records delivered spans.
type switchExporter struct {
	mu             sync.Mutex
	down           bool
	delivered      []string
	shutdownCalled bool
}

func (e *switchExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.down {
		return errors.New("collector unavailable")
	}
	for _, s := range spans {
		e.delivered = append(e.delivered, s.Name())
	}
	return nil
}

func (e *switchExporter) Shutdown(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shutdownCalled = true
	return nil
}

type blockingShutdownExporter struct{}

func (blockingShutdownExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error {
	return nil
}

func (blockingShutdownExporter) Shutdown(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func enabledConfig() config.TracingConfig {
	return config.TracingConfig{
		Enabled:    true,
		Exporter:   "otlpgrpc",
		Endpoint:   "localhost:4317",
		Timeout:    time.Second,
		Sampler:    "always_on",
		SampleRate: 1,
	}
}

func stubExporter(t *testing.T, exp sdktrace.SpanExporter) {
	t.Helper()
	orig := newOTLPExporter
	prev := otel.GetTracerProvider()
	t.Cleanup(func() {
		newOTLPExporter = orig
		otel.SetTracerProvider(prev)
	})
	newOTLPExporter = func(context.Context, config.TracingConfig) (sdktrace.SpanExporter, error) {
		return exp, nil
	}
}

var testService = Service{Name: "contextd", Version: "test", Environment: "development"}

func TestInitDisabledDoesNotCreateExporter(t *testing.T) {
	orig := newOTLPExporter
	t.Cleanup(func() { newOTLPExporter = orig })
	called := false
	newOTLPExporter = func(context.Context, config.TracingConfig) (sdktrace.SpanExporter, error) {
		called = true
		return &switchExporter{}, nil
	}

	shutdown, err := Init(context.Background(), config.TracingConfig{}, testService, logger.Nop())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if called {
		t.Fatal("exporter created with tracing disabled")
	}
	if _, span := otel.Tracer("test").Start(context.Background(), "noop"); span.SpanContext().IsValid() {
		t.Fatal("expected a no-op span")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}
}

func TestInitEnabledRequiresEndpoint(t *testing.T) {
	cfg := enabledConfig()
	cfg.Endpoint = " "
	_, err := Init(context.Background(), cfg, testService, logger.Nop())
	if err == nil || !strings.Contains(err.Error(), "endpoint") {
		t.Fatalf("expected endpoint error, got %v", err)
	}

	cfg = enabledConfig()
	cfg.Timeout = 0
	if _, err := Init(context.Background(), cfg, testService, logger.Nop()); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestInitEnabledExportsAndShutsDown(t *testing.T) {
	exp := &switchExporter{}
	stubExporter(t, exp)

	cfg := enabledConfig()
	cfg.Endpoint = "http://otel-collector:4317"
	shutdown, err := Init(context.Background(), cfg, testService, logger.Nop())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	_, span := otel.Tracer("test").Start(context.Background(), "orchestrator.get_context")
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}
	if !exp.shutdownCalled {
		t.Fatal("expected exporter shutdown")
	}
	if len(exp.delivered) != 1 || exp.delivered[0] != "orchestrator.get_context" {
		t.Fatalf("delivered = %v", exp.delivered)
	}
}

func TestInitEnabled_DropsBackgroundHealthRoots(t *testing.T) {
	exp := &switchExporter{}
	stubExporter(t, exp)

	cfg := enabledConfig()
	cfg.DropRootSpans = []string{"tier.health"}
	shutdown, err := Init(context.Background(), cfg, testService, logger.Nop())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	tracer := otel.Tracer("test")
	_, background := tracer.Start(context.Background(), "tier.health")
	background.End()

	ctx, ready := tracer.Start(context.Background(), "GET /ready")
	_, nested := tracer.Start(ctx, "tier.health")
	nested.End()
	ready.End()

	flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := shutdown(flushCtx); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}
	if len(exp.delivered) != 2 {
		t.Fatalf("expected the /ready trace only, got %v", exp.delivered)
	}
	for _, name := range exp.delivered {
		if name != "tier.health" && name != "GET /ready" {
			t.Fatalf("unexpected span %q", name)
		}
	}
}

func TestDropRootSampler(t *testing.T) {
	s := newDropRootSampler(sdktrace.AlwaysSample(), []string{"tier.health"})
	if !strings.Contains(s.Description(), "AlwaysOnSampler") {
		t.Fatalf("description = %q", s.Description())
	}

	root := s.ShouldSample(sdktrace.SamplingParameters{ParentContext: context.Background(), Name: "tier.health"})
	if root.Decision != sdktrace.Drop {
		t.Fatalf("root tier.health decision = %v, want Drop", root.Decision)
	}
	other := s.ShouldSample(sdktrace.SamplingParameters{ParentContext: context.Background(), Name: "orchestrator.save_context"})
	if other.Decision != sdktrace.RecordAndSample {
		t.Fatalf("other root decision = %v", other.Decision)
	}

	parent := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1},
		SpanID:     trace.SpanID{1},
		TraceFlags: trace.FlagsSampled,
	}))
	child := s.ShouldSample(sdktrace.SamplingParameters{ParentContext: parent, Name: "tier.health"})
	if child.Decision != sdktrace.RecordAndSample {
		t.Fatalf("child tier.health decision = %v, want sampled", child.Decision)
	}

	if base := sdktrace.NeverSample(); newDropRootSampler(base, nil) != base {
		t.Fatal("expected base sampler when nothing is dropped")
	}
}

func TestExportGuard_LogsOncePerOutage(t *testing.T) {
	var buf bytes.Buffer
	exp := &switchExporter{down: true}
	g := &exportGuard{SpanExporter: exp, log: logger.NewWithWriter(&buf, logger.DebugLevel, "json"), endpoint: "localhost:4317"}

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	_, span := tp.Tracer("test").Start(context.Background(), "batch")
	span.End()
	batch := rec.Ended()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := g.ExportSpans(ctx, batch); err != nil {
			t.Fatalf("export error leaked: %v", err)
		}
	}
	if n := strings.Count(buf.String(), "trace export failing"); n != 1 {
		t.Fatalf("failure logged %d times, want 1: %s", n, buf.String())
	}

	exp.down = false
	if err := g.ExportSpans(ctx, batch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "trace export recovered") || !strings.Contains(out, `"dropped_spans":3`) {
		t.Fatalf("recovery not logged with dropped count: %s", out)
	}

	exp.down = true
	_ = g.ExportSpans(ctx, batch)
	if n := strings.Count(buf.String(), "trace export failing"); n != 2 {
		t.Fatalf("second outage logged %d failures total, want 2", n)
	}
}

func TestShutdown_TimeoutIsBounded(t *testing.T) {
	stubExporter(t, blockingShutdownExporter{})

	shutdown, err := Init(context.Background(), enabledConfig(), testService, logger.Nop())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := shutdown(ctx); err == nil {
		t.Fatal("expected shutdown() to report the timeout")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("shutdown exceeded bounded timeout, elapsed=%v", elapsed)
	}
}

func TestSelectSampler(t *testing.T) {
	tests := []struct {
		sampler string
		want    string
	}{
		{"always_on", "AlwaysOnSampler"},
		{"always_off", "AlwaysOffSampler"},
		{"ratio", "ParentBased"},
	}
	for _, tt := range tests {
		if got := selectSampler(config.TracingConfig{Sampler: tt.sampler, SampleRate: 0.25}).Description(); !strings.Contains(got, tt.want) {
			t.Errorf("selectSampler(%q) = %s, want %s", tt.sampler, got, tt.want)
		}
	}
}

func TestService_ResourceAttributes(t *testing.T) {
	svc := Service{
		Name:        "contextd",
		Version:     "1.2.3",
		Environment: "production",
		Attributes: map[string]string{
			"contextd.relational.driver":  "pgx",
			"contextd.embedding.provider": "ollama",
		},
	}
	got := map[string]string{}
	var order []string
	for _, kv := range svc.resourceAttributes() {
		got[string(kv.Key)] = kv.Value.AsString()
		order = append(order, string(kv.Key))
	}
	if got["service.name"] != "contextd" || got["service.version"] != "1.2.3" || got["deployment.environment.name"] != "production" {
		t.Fatalf("unexpected service attributes %v", got)
	}
	if got["contextd.relational.driver"] != "pgx" {
		t.Fatalf("missing extra attribute: %v", got)
	}
	if order[3] != "contextd.embedding.provider" || order[4] != "contextd.relational.driver" {
		t.Fatalf("extra attributes not sorted: %v", order)
	}
}
