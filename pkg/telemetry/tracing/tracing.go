// Package tracing installs the process-wide OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/familyhub/contextd/config"
	"github.com/familyhub/contextd/pkg/logger"
)

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(ctx context.Context) error

// Service describes the process in the trace resource.
type Service struct {
	Name        string
	Version     string
	Environment string
	// Attributes are extra resource attributes, e.g. the relational driver.
	Attributes map[string]string
}

func (s Service) resourceAttributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(s.Name),
		semconv.ServiceVersion(s.Version),
	}
	if s.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentName(s.Environment))
	}
	for _, k := range slices.Sorted(maps.Keys(s.Attributes)) {
		attrs = append(attrs, attribute.String(k, s.Attributes[k]))
	}
	return attrs
}

var newOTLPExporter = func(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	opts := []otlptracegrpc.Option{otlptracegrpc.WithTimeout(cfg.Timeout)}
	if strings.Contains(endpoint, "://") {
		// The scheme decides TLS: http:// is plaintext, https:// is not.
		opts = append(opts, otlptracegrpc.WithEndpointURL(endpoint))
	} else {
		opts = append(opts, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	return otlptracegrpc.New(ctx, opts...)
}

// exportGuard keeps collector outages off the request path. Export errors
// are swallowed; the first one of an outage is logged, and so is the
// recovery along with how many spans were lost meanwhile.
type exportGuard struct {
	sdktrace.SpanExporter
	log      logger.Logger
	endpoint string

	mu      sync.Mutex
	failing bool
	dropped int
}

func (g *exportGuard) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	err := g.SpanExporter.ExportSpans(ctx, spans)

	g.mu.Lock()
	defer g.mu.Unlock()
	if err != nil {
		if !g.failing {
			g.log.Warn("trace export failing", "endpoint", g.endpoint, "error", err)
		}
		g.failing = true
		g.dropped += len(spans)
		return nil
	}
	if g.failing {
		g.log.Info("trace export recovered", "endpoint", g.endpoint, "dropped_spans", g.dropped)
		g.failing, g.dropped = false, 0
	}
	return nil
}

// Init installs the tracer provider and the W3C propagators. With tracing
// disabled a no-op provider is installed so instrumented code stays cheap.
func Init(ctx context.Context, cfg config.TracingConfig, svc Service, log logger.Logger) (ShutdownFunc, error) {
	if log == nil {
		log = logger.Nop()
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("tracing endpoint cannot be empty")
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("tracing timeout must be > 0")
	}

	exp, err := newOTLPExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create tracing exporter: %w", err)
	}
	guarded := &exportGuard{SpanExporter: exp, log: log, endpoint: cfg.Endpoint}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(svc.resourceAttributes()...))
	if err != nil {
		_ = exp.Shutdown(ctx)
		return nil, fmt.Errorf("create tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(guarded),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newDropRootSampler(selectSampler(cfg), cfg.DropRootSpans)),
	)
	otel.SetTracerProvider(tp)
	log.Info("tracing enabled",
		"endpoint", cfg.Endpoint,
		"sampler", cfg.Sampler,
		"drop_root_spans", cfg.DropRootSpans,
	)

	return func(shutdownCtx context.Context) error {
		if err := tp.ForceFlush(shutdownCtx); err != nil {
			_ = tp.Shutdown(shutdownCtx)
			return fmt.Errorf("force flush tracing provider: %w", err)
		}
		if err := tp.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown tracing provider: %w", err)
		}
		return nil
	}, nil
}

func selectSampler(cfg config.TracingConfig) sdktrace.Sampler {
	switch strings.ToLower(strings.TrimSpace(cfg.Sampler)) {
	case "always_on":
		return sdktrace.AlwaysSample()
	case "always_off":
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))
	}
}

// dropRootSampler never samples a span named in names when it starts a new
// trace. The same span under a sampled parent, e.g. a tier health check made
// while serving /ready, is left to base.
type dropRootSampler struct {
	base  sdktrace.Sampler
	names map[string]struct{}
}

func newDropRootSampler(base sdktrace.Sampler, names []string) sdktrace.Sampler {
	if len(names) == 0 {
		return base
	}
	s := &dropRootSampler{base: base, names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		s.names[n] = struct{}{}
	}
	return s
}

func (s *dropRootSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	parent := trace.SpanContextFromContext(p.ParentContext)
	if !parent.IsValid() {
		if _, drop := s.names[p.Name]; drop {
			return sdktrace.SamplingResult{Decision: sdktrace.Drop, Tracestate: parent.TraceState()}
		}
	}
	return s.base.ShouldSample(p)
}

func (s *dropRootSampler) Description() string {
	return fmt.Sprintf("DropRoot{%s}", s.base.Description())
}
