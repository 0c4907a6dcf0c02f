// Package tier holds the storage tier adapters and the call guard that every
// adapter is wrapped in before the orchestrator sees it.
package tier

import (
	"context"
	"fmt"
	"time"

	"github.com/familyhub/contextd/pkg/memory"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "contextd.tier"

// Guarded enforces the per-call timeout and owner scoping around an adapter.
// Failures come back as *memory.TierError. A call that ignores its context is
// abandoned once the timeout fires; its late result is discarded.
type Guarded struct {
	inner   memory.Adapter
	timeout time.Duration
	tracer  trace.Tracer
}

var _ memory.Adapter = (*Guarded)(nil)

// Guard wraps a with the given per-call timeout.
func Guard(a memory.Adapter, timeout time.Duration) *Guarded {
	return &Guarded{
		inner:   a,
		timeout: timeout,
		tracer:  otel.Tracer(tracerName),
	}
}

// Tier returns the wrapped adapter's tier.
func (g *Guarded) Tier() memory.Tier {
	return g.inner.Tier()
}

// Timeout returns the per-call timeout.
func (g *Guarded) Timeout() time.Duration {
	return g.timeout
}

// Unwrap returns the wrapped adapter.
func (g *Guarded) Unwrap() memory.Adapter {
	return g.inner
}

func (g *Guarded) Write(ctx context.Context, rec *memory.Record) error {
	if err := rec.Validate(); err != nil {
		return memory.NewTierError(g.Tier(), "write", err)
	}
	_, err := guardedCall(ctx, g, "write", rec.OwnerID, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.inner.Write(ctx, rec)
	})
	return err
}

func (g *Guarded) ReadRecent(ctx context.Context, ownerID, conversationID string, limit int) ([]memory.Record, error) {
	if limit <= 0 {
		return []memory.Record{}, nil
	}
	recs, err := guardedCall(ctx, g, "read_recent", ownerID, func(ctx context.Context) ([]memory.Record, error) {
		return g.inner.ReadRecent(ctx, ownerID, conversationID, limit)
	})
	if err != nil {
		return nil, err
	}
	out := make([]memory.Record, 0, len(recs))
	for _, r := range recs {
		if r.OwnerID != ownerID || r.ConversationID != conversationID {
			continue
		}
		out = append(out, r)
	}
	memory.SortRecent(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (g *Guarded) Search(ctx context.Context, ownerID, query string, limit int) ([]memory.SearchResult, error) {
	if limit <= 0 || query == "" {
		return []memory.SearchResult{}, nil
	}
	results, err := guardedCall(ctx, g, "search", ownerID, func(ctx context.Context) ([]memory.SearchResult, error) {
		return g.inner.Search(ctx, ownerID, query, limit)
	})
	if err != nil {
		return nil, err
	}
	out := make([]memory.SearchResult, 0, len(results))
	for _, r := range results {
		if r.Record.OwnerID != ownerID {
			continue
		}
		r.SourceTier = g.Tier()
		out = append(out, r)
	}
	memory.SortRelevant(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Health runs the wrapped health check under the call timeout.
func (g *Guarded) Health(ctx context.Context) bool {
	ok, err := guardedCall(ctx, g, "health", "", func(ctx context.Context) (bool, error) {
		return g.inner.Health(ctx), nil
	})
	return err == nil && ok
}

func guardedCall[T any](ctx context.Context, g *Guarded, op, ownerID string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	tier := g.Tier()

	if op != "health" && ownerID == "" {
		return zero, memory.NewTierError(tier, op, fmt.Errorf("owner_id is required"))
	}

	ctx, span := g.tracer.Start(ctx, "tier."+op, trace.WithAttributes(
		attribute.String("tier", string(tier)),
	))
	defer span.End()

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := fn(ctx)
		done <- outcome{v: v, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			span.RecordError(o.err)
			span.SetStatus(otelcodes.Error, o.err.Error())
			return zero, memory.NewTierError(tier, op, o.err)
		}
		return o.v, nil
	case <-ctx.Done():
		span.SetStatus(otelcodes.Error, "timeout")
		return zero, memory.NewTierError(tier, op, ctx.Err())
	}
}
