// Package orchestrator fans reads and writes out to the four memory tiers,
// joins the results under a shared deadline and tracks tier health.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/familyhub/contextd/pkg/logger"
	"github.com/familyhub/contextd/pkg/memory"
	"github.com/familyhub/contextd/pkg/tier"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// ErrMissingOwner is returned when a request has no owner id.
var ErrMissingOwner = errors.New("orchestrator: owner_id is required")

// Config holds the deadlines and limits of the orchestrator.
type Config struct {
	// GetDeadline bounds a whole get_context or search call.
	GetDeadline time.Duration
	// SaveDeadline bounds a whole save_context call.
	SaveDeadline time.Duration
	// Timeouts are the per-call tier timeouts.
	Timeouts map[memory.Tier]time.Duration

	RecentLimit   int
	RelevantLimit int

	Breaker BreakerConfig
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		GetDeadline:  200 * time.Millisecond,
		SaveDeadline: 600 * time.Millisecond,
		Timeouts: map[memory.Tier]time.Duration{
			memory.TierHotCache:      150 * time.Millisecond,
			memory.TierWorkingMemory: 150 * time.Millisecond,
			memory.TierRelational:    500 * time.Millisecond,
			memory.TierVector:        500 * time.Millisecond,
		},
		RecentLimit:   20,
		RelevantLimit: 10,
		Breaker:       DefaultBreakerConfig(),
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.GetDeadline <= 0 {
		c.GetDeadline = def.GetDeadline
	}
	if c.SaveDeadline <= 0 {
		c.SaveDeadline = def.SaveDeadline
	}
	timeouts := make(map[memory.Tier]time.Duration, len(memory.AllTiers))
	for _, t := range memory.AllTiers {
		timeouts[t] = def.Timeouts[t]
		if d := c.Timeouts[t]; d > 0 {
			timeouts[t] = d
		}
	}
	c.Timeouts = timeouts
	if c.RecentLimit <= 0 {
		c.RecentLimit = def.RecentLimit
	}
	if c.RelevantLimit <= 0 {
		c.RelevantLimit = def.RelevantLimit
	}
	if c.Breaker.Threshold <= 0 {
		c.Breaker.Threshold = def.Breaker.Threshold
	}
	if c.Breaker.Window <= 0 {
		c.Breaker.Window = def.Breaker.Window
	}
	if c.Breaker.Cooldown <= 0 {
		c.Breaker.Cooldown = def.Breaker.Cooldown
	}
	if c.Breaker.RecheckInterval <= 0 {
		c.Breaker.RecheckInterval = def.Breaker.RecheckInterval
	}
}

// Tiers are the adapters the orchestrator dispatches to. All four are required.
type Tiers struct {
	HotCache      memory.Adapter
	WorkingMemory memory.Adapter
	Relational    memory.Adapter
	Vector        memory.Adapter
}

func (t Tiers) byName() (map[memory.Tier]memory.Adapter, error) {
	m := map[memory.Tier]memory.Adapter{
		memory.TierHotCache:      t.HotCache,
		memory.TierWorkingMemory: t.WorkingMemory,
		memory.TierRelational:    t.Relational,
		memory.TierVector:        t.Vector,
	}
	for name, a := range m {
		if a == nil {
			return nil, fmt.Errorf("orchestrator: %s adapter is nil", name)
		}
	}
	return m, nil
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

// WithEventSink adds a sink for orchestrator events.
func WithEventSink(s EventSink) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.sinks = append(o.sinks, s)
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.rec = r
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// Orchestrator is safe for concurrent use. Its only shared mutable state is
// the per-tier breakers.
type Orchestrator struct {
	cfg      Config
	tiers    map[memory.Tier]*tier.Guarded
	breakers map[memory.Tier]*Breaker
	log      logger.Logger
	sinks    []EventSink
	rec      Recorder
	now      func() time.Time
	tracer   trace.Tracer
}

// New builds an orchestrator over the given tiers. Each adapter is wrapped in
// a tier.Guard with its configured timeout.
func New(tiers Tiers, cfg Config, opts ...Option) (*Orchestrator, error) {
	adapters, err := tiers.byName()
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	o := &Orchestrator{
		cfg:      cfg,
		tiers:    make(map[memory.Tier]*tier.Guarded, len(adapters)),
		breakers: make(map[memory.Tier]*Breaker, len(adapters)),
		log:      logger.Nop(),
		rec:      nopRecorder{},
		now:      time.Now,
		tracer:   otel.Tracer("contextd.orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	for name, a := range adapters {
		o.tiers[name] = tier.Guard(a, cfg.Timeouts[name])
		o.breakers[name] = newBreaker(name, cfg.Breaker)
		o.rec.SetBreakerState(name, false)
	}
	return o, nil
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// ContextQuery is the input of GetContext.
type ContextQuery struct {
	OwnerID        string
	ConversationID string
	QueryText      string
	// RecentLimit and RelevantLimit override the configured limits when > 0.
	RecentLimit   int
	RelevantLimit int
}

type tierResult struct {
	tier    memory.Tier
	records []memory.Record
	results []memory.SearchResult
	err     error
}

// dispatch runs fn against one tier on its own goroutine and delivers the
// outcome to out. A tier with an open breaker is failed without a call.
func (o *Orchestrator) dispatch(ctx context.Context, name memory.Tier, op string, out chan<- tierResult, fn func(context.Context, *tier.Guarded) tierResult) {
	b := o.breakers[name]
	if !b.Allow() {
		out <- tierResult{tier: name, err: memory.NewTierError(name, op, memory.ErrCircuitOpen)}
		return
	}
	go func() {
		start := o.now()
		res := fn(ctx, o.tiers[name])
		res.tier = name
		o.rec.ObserveTierCall(name, op, o.now().Sub(start), res.err)
		o.observe(ctx, name, res.err)
		out <- res
	}()
}

// observe feeds a call outcome to the tier's breaker. A failure that ends
// after ctx is done was caused by the caller going away or the shared
// deadline, not by the tier, so it is not counted.
func (o *Orchestrator) observe(ctx context.Context, name memory.Tier, err error) {
	b := o.breakers[name]
	if err == nil {
		b.Success()
		return
	}
	if ctx.Err() != nil {
		o.log.Debug("tier call abandoned", "tier", name, "error", err)
		return
	}
	if b.Failure(o.now()) {
		o.log.Warn("circuit opened", "tier", name, "failures", b.Failures(), "error", err)
		o.rec.SetBreakerState(name, true)
		o.publish(Event{Type: EventBreakerOpened, Tier: name, Error: err.Error()})
	}
}

// collect waits for every pending tier or for ctx to end, whichever is first.
// Tiers still running at that point are reported with the context error.
func collect(ctx context.Context, out <-chan tierResult, pending map[memory.Tier]struct{}) map[memory.Tier]tierResult {
	got := make(map[memory.Tier]tierResult, len(pending))
	for len(got) < len(pending) {
		select {
		case r := <-out:
			got[r.tier] = r
		case <-ctx.Done():
			for name := range pending {
				if _, ok := got[name]; !ok {
					got[name] = tierResult{tier: name, err: memory.NewTierError(name, "deadline", ctx.Err())}
				}
			}
			return got
		}
	}
	return got
}

// GetContext reads recent turns from the hot cache and relational tiers and
// searches working memory and vector, all concurrently, under GetDeadline.
// Tiers that fail or miss the deadline are listed in DegradedTiers; the call
// itself only fails on invalid input.
func (o *Orchestrator) GetContext(ctx context.Context, q ContextQuery) (*memory.Context, error) {
	if q.OwnerID == "" {
		return nil, ErrMissingOwner
	}
	recentLimit := q.RecentLimit
	if recentLimit <= 0 {
		recentLimit = o.cfg.RecentLimit
	}
	relevantLimit := q.RelevantLimit
	if relevantLimit <= 0 {
		relevantLimit = o.cfg.RelevantLimit
	}

	start := o.now()
	ctx, span := o.tracer.Start(ctx, "orchestrator.get_context", trace.WithAttributes(
		attribute.String("owner_id", q.OwnerID),
		attribute.String("conversation_id", q.ConversationID),
	))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.GetDeadline)
	defer cancel()

	out := make(chan tierResult, len(memory.AllTiers))
	pending := make(map[memory.Tier]struct{}, len(memory.AllTiers))

	read := func(ctx context.Context, g *tier.Guarded) tierResult {
		recs, err := g.ReadRecent(ctx, q.OwnerID, q.ConversationID, recentLimit)
		return tierResult{records: recs, err: err}
	}
	search := func(ctx context.Context, g *tier.Guarded) tierResult {
		res, err := g.Search(ctx, q.OwnerID, q.QueryText, relevantLimit)
		return tierResult{results: res, err: err}
	}

	for _, name := range []memory.Tier{memory.TierHotCache, memory.TierRelational} {
		pending[name] = struct{}{}
		o.dispatch(ctx, name, "read_recent", out, read)
	}
	if q.QueryText != "" {
		for _, name := range []memory.Tier{memory.TierWorkingMemory, memory.TierVector} {
			pending[name] = struct{}{}
			o.dispatch(ctx, name, "search", out, search)
		}
	}

	got := collect(ctx, out, pending)

	mc := &memory.Context{
		OwnerID:        q.OwnerID,
		ConversationID: q.ConversationID,
		DegradedTiers:  []memory.Tier{},
	}
	for _, name := range memory.AllTiers {
		r, ok := got[name]
		if !ok || r.err == nil {
			continue
		}
		mc.DegradedTiers = append(mc.DegradedTiers, name)
		o.log.WarnContext(ctx, "tier degraded", "tier", name, "owner_id", q.OwnerID, "error", r.err)
	}
	mc.PrimaryTierDegraded = got[memory.TierRelational].err != nil
	mc.Recent = mergeRecent(recentLimit, got[memory.TierRelational].records, got[memory.TierHotCache].records)
	mc.Relevant = mergeRelevant(relevantLimit, got[memory.TierWorkingMemory].results, got[memory.TierVector].results)

	if mc.Degraded() {
		o.publish(Event{
			Type:           EventContextDegraded,
			Tiers:          mc.DegradedTiers,
			OwnerID:        q.OwnerID,
			ConversationID: q.ConversationID,
		})
	}
	o.rec.ObserveContext(o.now().Sub(start), mc.DegradedTiers)
	return mc, nil
}

// SearchMemories fans out to working memory and vector only. Failed tiers
// contribute nothing; search never writes back to any tier.
func (o *Orchestrator) SearchMemories(ctx context.Context, ownerID, query string, limit int) ([]memory.SearchResult, error) {
	if ownerID == "" {
		return nil, ErrMissingOwner
	}
	if limit <= 0 {
		limit = o.cfg.RelevantLimit
	}
	if query == "" {
		return []memory.SearchResult{}, nil
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.search", trace.WithAttributes(
		attribute.String("owner_id", ownerID),
	))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.GetDeadline)
	defer cancel()

	out := make(chan tierResult, 2)
	pending := map[memory.Tier]struct{}{}
	for _, name := range []memory.Tier{memory.TierWorkingMemory, memory.TierVector} {
		pending[name] = struct{}{}
		o.dispatch(ctx, name, "search", out, func(ctx context.Context, g *tier.Guarded) tierResult {
			res, err := g.Search(ctx, ownerID, query, limit)
			return tierResult{results: res, err: err}
		})
	}
	got := collect(ctx, out, pending)
	for name, r := range got {
		if r.err != nil {
			o.log.WarnContext(ctx, "search tier failed", "tier", name, "owner_id", ownerID, "error", r.err)
		}
	}
	return mergeRelevant(limit, got[memory.TierWorkingMemory].results, got[memory.TierVector].results), nil
}

// SaveContext writes rec to all four tiers concurrently. It succeeds if and
// only if the relational tier acknowledges; other tier failures are reported
// in PartialFailures. Writes still running when SaveDeadline passes are left
// to finish in the background, which is safe because every tier is
// idempotent on record id.
func (o *Orchestrator) SaveContext(ctx context.Context, rec *memory.Record) (*memory.SaveResult, error) {
	rec.Stamp(o.now())
	rec.TierOrigin = ""
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	start := o.now()
	ctx, span := o.tracer.Start(ctx, "orchestrator.save_context", trace.WithAttributes(
		attribute.String("owner_id", rec.OwnerID),
		attribute.String("record_id", rec.ID),
	))
	defer span.End()

	if !o.breakers[memory.TierRelational].Allow() {
		err := &memory.DurabilityError{RecordID: rec.ID, Cause: memory.NewTierError(memory.TierRelational, "write", memory.ErrCircuitOpen)}
		o.saveFailed(ctx, rec, start, err)
		return nil, err
	}

	deadline, cancel := context.WithTimeout(ctx, o.cfg.SaveDeadline)
	defer cancel()
	writeCtx := context.WithoutCancel(ctx)

	out := make(chan tierResult, len(memory.AllTiers))
	pending := make(map[memory.Tier]struct{}, len(memory.AllTiers))
	for _, name := range memory.AllTiers {
		pending[name] = struct{}{}
		copyRec := rec.Clone()
		o.dispatch(writeCtx, name, "write", out, func(ctx context.Context, g *tier.Guarded) tierResult {
			return tierResult{err: g.Write(ctx, &copyRec)}
		})
	}
	got := collect(deadline, out, pending)

	if err := got[memory.TierRelational].err; err != nil {
		derr := &memory.DurabilityError{RecordID: rec.ID, Cause: err}
		o.saveFailed(ctx, rec, start, derr)
		return nil, derr
	}

	res := &memory.SaveResult{ID: rec.ID, CreatedAt: rec.CreatedAt, PartialFailures: []memory.TierFailure{}}
	failed := []memory.Tier{}
	for _, name := range memory.AllTiers {
		r := got[name]
		if r.err == nil {
			continue
		}
		res.PartialFailures = append(res.PartialFailures, memory.TierFailure{Tier: name, Error: r.err.Error()})
		failed = append(failed, name)
		o.log.WarnContext(ctx, "partial save failure", "tier", name, "record_id", rec.ID, "error", r.err)
	}
	if len(failed) > 0 {
		o.publish(Event{
			Type:           EventSavePartial,
			Tiers:          failed,
			OwnerID:        rec.OwnerID,
			ConversationID: rec.ConversationID,
			RecordID:       rec.ID,
		})
	}
	o.rec.ObserveSave(o.now().Sub(start), len(res.PartialFailures), nil)
	return res, nil
}

func (o *Orchestrator) saveFailed(ctx context.Context, rec *memory.Record, start time.Time, err error) {
	o.log.ErrorContext(ctx, "save not durable", "record_id", rec.ID, "owner_id", rec.OwnerID, "error", err)
	o.publish(Event{
		Type:           EventSaveFailed,
		Tier:           memory.TierRelational,
		OwnerID:        rec.OwnerID,
		ConversationID: rec.ConversationID,
		RecordID:       rec.ID,
		Error:          err.Error(),
	})
	o.rec.ObserveSave(o.now().Sub(start), 0, err)
}

func (o *Orchestrator) publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = o.now().UTC()
	}
	for _, s := range o.sinks {
		s.Publish(e)
	}
}

// Healthy reports whether the relational tier can currently accept writes.
func (o *Orchestrator) Healthy(ctx context.Context) bool {
	return o.breakers[memory.TierRelational].Allow() && o.tiers[memory.TierRelational].Health(ctx)
}

// Status returns the breaker state of every tier in dispatch order.
func (o *Orchestrator) Status() []TierStatus {
	out := make([]TierStatus, 0, len(memory.AllTiers))
	for _, name := range memory.AllTiers {
		out = append(out, o.breakers[name].status())
	}
	return out
}

// RecheckOpenTiers health-checks every open breaker whose cooldown elapsed.
func (o *Orchestrator) RecheckOpenTiers(ctx context.Context) {
	for _, name := range memory.AllTiers {
		b := o.breakers[name]
		if !b.recheckDue(o.now()) {
			continue
		}
		healthy := o.tiers[name].Health(ctx)
		if b.rechecked(o.now(), healthy) {
			o.log.Info("circuit closed", "tier", name)
			o.rec.SetBreakerState(name, false)
			o.publish(Event{Type: EventBreakerClosed, Tier: name})
		} else if !healthy {
			o.log.Debug("recheck failed, cooldown re-armed", "tier", name)
		}
	}
}

// Run rechecks open breakers every RecheckInterval until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	lim := rate.NewLimiter(rate.Every(o.cfg.Breaker.RecheckInterval), 1)
	for {
		if err := lim.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		o.RecheckOpenTiers(ctx)
	}
}
