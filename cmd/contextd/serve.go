package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/familyhub/contextd/config"
	"github.com/familyhub/contextd/pkg/api"
	"github.com/familyhub/contextd/pkg/api/events"
	"github.com/familyhub/contextd/pkg/api/handlers"
	"github.com/familyhub/contextd/pkg/api/middleware"
	"github.com/familyhub/contextd/pkg/contextapi"
	"github.com/familyhub/contextd/pkg/embedding"
	grpcserver "github.com/familyhub/contextd/pkg/grpc"
	"github.com/familyhub/contextd/pkg/logger"
	"github.com/familyhub/contextd/pkg/memory"
	"github.com/familyhub/contextd/pkg/metrics"
	"github.com/familyhub/contextd/pkg/orchestrator"
	"github.com/familyhub/contextd/pkg/prompt"
	"github.com/familyhub/contextd/pkg/telemetry/tracing"
	"github.com/familyhub/contextd/pkg/tier/hotcache"
	"github.com/familyhub/contextd/pkg/tier/relational"
	"github.com/familyhub/contextd/pkg/tier/vector"
	"github.com/familyhub/contextd/pkg/tier/working"
	"github.com/familyhub/contextd/pkg/version"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, event stream and health servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			overrides := buildOverrides(g)
			if port != 0 {
				overrides["server.port"] = port
			}
			loader := config.NewLoader()
			cfg, err := loader.Load(g.configPath, overrides)
			if err != nil {
				return fmt.Errorf("failed to load configuration:\n%w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, loader, g.configPath)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Override HTTP port")
	return cmd
}

func buildOverrides(g *globalFlags) map[string]interface{} {
	overrides := make(map[string]interface{})
	if g.logLevel != "" {
		overrides["log.level"] = g.logLevel
	}
	if g.debug {
		overrides["app.debug"] = true
	}
	return overrides
}

func newLogger(cfg *config.Config) logger.Logger {
	logCfg := &logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if cfg.App.Debug {
		logCfg.Level = logger.DebugLevel
	}
	return logger.New(logCfg)
}

// app is the wired service.
type app struct {
	cfg *config.Config
	log logger.Logger

	metrics     *metrics.Manager
	orch        *orchestrator.Orchestrator
	library     *prompt.Library
	assembler   *prompt.Assembler
	broadcaster *events.Broadcaster
	ws          *handlers.WebSocketHandler
	limiter     *middleware.RateLimiter
	http        *api.HTTPServer
	grpc        *grpcserver.Server
	health      *grpcserver.HealthServer

	closers []io.Closer
}

func runServe(ctx context.Context, cfg *config.Config, loader *config.Loader, configPath string) error {
	log := newLogger(cfg)
	defer log.Close()

	log.Info("starting contextd",
		"version", version.Version,
		"build_time", version.BuildTime,
		"git_commit", version.GitCommit,
		"app", cfg.App.Name,
		"environment", cfg.App.Environment,
	)
	log.Debug("configuration loaded", "config", cfg.String())

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, tracing.Service{
		Name:        cfg.App.Name,
		Version:     version.Version,
		Environment: cfg.App.Environment,
		Attributes: map[string]string{
			"contextd.relational.driver":  cfg.Tiers.Relational.Driver,
			"contextd.embedding.provider": cfg.Tiers.Embedder.Provider,
		},
	}, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	goRun := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("component stopped", "component", name, "error", err)
				select {
				case errCh <- fmt.Errorf("%s: %w", name, err):
				default:
				}
			}
		}()
	}

	goRun("orchestrator", func() error { return a.orch.Run(runCtx) })
	goRun("websocket", func() error { a.ws.Run(runCtx, a.broadcaster); return nil })
	goRun("http", a.http.Start)
	if a.metrics.Enabled() {
		goRun("metrics", func() error {
			log.Info("starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			return a.metrics.StartServer(runCtx, cfg.Metrics.Port, cfg.Metrics.Path)
		})
	}
	if cfg.Prompt.Watch && cfg.Prompt.TemplateDir != "" {
		goRun("template watcher", func() error { return a.library.Watch(runCtx, 0) })
	}
	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, loader, config.WithWatcherLogger(log))
		if err != nil {
			log.Warn("config hot reload disabled", "error", err)
		} else {
			reloader := newReloader(cfg, a)
			watcher.OnChange(reloader.apply)
			goRun("config watcher", func() error { return watcher.Watch(runCtx) })
			defer watcher.Stop()
		}
	}
	if a.grpc != nil {
		if err := a.grpc.Start(); err != nil {
			cancel()
			a.close(context.Background())
			return fmt.Errorf("start grpc: %w", err)
		}
		a.health.Sync(a.orch.Status())
	}

	log.Info("contextd is running",
		"http_addr", a.http.Addr(),
		"grpc_enabled", a.grpc != nil,
		"metrics_port", cfg.Metrics.Port,
	)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case runErr = <-errCh:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if a.health != nil {
		a.health.Shutdown()
	}
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		log.Error("error shutting down http server", "error", err)
	}
	cancel()
	a.close(shutdownCtx)
	wg.Wait()

	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("error shutting down tracing", "error", err)
	}
	log.Info("contextd stopped")
	return runErr
}

// newApp opens the tiers and wires every component. On error everything
// opened so far is closed.
func newApp(ctx context.Context, cfg *config.Config, log logger.Logger) (a *app, err error) {
	a = &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	a.metrics = metrics.NewManager(metrics.Config{
		Enabled:                cfg.Metrics.Enabled,
		Port:                   cfg.Metrics.Port,
		Path:                   cfg.Metrics.Path,
		TierDurationBuckets:    metrics.DefaultConfig().TierDurationBuckets,
		ContextDurationBuckets: metrics.DefaultConfig().ContextDurationBuckets,
		PromptTokenBuckets:     metrics.DefaultConfig().PromptTokenBuckets,
		HTTPDurationBuckets:    metrics.DefaultConfig().HTTPDurationBuckets,
	})

	tiers, rel, err := a.openTiers(ctx)
	if err != nil {
		return nil, err
	}

	a.broadcaster = events.NewBroadcaster(a.metrics)
	opts := []orchestrator.Option{
		orchestrator.WithLogger(log.With("component", "orchestrator")),
		orchestrator.WithRecorder(a.metrics),
		orchestrator.WithEventSink(a.broadcaster),
		orchestrator.WithEventSink(eventLogger{log: log}),
	}
	if cfg.Server.GRPC.Enabled {
		a.health = grpcserver.NewHealthServer()
		opts = append(opts, orchestrator.WithEventSink(a.health))
	}
	a.orch, err = orchestrator.New(tiers, orchestratorConfig(cfg), opts...)
	if err != nil {
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}

	a.library = prompt.NewLibrary(cfg.Prompt.TemplateDir, log)
	a.assembler = prompt.NewAssembler(a.library, prompt.DefaultSkills(), promptConfig(cfg), log)
	svc := contextapi.New(a.orch, rel, a.assembler,
		contextapi.WithLogger(log),
		contextapi.WithPromptRecorder(a.metrics),
	)

	a.ws = handlers.NewWebSocketHandler(log, handlers.WebSocketConfig{
		AllowedOrigins: cfg.Server.CORS.AllowedOrigins,
		MaxConnections: cfg.Server.WebSocket.MaxConnections,
		PingInterval:   cfg.Server.WebSocket.PingInterval,
		PongTimeout:    cfg.Server.WebSocket.PongTimeout,
	})
	if cfg.Server.RateLimit.Enabled {
		a.limiter = middleware.NewRateLimiter(cfg.Server.RateLimit.RequestsPerSecond, cfg.Server.RateLimit.Burst)
	}

	h := &api.Handlers{
		Context:     handlers.NewContextHandler(svc, log),
		Health:      handlers.NewHealthHandler(a.orch),
		WebSocket:   a.ws,
		RateLimiter: a.limiter,
	}
	if a.metrics.Enabled() {
		h.Metrics = a.metrics
	}
	a.http = api.NewHTTPServer(cfg, log, h)

	if cfg.Server.GRPC.Enabled {
		gc := cfg.Server.GRPC.ToGRPCConfig()
		gc.EnableTracing = cfg.Tracing.Enabled
		a.grpc, err = grpcserver.New(gc,
			grpcserver.WithLogger(log),
			grpcserver.WithMetricsRegisterer(a.metrics.Registerer()),
			grpcserver.WithHealthServer(a.health),
		)
		if err != nil {
			return nil, fmt.Errorf("create grpc server: %w", err)
		}
	}
	return a, nil
}

func (a *app) openTiers(ctx context.Context) (orchestrator.Tiers, *relational.Adapter, error) {
	tc := a.cfg.Tiers
	log := a.log

	rdb := redis.NewClient(&redis.Options{
		Addr:     tc.HotCache.Address,
		Password: tc.HotCache.Password,
		DB:       tc.HotCache.DB,
	})
	a.closers = append(a.closers, rdb)
	hot := hotcache.New(rdb, hotcache.Config{
		KeyPrefix: tc.HotCache.KeyPrefix,
		TTL:       tc.HotCache.TTL,
		MaxTurns:  tc.HotCache.MaxTurns,
	}, log)

	wcfg := working.DefaultConfig()
	wcfg.Path = tc.WorkingMemory.Path
	wcfg.InMemory = tc.WorkingMemory.InMemory
	if tc.WorkingMemory.TTL > 0 {
		wcfg.TTL = tc.WorkingMemory.TTL
	}
	wm, err := working.Open(wcfg, log)
	if err != nil {
		return orchestrator.Tiers{}, nil, err
	}
	a.closers = append(a.closers, wm)

	rel, err := relational.Open(ctx, relational.Config{
		Driver:          tc.Relational.Driver,
		DSN:             tc.Relational.DSN,
		MaxOpenConns:    tc.Relational.MaxOpenConns,
		ConnMaxLifetime: tc.Relational.ConnMaxLifetime,
		ProfileCacheTTL: tc.Relational.ProfileCacheTTL,
	}, log)
	if err != nil {
		return orchestrator.Tiers{}, nil, err
	}
	a.closers = append(a.closers, rel)

	embedder, err := embedding.New(embedding.Config{
		Provider:   tc.Embedder.Provider,
		BaseURL:    tc.Embedder.BaseURL,
		Model:      tc.Embedder.Model,
		Dimensions: tc.Embedder.Dimensions,
	})
	if err != nil {
		return orchestrator.Tiers{}, nil, err
	}
	vec, err := vector.Open(vector.Config{Path: tc.Vector.Path, Compress: tc.Vector.Compress}, embedder, log)
	if err != nil {
		return orchestrator.Tiers{}, nil, err
	}

	log.Info("tiers opened",
		"hot_cache", tc.HotCache.Address,
		"working_memory_in_memory", tc.WorkingMemory.InMemory,
		"relational_driver", tc.Relational.Driver,
		"vector_persistent", tc.Vector.Path != "",
		"embedder", embedder.Model(),
	)
	return orchestrator.Tiers{
		HotCache:      hot,
		WorkingMemory: wm,
		Relational:    rel,
		Vector:        vec,
	}, rel, nil
}

// close releases everything newApp opened, in reverse order.
func (a *app) close(ctx context.Context) {
	if a.grpc != nil {
		if err := a.grpc.Stop(ctx); err != nil {
			a.log.Error("error stopping grpc server", "error", err)
		}
	}
	if a.ws != nil {
		a.ws.Close()
	}
	if a.broadcaster != nil {
		a.broadcaster.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.log.Error("error closing tier", "error", err)
		}
	}
	a.closers = nil
}

func orchestratorConfig(cfg *config.Config) orchestrator.Config {
	oc := cfg.Orchestrator
	return orchestrator.Config{
		GetDeadline:  oc.GetDeadline,
		SaveDeadline: oc.SaveDeadline,
		Timeouts: map[memory.Tier]time.Duration{
			memory.TierHotCache:      cfg.Tiers.HotCache.Timeout,
			memory.TierWorkingMemory: cfg.Tiers.WorkingMemory.Timeout,
			memory.TierRelational:    cfg.Tiers.Relational.Timeout,
			memory.TierVector:        cfg.Tiers.Vector.Timeout,
		},
		RecentLimit:   oc.RecentLimit,
		RelevantLimit: oc.RelevantLimit,
		Breaker: orchestrator.BreakerConfig{
			Threshold:       oc.Breaker.Threshold,
			Window:          oc.Breaker.Window,
			Cooldown:        oc.Breaker.Cooldown,
			RecheckInterval: oc.Breaker.RecheckInterval,
		},
	}
}

func promptConfig(cfg *config.Config) prompt.Config {
	return prompt.Config{
		FullBudget:    cfg.Prompt.FullBudget,
		MinimalBudget: cfg.Prompt.MinimalBudget,
		MaxRecent:     cfg.Prompt.MaxRecent,
		MaxRelevant:   cfg.Prompt.MaxRelevant,
	}
}

// eventLogger logs breaker transitions at warn.
type eventLogger struct {
	log logger.Logger
}

func (l eventLogger) Publish(e orchestrator.Event) {
	switch e.Type {
	case orchestrator.EventBreakerOpened:
		l.log.Warn("tier breaker opened", "tier", e.Tier, "error", e.Error)
	case orchestrator.EventBreakerClosed:
		l.log.Info("tier breaker closed", "tier", e.Tier)
	}
}

// reloader applies hot-reloadable settings when the config file changes.
type reloader struct {
	mu      sync.Mutex
	current config.HotReloadableConfig
	app     *app
}

func newReloader(cfg *config.Config, a *app) *reloader {
	return &reloader{current: config.ExtractHotReloadable(cfg), app: a}
}

func (r *reloader) apply(cfg *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := config.ExtractHotReloadable(cfg)
	if !r.current.Changed(next) {
		return
	}
	a := r.app
	if next.LogLevel != r.current.LogLevel {
		a.log.SetLevel(logger.ParseLevel(next.LogLevel))
		a.log.Info("log level changed", "level", next.LogLevel)
	}
	if next.PromptBudgets != r.current.PromptBudgets ||
		next.MaxRecent != r.current.MaxRecent ||
		next.MaxRelevant != r.current.MaxRelevant {
		a.assembler.SetConfig(promptConfig(cfg))
		a.log.Info("prompt budgets changed",
			"full_budget", cfg.Prompt.FullBudget,
			"minimal_budget", cfg.Prompt.MinimalBudget,
		)
	}
	if a.limiter != nil && (next.RateLimitRPS != r.current.RateLimitRPS || next.RateLimitBurst != r.current.RateLimitBurst) {
		a.limiter.SetLimit(next.RateLimitRPS, next.RateLimitBurst)
		a.log.Info("rate limit changed", "requests_per_second", next.RateLimitRPS, "burst", next.RateLimitBurst)
	}
	r.current = next
}
