package config

import "time"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "contextd",
			Version:     "dev",
			Environment: "development",
			Debug:       false,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			GRPC: GRPCConfig{
				Enabled: false,
				Port:    9090,
				Keepalive: GRPCKeepaliveConfig{
					MaxIdle: 5 * time.Minute,
					Time:    time.Minute,
					Timeout: 20 * time.Second,
					MinTime: 30 * time.Second,
				},
			},
			HTTP: HTTPConfig{
				ReadTimeout:     30 * time.Second,
				WriteTimeout:    30 * time.Second,
				IdleTimeout:     120 * time.Second,
				RequestTimeout:  5 * time.Second,
				ShutdownTimeout: 30 * time.Second,
				MaxHeaderBytes:  1 << 20, // 1MB
			},
			CORS: CORSConfig{
				Enabled:        false,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
				ExposedHeaders: []string{"X-Request-ID"},
				MaxAge:         300,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 20,
				Burst:             40,
			},
			WebSocket: WebSocketConfig{
				MaxConnections: 100,
				PingInterval:   30 * time.Second,
				PongTimeout:    10 * time.Second,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9091,
		},
		Tracing: TracingConfig{
			Enabled:       false,
			Exporter:      "otlpgrpc",
			Endpoint:      "localhost:4317",
			Timeout:       5 * time.Second,
			Sampler:       "ratio",
			SampleRate:    0.1,
			DropRootSpans: []string{"tier.health"},
		},
		Tiers: TiersConfig{
			HotCache: HotCacheConfig{
				Address:   "localhost:6379",
				KeyPrefix: "contextd",
				MaxTurns:  100,
				TTL:       time.Hour,
				Timeout:   150 * time.Millisecond,
			},
			WorkingMemory: WorkingMemoryConfig{
				Path:     "./data/working",
				InMemory: false,
				TTL:      24 * time.Hour,
				Timeout:  150 * time.Millisecond,
			},
			Relational: RelationalConfig{
				Driver:          "sqlite",
				DSN:             "./data/contextd.db",
				MaxOpenConns:    10,
				ConnMaxLifetime: 30 * time.Minute,
				ProfileCacheTTL: 5 * time.Minute,
				Timeout:         500 * time.Millisecond,
			},
			Vector: VectorConfig{
				Path:     "./data/vector",
				Compress: true,
				Timeout:  500 * time.Millisecond,
			},
			Embedder: EmbedderConfig{
				Provider:   "ollama",
				BaseURL:    "http://localhost:11434",
				Model:      "nomic-embed-text",
				Dimensions: 768,
			},
		},
		Orchestrator: OrchestratorConfig{
			GetDeadline:   200 * time.Millisecond,
			SaveDeadline:  600 * time.Millisecond,
			RecentLimit:   20,
			RelevantLimit: 10,
			Breaker: BreakerConfig{
				Threshold:       5,
				Window:          30 * time.Second,
				Cooldown:        10 * time.Second,
				RecheckInterval: 2 * time.Second,
			},
		},
		Prompt: PromptConfig{
			Watch:         false,
			FullBudget:    16000,
			MinimalBudget: 5000,
			MaxRecent:     10,
			MaxRelevant:   5,
		},
	}
}
