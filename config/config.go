// Package config provides configuration management for contextd.
package config

import (
	"fmt"
	"time"
)

// Config is the global configuration for contextd.
type Config struct {
	// App is the application configuration.
	App AppConfig `mapstructure:"app" validate:"required"`

	// Server is the HTTP/gRPC server configuration.
	Server ServerConfig `mapstructure:"server" validate:"required"`

	// Log is the logging configuration.
	Log LogConfig `mapstructure:"log" validate:"required"`

	// Metrics is the Prometheus configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Tracing is the OpenTelemetry configuration.
	Tracing TracingConfig `mapstructure:"tracing"`

	// Tiers configures the four memory tiers and the embedder.
	Tiers TiersConfig `mapstructure:"tiers"`

	// Orchestrator holds deadlines, limits and breaker settings.
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`

	// Prompt configures the prompt assembler.
	Prompt PromptConfig `mapstructure:"prompt"`
}

// AppConfig holds application metadata and settings.
type AppConfig struct {
	// Name is the application name.
	Name string `mapstructure:"name" validate:"required"`

	// Version is the application version.
	Version string `mapstructure:"version"`

	// Environment is the runtime environment (development, staging, production).
	Environment string `mapstructure:"environment" validate:"env"`

	// Debug enables debug mode with verbose logging.
	Debug bool `mapstructure:"debug"`
}

// ServerConfig holds the HTTP/gRPC server configuration.
type ServerConfig struct {
	// Host is the bind address.
	Host string `mapstructure:"host" validate:"host"`

	// Port is the HTTP API port.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535"`

	// GRPC is the gRPC health server configuration.
	GRPC GRPCConfig `mapstructure:"grpc"`

	// HTTP is the HTTP server configuration.
	HTTP HTTPConfig `mapstructure:"http"`

	// CORS is the CORS configuration.
	CORS CORSConfig `mapstructure:"cors"`

	// RateLimit limits API requests per owner.
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// WebSocket configures the /ws/events stream.
	WebSocket WebSocketConfig `mapstructure:"websocket"`
}

// GRPCConfig configures the gRPC listener. It serves grpc.health.v1 only,
// so orchestrators and load balancers can check each tier.
type GRPCConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port" validate:"min=1,max=65535"`

	// CertFile and KeyFile enable TLS when both are set.
	CertFile string `mapstructure:"cert_file" validate:"file_exists"`
	KeyFile  string `mapstructure:"key_file" validate:"file_exists"`

	Keepalive GRPCKeepaliveConfig `mapstructure:"keepalive"`
}

// GRPCKeepaliveConfig bounds long-lived health check connections. Health watchers
// hold a stream open, so idle and ping limits matter more than message sizes.
type GRPCKeepaliveConfig struct {
	MaxIdle time.Duration `mapstructure:"max_idle"`
	Time    time.Duration `mapstructure:"time"`
	Timeout time.Duration `mapstructure:"timeout"`
	// MinTime is the shortest client ping interval tolerated.
	MinTime time.Duration `mapstructure:"min_time"`
}

// HTTPConfig holds HTTP-specific settings.
type HTTPConfig struct {
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// RequestTimeout bounds the context of each API request.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// MaxHeaderBytes limits the size of request headers.
	MaxHeaderBytes int `mapstructure:"max_header_bytes"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// RateLimitConfig holds the per-owner token bucket settings.
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int     `mapstructure:"burst" validate:"gte=0"`
}

// WebSocketConfig holds event stream settings.
type WebSocketConfig struct {
	MaxConnections int           `mapstructure:"max_connections" validate:"min=0"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongTimeout    time.Duration `mapstructure:"pong_timeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Format is the output format (json, text).
	Format string `mapstructure:"format" validate:"oneof=json text"`

	// Output is the output destination (stdout, stderr, or file path).
	Output string `mapstructure:"output"`
}

// MetricsConfig holds observability settings.
type MetricsConfig struct {
	// Enabled enables metrics collection.
	Enabled bool `mapstructure:"enabled"`

	// Path is the metrics endpoint path.
	Path string `mapstructure:"path"`

	// Port is the metrics server port.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Exporter is the span exporter; only otlpgrpc is supported.
	Exporter string `mapstructure:"exporter" validate:"omitempty,oneof=otlpgrpc"`

	// Endpoint is the collector address, with or without a scheme.
	Endpoint string `mapstructure:"endpoint"`

	Timeout time.Duration     `mapstructure:"timeout"`
	Headers map[string]string `mapstructure:"headers"`

	// Sampler is always_on, always_off or ratio.
	Sampler    string  `mapstructure:"sampler" validate:"omitempty,oneof=always_on always_off ratio"`
	SampleRate float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`

	// DropRootSpans names spans that are never sampled when they start a
	// trace, e.g. the background recheck loop's tier.health calls.
	DropRootSpans []string `mapstructure:"drop_root_spans"`
}

// TiersConfig groups the tier settings.
type TiersConfig struct {
	HotCache      HotCacheConfig      `mapstructure:"hot_cache"`
	WorkingMemory WorkingMemoryConfig `mapstructure:"working_memory"`
	Relational    RelationalConfig    `mapstructure:"relational"`
	Vector        VectorConfig        `mapstructure:"vector"`
	Embedder      EmbedderConfig      `mapstructure:"embedder"`
}

// HotCacheConfig configures the Redis-backed hot cache.
type HotCacheConfig struct {
	Address   string        `mapstructure:"address" validate:"required,host"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db" validate:"min=0"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	MaxTurns  int           `mapstructure:"max_turns" validate:"min=1"`
	TTL       time.Duration `mapstructure:"ttl"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// WorkingMemoryConfig configures the Badger-backed working memory.
type WorkingMemoryConfig struct {
	// Path is ignored when InMemory is set.
	Path     string        `mapstructure:"path"`
	InMemory bool          `mapstructure:"in_memory"`
	TTL      time.Duration `mapstructure:"ttl"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// RelationalConfig configures the durable store.
type RelationalConfig struct {
	Driver          string        `mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DSN             string        `mapstructure:"dsn" validate:"required"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ProfileCacheTTL time.Duration `mapstructure:"profile_cache_ttl"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// VectorConfig configures the chromem-go vector index.
type VectorConfig struct {
	// Path enables persistence; empty keeps the index in memory.
	Path     string        `mapstructure:"path"`
	Compress bool          `mapstructure:"compress"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// EmbedderConfig configures the embedding provider.
type EmbedderConfig struct {
	Provider   string `mapstructure:"provider" validate:"oneof=ollama hash"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions" validate:"min=0"`
}

// OrchestratorConfig holds the fan-out deadlines and breaker settings.
type OrchestratorConfig struct {
	GetDeadline   time.Duration `mapstructure:"get_deadline"`
	SaveDeadline  time.Duration `mapstructure:"save_deadline"`
	RecentLimit   int           `mapstructure:"recent_limit" validate:"min=1"`
	RelevantLimit int           `mapstructure:"relevant_limit" validate:"min=1"`
	Breaker       BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig configures the per-tier circuit breakers.
type BreakerConfig struct {
	Threshold       int           `mapstructure:"threshold" validate:"min=1"`
	Window          time.Duration `mapstructure:"window"`
	Cooldown        time.Duration `mapstructure:"cooldown"`
	RecheckInterval time.Duration `mapstructure:"recheck_interval"`
}

// PromptConfig configures the prompt assembler.
type PromptConfig struct {
	// TemplateDir overrides individual embedded templates.
	TemplateDir string `mapstructure:"template_dir" validate:"dir_exists"`

	// Watch reloads templates when files under TemplateDir change.
	Watch bool `mapstructure:"watch"`

	FullBudget    int `mapstructure:"full_budget" validate:"min=1"`
	MinimalBudget int `mapstructure:"minimal_budget" validate:"min=1"`
	MaxRecent     int `mapstructure:"max_recent" validate:"min=1"`
	MaxRelevant   int `mapstructure:"max_relevant" validate:"min=1"`
}

// Validate performs validation on the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// String returns a string representation of the configuration (without sensitive data).
func (c *Config) String() string {
	return fmt.Sprintf("Config{App: %s, Server: :%d, Env: %s, Relational: %s}",
		c.App.Name, c.Server.Port, c.App.Environment, c.Tiers.Relational.Driver)
}
