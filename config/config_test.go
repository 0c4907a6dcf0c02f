package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.App.Name != "contextd" {
		t.Errorf("expected app name 'contextd', got %s", cfg.App.Name)
	}
	if cfg.App.Environment != "development" {
		t.Errorf("expected environment 'development', got %s", cfg.App.Environment)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected server port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Log.Level)
	}

	if cfg.Orchestrator.GetDeadline != 200*time.Millisecond {
		t.Errorf("expected get deadline 200ms, got %v", cfg.Orchestrator.GetDeadline)
	}
	if cfg.Orchestrator.SaveDeadline != 600*time.Millisecond {
		t.Errorf("expected save deadline 600ms, got %v", cfg.Orchestrator.SaveDeadline)
	}
	if cfg.Orchestrator.Breaker.Threshold != 5 {
		t.Errorf("expected breaker threshold 5, got %d", cfg.Orchestrator.Breaker.Threshold)
	}
	if cfg.Prompt.FullBudget != 16000 || cfg.Prompt.MinimalBudget != 5000 {
		t.Errorf("unexpected prompt budgets %d/%d", cfg.Prompt.FullBudget, cfg.Prompt.MinimalBudget)
	}
	if cfg.Tiers.HotCache.Timeout != 150*time.Millisecond {
		t.Errorf("expected hot cache timeout 150ms, got %v", cfg.Tiers.HotCache.Timeout)
	}
	if cfg.Tiers.Relational.Timeout != 500*time.Millisecond {
		t.Errorf("expected relational timeout 500ms, got %v", cfg.Tiers.Relational.Timeout)
	}

	if err := ValidateWithDetails(cfg); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "missing app name", mutate: func(c *Config) { c.App.Name = "" }, wantErr: true},
		{name: "invalid environment", mutate: func(c *Config) { c.App.Environment = "qa" }, wantErr: true},
		{name: "invalid log level", mutate: func(c *Config) { c.Log.Level = "trace" }, wantErr: true},
		{name: "invalid relational driver", mutate: func(c *Config) { c.Tiers.Relational.Driver = "mysql" }, wantErr: true},
		{name: "missing dsn", mutate: func(c *Config) { c.Tiers.Relational.DSN = "" }, wantErr: true},
		{name: "invalid embedder", mutate: func(c *Config) { c.Tiers.Embedder.Provider = "openai" }, wantErr: true},
		{name: "hash embedder", mutate: func(c *Config) {
			c.Tiers.Embedder.Provider = "hash"
			c.Tiers.Embedder.BaseURL = ""
		}},
		{name: "zero breaker threshold", mutate: func(c *Config) { c.Orchestrator.Breaker.Threshold = 0 }, wantErr: true},
		{name: "invalid sample rate", mutate: func(c *Config) { c.Tracing.SampleRate = 1.5 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateWithDetails_CrossField(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{
			name:   "minimal budget above full",
			mutate: func(c *Config) { c.Prompt.MinimalBudget = c.Prompt.FullBudget + 1 },
			field:  "Config.Prompt.MinimalBudget",
		},
		{
			name:   "ollama without base url",
			mutate: func(c *Config) { c.Tiers.Embedder.BaseURL = "" },
			field:  "Config.Tiers.Embedder.BaseURL",
		},
		{
			name:   "ollama without model",
			mutate: func(c *Config) { c.Tiers.Embedder.Model = "" },
			field:  "Config.Tiers.Embedder.Model",
		},
		{
			name:   "watch without template dir",
			mutate: func(c *Config) { c.Prompt.Watch = true },
			field:  "Config.Prompt.TemplateDir",
		},
		{
			name:   "grpc cert without key",
			mutate: func(c *Config) { c.Server.GRPC.CertFile = "server.crt" },
			field:  "Config.Server.GRPC.CertFile",
		},
		{
			name:   "grpc keepalive timeout not below time",
			mutate: func(c *Config) { c.Server.GRPC.Keepalive.Timeout = c.Server.GRPC.Keepalive.Time },
			field:  "Config.Server.GRPC.Keepalive.Timeout",
		},
		{
			name:   "persistent working memory without path",
			mutate: func(c *Config) { c.Tiers.WorkingMemory.Path = "" },
			field:  "Config.Tiers.WorkingMemory.Path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := ValidateWithDetails(cfg)
			var details ValidationErrors
			if !errors.As(err, &details) {
				t.Fatalf("expected ValidationErrors, got %v", err)
			}
			found := false
			for _, d := range details {
				if d.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error for %s, got %v", tt.field, details)
			}
		})
	}
}

func TestValidateWithDetails_TemplateDirMustExist(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Prompt.TemplateDir = filepath.Join(t.TempDir(), "missing")

	err := ValidateWithDetails(cfg)
	if err == nil || !strings.Contains(err.Error(), "directory does not exist") {
		t.Fatalf("expected directory error, got %v", err)
	}

	cfg.Prompt.TemplateDir = t.TempDir()
	if err := ValidateWithDetails(cfg); err != nil {
		t.Fatalf("existing template dir should validate: %v", err)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errs := ValidationErrors{
		{Field: "server.port", Message: "must be between 1 and 65535", Value: 99999},
		{Field: "log.level", Message: "must be one of [debug info warn error]", Value: "trace"},
	}

	errMsg := errs.Error()
	if !strings.Contains(errMsg, "server.port") || !strings.Contains(errMsg, "log.level") {
		t.Errorf("expected both fields in message, got %q", errMsg)
	}
	if ValidationErrors(nil).Error() != "no validation errors" {
		t.Error("expected placeholder message for empty errors")
	}
}

func TestConfig_String(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tiers.Relational.DSN = "postgres://user:secret@db/contextd"

	s := cfg.String()
	if s == "" {
		t.Error("expected non-empty string representation")
	}
	if strings.Contains(s, "secret") {
		t.Errorf("string representation leaks the dsn: %s", s)
	}
}

func TestLoader_Get(t *testing.T) {
	loader := NewLoader()
	if _, err := loader.Load("", nil); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loader.Get("app.name") == nil {
		t.Error("expected non-nil value for app.name")
	}
	if str := loader.GetString("app.name"); str != "contextd" {
		t.Errorf("expected 'contextd', got '%s'", str)
	}
	if port := loader.GetInt("server.port"); port != 8080 {
		t.Errorf("expected 8080, got %d", port)
	}
	if !loader.GetBool("metrics.enabled") {
		t.Error("expected metrics.enabled to be true")
	}
	if s := loader.GetString("orchestrator.get_deadline"); s != "200ms" {
		t.Errorf("expected duration default '200ms', got %q", s)
	}
}

func TestLoader_Set(t *testing.T) {
	loader := NewLoader()
	_, _ = loader.Load("", nil)

	if err := loader.Set("app.name", "custom-app"); err != nil {
		t.Errorf("unexpected error setting value: %v", err)
	}
	if loader.GetString("app.name") != "custom-app" {
		t.Errorf("expected 'custom-app', got '%s'", loader.GetString("app.name"))
	}
}

func TestLoader_Print(t *testing.T) {
	loader := NewLoader()
	_, _ = loader.Load("", nil)

	if loader.Print() == "" {
		t.Error("expected non-empty print output")
	}
}

func TestLoad(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Tiers.HotCache.KeyPrefix != "contextd" {
		t.Errorf("expected default key prefix, got %q", cfg.Tiers.HotCache.KeyPrefix)
	}
	if cfg.Tiers.WorkingMemory.TTL != 24*time.Hour {
		t.Errorf("expected working memory ttl 24h, got %v", cfg.Tiers.WorkingMemory.TTL)
	}
}

func TestLoadOrDie(t *testing.T) {
	if cfg := LoadOrDie("", nil); cfg == nil {
		t.Error("expected non-nil config")
	}
}

func TestLoadOrDie_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic for invalid config file")
		}
	}()

	LoadOrDie("/nonexistent/path/config.yaml", nil)
}

func TestLoader_LoadFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
app:
  name: yaml-test
  environment: production
server:
  port: 9999
log:
  level: debug
  format: text
tiers:
  hot_cache:
    address: redis:6379
    ttl: 30m
  relational:
    driver: postgres
    dsn: postgres://contextd@db/contextd
orchestrator:
  get_deadline: 250ms
  breaker:
    cooldown: 15s
prompt:
  minimal_budget: 4000
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configPath, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.App.Name != "yaml-test" {
		t.Errorf("expected app name 'yaml-test', got %s", cfg.App.Name)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Server.Port)
	}
	if cfg.Tiers.HotCache.Address != "redis:6379" {
		t.Errorf("expected redis address, got %s", cfg.Tiers.HotCache.Address)
	}
	if cfg.Tiers.HotCache.TTL != 30*time.Minute {
		t.Errorf("expected ttl 30m, got %v", cfg.Tiers.HotCache.TTL)
	}
	if cfg.Tiers.Relational.Driver != "postgres" {
		t.Errorf("expected postgres driver, got %s", cfg.Tiers.Relational.Driver)
	}
	if cfg.Orchestrator.GetDeadline != 250*time.Millisecond {
		t.Errorf("expected get deadline 250ms, got %v", cfg.Orchestrator.GetDeadline)
	}
	if cfg.Orchestrator.Breaker.Cooldown != 15*time.Second {
		t.Errorf("expected cooldown 15s, got %v", cfg.Orchestrator.Breaker.Cooldown)
	}
	if cfg.Prompt.MinimalBudget != 4000 {
		t.Errorf("expected minimal budget 4000, got %d", cfg.Prompt.MinimalBudget)
	}

	// Sibling keys in partially specified sections keep their defaults.
	if cfg.Tiers.HotCache.MaxTurns != 100 {
		t.Errorf("expected default max turns 100, got %d", cfg.Tiers.HotCache.MaxTurns)
	}
	if cfg.Orchestrator.Breaker.Threshold != 5 {
		t.Errorf("expected default threshold 5, got %d", cfg.Orchestrator.Breaker.Threshold)
	}
	if cfg.Prompt.FullBudget != 16000 {
		t.Errorf("expected default full budget, got %d", cfg.Prompt.FullBudget)
	}
}

func TestLoader_LoadJSONFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	jsonContent := `{
  "app": {"name": "json-test"},
  "tiers": {"embedder": {"provider": "hash", "dimensions": 64}},
  "tracing": {"headers": {"authorization": "Bearer x"}}
}`
	if err := os.WriteFile(configPath, []byte(jsonContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configPath, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.App.Name != "json-test" {
		t.Errorf("expected app name 'json-test', got %s", cfg.App.Name)
	}
	if cfg.Tiers.Embedder.Provider != "hash" || cfg.Tiers.Embedder.Dimensions != 64 {
		t.Errorf("unexpected embedder config %+v", cfg.Tiers.Embedder)
	}
	if cfg.Tracing.Headers["authorization"] != "Bearer x" {
		t.Errorf("expected tracing header, got %v", cfg.Tracing.Headers)
	}
}

func TestLoader_ReloadDropsRemovedKeys(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("log:\n  level: debug\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	loader := NewLoader()
	cfg, err := loader.Load(configPath, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected debug, got %s", cfg.Log.Level)
	}

	if err := os.WriteFile(configPath, []byte("app:\n  name: contextd\n"), 0644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}
	cfg, err = loader.Load(configPath, nil)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected level to fall back to info, got %s", cfg.Log.Level)
	}
}

func TestLoader_LoadInvalidFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml", nil)
	if err == nil {
		t.Error("expected error for non-existent file")
	}
}

func TestLoader_LoadUnsupportedFormat(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(configPath, []byte("[app]\nname = \"x\"\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	_, err := Load(configPath, nil)
	if err == nil || !strings.Contains(err.Error(), "unsupported config file format") {
		t.Errorf("expected unsupported format error, got %v", err)
	}
}

func TestLoader_EnvVars(t *testing.T) {
	t.Setenv("CONTEXTD_SERVER__PORT", "7070")
	t.Setenv("CONTEXTD_LOG__LEVEL", "warn")
	t.Setenv("CONTEXTD_TIERS__HOT_CACHE__ADDRESS", "cache.internal:6380")
	t.Setenv("CONTEXTD_ORCHESTRATOR__BREAKER__COOLDOWN", "45s")

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("expected port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Log.Level)
	}
	if cfg.Tiers.HotCache.Address != "cache.internal:6380" {
		t.Errorf("expected env address, got %s", cfg.Tiers.HotCache.Address)
	}
	if cfg.Orchestrator.Breaker.Cooldown != 45*time.Second {
		t.Errorf("expected cooldown 45s, got %v", cfg.Orchestrator.Breaker.Cooldown)
	}
}

func TestLoader_Overrides(t *testing.T) {
	t.Setenv("CONTEXTD_SERVER__PORT", "7070")

	cfg, err := Load("", map[string]interface{}{"server.port": 6060})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 6060 {
		t.Errorf("expected override to win over env, got %d", cfg.Server.Port)
	}
}

func TestGRPCConfig_ToGRPCConfig(t *testing.T) {
	g := DefaultConfig().Server.GRPC

	out := g.ToGRPCConfig()
	if out.Address != ":9090" {
		t.Errorf("expected address ':9090', got %s", out.Address)
	}
	if out.TLS() {
		t.Error("expected plaintext without cert and key")
	}
	if out.KeepaliveTime != time.Minute || out.KeepaliveTimeout != 20*time.Second {
		t.Errorf("unexpected keepalive %v/%v", out.KeepaliveTime, out.KeepaliveTimeout)
	}
	if out.MaxConnectionIdle != 5*time.Minute || out.MinPingInterval != 30*time.Second {
		t.Errorf("unexpected idle/ping limits %v/%v", out.MaxConnectionIdle, out.MinPingInterval)
	}
	if out.EnableTracing {
		t.Error("tracing is wired by the caller, not the gRPC section")
	}
	if err := out.Validate(); err != nil {
		t.Errorf("default gRPC config should validate: %v", err)
	}
}

func TestGRPCConfig_ToGRPCConfig_WithTLS(t *testing.T) {
	g := DefaultConfig().Server.GRPC
	g.Port = 9443
	g.CertFile = "cert.pem"
	g.KeyFile = "key.pem"

	out := g.ToGRPCConfig()
	if out.Address != ":9443" {
		t.Errorf("expected address ':9443', got %s", out.Address)
	}
	if !out.TLS() || out.CertFile != "cert.pem" || out.KeyFile != "key.pem" {
		t.Errorf("unexpected TLS fields %q/%q", out.CertFile, out.KeyFile)
	}
}

func TestValidation_InvalidPort(t *testing.T) {
	for _, port := range []int{0, -1, 70000} {
		cfg := DefaultConfig()
		cfg.Server.Port = port
		if err := ValidateWithDetails(cfg); err == nil {
			t.Errorf("expected error for port %d", port)
		}
	}
}

func TestFormatValidationError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Log.Format = "xml"
	cfg.Orchestrator.RecentLimit = 0

	err := ValidateWithDetails(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "must be one of [json text]") {
		t.Errorf("expected oneof message, got %q", msg)
	}
	if !strings.Contains(msg, "must be at least 1") {
		t.Errorf("expected min message, got %q", msg)
	}
}
