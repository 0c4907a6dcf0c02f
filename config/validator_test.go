package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// fieldErrors returns the ValidationErrors entries reported for field.
func fieldErrors(t *testing.T, cfg *Config, field string) []ConfigError {
	t.Helper()
	err := ValidateWithDetails(cfg)
	if err == nil {
		return nil
	}
	var details ValidationErrors
	if !errors.As(err, &details) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}
	var out []ConfigError
	for _, d := range details {
		if d.Field == field {
			out = append(out, d)
		}
	}
	return out
}

func TestValidate_Environment(t *testing.T) {
	for _, env := range []string{"development", "staging", "production"} {
		cfg := DefaultConfig()
		cfg.App.Environment = env
		if errs := fieldErrors(t, cfg, "Config.App.Environment"); len(errs) != 0 {
			t.Errorf("environment %q rejected: %v", env, errs)
		}
	}
	for _, env := range []string{"", "prod", "Production"} {
		cfg := DefaultConfig()
		cfg.App.Environment = env
		if errs := fieldErrors(t, cfg, "Config.App.Environment"); len(errs) != 1 {
			t.Errorf("environment %q accepted", env)
		}
	}
}

func TestValidate_GRPCKeyPairFiles(t *testing.T) {
	dir := t.TempDir()
	cert := filepath.Join(dir, "server.crt")
	key := filepath.Join(dir, "server.key")
	for _, p := range []string{cert, key} {
		if err := os.WriteFile(p, []byte("pem"), 0o600); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}

	tests := []struct {
		name      string
		cert, key string
		wantErrs  int
	}{
		{"plaintext", "", "", 0},
		{"existing pair", cert, key, 0},
		{"missing cert", filepath.Join(dir, "nope.crt"), key, 1},
		{"cert is a directory", dir, key, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Server.GRPC.CertFile = tt.cert
			cfg.Server.GRPC.KeyFile = tt.key
			if got := len(fieldErrors(t, cfg, "Config.Server.GRPC.CertFile")); got != tt.wantErrs {
				t.Errorf("cert_file errors = %d, want %d", got, tt.wantErrs)
			}
		})
	}
}

func TestValidate_TemplateDir(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "identity.tmpl")
	if err := os.WriteFile(file, []byte("{{.Name}}"), 0o600); err != nil {
		t.Fatalf("write template: %v", err)
	}

	tests := []struct {
		name  string
		path  string
		valid bool
	}{
		{"built-in templates", "", true},
		{"existing directory", dir, true},
		{"missing directory", filepath.Join(dir, "missing"), false},
		{"file instead of directory", file, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Prompt.TemplateDir = tt.path
			errs := fieldErrors(t, cfg, "Config.Prompt.TemplateDir")
			if tt.valid && len(errs) != 0 {
				t.Errorf("expected valid, got %v", errs)
			}
			if !tt.valid && (len(errs) == 0 || errs[0].Message != "directory does not exist") {
				t.Errorf("expected directory error for %q, got %v", tt.path, errs)
			}
		})
	}
}

func TestValidate_RedisAddress(t *testing.T) {
	tests := []struct {
		addr  string
		valid bool
	}{
		{"localhost:6379", true},
		{"127.0.0.1:6379", true},
		{"redis.family.internal:6380", true},
		{"[::1]:6379", true},
		{"redis_primary:6379", true},
		{"", false},
		{"redis host:6379", false},
		{"redis\n:6379", false},
		{"redis@home:6379", false},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Tiers.HotCache.Address = tt.addr
			errs := fieldErrors(t, cfg, "Config.Tiers.HotCache.Address")
			if tt.valid && len(errs) != 0 {
				t.Errorf("expected %q valid, got %v", tt.addr, errs)
			}
			if !tt.valid && len(errs) == 0 {
				t.Errorf("expected %q invalid", tt.addr)
			}
		})
	}
}
