package grpc

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// Config configures the health server. Zero keepalive values keep the
// grpc-go defaults.
type Config struct {
	// Address is the listen address, e.g. ":9090".
	Address string

	// CertFile and KeyFile serve TLS when both are set.
	CertFile string
	KeyFile  string

	// MaxConnectionIdle closes connections with no active RPC. Watch streams
	// count as active, so it only reaps one-shot Check clients.
	MaxConnectionIdle time.Duration
	KeepaliveTime     time.Duration
	KeepaliveTimeout  time.Duration
	// MinPingInterval is the shortest client ping interval tolerated before
	// the connection is closed with ENHANCE_YOUR_CALM.
	MinPingInterval time.Duration

	// EnableTracing adds the OpenTelemetry interceptors.
	EnableTracing bool
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() *Config {
	return &Config{
		Address:           ":9090",
		MaxConnectionIdle: 5 * time.Minute,
		KeepaliveTime:     time.Minute,
		KeepaliveTimeout:  20 * time.Second,
		MinPingInterval:   30 * time.Second,
	}
}

// TLS reports whether the server terminates TLS.
func (c *Config) TLS() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// Validate checks the address, the keepalive bounds and the TLS pair.
func (c *Config) Validate() error {
	if c.Address == "" {
		return errors.New("address cannot be empty")
	}
	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		return fmt.Errorf("address %q: %w", c.Address, err)
	}
	for name, d := range map[string]time.Duration{
		"max connection idle": c.MaxConnectionIdle,
		"keepalive time":      c.KeepaliveTime,
		"keepalive timeout":   c.KeepaliveTimeout,
		"min ping interval":   c.MinPingInterval,
	} {
		if d < 0 {
			return fmt.Errorf("%s cannot be negative", name)
		}
	}
	if c.KeepaliveTime > 0 && c.KeepaliveTimeout >= c.KeepaliveTime {
		return errors.New("keepalive timeout must be shorter than keepalive time")
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("cert file and key file must be set together")
	}
	return nil
}
