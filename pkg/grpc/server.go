// Package grpc serves the grpc.health.v1 service for contextd. Besides the
// overall status it reports one service per memory tier, so a client can tell
// a degraded vector store from a lost database.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/familyhub/contextd/pkg/grpc/interceptors"
	"github.com/familyhub/contextd/pkg/logger"
)

// ErrServerClosed is returned by Start and Serve after Stop.
var ErrServerClosed = errors.New("grpc: server closed")

// Server is the health-only gRPC server.
type Server struct {
	cfg        *Config
	srv        *grpc.Server
	health     *HealthServer
	log        logger.Logger
	registerer prometheus.Registerer

	mu      sync.Mutex
	ln      net.Listener
	stopped bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used by the server and its interceptors.
func WithLogger(log logger.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetricsRegisterer enables the metrics interceptor on the given registerer.
func WithMetricsRegisterer(r prometheus.Registerer) Option {
	return func(s *Server) {
		s.registerer = r
	}
}

// WithHealthServer shares a health server built ahead of New, so tier
// statuses published by the orchestrator are what the server reports.
func WithHealthServer(h *HealthServer) Option {
	return func(s *Server) {
		s.health = h
	}
}

// New validates cfg and builds the server with the health service
// registered. Nothing listens until Start or Serve.
func New(cfg *Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("grpc: config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("grpc: invalid config: %w", err)
	}

	s := &Server{cfg: cfg, log: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.health == nil {
		s.health = NewHealthServer()
	}

	serverOpts, err := s.serverOptions()
	if err != nil {
		return nil, err
	}
	s.srv = grpc.NewServer(serverOpts...)
	grpc_health_v1.RegisterHealthServer(s.srv, s.health.GetServer())
	return s, nil
}

func (s *Server) serverOptions() ([]grpc.ServerOption, error) {
	var opts []grpc.ServerOption
	if s.cfg.TLS() {
		creds, err := credentials.NewServerTLSFromFile(s.cfg.CertFile, s.cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("grpc: load TLS key pair: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}
	opts = append(opts,
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: s.cfg.MaxConnectionIdle,
			Time:              s.cfg.KeepaliveTime,
			Timeout:           s.cfg.KeepaliveTimeout,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             s.cfg.MinPingInterval,
			PermitWithoutStream: true,
		}),
	)
	opts = append(opts, interceptors.DefaultChain(s.log, s.registerer, s.cfg.EnableTracing).ServerOptions()...)
	return opts, nil
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("grpc: listen on %s: %w", s.cfg.Address, err)
	}
	if err := s.attach(ln); err != nil {
		_ = ln.Close()
		return err
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.log.Error("gRPC server error", "error", err)
		}
	}()
	s.log.Info("gRPC health server listening", "address", ln.Addr().String(), "tls", s.cfg.TLS())
	return nil
}

// Serve serves on ln until Stop. It returns nil after a graceful stop.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.attach(ln); err != nil {
		return err
	}
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (s *Server) attach(ln net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrServerClosed
	}
	if s.ln != nil {
		return errors.New("grpc: server already serving")
	}
	s.ln = ln
	return nil
}

// Stop marks every service NOT_SERVING, so watchers learn about the
// shutdown, then drains RPCs until ctx ends and force-closes the rest.
// Watch streams only end when their client hangs up, so an open watcher
// holds Stop until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.srv.Stop()
		return fmt.Errorf("grpc: graceful stop: %w", ctx.Err())
	}
}

// Health returns the health server backing the service.
func (s *Server) Health() *HealthServer {
	return s.health
}

// Address returns the bound address once serving, else the configured one.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.cfg.Address
}
