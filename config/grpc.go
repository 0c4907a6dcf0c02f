package config

import (
	"fmt"

	grpcpkg "github.com/familyhub/contextd/pkg/grpc"
)

// ToGRPCConfig maps the gRPC section onto the health server's settings.
// Tracing is switched on by the caller from the tracing section.
func (g *GRPCConfig) ToGRPCConfig() *grpcpkg.Config {
	return &grpcpkg.Config{
		Address:           fmt.Sprintf(":%d", g.Port),
		CertFile:          g.CertFile,
		KeyFile:           g.KeyFile,
		MaxConnectionIdle: g.Keepalive.MaxIdle,
		KeepaliveTime:     g.Keepalive.Time,
		KeepaliveTimeout:  g.Keepalive.Timeout,
		MinPingInterval:   g.Keepalive.MinTime,
	}
}
