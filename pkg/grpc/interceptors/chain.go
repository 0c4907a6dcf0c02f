package interceptors

import (
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/familyhub/contextd/pkg/logger"
)

// Chain is an ordered set of unary and stream interceptors. The first one
// added runs outermost.
type Chain struct {
	unary  []grpc.UnaryServerInterceptor
	stream []grpc.StreamServerInterceptor
}

func (c *Chain) add(u grpc.UnaryServerInterceptor, s grpc.StreamServerInterceptor) *Chain {
	c.unary = append(c.unary, u)
	c.stream = append(c.stream, s)
	return c
}

// DefaultChain returns recovery -> request_id -> logging -> metrics -> tracing.
// A nil registerer leaves out metrics, and tracing=false leaves out spans.
func DefaultChain(log logger.Logger, registerer prometheus.Registerer, tracing bool) *Chain {
	c := (&Chain{}).
		add(RecoveryUnaryInterceptor(log), RecoveryStreamInterceptor(log)).
		add(RequestIDUnaryInterceptor(), RequestIDStreamInterceptor()).
		add(LoggingUnaryInterceptor(log), LoggingStreamInterceptor(log))
	if registerer != nil {
		m := NewMetrics(registerer)
		c.add(MetricsUnaryInterceptor(m), MetricsStreamInterceptor(m))
	}
	if tracing {
		c.add(TracingUnaryInterceptor(), TracingStreamInterceptor())
	}
	return c
}

// Len reports how many interceptors the chain holds per RPC kind.
func (c *Chain) Len() int {
	return len(c.unary)
}

// ServerOptions installs the chain on a grpc.Server.
func (c *Chain) ServerOptions() []grpc.ServerOption {
	if len(c.unary) == 0 {
		return nil
	}
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(c.unary...),
		grpc.ChainStreamInterceptor(c.stream...),
	}
}
