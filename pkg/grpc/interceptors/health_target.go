package interceptors

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/familyhub/contextd/pkg/memory"
)

// TierServicePrefix prefixes the per-tier health service names, e.g.
// "contextd.tier.relational".
const TierServicePrefix = "contextd.tier."

// Tier label values for requests that do not name a tier.
const (
	tierOverall = "overall"
	tierUnknown = "unknown"
	tierNone    = "none"
)

// requestedService returns the health service a request asks about.
func requestedService(req any) (string, bool) {
	hc, ok := req.(*grpc_health_v1.HealthCheckRequest)
	if !ok {
		return "", false
	}
	return hc.GetService(), true
}

// tierLabel maps a health service name onto a bounded label: a tier name,
// "overall" for the empty service, or "unknown". Callers can ask about any
// name, so the raw service never becomes a label.
func tierLabel(service string) string {
	if service == "" {
		return tierOverall
	}
	name, ok := strings.CutPrefix(service, TierServicePrefix)
	if ok && memory.Tier(name).Valid() {
		return name
	}
	return tierUnknown
}

func requestTier(req any) string {
	service, ok := requestedService(req)
	if !ok {
		return tierNone
	}
	return tierLabel(service)
}

// observedStream swaps the stream context and reports the service named by
// the first health request received and every response sent. Health Watch
// reads its request through RecvMsg, so this is the only place a stream
// interceptor can learn which tier is being watched.
type observedStream struct {
	grpc.ServerStream
	ctx    context.Context
	onRecv func(service string)
	onSend func()
	seen   bool
}

func (s *observedStream) Context() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return s.ServerStream.Context()
}

func (s *observedStream) RecvMsg(m any) error {
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return err
	}
	if s.seen {
		return nil
	}
	if service, ok := requestedService(m); ok {
		s.seen = true
		if s.onRecv != nil {
			s.onRecv(service)
		}
	}
	return nil
}

func (s *observedStream) SendMsg(m any) error {
	if err := s.ServerStream.SendMsg(m); err != nil {
		return err
	}
	if s.onSend != nil {
		s.onSend()
	}
	return nil
}
