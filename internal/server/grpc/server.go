package grpcserver

import (
	"context"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	logpkg "github.com/rzbill/pulse/pkg/log"
)

// ServiceName is the component name reported by the health service.
const ServiceName = "pulse"

// Server owns the gRPC server instance serving grpc.health.v1.
type Server struct {
	checker  Checker
	health   *health.Server
	grpc     *grpc.Server
	lis      net.Listener
	logger   logpkg.Logger
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a gRPC server whose health status follows checker, probed
// every interval (default 5s).
func New(checker Checker, interval time.Duration, logger logpkg.Logger, opts ...grpc.ServerOption) *Server {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	s := &Server{
		checker:  checker,
		health:   health.NewServer(),
		grpc:     grpc.NewServer(opts...),
		logger:   logger.WithComponent("grpc"),
		interval: interval,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	return s
}

// startProbe begins tracking the checker.
func (s *Server) startProbe(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		probe(ctx, s.health, s.checker, ServiceName, s.interval, s.logger)
	}()
}

// Serve serves on l until ctx is done.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.lis = l
	s.startProbe(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- s.grpc.Serve(l) }()
	select {
	case <-ctx.Done():
		s.Close()
		return nil
	case err := <-errCh:
		s.Close()
		return err
	}
}

// ListenAndServe binds to addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.logger.Info("health server listening", logpkg.Str("addr", l.Addr().String()))
	return s.Serve(ctx, l)
}

// Close marks the process as not serving, stops the server and waits for
// the probe to exit.
func (s *Server) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
