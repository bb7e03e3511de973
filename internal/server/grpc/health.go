package grpcserver

import (
	"context"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	logpkg "github.com/rzbill/pulse/pkg/log"
)

// Checker reports whether the process can reach its store.
type Checker interface {
	CheckHealth(ctx context.Context) error
}

// probe keeps the health service status in sync with checker until ctx is
// done. service is the component name served next to the overall "" status.
func probe(ctx context.Context, hs *health.Server, checker Checker, service string, interval time.Duration, logger logpkg.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := healthpb.HealthCheckResponse_UNKNOWN
	for {
		cctx, cancel := context.WithTimeout(ctx, interval)
		status := healthpb.HealthCheckResponse_SERVING
		if err := checker.CheckHealth(cctx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			if last != status {
				logger.Warn("store health check failed", logpkg.Err(err))
			}
		}
		cancel()
		if status != last {
			hs.SetServingStatus("", status)
			hs.SetServingStatus(service, status)
			last = status
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
