// Package grpc holds helpers shared by components that publish gRPC health.
package grpc

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	initialBackoff = 50 * time.Millisecond
	maxBackoff     = time.Second
)

// HealthChecker answers health checks. *health.Server from
// google.golang.org/grpc/health implements it in process; a
// grpc_health_v1.HealthClient can be adapted to it for remote checks.
type HealthChecker interface {
	Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error)
}

// WaitForServing blocks until checker reports SERVING for service or ctx
// ends. An empty service name is the overall status.
func WaitForServing(ctx context.Context, checker HealthChecker, service string, logger zerolog.Logger) error {
	if checker == nil {
		return fmt.Errorf("health checker is not configured")
	}

	backoff := initialBackoff
	var lastStatus healthpb.HealthCheckResponse_ServingStatus
	for {
		response, err := checker.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if err == nil && response.GetStatus() == healthpb.HealthCheckResponse_SERVING {
			logger.Info().Str("service", service).Msg("health check is SERVING")
			return nil
		}
		if err != nil {
			logger.Debug().Err(err).Str("service", service).Msg("waiting for health")
		} else if status := response.GetStatus(); status != lastStatus {
			lastStatus = status
			logger.Debug().Str("service", service).Str("status", status.String()).Msg("waiting for health")
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for health %q: %w", service, ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}
