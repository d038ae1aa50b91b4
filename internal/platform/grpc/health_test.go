package grpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestWaitForServingAlreadyServing(t *testing.T) {
	server := health.NewServer()
	server.SetServingStatus("UserService", healthpb.HealthCheckResponse_SERVING)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := WaitForServing(ctx, server, "UserService", zerolog.Nop()); err != nil {
		t.Fatalf("wait for serving: %v", err)
	}
}

func TestWaitForServingTransitions(t *testing.T) {
	server := health.NewServer()
	server.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	go func() {
		time.Sleep(100 * time.Millisecond)
		server.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := WaitForServing(ctx, server, "", zerolog.Nop()); err != nil {
		t.Fatalf("wait for serving after transition: %v", err)
	}
}

func TestWaitForServingUnknownServiceRespectsContext(t *testing.T) {
	server := health.NewServer()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	err := WaitForServing(ctx, server, "EventService", zerolog.Nop())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestWaitForServingRequiresChecker(t *testing.T) {
	if err := WaitForServing(context.Background(), nil, "", zerolog.Nop()); err == nil {
		t.Fatal("expected missing checker error")
	}
}
