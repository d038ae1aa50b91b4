package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	apperrors "github.com/louisbranch/sportchef/internal/platform/errors"
)

func TestListProbe(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		list func(context.Context) ([]int, error)
		want Status
	}{
		{"empty list is healthy", func(context.Context) ([]int, error) { return []int{}, nil }, Healthy()},
		{"records", func(context.Context) ([]int, error) { return []int{1, 2}, nil }, Healthy()},
		{"nil list", func(context.Context) ([]int, error) { return nil, nil }, Unhealthy("Can't access users!")},
		{"shut down", func(context.Context) ([]int, error) {
			return nil, apperrors.New(apperrors.CodeUnavailable, "users is shut down")
		}, Unhealthy("Can't access users!")},
		{"error", func(context.Context) ([]int, error) { return nil, errors.New("boom") }, Unhealthy("boom")},
		{"panic", func(context.Context) ([]int, error) { panic("corrupt") }, Unhealthy("corrupt")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ListProbe("Can't access users!", tc.list)(ctx))
		})
	}
}

func TestRegistryRegister(t *testing.T) {
	registry := NewRegistry(zerolog.Nop(), nil)
	require.Error(t, registry.Register(" ", func(context.Context) Status { return Healthy() }))
	require.Error(t, registry.Register("UserService", nil))
	require.NoError(t, registry.Register("UserService", func(context.Context) Status { return Healthy() }))
	require.Error(t, registry.Register("UserService", func(context.Context) Status { return Healthy() }))
	require.NoError(t, registry.Register("EventService", func(context.Context) Status { return Healthy() }))
	require.Equal(t, []string{"UserService", "EventService"}, registry.Names())

	_, err := registry.Check(context.Background(), "Missing")
	require.Error(t, err)
}

func TestRegistryPublishesServingStatus(t *testing.T) {
	server := grpchealth.NewServer()
	registry := NewRegistry(zerolog.Nop(), server)
	var failing atomic.Bool
	require.NoError(t, registry.Register("UserService", func(context.Context) Status {
		if failing.Load() {
			return Unhealthy("Can't access users!")
		}
		return Healthy()
	}))
	require.NoError(t, registry.Register("EventService", func(context.Context) Status { return Healthy() }))
	require.False(t, registry.Healthy(), "nothing probed yet")

	servingOf := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		resp, err := server.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.GetStatus()
	}
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, servingOf("UserService"))

	results := registry.CheckAll(context.Background())
	require.Len(t, results, 2)
	require.True(t, registry.Healthy())
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, servingOf("UserService"))
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, servingOf(""))

	failing.Store(true)
	registry.CheckAll(context.Background())
	require.False(t, registry.Healthy())
	status, ok := registry.Status("UserService")
	require.True(t, ok)
	require.Equal(t, "Can't access users!", status.Message)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, servingOf("UserService"))
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, servingOf("EventService"))
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, servingOf(""))

	registry.Stop()
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, servingOf("EventService"))
}

func TestRegistryStart(t *testing.T) {
	registry := NewRegistry(zerolog.Nop(), nil)
	var calls atomic.Int32
	require.NoError(t, registry.Register("UserService", func(context.Context) Status {
		calls.Add(1)
		return Healthy()
	}))

	require.Error(t, registry.Start(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- registry.Start(ctx, 5*time.Millisecond) }()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	require.True(t, registry.Healthy())
}

func TestRegistryBoundsProbeTime(t *testing.T) {
	registry := NewRegistry(zerolog.Nop(), nil)
	registry.timeout = 10 * time.Millisecond
	require.NoError(t, registry.Register("UserService", func(ctx context.Context) Status {
		<-ctx.Done()
		return Unhealthy(ctx.Err().Error())
	}))

	status, err := registry.Check(context.Background(), "UserService")
	require.NoError(t, err)
	require.False(t, status.Healthy)
	require.Equal(t, context.DeadlineExceeded.Error(), status.Message)
}
