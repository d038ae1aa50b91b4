// Package health turns periodic read-only probes of the record managers into
// a binary signal per manager and publishes it on a gRPC health server.
package health

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	apperrors "github.com/louisbranch/sportchef/internal/platform/errors"
	"github.com/louisbranch/sportchef/internal/platform/timeouts"
)

// Status is the outcome of one probe.
type Status struct {
	Healthy bool
	Message string
}

// Healthy returns a passing status.
func Healthy() Status {
	return Status{Healthy: true}
}

// Unhealthy returns a failing status with a message for the operator.
func Unhealthy(message string) Status {
	return Status{Message: message}
}

// Probe checks one manager. It must not mutate anything.
type Probe func(ctx context.Context) Status

// ListProbe builds a probe around a manager's find-all read. An error fails
// the probe with its message; a nil list or a shut-down store fails it with
// inaccessible. An empty list is healthy.
func ListProbe[T any](inaccessible string, list func(context.Context) ([]T, error)) Probe {
	return func(ctx context.Context) (status Status) {
		defer func() {
			if r := recover(); r != nil {
				status = Unhealthy(fmt.Sprint(r))
			}
		}()
		items, err := list(ctx)
		switch {
		case errors.Is(err, apperrors.ErrUnavailable):
			return Unhealthy(inaccessible)
		case err != nil:
			return Unhealthy(err.Error())
		case items == nil:
			return Unhealthy(inaccessible)
		}
		return Healthy()
	}
}

type check struct {
	name  string
	probe Probe
}

// Registry runs registered probes and caches their results.
type Registry struct {
	mu      sync.RWMutex
	checks  []check
	last    map[string]Status
	server  *grpchealth.Server
	logger  zerolog.Logger
	timeout time.Duration
}

// NewRegistry creates a registry publishing to server. server may be nil.
func NewRegistry(logger zerolog.Logger, server *grpchealth.Server) *Registry {
	return &Registry{
		last:    make(map[string]Status),
		server:  server,
		logger:  logger,
		timeout: timeouts.HealthProbe,
	}
}

// Register adds a probe under a stable manager name, such as "UserService".
func (r *Registry) Register(name string, probe Probe) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("health check name is required")
	}
	if probe == nil {
		return fmt.Errorf("health check %s: probe is required", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.checks {
		if c.name == name {
			return fmt.Errorf("health check already registered: %s", name)
		}
	}
	r.checks = append(r.checks, check{name: name, probe: probe})
	if r.server != nil {
		r.server.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return nil
}

// Names returns registered check names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.checks))
	for _, c := range r.checks {
		names = append(names, c.name)
	}
	return names
}

// Check runs one probe now and records the result.
func (r *Registry) Check(ctx context.Context, name string) (Status, error) {
	r.mu.RLock()
	var probe Probe
	for _, c := range r.checks {
		if c.name == name {
			probe = c.probe
		}
	}
	r.mu.RUnlock()
	if probe == nil {
		return Status{}, fmt.Errorf("health check not registered: %s", name)
	}

	probeCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	status := probe(probeCtx)
	r.record(name, status)
	return status, nil
}

// CheckAll runs every probe and returns the results by name.
func (r *Registry) CheckAll(ctx context.Context) map[string]Status {
	results := make(map[string]Status)
	for _, name := range r.Names() {
		status, err := r.Check(ctx, name)
		if err != nil {
			continue
		}
		results[name] = status
	}
	r.publishOverall()
	return results
}

// Status returns the cached result of the last probe for name.
func (r *Registry) Status(name string) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	status, ok := r.last[name]
	return status, ok
}

// Healthy reports whether every registered probe last passed.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.checks) == 0 {
		return false
	}
	for _, c := range r.checks {
		if status, ok := r.last[c.name]; !ok || !status.Healthy {
			return false
		}
	}
	return true
}

// Start probes immediately and then on every interval until ctx ends.
func (r *Registry) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("health interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.CheckAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.CheckAll(ctx)
		}
	}
}

// Stop marks every service NOT_SERVING on the published server.
func (r *Registry) Stop() {
	if r.server != nil {
		r.server.Shutdown()
	}
}

func (r *Registry) record(name string, status Status) {
	r.mu.Lock()
	prev, seen := r.last[name]
	r.last[name] = status
	r.mu.Unlock()

	if r.server != nil {
		serving := healthpb.HealthCheckResponse_NOT_SERVING
		if status.Healthy {
			serving = healthpb.HealthCheckResponse_SERVING
		}
		r.server.SetServingStatus(name, serving)
	}

	if seen && prev.Healthy == status.Healthy {
		return
	}
	if status.Healthy {
		r.logger.Info().Str("check", name).Msg("health: UP")
		return
	}
	r.logger.Error().Str("check", name).Str("reason", status.Message).Msg("health: DOWN")
}

func (r *Registry) publishOverall() {
	if r.server == nil {
		return
	}
	overall := healthpb.HealthCheckResponse_NOT_SERVING
	if r.Healthy() {
		overall = healthpb.HealthCheckResponse_SERVING
	}
	r.server.SetServingStatus("", overall)
}
