// Package timeouts defines shared timeout constants used across services.
// Centralizing these values prevents drift between components and makes the
// durations discoverable.
package timeouts

import "time"

// HealthProbe caps a single health check call into a manager.
const HealthProbe = 2 * time.Second

// RedisDial caps the wait time when connecting to a redis snapshot store.
const RedisDial = 2 * time.Second

// Shutdown limits how long a manager may spend draining its writer lane and
// writing the final snapshot.
const Shutdown = 30 * time.Second

// TelemetryShutdown limits how long pending spans may take to flush.
const TelemetryShutdown = 5 * time.Second
