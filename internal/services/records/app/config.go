// Package app wires the record controllers, their storage and health checks
// into one process lifecycle.
package app

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Storage drivers.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
	DriverBolt   = "bbolt"
	DriverRedis  = "redis"
)

var (
	journalDrivers  = []string{DriverFile, DriverSQLite, DriverMemory}
	snapshotDrivers = []string{DriverFile, DriverSQLite, DriverBolt, DriverRedis, DriverMemory}
)

// Config holds storage and lifecycle settings. Env tags are read with the
// SPORTCHEF_ prefix.
type Config struct {
	DataDir          string        `env:"DATA_DIR" envDefault:"data"`
	JournalDriver    string        `env:"JOURNAL_DRIVER" envDefault:"file"`
	SnapshotDriver   string        `env:"SNAPSHOT_DRIVER" envDefault:"file"`
	RedisAddr        string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	SnapshotEvery    int           `env:"SNAPSHOT_EVERY" envDefault:"1000"`
	SnapshotInterval time.Duration `env:"SNAPSHOT_INTERVAL" envDefault:"5m"`
	SnapshotRetain   int           `env:"SNAPSHOT_RETAIN" envDefault:"2"`
	TruncateJournal  bool          `env:"TRUNCATE_JOURNAL" envDefault:"false"`
	SegmentBytes     int64         `env:"SEGMENT_BYTES" envDefault:"67108864"`
	QueueDepth       int           `env:"QUEUE_DEPTH" envDefault:"64"`
	HealthInterval   time.Duration `env:"HEALTH_INTERVAL" envDefault:"30s"`

	// RepairJournal drops a torn tail from file journals while opening.
	// Only the repair command sets it.
	RepairJournal bool
}

// Validate normalizes driver names and rejects unusable settings.
func (c *Config) Validate() error {
	c.JournalDriver = strings.ToLower(strings.TrimSpace(c.JournalDriver))
	c.SnapshotDriver = strings.ToLower(strings.TrimSpace(c.SnapshotDriver))
	c.DataDir = strings.TrimSpace(c.DataDir)

	if !slices.Contains(journalDrivers, c.JournalDriver) {
		return fmt.Errorf("unknown journal driver %q (want one of %s)", c.JournalDriver, strings.Join(journalDrivers, ", "))
	}
	if !slices.Contains(snapshotDrivers, c.SnapshotDriver) {
		return fmt.Errorf("unknown snapshot driver %q (want one of %s)", c.SnapshotDriver, strings.Join(snapshotDrivers, ", "))
	}
	if c.DataDir == "" && (c.JournalDriver != DriverMemory || needsDataDir(c.SnapshotDriver)) {
		return fmt.Errorf("data dir is required")
	}
	if c.SnapshotDriver == DriverRedis && strings.TrimSpace(c.RedisAddr) == "" {
		return fmt.Errorf("redis address is required for the redis snapshot driver")
	}
	if c.TruncateJournal && c.SnapshotDriver == DriverMemory && c.JournalDriver != DriverMemory {
		return fmt.Errorf("truncate journal needs a durable snapshot driver")
	}
	if c.SnapshotEvery < 0 {
		return fmt.Errorf("snapshot every must not be negative")
	}
	if c.SnapshotInterval < 0 {
		return fmt.Errorf("snapshot interval must not be negative")
	}
	if c.HealthInterval <= 0 {
		return fmt.Errorf("health interval must be positive")
	}
	return nil
}

func needsDataDir(driver string) bool {
	return driver != DriverMemory && driver != DriverRedis
}
