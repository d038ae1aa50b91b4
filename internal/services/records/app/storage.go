package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/louisbranch/sportchef/internal/platform/timeouts"
	"github.com/louisbranch/sportchef/internal/services/records/domain/journal"
	"github.com/louisbranch/sportchef/internal/services/records/domain/snapshot"
	boltstore "github.com/louisbranch/sportchef/internal/services/records/storage/bbolt"
	filestore "github.com/louisbranch/sportchef/internal/services/records/storage/file"
	redisstore "github.com/louisbranch/sportchef/internal/services/records/storage/redis"
	sqlitestore "github.com/louisbranch/sportchef/internal/services/records/storage/sqlite"
)

// Storage is the journal and snapshot store owned by one controller.
type Storage struct {
	Journal   journal.Journal
	Snapshots snapshot.Store
}

// Close releases both stores.
func (s Storage) Close() error {
	var errs []error
	if s.Journal != nil {
		errs = append(errs, s.Journal.Close())
	}
	if s.Snapshots != nil {
		errs = append(errs, s.Snapshots.Close())
	}
	return errors.Join(errs...)
}

// storageFactory opens per-manager storage under <data dir>/<manager>/.
// The redis client is shared by every manager and created on first use.
type storageFactory struct {
	cfg    Config
	logger zerolog.Logger

	mu    sync.Mutex
	redis *redis.Client
}

func newStorageFactory(cfg Config, logger zerolog.Logger) *storageFactory {
	return &storageFactory{cfg: cfg, logger: logger}
}

func (f *storageFactory) Open(ctx context.Context, name string) (Storage, error) {
	dir := filepath.Join(f.cfg.DataDir, name)
	if f.cfg.JournalDriver != DriverMemory || needsDataDir(f.cfg.SnapshotDriver) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Storage{}, fmt.Errorf("create %s data dir: %w", name, err)
		}
	}

	j, err := f.openJournal(ctx, name, dir)
	if err != nil {
		return Storage{}, err
	}
	snaps, err := f.openSnapshots(ctx, name, dir)
	if err != nil {
		_ = j.Close()
		return Storage{}, err
	}
	return Storage{Journal: j, Snapshots: snaps}, nil
}

func (f *storageFactory) openJournal(ctx context.Context, name, dir string) (journal.Journal, error) {
	switch f.cfg.JournalDriver {
	case DriverFile:
		j, err := filestore.OpenJournal(filepath.Join(dir, "journal"), filestore.JournalOptions{
			SegmentBytes: f.cfg.SegmentBytes,
			Repair:       f.cfg.RepairJournal,
		})
		if err != nil {
			return nil, fmt.Errorf("open %s journal: %w", name, err)
		}
		if stats := j.Repaired(); stats.DiscardedBytes > 0 {
			f.logger.Warn().
				Str("manager", name).
				Str("segment", stats.Segment).
				Int64("discarded_bytes", stats.DiscardedBytes).
				Msg("journal torn tail removed")
		}
		return j, nil
	case DriverSQLite:
		j, err := sqlitestore.OpenJournal(ctx, filepath.Join(dir, "journal.db"), sqlitestore.JournalOptions{})
		if err != nil {
			return nil, fmt.Errorf("open %s journal: %w", name, err)
		}
		return j, nil
	case DriverMemory:
		return journal.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown journal driver %q", f.cfg.JournalDriver)
	}
}

func (f *storageFactory) openSnapshots(ctx context.Context, name, dir string) (snapshot.Store, error) {
	var (
		store snapshot.Store
		err   error
	)
	switch f.cfg.SnapshotDriver {
	case DriverFile:
		store, err = filestore.OpenSnapshots(filepath.Join(dir, "snapshots"), filestore.SnapshotOptions{Retain: f.cfg.SnapshotRetain})
	case DriverSQLite:
		store, err = sqlitestore.OpenSnapshots(ctx, filepath.Join(dir, "snapshots.db"), sqlitestore.SnapshotOptions{Retain: f.cfg.SnapshotRetain})
	case DriverBolt:
		store, err = boltstore.Open(filepath.Join(dir, "snapshots.bolt"), boltstore.Options{Retain: f.cfg.SnapshotRetain})
	case DriverRedis:
		var client *redis.Client
		client, err = f.redisClient(ctx)
		if err == nil {
			store, err = redisstore.New(client, name)
		}
	case DriverMemory:
		store = snapshot.NewMemory()
	default:
		err = fmt.Errorf("unknown snapshot driver %q", f.cfg.SnapshotDriver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s snapshots: %w", name, err)
	}
	return store, nil
}

func (f *storageFactory) redisClient(ctx context.Context) (*redis.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.redis != nil {
		return f.redis, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:        f.cfg.RedisAddr,
		DialTimeout: timeouts.RedisDial,
	})
	pingCtx, cancel := context.WithTimeout(ctx, timeouts.RedisDial)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", f.cfg.RedisAddr, err)
	}
	f.redis = client
	return client, nil
}

// Close releases shared clients. Controllers close their own stores.
func (f *storageFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.redis == nil {
		return nil
	}
	err := f.redis.Close()
	f.redis = nil
	return err
}
