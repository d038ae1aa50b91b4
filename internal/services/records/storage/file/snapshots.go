package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/louisbranch/sportchef/internal/platform/encoding"
	"github.com/louisbranch/sportchef/internal/services/records/domain/snapshot"
)

const (
	snapshotPrefix = "snapshot-"
	snapshotSuffix = ".json"
	tmpPattern     = ".snapshot-*.tmp"
	defaultRetain  = 2
)

// SnapshotOptions configures a file snapshot store.
type SnapshotOptions struct {
	// Retain is how many snapshot files to keep. Older ones are removed after
	// each save.
	Retain int
}

type snapshotFile struct {
	Watermark uint64    `json:"watermark"`
	CreatedAt time.Time `json:"created_at"`
	Checksum  uint32    `json:"crc32c"`
	State     []byte    `json:"state"`
}

// SnapshotStore keeps snapshots as one file per watermark. Each file is
// written to a temporary name, fsynced and renamed into place.
type SnapshotStore struct {
	dir    string
	retain int
}

var _ snapshot.Store = (*SnapshotStore)(nil)

// OpenSnapshots opens or creates the snapshot directory and clears temporary
// files left by an interrupted save.
func OpenSnapshots(dir string, options SnapshotOptions) (*SnapshotStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("snapshot dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	stale, err := filepath.Glob(filepath.Join(dir, tmpPattern))
	if err != nil {
		return nil, fmt.Errorf("list temporary snapshots: %w", err)
	}
	for _, path := range stale {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove temporary snapshot: %w", err)
		}
	}
	retain := options.Retain
	if retain <= 0 {
		retain = defaultRetain
	}
	return &SnapshotStore{dir: dir, retain: retain}, nil
}

// Save writes snap atomically and prunes old files.
func (s *SnapshotStore) Save(ctx context.Context, snap snapshot.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encoding.Marshal(snapshotFile{
		Watermark: snap.Watermark,
		CreatedAt: snap.CreatedAt.UTC(),
		Checksum:  snapshot.Checksum(snap.State),
		State:     snap.State,
	})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, tmpPattern)
	if err != nil {
		return fmt.Errorf("create temporary snapshot: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close snapshot: %w", err)
	}
	final := filepath.Join(s.dir, snapshotName(snap.Watermark))
	if err := os.Rename(tmpPath, final); err != nil {
		cleanup()
		return fmt.Errorf("publish snapshot: %w", err)
	}
	if err := syncDir(s.dir); err != nil {
		return fmt.Errorf("sync snapshot dir: %w", err)
	}
	// The new snapshot is durable; retention is retried on the next save.
	_ = s.prune()
	return nil
}

// LoadLatest reads the snapshot with the highest watermark.
func (s *SnapshotStore) LoadLatest(ctx context.Context) (snapshot.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return snapshot.Snapshot{}, err
	}
	paths, err := s.list()
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	if len(paths) == 0 {
		return snapshot.Snapshot{}, snapshot.ErrNotFound
	}
	latest := paths[len(paths)-1]

	data, err := os.ReadFile(latest)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	var stored snapshotFile
	if err := encoding.Unmarshal(data, &stored); err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", filepath.Base(latest), err)
	}
	if err := snapshot.Verify(stored.State, stored.Checksum); err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("snapshot %s: %w", filepath.Base(latest), err)
	}
	return snapshot.Snapshot{
		Watermark: stored.Watermark,
		State:     stored.State,
		CreatedAt: stored.CreatedAt,
	}, nil
}

// Close is a no-op; files are closed after each operation.
func (s *SnapshotStore) Close() error {
	return nil
}

func (s *SnapshotStore) list() ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, snapshotPrefix+"*"+snapshotSuffix))
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	valid := paths[:0]
	for _, path := range paths {
		name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), snapshotPrefix), snapshotSuffix)
		if _, err := strconv.ParseUint(name, 10, 64); err == nil {
			valid = append(valid, path)
		}
	}
	slices.Sort(valid)
	return valid, nil
}

func (s *SnapshotStore) prune() error {
	paths, err := s.list()
	if err != nil {
		return err
	}
	if len(paths) <= s.retain {
		return nil
	}
	for _, path := range paths[:len(paths)-s.retain] {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("prune snapshot %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func snapshotName(watermark uint64) string {
	return fmt.Sprintf("%s%020d%s", snapshotPrefix, watermark, snapshotSuffix)
}
