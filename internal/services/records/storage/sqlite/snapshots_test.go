package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/sportchef/internal/services/records/domain/snapshot"
)

func openTempSnapshots(t *testing.T, options SnapshotOptions) *SnapshotStore {
	t.Helper()
	store, err := OpenSnapshots(context.Background(), filepath.Join(t.TempDir(), "snapshots.db"), options)
	if err != nil {
		t.Fatalf("open snapshots: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSnapshotsLoadLatestEmpty(t *testing.T) {
	t.Parallel()

	store := openTempSnapshots(t, SnapshotOptions{})
	if _, err := store.LoadLatest(context.Background()); !errors.Is(err, snapshot.ErrNotFound) {
		t.Fatalf("load latest = %v, want ErrNotFound", err)
	}
}

func TestSnapshotsSaveLoadAndRetain(t *testing.T) {
	t.Parallel()

	store := openTempSnapshots(t, SnapshotOptions{Retain: 2})
	created := time.Date(2026, time.March, 3, 9, 30, 0, 0, time.UTC)
	for _, watermark := range []uint64{2, 5, 9} {
		err := store.Save(context.Background(), snapshot.Snapshot{
			Watermark: watermark,
			State:     []byte(`{"next_id":3}`),
			CreatedAt: created,
		})
		if err != nil {
			t.Fatalf("save %d: %v", watermark, err)
		}
	}

	latest, err := store.LoadLatest(context.Background())
	if err != nil {
		t.Fatalf("load latest: %v", err)
	}
	if latest.Watermark != 9 || string(latest.State) != `{"next_id":3}` || !latest.CreatedAt.Equal(created) {
		t.Fatalf("latest = %+v", latest)
	}

	var count int
	if err := store.sqlDB.QueryRow("SELECT COUNT(*) FROM snapshots").Scan(&count); err != nil {
		t.Fatalf("count snapshots: %v", err)
	}
	if count != 2 {
		t.Fatalf("snapshots kept = %d, want 2", count)
	}
}

func TestSnapshotsResaveSameWatermark(t *testing.T) {
	t.Parallel()

	store := openTempSnapshots(t, SnapshotOptions{})
	for _, state := range []string{`{"v":1}`, `{"v":2}`} {
		if err := store.Save(context.Background(), snapshot.Snapshot{Watermark: 4, State: []byte(state)}); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	latest, err := store.LoadLatest(context.Background())
	if err != nil {
		t.Fatalf("load latest: %v", err)
	}
	if string(latest.State) != `{"v":2}` {
		t.Fatalf("state = %s", latest.State)
	}
}

func TestSnapshotsChecksumMismatch(t *testing.T) {
	t.Parallel()

	store := openTempSnapshots(t, SnapshotOptions{})
	if err := store.Save(context.Background(), snapshot.Snapshot{Watermark: 1, State: []byte(`{"v":1}`)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.sqlDB.Exec("UPDATE snapshots SET state_json = ? WHERE watermark = 1", []byte(`{"v":9}`)); err != nil {
		t.Fatalf("tamper state: %v", err)
	}
	if _, err := store.LoadLatest(context.Background()); !errors.Is(err, snapshot.ErrCorrupt) {
		t.Fatalf("load latest = %v, want ErrCorrupt", err)
	}
}
