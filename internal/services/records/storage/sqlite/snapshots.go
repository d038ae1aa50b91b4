package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/louisbranch/sportchef/internal/services/records/domain/snapshot"
	"github.com/louisbranch/sportchef/internal/services/records/storage/sqlite/migrations"
)

const defaultRetain = 2

// SnapshotOptions configures a SQLite snapshot store.
type SnapshotOptions struct {
	// Retain is how many snapshots to keep after each save.
	Retain int
}

// SnapshotStore keeps snapshots as rows keyed by watermark.
type SnapshotStore struct {
	sqlDB  *sql.DB
	retain int
}

var _ snapshot.Store = (*SnapshotStore)(nil)

// OpenSnapshots opens the snapshot database at path and applies migrations.
func OpenSnapshots(ctx context.Context, path string, options SnapshotOptions) (*SnapshotStore, error) {
	sqlDB, err := openDB(ctx, path, migrations.SnapshotsFS, "snapshots")
	if err != nil {
		return nil, err
	}
	retain := options.Retain
	if retain <= 0 {
		retain = defaultRetain
	}
	return &SnapshotStore{sqlDB: sqlDB, retain: retain}, nil
}

// Save inserts snap and prunes older rows in the same transaction.
func (s *SnapshotStore) Save(ctx context.Context, snap snapshot.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (watermark, state_json, checksum, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(watermark) DO UPDATE SET
		   state_json = excluded.state_json,
		   checksum = excluded.checksum,
		   created_at = excluded.created_at`,
		int64(snap.Watermark),
		snap.State,
		int64(snapshot.Checksum(snap.State)),
		toNanos(snap.CreatedAt),
	); err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM snapshots WHERE watermark NOT IN (
		   SELECT watermark FROM snapshots ORDER BY watermark DESC LIMIT ?
		 )`,
		s.retain,
	); err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LoadLatest returns the snapshot with the highest watermark.
func (s *SnapshotStore) LoadLatest(ctx context.Context) (snapshot.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return snapshot.Snapshot{}, err
	}
	var (
		watermark int64
		state     []byte
		checksum  int64
		createdAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT watermark, state_json, checksum, created_at
		 FROM snapshots
		 ORDER BY watermark DESC
		 LIMIT 1`,
	).Scan(&watermark, &state, &checksum, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return snapshot.Snapshot{}, snapshot.ErrNotFound
		}
		return snapshot.Snapshot{}, fmt.Errorf("get latest snapshot: %w", err)
	}
	if err := snapshot.Verify(state, uint32(checksum)); err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("snapshot %d: %w", watermark, err)
	}
	return snapshot.Snapshot{
		Watermark: uint64(watermark),
		State:     state,
		CreatedAt: fromNanos(createdAt),
	}, nil
}

// Close closes the database handle.
func (s *SnapshotStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}
