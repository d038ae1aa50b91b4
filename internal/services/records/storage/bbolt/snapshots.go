// Package bbolt provides a BoltDB-backed snapshot store.
package bbolt

import (
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/louisbranch/sportchef/internal/platform/encoding"
	"github.com/louisbranch/sportchef/internal/services/records/domain/snapshot"
)

const (
	snapshotBucket = "snapshots"
	defaultRetain  = 2
)

// Options configures a BoltDB snapshot store.
type Options struct {
	// Retain is how many snapshots to keep after each save.
	Retain int
}

type storedSnapshot struct {
	CreatedAt time.Time `json:"created_at"`
	Checksum  uint32    `json:"crc32c"`
	State     []byte    `json:"state"`
}

// SnapshotStore keeps snapshots in one bucket keyed by big-endian watermark,
// so cursor order is watermark order.
type SnapshotStore struct {
	db     *bbolt.DB
	retain int
}

var _ snapshot.Store = (*SnapshotStore)(nil)

// Open opens a BoltDB-backed snapshot store at the provided path.
func Open(path string, options Options) (*SnapshotStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(snapshotBucket)); err != nil {
			return fmt.Errorf("create snapshot bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	retain := options.Retain
	if retain <= 0 {
		retain = defaultRetain
	}
	return &SnapshotStore{db: db, retain: retain}, nil
}

// Save writes snap and drops the oldest entries beyond the retention count.
// Both happen in one bolt transaction.
func (s *SnapshotStore) Save(ctx context.Context, snap snapshot.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}

	payload, err := encoding.Marshal(storedSnapshot{
		CreatedAt: snap.CreatedAt.UTC(),
		Checksum:  snapshot.Checksum(snap.State),
		State:     snap.State,
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(snapshotBucket))
		if bucket == nil {
			return fmt.Errorf("snapshot bucket is missing")
		}
		if err := bucket.Put(watermarkKey(snap.Watermark), payload); err != nil {
			return fmt.Errorf("put snapshot: %w", err)
		}

		cursor := bucket.Cursor()
		count := 0
		for key, _ := cursor.First(); key != nil; key, _ = cursor.Next() {
			count++
		}
		excess := count - s.retain
		for key, _ := cursor.First(); key != nil && excess > 0; key, _ = cursor.First() {
			if err := cursor.Delete(); err != nil {
				return fmt.Errorf("prune snapshot: %w", err)
			}
			excess--
		}
		return nil
	})
}

// LoadLatest returns the snapshot with the highest watermark.
func (s *SnapshotStore) LoadLatest(ctx context.Context) (snapshot.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return snapshot.Snapshot{}, err
	}
	if s == nil || s.db == nil {
		return snapshot.Snapshot{}, fmt.Errorf("storage is not configured")
	}

	var result snapshot.Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(snapshotBucket))
		if bucket == nil {
			return fmt.Errorf("snapshot bucket is missing")
		}
		key, payload := bucket.Cursor().Last()
		if key == nil {
			return snapshot.ErrNotFound
		}
		if len(key) != 8 {
			return fmt.Errorf("snapshot key of %d bytes", len(key))
		}
		watermark := binary.BigEndian.Uint64(key)

		var stored storedSnapshot
		if err := encoding.Unmarshal(payload, &stored); err != nil {
			return fmt.Errorf("unmarshal snapshot %d: %w", watermark, err)
		}
		if err := snapshot.Verify(stored.State, stored.Checksum); err != nil {
			return fmt.Errorf("snapshot %d: %w", watermark, err)
		}
		result = snapshot.Snapshot{
			Watermark: watermark,
			// Bolt memory is only valid inside the transaction.
			State:     append([]byte(nil), stored.State...),
			CreatedAt: stored.CreatedAt,
		}
		return nil
	})
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	return result, nil
}

// Close closes the underlying BoltDB database.
func (s *SnapshotStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func watermarkKey(watermark uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, watermark)
	return key
}
