// Package snapshot defines checkpoint storage for record controllers.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"sync"
	"time"
)

// ErrNotFound is returned by LoadLatest when no snapshot has been saved.
var ErrNotFound = errors.New("snapshot not found")

// ErrCorrupt is returned when stored snapshot bytes fail their checksum.
var ErrCorrupt = errors.New("snapshot checksum mismatch")

// Snapshot is the full serialized manager state after applying every journal
// entry up to and including Watermark.
type Snapshot struct {
	Watermark uint64
	State     []byte
	CreatedAt time.Time
}

// Store persists snapshots. Save must be atomic: a reader never observes a
// partially written snapshot.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	LoadLatest(ctx context.Context) (Snapshot, error)
	Close() error
}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Checksum returns the CRC32C of the snapshot state.
func Checksum(state []byte) uint32 {
	return crc32.Checksum(state, castagnoli)
}

// Verify compares state against a stored checksum.
func Verify(state []byte, sum uint32) error {
	if got := Checksum(state); got != sum {
		return fmt.Errorf("%w: want %08x got %08x", ErrCorrupt, sum, got)
	}
	return nil
}

// Memory keeps the latest snapshot in process memory.
type Memory struct {
	mu     sync.Mutex
	latest *Snapshot
	saves  int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Save replaces the stored snapshot.
func (m *Memory) Save(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest != nil && snap.Watermark < m.latest.Watermark {
		return fmt.Errorf("snapshot watermark %d is behind %d", snap.Watermark, m.latest.Watermark)
	}
	copied := snap
	copied.State = append([]byte(nil), snap.State...)
	m.latest = &copied
	m.saves++
	return nil
}

// LoadLatest returns the most recent snapshot.
func (m *Memory) LoadLatest(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest == nil {
		return Snapshot{}, ErrNotFound
	}
	out := *m.latest
	out.State = append([]byte(nil), m.latest.State...)
	return out, nil
}

// Saves returns how many snapshots were written.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
