package journal

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/louisbranch/sportchef/internal/services/records/domain/command"
)

// Memory is a Journal held in process memory. It is durable only for the
// lifetime of the value and serves tests and ephemeral deployments.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
	lastSeq uint64
	closed  bool
	now     func() time.Time
}

// NewMemory creates an empty in-memory journal.
func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

// Append stores the command at the next sequence.
func (m *Memory) Append(ctx context.Context, cmd command.Command) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Entry{}, ErrClosed
	}
	m.lastSeq++
	entry := Entry{Seq: m.lastSeq, Command: cmd, Timestamp: m.now().UTC()}
	m.entries = append(m.entries, entry)
	return entry, nil
}

// Replay yields a point-in-time view of the stored entries after afterSeq.
func (m *Memory) Replay(ctx context.Context, afterSeq uint64) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			yield(Entry{}, ErrClosed)
			return
		}
		view := make([]Entry, 0, len(m.entries))
		for _, entry := range m.entries {
			if entry.Seq > afterSeq {
				view = append(view, entry)
			}
		}
		m.mu.Unlock()

		for _, entry := range view {
			if err := ctx.Err(); err != nil {
				yield(Entry{}, err)
				return
			}
			if !yield(entry, nil) {
				return
			}
		}
	}
}

// Truncate drops entries at or below throughSeq.
func (m *Memory) Truncate(_ context.Context, throughSeq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	kept := m.entries[:0]
	for _, entry := range m.entries {
		if entry.Seq > throughSeq {
			kept = append(kept, entry)
		}
	}
	m.entries = kept
	return nil
}

// LastSeq returns the highest sequence ever appended.
func (m *Memory) LastSeq() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeq
}

// Len returns the number of retained entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close marks the journal closed. Entries are kept so a test can reopen the
// same journal with Reopen.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Reopen makes a closed journal usable again, standing in for a process
// restart against the same log.
func (m *Memory) Reopen() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = false
}
