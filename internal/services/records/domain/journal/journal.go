// Package journal defines the append-only command log that backs every record
// controller, plus an in-memory implementation.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/louisbranch/sportchef/internal/platform/encoding"
	"github.com/louisbranch/sportchef/internal/services/records/domain/command"
)

// ErrClosed is returned by operations on a closed journal.
var ErrClosed = errors.New("journal is closed")

// Entry is one accepted command at its journal position.
type Entry struct {
	Seq       uint64
	Command   command.Command
	Timestamp time.Time
}

// Journal is a durable, append-only sequence of commands.
//
// Append must not return until the entry is durable. Sequence numbers start at
// 1 and never skip, including across Truncate and process restarts.
type Journal interface {
	Append(ctx context.Context, cmd command.Command) (Entry, error)
	// Replay yields entries with Seq > afterSeq in order. Iteration stops at
	// the first error.
	Replay(ctx context.Context, afterSeq uint64) iter.Seq2[Entry, error]
	// Truncate discards entries with Seq <= throughSeq. LastSeq is unchanged.
	Truncate(ctx context.Context, throughSeq uint64) error
	LastSeq() uint64
	Close() error
}

// RepairReport describes what a repair pass changed.
type RepairReport struct {
	LastSeq        uint64
	DiscardedBytes int64
}

// Repairer is implemented by journals that can drop a torn tail left by an
// interrupted append.
type Repairer interface {
	Repair(ctx context.Context) (RepairReport, error)
}

// record is the persisted layout of an entry.
type record struct {
	Seq       uint64          `json:"seq"`
	Type      string          `json:"type"`
	EntityID  uint64          `json:"entity_id,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"ts"`
}

// EncodeEntry serializes an entry as a JSON record.
func EncodeEntry(entry Entry) ([]byte, error) {
	payload := entry.Command.PayloadJSON
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	data, err := encoding.Marshal(record{
		Seq:       entry.Seq,
		Type:      string(entry.Command.Type),
		EntityID:  entry.Command.EntityID,
		RequestID: entry.Command.RequestID,
		Payload:   json.RawMessage(payload),
		Timestamp: entry.Timestamp.UTC().UnixNano(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode journal entry %d: %w", entry.Seq, err)
	}
	return data, nil
}

// DecodeEntry parses a record produced by EncodeEntry.
func DecodeEntry(data []byte) (Entry, error) {
	var rec record
	if err := encoding.Unmarshal(data, &rec); err != nil {
		return Entry{}, fmt.Errorf("decode journal entry: %w", err)
	}
	if rec.Seq == 0 {
		return Entry{}, fmt.Errorf("decode journal entry: sequence is required")
	}
	if rec.Type == "" {
		return Entry{}, fmt.Errorf("decode journal entry %d: command type is required", rec.Seq)
	}
	return Entry{
		Seq: rec.Seq,
		Command: command.Command{
			Type:        command.Type(rec.Type),
			EntityID:    rec.EntityID,
			RequestID:   rec.RequestID,
			PayloadJSON: []byte(rec.Payload),
		},
		Timestamp: time.Unix(0, rec.Timestamp).UTC(),
	}, nil
}
