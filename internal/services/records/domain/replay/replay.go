// Package replay rebuilds manager state from a journal tail.
package replay

import (
	"context"
	"errors"
	"fmt"

	"github.com/louisbranch/sportchef/internal/services/records/domain/journal"
)

var (
	// ErrJournalRequired indicates a missing journal.
	ErrJournalRequired = errors.New("journal is required")
	// ErrApplierRequired indicates a missing applier.
	ErrApplierRequired = errors.New("applier is required")
	// ErrSequenceGap indicates a missing or out-of-order journal entry.
	ErrSequenceGap = errors.New("journal sequence gap")
)

// Applier applies one journal entry to the state under reconstruction.
type Applier func(entry journal.Entry) error

// Options configures replay behavior.
type Options struct {
	AfterSeq uint64
	// UntilSeq stops replay after this sequence when non-zero.
	UntilSeq uint64
}

// Result captures replay outcomes.
type Result struct {
	LastSeq uint64
	Applied int
}

// Replay applies entries after options.AfterSeq in order. Any read error, gap
// or apply failure aborts replay; callers must discard the partial state.
func Replay(ctx context.Context, j journal.Journal, apply Applier, options Options) (Result, error) {
	if j == nil {
		return Result{}, ErrJournalRequired
	}
	if apply == nil {
		return Result{}, ErrApplierRequired
	}

	result := Result{LastSeq: options.AfterSeq}
	for entry, err := range j.Replay(ctx, options.AfterSeq) {
		if err != nil {
			return result, fmt.Errorf("read journal after %d: %w", result.LastSeq, err)
		}
		if options.UntilSeq > 0 && entry.Seq > options.UntilSeq {
			break
		}
		expectedSeq := result.LastSeq + 1
		if entry.Seq != expectedSeq {
			return result, fmt.Errorf("%w: expected %d got %d", ErrSequenceGap, expectedSeq, entry.Seq)
		}
		if err := apply(entry); err != nil {
			return result, fmt.Errorf("apply journal entry %d (%s): %w", entry.Seq, entry.Command.Type, err)
		}
		result.LastSeq = entry.Seq
		result.Applied++
	}
	return result, nil
}
