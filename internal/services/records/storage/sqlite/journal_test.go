package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	sqlitemigrate "github.com/louisbranch/sportchef/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/sportchef/internal/services/records/domain/command"
	"github.com/louisbranch/sportchef/internal/services/records/domain/journal"
)

func openTempJournal(t *testing.T, path string, options JournalOptions) *Journal {
	t.Helper()
	j, err := OpenJournal(context.Background(), path, options)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	return j
}

func appendCommand(t *testing.T, j *Journal, typ command.Type, entityID uint64) journal.Entry {
	t.Helper()
	entry, err := j.Append(context.Background(), command.Command{
		Type:        typ,
		EntityID:    entityID,
		RequestID:   "req-1",
		PayloadJSON: []byte(`{"title":"Final"}`),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return entry
}

func collect(t *testing.T, j *Journal, afterSeq uint64) []journal.Entry {
	t.Helper()
	var entries []journal.Entry
	for entry, err := range j.Replay(context.Background(), afterSeq) {
		if err != nil {
			t.Fatalf("replay: %v", err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestOpenJournalRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := OpenJournal(context.Background(), "", JournalOptions{}); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestOpenJournalRecordsMigration(t *testing.T) {
	t.Parallel()

	j := openTempJournal(t, filepath.Join(t.TempDir(), "journal.db"), JournalOptions{})
	defer j.Close()

	names, err := sqlitemigrate.AppliedMigrations(context.Background(), j.sqlDB)
	if err != nil {
		t.Fatalf("applied migrations: %v", err)
	}
	if len(names) != 1 || names[0] != "journal/001_journal.sql" {
		t.Fatalf("migrations = %v", names)
	}
}

func TestJournalAppendAndReplayAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "journal.db")
	recorded := time.Date(2026, time.March, 3, 9, 30, 0, 123456789, time.UTC)
	j := openTempJournal(t, path, JournalOptions{Now: func() time.Time { return recorded }})
	for i := 1; i <= 3; i++ {
		entry := appendCommand(t, j, "event.create", 0)
		if entry.Seq != uint64(i) {
			t.Fatalf("seq = %d, want %d", entry.Seq, i)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := openTempJournal(t, path, JournalOptions{})
	defer reopened.Close()
	if got := reopened.LastSeq(); got != 3 {
		t.Fatalf("last seq = %d, want 3", got)
	}

	entries := collect(t, reopened, 1)
	if len(entries) != 2 || entries[0].Seq != 2 || entries[1].Seq != 3 {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	got := entries[0]
	if got.Command.Type != "event.create" || got.Command.RequestID != "req-1" {
		t.Fatalf("command = %+v", got.Command)
	}
	if string(got.Command.PayloadJSON) != `{"title":"Final"}` {
		t.Fatalf("payload = %s", got.Command.PayloadJSON)
	}
	if !got.Timestamp.Equal(recorded) {
		t.Fatalf("timestamp = %v, want %v", got.Timestamp, recorded)
	}
}

func TestJournalReplayPages(t *testing.T) {
	t.Parallel()

	j := openTempJournal(t, filepath.Join(t.TempDir(), "journal.db"), JournalOptions{PageSize: 2})
	defer j.Close()
	for i := 0; i < 5; i++ {
		appendCommand(t, j, "event.create", 0)
	}

	entries := collect(t, j, 0)
	if len(entries) != 5 {
		t.Fatalf("entries = %d, want 5", len(entries))
	}
	for i, entry := range entries {
		if entry.Seq != uint64(i+1) {
			t.Fatalf("entry %d seq = %d", i, entry.Seq)
		}
	}

	var seen int
	for range j.Replay(context.Background(), 0) {
		seen++
		if seen == 3 {
			break
		}
	}
	if seen != 3 {
		t.Fatalf("early stop saw %d entries", seen)
	}
}

func TestJournalTruncateKeepsPosition(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "journal.db")
	j := openTempJournal(t, path, JournalOptions{})
	for i := 0; i < 3; i++ {
		appendCommand(t, j, "event.create", 0)
	}
	if err := j.Truncate(context.Background(), 3); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if entries := collect(t, j, 0); len(entries) != 0 {
		t.Fatalf("expected empty journal, got %d entries", len(entries))
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := openTempJournal(t, path, JournalOptions{})
	defer reopened.Close()
	if got := reopened.LastSeq(); got != 3 {
		t.Fatalf("last seq = %d, want 3", got)
	}
	if entry := appendCommand(t, reopened, "event.delete", 2); entry.Seq != 4 {
		t.Fatalf("seq = %d, want 4", entry.Seq)
	}
}

func TestJournalDetectsPositionMismatch(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "journal.db")
	j := openTempJournal(t, path, JournalOptions{})
	appendCommand(t, j, "event.create", 0)
	if _, err := j.sqlDB.Exec("UPDATE journal_position SET last_seq = 7 WHERE id = 1"); err != nil {
		t.Fatalf("tamper position: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := OpenJournal(context.Background(), path, JournalOptions{}); err == nil {
		t.Fatal("expected position mismatch error")
	}
}

func TestJournalClosed(t *testing.T) {
	t.Parallel()

	j := openTempJournal(t, filepath.Join(t.TempDir(), "journal.db"), JournalOptions{})
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := j.Append(context.Background(), command.Command{Type: "event.create"}); !errors.Is(err, journal.ErrClosed) {
		t.Fatalf("append after close = %v", err)
	}
	for _, err := range j.Replay(context.Background(), 0) {
		if !errors.Is(err, journal.ErrClosed) {
			t.Fatalf("replay after close = %v", err)
		}
	}
}
