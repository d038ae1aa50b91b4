package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/louisbranch/sportchef/internal/services/records/storage/sqlite/migrations"
)

func TestOpenDBAppliesPragmas(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sqlDB, err := openDB(ctx, filepath.Join(t.TempDir(), "journal.db"), migrations.JournalFS, "journal")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	var mode string
	if err := sqlDB.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("read journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}

	checks := map[string]int{
		"synchronous":  2, // FULL
		"busy_timeout": 5000,
		"foreign_keys": 1,
	}
	for pragma, want := range checks {
		var got int
		if err := sqlDB.QueryRowContext(ctx, "PRAGMA "+pragma).Scan(&got); err != nil {
			t.Fatalf("read %s: %v", pragma, err)
		}
		if got != want {
			t.Fatalf("%s = %d, want %d", pragma, got, want)
		}
	}
}
