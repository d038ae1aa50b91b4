package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/louisbranch/sportchef/internal/services/records/domain/command"
	"github.com/louisbranch/sportchef/internal/services/records/domain/journal"
	"github.com/louisbranch/sportchef/internal/services/records/storage/sqlite/migrations"
)

const defaultReplayPage = 256

// JournalOptions configures a SQLite journal.
type JournalOptions struct {
	// PageSize bounds how many rows Replay reads per query.
	PageSize int
	Now      func() time.Time
}

// Journal persists command entries in a SQLite table. Each append commits
// the entry and the sequence position in one transaction.
type Journal struct {
	sqlDB    *sql.DB
	pageSize int
	now      func() time.Time

	mu      sync.Mutex
	lastSeq uint64
	closed  bool
}

var _ journal.Journal = (*Journal)(nil)

// OpenJournal opens the journal database at path and applies migrations.
func OpenJournal(ctx context.Context, path string, options JournalOptions) (*Journal, error) {
	sqlDB, err := openDB(ctx, path, migrations.JournalFS, "journal")
	if err != nil {
		return nil, err
	}
	var lastSeq int64
	if err := sqlDB.QueryRowContext(ctx, "SELECT last_seq FROM journal_position WHERE id = 1").Scan(&lastSeq); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("load journal position: %w", err)
	}
	var maxSeq sql.NullInt64
	if err := sqlDB.QueryRowContext(ctx, "SELECT MAX(seq) FROM journal_entries").Scan(&maxSeq); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("load journal tail: %w", err)
	}
	if maxSeq.Valid && maxSeq.Int64 != lastSeq {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("journal position %d does not match newest entry %d", lastSeq, maxSeq.Int64)
	}

	pageSize := options.PageSize
	if pageSize <= 0 {
		pageSize = defaultReplayPage
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}
	return &Journal{sqlDB: sqlDB, pageSize: pageSize, now: now, lastSeq: uint64(lastSeq)}, nil
}

// Append stores cmd under the next sequence.
func (j *Journal) Append(ctx context.Context, cmd command.Command) (journal.Entry, error) {
	if err := ctx.Err(); err != nil {
		return journal.Entry{}, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return journal.Entry{}, journal.ErrClosed
	}

	entry := journal.Entry{Seq: j.lastSeq + 1, Command: cmd, Timestamp: j.now().UTC()}
	payload := cmd.PayloadJSON
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	tx, err := j.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return journal.Entry{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO journal_entries (seq, command_type, entity_id, request_id, payload_json, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		int64(entry.Seq),
		string(cmd.Type),
		int64(cmd.EntityID),
		cmd.RequestID,
		payload,
		toNanos(entry.Timestamp),
	); err != nil {
		if isConstraintError(err) {
			return journal.Entry{}, fmt.Errorf("journal sequence %d already written: %w", entry.Seq, err)
		}
		return journal.Entry{}, fmt.Errorf("append journal entry %d: %w", entry.Seq, err)
	}
	result, err := tx.ExecContext(ctx,
		"UPDATE journal_position SET last_seq = ? WHERE id = 1 AND last_seq = ?",
		int64(entry.Seq), int64(j.lastSeq),
	)
	if err != nil {
		return journal.Entry{}, fmt.Errorf("advance journal position: %w", err)
	}
	if rows, err := result.RowsAffected(); err != nil || rows != 1 {
		return journal.Entry{}, fmt.Errorf("journal position moved under writer at %d", j.lastSeq)
	}
	if err := tx.Commit(); err != nil {
		return journal.Entry{}, fmt.Errorf("commit: %w", err)
	}

	j.lastSeq = entry.Seq
	return entry, nil
}

// Replay pages through entries after afterSeq in sequence order.
func (j *Journal) Replay(ctx context.Context, afterSeq uint64) iter.Seq2[journal.Entry, error] {
	return func(yield func(journal.Entry, error) bool) {
		j.mu.Lock()
		closed := j.closed
		j.mu.Unlock()
		if closed {
			yield(journal.Entry{}, journal.ErrClosed)
			return
		}

		cursor := afterSeq
		for {
			page, err := j.listEntries(ctx, cursor)
			if err != nil {
				yield(journal.Entry{}, err)
				return
			}
			for _, entry := range page {
				if !yield(entry, nil) {
					return
				}
				cursor = entry.Seq
			}
			if len(page) < j.pageSize {
				return
			}
		}
	}
}

func (j *Journal) listEntries(ctx context.Context, afterSeq uint64) ([]journal.Entry, error) {
	rows, err := j.sqlDB.QueryContext(ctx,
		`SELECT seq, command_type, entity_id, request_id, payload_json, recorded_at
		 FROM journal_entries
		 WHERE seq > ?
		 ORDER BY seq
		 LIMIT ?`,
		int64(afterSeq), j.pageSize,
	)
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	defer rows.Close()

	entries := make([]journal.Entry, 0, j.pageSize)
	for rows.Next() {
		var (
			seq        int64
			typ        string
			entityID   int64
			requestID  string
			payload    []byte
			recordedAt int64
		)
		if err := rows.Scan(&seq, &typ, &entityID, &requestID, &payload, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		entries = append(entries, journal.Entry{
			Seq: uint64(seq),
			Command: command.Command{
				Type:        command.Type(typ),
				EntityID:    uint64(entityID),
				RequestID:   requestID,
				PayloadJSON: payload,
			},
			Timestamp: fromNanos(recordedAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read journal entries: %w", err)
	}
	return entries, nil
}

// Truncate deletes entries at or below throughSeq. The sequence position is
// kept, so appends continue after the last issued sequence.
func (j *Journal) Truncate(ctx context.Context, throughSeq uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return journal.ErrClosed
	}
	if _, err := j.sqlDB.ExecContext(ctx, "DELETE FROM journal_entries WHERE seq <= ?", int64(throughSeq)); err != nil {
		return fmt.Errorf("truncate journal: %w", err)
	}
	return nil
}

// LastSeq returns the sequence of the newest committed entry.
func (j *Journal) LastSeq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastSeq
}

// Close closes the database handle.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.sqlDB.Close()
}
