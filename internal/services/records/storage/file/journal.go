// Package file stores record journals and snapshots as plain files in a
// directory.
//
// The journal is a sequence of segment files named after the first sequence
// they hold. Each record is framed by a 16-byte little-endian header
// (payload length, CRC32C of the payload, sequence) followed by the JSON
// entry. Every append is fsynced before it returns.
package file

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/sportchef/internal/services/records/domain/command"
	"github.com/louisbranch/sportchef/internal/services/records/domain/journal"
)

const (
	headerSize          = 16
	segmentPrefix       = "journal-"
	segmentSuffix       = ".wal"
	defaultSegmentBytes = 64 << 20
	maxRecordBytes      = 16 << 20
)

var (
	// ErrCorrupt indicates a damaged journal segment. A damaged tail on the
	// newest segment can be dropped with Repair.
	ErrCorrupt = errors.New("journal segment corrupt")

	crcTable    = crc32.MakeTable(crc32.Castagnoli)
	errStopScan = errors.New("stop scan")
)

// JournalOptions configures a file journal.
type JournalOptions struct {
	// SegmentBytes rolls to a new segment once the active one reaches this
	// size.
	SegmentBytes int64
	// Repair truncates a torn tail on open instead of failing.
	Repair bool
	Now    func() time.Time
}

type segment struct {
	base uint64
	last uint64 // base-1 while empty
	path string
	size int64
}

func (s segment) empty() bool {
	return s.last < s.base
}

// Journal is a segmented append-only file journal.
type Journal struct {
	dir          string
	segmentBytes int64
	now          func() time.Time

	mu       sync.Mutex
	segments []segment
	active   *os.File
	lastSeq  uint64
	broken   error
	closed   bool
	repaired RepairStats
}

// RepairStats records what opening in repair mode discarded.
type RepairStats struct {
	Segment        string
	DiscardedBytes int64
}

var _ journal.Journal = (*Journal)(nil)
var _ journal.Repairer = (*Journal)(nil)

// OpenJournal opens or creates the journal in dir. A damaged frame fails the
// open with ErrCorrupt unless options.Repair is set and the damage is at the
// tail of the newest segment.
func OpenJournal(dir string, options JournalOptions) (*Journal, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("journal dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	segmentBytes := options.SegmentBytes
	if segmentBytes <= 0 {
		segmentBytes = defaultSegmentBytes
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}

	j := &Journal{dir: dir, segmentBytes: segmentBytes, now: now}
	if err := j.load(options.Repair); err != nil {
		return nil, err
	}
	return j, nil
}

// Repaired reports what the last repair pass discarded.
func (j *Journal) Repaired() RepairStats {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.repaired
}

func (j *Journal) load(repair bool) error {
	paths, err := filepath.Glob(filepath.Join(j.dir, segmentPrefix+"*"+segmentSuffix))
	if err != nil {
		return fmt.Errorf("list journal segments: %w", err)
	}
	slices.Sort(paths)

	segments := make([]segment, 0, len(paths))
	for i, path := range paths {
		base, err := parseSegmentBase(path)
		if err != nil {
			return err
		}
		if n := len(segments); n > 0 && base != segments[n-1].last+1 {
			return fmt.Errorf("%w: %s starts at %d, expected %d", ErrCorrupt, filepath.Base(path), base, segments[n-1].last+1)
		}

		result, err := scanSegment(path, base, -1, nil)
		if err != nil {
			return err
		}
		if result.tornAt >= 0 {
			newest := i == len(paths)-1
			if !repair || !newest {
				return fmt.Errorf("%w: %s damaged at byte %d (%s)", ErrCorrupt, filepath.Base(path), result.tornAt, result.reason)
			}
			if err := os.Truncate(path, result.tornAt); err != nil {
				return fmt.Errorf("truncate torn tail: %w", err)
			}
			j.repaired = RepairStats{Segment: filepath.Base(path), DiscardedBytes: result.fileSize - result.tornAt}
		}
		segments = append(segments, segment{base: base, last: result.last, path: path, size: result.size})
	}

	if len(segments) == 0 {
		seg, file, err := createSegment(j.dir, 1)
		if err != nil {
			return err
		}
		j.segments = []segment{seg}
		j.active = file
		j.lastSeq = 0
		return nil
	}

	tail := segments[len(segments)-1]
	file, err := os.OpenFile(tail.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open active segment: %w", err)
	}
	j.segments = segments
	j.active = file
	j.lastSeq = tail.last
	return nil
}

// Append frames the entry, writes it to the active segment and fsyncs it.
// After a failed write the journal refuses appends until Repair.
func (j *Journal) Append(ctx context.Context, cmd command.Command) (journal.Entry, error) {
	if err := ctx.Err(); err != nil {
		return journal.Entry{}, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return journal.Entry{}, journal.ErrClosed
	}
	if j.broken != nil {
		return journal.Entry{}, fmt.Errorf("journal needs repair: %w", j.broken)
	}

	current := &j.segments[len(j.segments)-1]
	if current.size >= j.segmentBytes && !current.empty() {
		if err := j.rotateLocked(); err != nil {
			return journal.Entry{}, err
		}
		current = &j.segments[len(j.segments)-1]
	}

	entry := journal.Entry{Seq: j.lastSeq + 1, Command: cmd, Timestamp: j.now().UTC()}
	payload, err := journal.EncodeEntry(entry)
	if err != nil {
		return journal.Entry{}, err
	}
	if len(payload) > maxRecordBytes {
		return journal.Entry{}, fmt.Errorf("journal entry of %d bytes exceeds %d", len(payload), maxRecordBytes)
	}
	frame := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(frame[4:8], crc32.Checksum(payload, crcTable))
	binary.LittleEndian.PutUint64(frame[8:16], entry.Seq)
	copy(frame[headerSize:], payload)

	if _, err := j.active.Write(frame); err != nil {
		j.broken = err
		return journal.Entry{}, fmt.Errorf("write journal entry %d: %w", entry.Seq, err)
	}
	if err := j.active.Sync(); err != nil {
		j.broken = err
		return journal.Entry{}, fmt.Errorf("sync journal entry %d: %w", entry.Seq, err)
	}

	current.size += int64(len(frame))
	current.last = entry.Seq
	j.lastSeq = entry.Seq
	return entry, nil
}

// Replay reads entries after afterSeq from disk. It sees the segments and
// sizes present when iteration starts.
func (j *Journal) Replay(ctx context.Context, afterSeq uint64) iter.Seq2[journal.Entry, error] {
	return func(yield func(journal.Entry, error) bool) {
		j.mu.Lock()
		if j.closed {
			j.mu.Unlock()
			yield(journal.Entry{}, journal.ErrClosed)
			return
		}
		segments := slices.Clone(j.segments)
		j.mu.Unlock()

		for _, seg := range segments {
			if seg.empty() || seg.last <= afterSeq {
				continue
			}
			stopped := false
			result, err := scanSegment(seg.path, seg.base, seg.size, func(entry journal.Entry) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				if entry.Seq <= afterSeq {
					return nil
				}
				if !yield(entry, nil) {
					stopped = true
					return errStopScan
				}
				return nil
			})
			if stopped {
				return
			}
			if err != nil {
				yield(journal.Entry{}, err)
				return
			}
			if result.tornAt >= 0 {
				yield(journal.Entry{}, fmt.Errorf("%w: %s damaged at byte %d (%s)", ErrCorrupt, filepath.Base(seg.path), result.tornAt, result.reason))
				return
			}
		}
	}
}

// Truncate removes whole segments whose entries are all at or below
// throughSeq. When the active segment is fully covered the journal first
// rolls to a fresh segment so the sequence position survives a restart.
func (j *Journal) Truncate(_ context.Context, throughSeq uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return journal.ErrClosed
	}
	if j.broken != nil {
		return fmt.Errorf("journal needs repair: %w", j.broken)
	}

	active := j.segments[len(j.segments)-1]
	if !active.empty() && active.last <= throughSeq {
		if err := j.rotateLocked(); err != nil {
			return err
		}
	}

	kept := make([]segment, 0, len(j.segments))
	removed := 0
	for i, seg := range j.segments {
		isActive := i == len(j.segments)-1
		if !isActive && seg.last <= throughSeq {
			if err := os.Remove(seg.path); err != nil && !errors.Is(err, os.ErrNotExist) {
				// Keep the remainder in order; a gap in the middle would break replay.
				kept = append(kept, j.segments[i:]...)
				j.segments = kept
				return fmt.Errorf("remove segment %s: %w", filepath.Base(seg.path), err)
			}
			removed++
			continue
		}
		kept = append(kept, seg)
	}
	j.segments = kept
	if removed > 0 {
		if err := syncDir(j.dir); err != nil {
			return fmt.Errorf("sync journal dir: %w", err)
		}
	}
	return nil
}

// LastSeq returns the sequence of the newest durable entry.
func (j *Journal) LastSeq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastSeq
}

// Segments returns the number of segment files on disk.
func (j *Journal) Segments() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.segments)
}

// Repair drops a torn tail left by a failed append and reopens the active
// segment. Damage anywhere but the newest segment's tail is still an error.
func (j *Journal) Repair(_ context.Context) (journal.RepairReport, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return journal.RepairReport{}, journal.ErrClosed
	}
	if j.active != nil {
		_ = j.active.Close()
		j.active = nil
	}
	j.repaired = RepairStats{}
	if err := j.load(true); err != nil {
		j.broken = err
		return journal.RepairReport{}, err
	}
	j.broken = nil
	return journal.RepairReport{LastSeq: j.lastSeq, DiscardedBytes: j.repaired.DiscardedBytes}, nil
}

// Close syncs and closes the active segment.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	if j.active == nil {
		return nil
	}
	syncErr := j.active.Sync()
	closeErr := j.active.Close()
	j.active = nil
	return errors.Join(syncErr, closeErr)
}

func (j *Journal) rotateLocked() error {
	if err := j.active.Sync(); err != nil {
		j.broken = err
		return fmt.Errorf("sync segment: %w", err)
	}
	if err := j.active.Close(); err != nil {
		return fmt.Errorf("close segment: %w", err)
	}
	seg, file, err := createSegment(j.dir, j.lastSeq+1)
	if err != nil {
		j.broken = err
		return err
	}
	j.segments = append(j.segments, seg)
	j.active = file
	return nil
}

func createSegment(dir string, base uint64) (segment, *os.File, error) {
	path := filepath.Join(dir, segmentName(base))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return segment{}, nil, fmt.Errorf("create segment %s: %w", filepath.Base(path), err)
	}
	if err := syncDir(dir); err != nil {
		_ = file.Close()
		return segment{}, nil, fmt.Errorf("sync journal dir: %w", err)
	}
	return segment{base: base, last: base - 1, path: path}, file, nil
}

func segmentName(base uint64) string {
	return fmt.Sprintf("%s%020d%s", segmentPrefix, base, segmentSuffix)
}

func parseSegmentBase(path string) (uint64, error) {
	name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), segmentPrefix), segmentSuffix)
	base, err := strconv.ParseUint(name, 10, 64)
	if err != nil || base == 0 {
		return 0, fmt.Errorf("%w: bad segment name %s", ErrCorrupt, filepath.Base(path))
	}
	return base, nil
}

type scanResult struct {
	last     uint64
	size     int64
	fileSize int64
	// tornAt is the offset of the first damaged frame, or -1.
	tornAt int64
	reason string
}

// scanSegment walks the frames of one segment. limit bounds how many bytes
// are read; a negative limit reads the whole file. Damaged frames stop the
// scan and are reported through tornAt; decode failures and sequence
// mismatches inside a valid frame are returned as errors.
func scanSegment(path string, base uint64, limit int64, visit func(journal.Entry) error) (scanResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return scanResult{}, fmt.Errorf("open segment: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return scanResult{}, fmt.Errorf("stat segment: %w", err)
	}
	var source io.Reader = file
	if limit >= 0 {
		source = io.LimitReader(file, limit)
	}
	reader := bufio.NewReaderSize(source, 64*1024)

	result := scanResult{last: base - 1, fileSize: info.Size(), tornAt: -1}
	header := make([]byte, headerSize)
	name := filepath.Base(path)
	for {
		start := result.size
		if _, err := io.ReadFull(reader, header); err != nil {
			if errors.Is(err, io.EOF) {
				return result, nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				result.tornAt, result.reason = start, "partial header"
				return result, nil
			}
			return result, fmt.Errorf("read %s: %w", name, err)
		}
		length := binary.LittleEndian.Uint32(header[0:4])
		sum := binary.LittleEndian.Uint32(header[4:8])
		seq := binary.LittleEndian.Uint64(header[8:16])
		if length == 0 || length > maxRecordBytes {
			result.tornAt, result.reason = start, "bad frame length"
			return result, nil
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(reader, payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				result.tornAt, result.reason = start, "partial payload"
				return result, nil
			}
			return result, fmt.Errorf("read %s: %w", name, err)
		}
		if crc32.Checksum(payload, crcTable) != sum {
			result.tornAt, result.reason = start, "checksum mismatch"
			return result, nil
		}

		if expected := result.last + 1; seq != expected {
			return result, fmt.Errorf("%w: %s holds sequence %d, expected %d", ErrCorrupt, name, seq, expected)
		}
		entry, err := journal.DecodeEntry(payload)
		if err != nil {
			return result, fmt.Errorf("%w: %s sequence %d: %v", ErrCorrupt, name, seq, err)
		}
		if entry.Seq != seq {
			return result, fmt.Errorf("%w: %s frame %d carries entry %d", ErrCorrupt, name, seq, entry.Seq)
		}
		if visit != nil {
			if err := visit(entry); err != nil {
				return result, err
			}
		}
		result.last = seq
		result.size = start + headerSize + int64(length)
	}
}

func syncDir(path string) error {
	dir, err := os.Open(path)
	if err != nil {
		return err
	}
	defer dir.Close()
	return dir.Sync()
}
