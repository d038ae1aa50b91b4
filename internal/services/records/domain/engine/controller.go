// Package engine runs a record manager behind a durable single-writer lane.
//
// A Controller owns the manager's in-memory state together with its journal
// and snapshot store. Writes are validated, decided, journaled and then
// applied one at a time in submission order. Reads run concurrently against
// the last applied state and are excluded only while a mutation is applied.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/sportchef/internal/platform/errors"
	"github.com/louisbranch/sportchef/internal/services/records/domain/command"
	"github.com/louisbranch/sportchef/internal/services/records/domain/journal"
	"github.com/louisbranch/sportchef/internal/services/records/domain/replay"
	"github.com/louisbranch/sportchef/internal/services/records/domain/snapshot"
)

const defaultQueueDepth = 64

var (
	// ErrNameRequired indicates a controller without a manager name.
	ErrNameRequired = errors.New("manager name is required")
	// ErrManagerRequired indicates a missing manager.
	ErrManagerRequired = errors.New("manager is required")
	// ErrRegistryRequired indicates a missing command registry.
	ErrRegistryRequired = errors.New("command registry is required")
	// ErrJournalRequired indicates a missing journal.
	ErrJournalRequired = errors.New("journal is required")
	// ErrSnapshotStoreRequired indicates a missing snapshot store.
	ErrSnapshotStoreRequired = errors.New("snapshot store is required")
)

// Config wires a controller to its manager and storage.
type Config[S any] struct {
	Name      string
	Manager   Manager[S]
	Commands  *command.Registry
	Journal   journal.Journal
	Snapshots snapshot.Store
	Logger    zerolog.Logger

	// SnapshotEvery takes a snapshot after this many applied commands. Zero
	// disables count-based snapshots.
	SnapshotEvery int
	// SnapshotInterval takes a snapshot on this period when commands were
	// applied since the last one. Zero disables it.
	SnapshotInterval time.Duration
	// TruncateJournal discards journal entries covered by a new snapshot.
	TruncateJournal bool
	// QueueDepth bounds how many writes may wait for the lane.
	QueueDepth int
	Now        func() time.Time
}

// Stats is a point-in-time view of controller progress.
type Stats struct {
	Name        string
	AppliedSeq  uint64
	SnapshotSeq uint64
	JournalSeq  uint64
	Degraded    bool
	Fault       string
	Closed      bool
}

type opKind int

const (
	opExecute opKind = iota
	opSnapshot
	opRecover
	opShutdown
)

type request struct {
	kind  opKind
	ctx   context.Context
	cmd   command.Command
	reply chan response
}

type response struct {
	value any
	err   error
}

// Controller serializes writes to a manager and serves reads of its state.
type Controller[S any] struct {
	name      string
	manager   Manager[S]
	commands  *command.Registry
	journal   journal.Journal
	snapshots snapshot.Store
	logger    zerolog.Logger
	tracer    trace.Tracer
	metrics   instruments
	now       func() time.Time

	snapshotEvery    int
	snapshotInterval time.Duration
	truncate         bool

	// mu guards state for readers. The lane is the only writer, so it reads
	// state and appliedSeq without the lock and takes it only to mutate.
	mu          sync.RWMutex
	state       S
	appliedSeq  uint64
	snapshotSeq uint64
	fault       error

	// pending counts commands applied since the last snapshot. Lane only.
	pending int

	requests     chan request
	closing      atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
	done         chan struct{}
}

type recovered[S any] struct {
	state     S
	watermark uint64
	lastSeq   uint64
	applied   int
}

// Open rebuilds manager state from the latest snapshot and the journal tail
// and starts the writer lane. It returns only after recovery completes; a
// failure is a RecoveryFault and no controller is returned, leaving the
// storage handles with the caller.
func Open[S any](ctx context.Context, cfg Config[S]) (*Controller[S], error) {
	name := strings.TrimSpace(cfg.Name)
	switch {
	case name == "":
		return nil, ErrNameRequired
	case cfg.Manager == nil:
		return nil, ErrManagerRequired
	case cfg.Commands == nil:
		return nil, ErrRegistryRequired
	case cfg.Journal == nil:
		return nil, ErrJournalRequired
	case cfg.Snapshots == nil:
		return nil, ErrSnapshotStoreRequired
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = defaultQueueDepth
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	c := &Controller[S]{
		name:             name,
		manager:          cfg.Manager,
		commands:         cfg.Commands,
		journal:          cfg.Journal,
		snapshots:        cfg.Snapshots,
		logger:           cfg.Logger.With().Str("manager", name).Logger(),
		tracer:           otel.Tracer(instrumentationName),
		metrics:          newInstruments(),
		now:              now,
		snapshotEvery:    cfg.SnapshotEvery,
		snapshotInterval: cfg.SnapshotInterval,
		truncate:         cfg.TruncateJournal,
		requests:         make(chan request, depth),
		done:             make(chan struct{}),
	}

	ctx, span := c.tracer.Start(ctx, "records.recover", trace.WithAttributes(attribute.String("records.manager", name)))
	defer span.End()

	c.logger.Info().Uint64("journal_seq", cfg.Journal.LastSeq()).Msg("recovering state")
	rec, err := c.rebuild(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "recovery failed")
		c.logger.Error().Err(err).Msg("recovery failed")
		return nil, c.newError(apperrors.CodeRecoveryFault, "recover "+name, err)
	}
	c.state = rec.state
	c.appliedSeq = rec.lastSeq
	c.snapshotSeq = rec.watermark
	c.pending = rec.applied
	c.logger.Info().
		Uint64("snapshot_seq", rec.watermark).
		Int("replayed", rec.applied).
		Uint64("seq", rec.lastSeq).
		Msg("state recovered")

	go c.run()
	return c, nil
}

// Name returns the manager name.
func (c *Controller[S]) Name() string {
	return c.name
}

// Execute validates cmd, then hands it to the writer lane and waits for the
// manager result. Domain rejections (conflict, not found) are returned as
// errors and never reach the journal.
//
// Once a command is queued it runs to completion even if ctx is cancelled;
// the caller only stops waiting.
func (c *Controller[S]) Execute(ctx context.Context, cmd command.Command) (any, error) {
	if c.closing.Load() {
		return nil, c.unavailable()
	}
	normalized, err := c.commands.Validate(cmd)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.CodeInvalidArgument {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid command", err)
	}
	return c.submit(ctx, request{kind: opExecute, cmd: normalized})
}

// Snapshot checkpoints the current state through the writer lane and returns
// the watermark it covers.
func (c *Controller[S]) Snapshot(ctx context.Context) (uint64, error) {
	if c.closing.Load() {
		return 0, c.unavailable()
	}
	value, err := c.submit(ctx, request{kind: opSnapshot})
	if err != nil {
		return 0, err
	}
	return value.(uint64), nil
}

// Recover rebuilds state from storage and, on success, resumes writes after a
// storage fault. Journals that implement journal.Repairer drop a torn tail
// first.
func (c *Controller[S]) Recover(ctx context.Context) (uint64, error) {
	if c.closing.Load() {
		return 0, c.unavailable()
	}
	value, err := c.submit(ctx, request{kind: opRecover})
	if err != nil {
		return 0, err
	}
	return value.(uint64), nil
}

// Read runs fn against the latest applied state. fn must not retain or
// mutate the state.
func (c *Controller[S]) Read(ctx context.Context, fn func(S) error) error {
	if c.closing.Load() {
		return c.unavailable()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fn(c.state)
}

// Query runs a typed read against the controller state.
func Query[S, T any](ctx context.Context, c *Controller[S], fn func(S) (T, error)) (T, error) {
	var out T
	err := c.Read(ctx, func(state S) error {
		value, err := fn(state)
		if err != nil {
			return err
		}
		out = value
		return nil
	})
	return out, err
}

// Fault returns the storage fault that suspended writes, if any.
func (c *Controller[S]) Fault() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fault
}

// Stats reports sequence positions and degradation.
func (c *Controller[S]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stats := Stats{
		Name:        c.name,
		AppliedSeq:  c.appliedSeq,
		SnapshotSeq: c.snapshotSeq,
		Degraded:    c.fault != nil,
		Closed:      c.closing.Load(),
	}
	if c.fault != nil {
		stats.Fault = c.fault.Error()
	}
	if !stats.Closed {
		stats.JournalSeq = c.journal.LastSeq()
	}
	return stats
}

// Shutdown drains queued writes, takes a final snapshot and releases the
// journal and snapshot store. Later calls to Execute, Snapshot, Recover and
// Read fail with UNAVAILABLE. Shutdown is idempotent.
func (c *Controller[S]) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		c.closing.Store(true)
		c.requests <- request{kind: opShutdown, ctx: context.WithoutCancel(ctx)}
	})
	select {
	case <-c.done:
		return c.shutdownErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the controller has released its storage.
func (c *Controller[S]) Done() <-chan struct{} {
	return c.done
}

func (c *Controller[S]) submit(ctx context.Context, req request) (any, error) {
	req.ctx = context.WithoutCancel(ctx)
	req.reply = make(chan response, 1)
	select {
	case c.requests <- req:
	case <-c.done:
		return nil, c.unavailable()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case resp := <-req.reply:
		return resp.value, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		select {
		case resp := <-req.reply:
			return resp.value, resp.err
		default:
			return nil, c.unavailable()
		}
	}
}

func (c *Controller[S]) run() {
	var tick <-chan time.Time
	if c.snapshotInterval > 0 {
		ticker := time.NewTicker(c.snapshotInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case req := <-c.requests:
			switch req.kind {
			case opExecute:
				value, err := c.execute(req.ctx, req.cmd)
				req.reply <- response{value: value, err: err}
			case opSnapshot:
				seq, err := c.snapshot(req.ctx)
				req.reply <- response{value: seq, err: err}
			case opRecover:
				seq, err := c.recover(req.ctx)
				req.reply <- response{value: seq, err: err}
			case opShutdown:
				c.finish(req.ctx)
				c.drain()
				return
			}
		case <-tick:
			if c.pending > 0 && c.Fault() == nil {
				_, _ = c.snapshot(context.Background())
			}
		}
	}
}

func (c *Controller[S]) execute(ctx context.Context, cmd command.Command) (value any, err error) {
	started := c.now()
	ctx, span := c.tracer.Start(ctx, "records.execute", trace.WithAttributes(
		attribute.String("records.manager", c.name),
		attribute.String("records.command", string(cmd.Type)),
		attribute.String("records.request_id", cmd.RequestID),
	))
	defer func() {
		outcome := "ok"
		if err != nil {
			code := apperrors.GetCode(err)
			outcome = strings.ToLower(string(code))
			if !code.Domain() {
				span.RecordError(err)
				span.SetStatus(otelcodes.Error, string(code))
			}
		}
		c.metrics.recordCommand(ctx, c.name, string(cmd.Type), outcome, c.now().Sub(started))
		span.End()
	}()

	if fault := c.Fault(); fault != nil {
		return nil, c.newError(apperrors.CodeStorageFault, "writes suspended until recovery", fault)
	}
	if err := c.manager.Decide(c.state, cmd); err != nil {
		return nil, err
	}

	entry, err := c.journal.Append(ctx, cmd)
	if err != nil {
		c.degrade(ctx, fmt.Errorf("append %s: %w", cmd.Type, err), cmd)
		return nil, c.newError(apperrors.CodeStorageFault, "journal append failed", err)
	}
	if entry.Seq != c.appliedSeq+1 {
		gap := fmt.Errorf("%w: expected %d got %d", replay.ErrSequenceGap, c.appliedSeq+1, entry.Seq)
		c.degrade(ctx, gap, cmd)
		return nil, c.newError(apperrors.CodeStorageFault, "journal out of step with state", gap)
	}
	span.SetAttributes(attribute.Int64("records.seq", int64(entry.Seq)))

	c.mu.Lock()
	value, err = c.manager.Apply(c.state, entry.Command)
	if err == nil {
		c.appliedSeq = entry.Seq
	}
	c.mu.Unlock()
	if err != nil {
		c.degrade(ctx, fmt.Errorf("apply journaled entry %d: %w", entry.Seq, err), cmd)
		return nil, c.newError(apperrors.CodeInternal, "apply journaled command", err)
	}

	c.pending++
	if c.snapshotEvery > 0 && c.pending >= c.snapshotEvery {
		// The command is already durable; a failed checkpoint only degrades.
		_, _ = c.snapshot(ctx)
	}
	return value, nil
}

func (c *Controller[S]) snapshot(ctx context.Context) (uint64, error) {
	if fault := c.Fault(); fault != nil {
		return 0, c.newError(apperrors.CodeStorageFault, "snapshots suspended until recovery", fault)
	}
	seq := c.appliedSeq
	if seq == c.snapshotSeq && c.pending == 0 {
		return seq, nil
	}

	ctx, span := c.tracer.Start(ctx, "records.snapshot", trace.WithAttributes(
		attribute.String("records.manager", c.name),
		attribute.Int64("records.seq", int64(seq)),
	))
	defer span.End()

	data, err := c.manager.MarshalState(c.state)
	if err != nil {
		span.RecordError(err)
		c.logger.Error().Err(err).Uint64("seq", seq).Msg("encode snapshot failed")
		return 0, c.newError(apperrors.CodeInternal, "encode snapshot", err)
	}
	if err := c.snapshots.Save(ctx, snapshot.Snapshot{Watermark: seq, State: data, CreatedAt: c.now().UTC()}); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "save failed")
		c.degrade(ctx, fmt.Errorf("save snapshot at %d: %w", seq, err), command.Command{})
		return 0, c.newError(apperrors.CodeStorageFault, "snapshot save failed", err)
	}

	c.mu.Lock()
	c.snapshotSeq = seq
	c.mu.Unlock()
	c.pending = 0
	c.metrics.snapshots.Add(ctx, 1)
	c.logger.Info().Uint64("seq", seq).Int("bytes", len(data)).Msg("snapshot saved")

	if c.truncate {
		if err := c.journal.Truncate(ctx, seq); err != nil {
			c.logger.Warn().Err(err).Uint64("seq", seq).Msg("journal truncation failed")
		} else {
			c.logger.Debug().Uint64("seq", seq).Msg("journal truncated")
		}
	}
	return seq, nil
}

func (c *Controller[S]) recover(ctx context.Context) (uint64, error) {
	ctx, span := c.tracer.Start(ctx, "records.recover", trace.WithAttributes(attribute.String("records.manager", c.name)))
	defer span.End()

	if repairer, ok := c.journal.(journal.Repairer); ok {
		report, err := repairer.Repair(ctx)
		if err != nil {
			span.RecordError(err)
			c.logger.Error().Err(err).Msg("journal repair failed")
			return 0, c.newError(apperrors.CodeRecoveryFault, "repair journal", err)
		}
		if report.DiscardedBytes > 0 {
			c.logger.Warn().
				Int64("discarded_bytes", report.DiscardedBytes).
				Uint64("seq", report.LastSeq).
				Msg("journal tail repaired")
		}
	}

	rec, err := c.rebuild(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "recovery failed")
		c.degrade(ctx, fmt.Errorf("rebuild: %w", err), command.Command{})
		return 0, c.newError(apperrors.CodeRecoveryFault, "recover "+c.name, err)
	}

	c.mu.Lock()
	previous := c.fault
	c.state = rec.state
	c.appliedSeq = rec.lastSeq
	c.snapshotSeq = rec.watermark
	c.fault = nil
	c.mu.Unlock()
	c.pending = rec.applied

	event := c.logger.Info().
		Uint64("snapshot_seq", rec.watermark).
		Int("replayed", rec.applied).
		Uint64("seq", rec.lastSeq)
	if previous != nil {
		event = event.AnErr("cleared_fault", previous)
	}
	event.Msg("state rebuilt, writes resumed")
	return rec.lastSeq, nil
}

func (c *Controller[S]) rebuild(ctx context.Context) (recovered[S], error) {
	rec := recovered[S]{state: c.manager.NewState()}

	snap, err := c.snapshots.LoadLatest(ctx)
	switch {
	case errors.Is(err, snapshot.ErrNotFound):
	case err != nil:
		return recovered[S]{}, fmt.Errorf("load snapshot: %w", err)
	default:
		state, err := c.manager.UnmarshalState(snap.State)
		if err != nil {
			return recovered[S]{}, fmt.Errorf("decode snapshot at %d: %w", snap.Watermark, err)
		}
		rec.state = state
		rec.watermark = snap.Watermark
	}

	journalSeq := c.journal.LastSeq()
	if journalSeq < rec.watermark {
		return recovered[S]{}, fmt.Errorf("journal ends at %d before snapshot watermark %d", journalSeq, rec.watermark)
	}

	result, err := replay.Replay(ctx, c.journal, func(entry journal.Entry) error {
		_, err := c.manager.Apply(rec.state, entry.Command)
		return err
	}, replay.Options{AfterSeq: rec.watermark})
	if err != nil {
		return recovered[S]{}, err
	}
	if result.LastSeq != journalSeq {
		return recovered[S]{}, fmt.Errorf("journal reports sequence %d but replay ended at %d", journalSeq, result.LastSeq)
	}
	rec.lastSeq = result.LastSeq
	rec.applied = result.Applied
	return rec, nil
}

func (c *Controller[S]) finish(ctx context.Context) {
	var errs []error
	if fault := c.Fault(); fault != nil {
		c.logger.Warn().Err(fault).Msg("skipping final snapshot while degraded")
	} else if _, err := c.snapshot(ctx); err != nil {
		errs = append(errs, fmt.Errorf("final snapshot: %w", err))
	}
	if err := c.journal.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close journal: %w", err))
	}
	if err := c.snapshots.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close snapshots: %w", err))
	}
	c.shutdownErr = errors.Join(errs...)
	if c.shutdownErr != nil {
		c.logger.Error().Err(c.shutdownErr).Msg("shutdown finished with errors")
	} else {
		c.logger.Info().Uint64("seq", c.appliedSeq).Msg("shutdown complete")
	}
	close(c.done)
}

// drain answers writes that raced with shutdown. None of them were journaled.
func (c *Controller[S]) drain() {
	for {
		select {
		case req := <-c.requests:
			if req.reply != nil {
				req.reply <- response{err: c.unavailable()}
			}
		default:
			return
		}
	}
}

func (c *Controller[S]) degrade(ctx context.Context, cause error, cmd command.Command) {
	c.mu.Lock()
	first := c.fault == nil
	if first {
		c.fault = cause
	}
	c.mu.Unlock()

	c.metrics.faults.Add(ctx, 1)
	event := c.logger.Error().Err(cause).Uint64("seq", c.appliedSeq)
	if cmd.Type != "" {
		event = event.Str("command", string(cmd.Type)).Str("request_id", cmd.RequestID)
	}
	if first {
		event.Msg("storage fault, writes suspended")
		return
	}
	event.Msg("storage fault while degraded")
}

func (c *Controller[S]) unavailable() error {
	return c.newError(apperrors.CodeUnavailable, c.name+" is shut down", nil)
}

func (c *Controller[S]) newError(code apperrors.Code, message string, cause error) *apperrors.Error {
	err := apperrors.Wrap(code, message, cause)
	err.Metadata = map[string]string{"manager": c.name}
	return err
}
