// Package recovery brings the persisted data files into a state consistent
// with the oplog at process start, by replaying or discarding a bounded
// suffix of the log. It runs before the node accepts traffic and is the only
// place where durably recorded operations are translated into data-file
// mutations outside of live replication.
package recovery

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/INLOpen/nexusdoc/core"
	"github.com/INLOpen/nexusdoc/engine"
	"github.com/INLOpen/nexusdoc/hooks"
	"github.com/INLOpen/nexusdoc/markers"
	"github.com/INLOpen/nexusdoc/oplog"
	"github.com/INLOpen/nexusdoc/replication"
)

// ReconstructPreparedTransactionsFn rebuilds in-memory prepared-transaction
// state after recovery finishes. It is a separate pass owned by the
// transaction subsystem.
type ReconstructPreparedTransactionsFn func(ctx context.Context, mode replication.ApplyMode) error

// Options holds configuration for constructing a Recovery.
type Options struct {
	Storage     engine.StorageEngineInterface
	Consistency markers.Markers

	// TakeUnstableCheckpointOnShutdown permits standalone recovery from an
	// unstable checkpoint when no oplog recovery is needed.
	TakeUnstableCheckpointOnShutdown bool
	// BatchLimits bounds each applier batch. Zero values derive defaults.
	BatchLimits replication.BatchLimits
	// WriterPoolSize is the parallel writer count within a batch.
	WriterPoolSize int

	// ReconstructPreparedTransactions runs at the end of every successful
	// entry point. Nil disables the pass.
	ReconstructPreparedTransactions ReconstructPreparedTransactionsFn

	Logger *slog.Logger
	Tracer trace.Tracer
	// Hooks, when non-nil, receives the recovery lifecycle callbacks.
	Hooks *hooks.Manager

	// Fail overrides process termination on invariant violations. Tests
	// inject a panicking implementation; production leaves it nil.
	Fail FailFn

	// Counters, optional.
	BatchesApplied *expvar.Int
	OpsApplied     *expvar.Int
}

// Recovery is the replication recovery driver. It selects stable or
// unstable recovery, reconciles the consistency markers, truncates the
// ragged oplog tail, and replays the chosen timestamp window through the
// oplog applier.
type Recovery struct {
	storage     engine.StorageEngineInterface
	consistency markers.Markers

	takeUnstableCheckpointOnShutdown bool
	batchLimits                      replication.BatchLimits
	writerPoolSize                   int
	reconstructPreparedTransactions  ReconstructPreparedTransactionsFn

	logger *slog.Logger
	tracer trace.Tracer
	hooks  *hooks.Manager
	fail   FailFn

	metricsBatches *expvar.Int
	metricsOps     *expvar.Int

	// inRecovery is the process-wide "in replication recovery" signal. It is
	// set on entry to RecoverFromOplog and cleared on every exit path.
	inRecovery atomic.Bool
}

// New creates a recovery driver over the given storage engine and
// consistency markers.
func New(opts Options) *Recovery {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ReplicationRecovery")

	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("recovery")
	}

	fail := opts.Fail
	if fail == nil {
		fail = defaultFailFn(logger)
	}

	limits := opts.BatchLimits
	if limits.Bytes == 0 || limits.Ops == 0 {
		derived := replication.DefaultBatchLimits(logger)
		if limits.Bytes == 0 {
			limits.Bytes = derived.Bytes
		}
		if limits.Ops == 0 {
			limits.Ops = derived.Ops
		}
	}
	poolSize := opts.WriterPoolSize
	if poolSize < 1 {
		poolSize = 1
	}

	return &Recovery{
		storage:                          opts.Storage,
		consistency:                      opts.Consistency,
		takeUnstableCheckpointOnShutdown: opts.TakeUnstableCheckpointOnShutdown,
		batchLimits:                      limits,
		writerPoolSize:                   poolSize,
		reconstructPreparedTransactions:  opts.ReconstructPreparedTransactions,
		logger:                           logger,
		tracer:                           tracer,
		hooks:                            opts.Hooks,
		fail:                             fail,
		metricsBatches:                   opts.BatchesApplied,
		metricsOps:                       opts.OpsApplied,
	}
}

// InRecovery reports whether a recovery pass is currently running.
func (r *Recovery) InRecovery() bool {
	return r.inRecovery.Load()
}

// recoverFromOplogPrecursor validates the storage engine's recovery
// capability and reads the optional recovery timestamp. A missing timestamp
// means the checkpoint is unstable; a present-but-null one means a stable
// checkpoint was taken at a null timestamp, which must never happen.
func (r *Recovery) recoverFromOplogPrecursor(ctx context.Context) *core.Timestamp {
	if !r.storage.SupportsRecoveryTimestamp() {
		r.fail(50805, "Cannot recover from the oplog with a storage engine that does not support recover to stable timestamp")
		return nil
	}

	recoveryTS, ok := r.storage.RecoveryTimestamp()
	if ok && recoveryTS.IsZero() {
		r.fail(50806, "Cannot recover from the oplog with stable checkpoint at null timestamp")
		return nil
	}
	if !ok {
		return nil
	}
	return &recoveryTS
}

// RecoverFromOplog performs startup (or post-rollback) recovery. When
// stableTimestamp is nil the storage engine is consulted for its own
// recovery timestamp; a present stableTimestamp means rollback recovery from
// that point. Any failure inside this method is fatal: partial recovery
// state is never left behind.
func (r *Recovery) RecoverFromOplog(ctx context.Context, stableTimestamp *core.Timestamp) {
	ctx, span := r.tracer.Start(ctx, "recovery.RecoverFromOplog")
	defer span.End()

	initialSync, err := r.consistency.InitialSyncFlag(ctx)
	if err != nil {
		r.fail(21570, "Caught failure during replication recovery", "error", err)
		return
	}
	if initialSync {
		// Initial Sync will take over so no cleanup is needed.
		r.logger.Info("No recovery needed. Initial sync flag set.")
		return
	}

	r.inRecovery.Store(true)
	defer func() {
		if !r.inRecovery.Load() {
			r.fail(21570, "Replication recovery flag is unexpectedly unset when exiting recovery")
			return
		}
		r.inRecovery.Store(false)
	}()

	if r.hooks != nil {
		if err := r.hooks.FirePreRecovery(ctx); err != nil {
			r.fail(21570, "Caught failure during replication recovery", "error", err)
			return
		}
	}

	start := time.Now()
	stable, window, err := r.recoverFromOplog(ctx, stableTimestamp)
	if err != nil {
		r.fail(21570, "Caught failure during replication recovery", "error", err)
		return
	}

	if r.hooks != nil {
		r.hooks.FirePostRecovery(ctx, hooks.RecoverySummary{
			Stable:     stable,
			StartPoint: window.start,
			EndPoint:   window.end,
			Duration:   time.Since(start),
		})
	}
}

// replayWindow records the applied range for observability hooks.
type replayWindow struct {
	start core.Timestamp
	end   core.Timestamp
}

func (r *Recovery) recoverFromOplog(ctx context.Context, stableTimestamp *core.Timestamp) (bool, replayWindow, error) {
	// If we were passed in a stable timestamp, we are in rollback recovery
	// and should recover from that point. Otherwise we are recovering at
	// startup and ask the storage engine; if it has no stable checkpoint we
	// must recover from an unstable checkpoint instead.
	supportsRecoveryTimestamp := r.storage.SupportsRecoveryTimestamp()
	if stableTimestamp == nil && supportsRecoveryTimestamp {
		if ts, ok := r.storage.RecoveryTimestamp(); ok {
			stableTimestamp = &ts
		}
	}

	appliedThrough, err := r.consistency.AppliedThrough(ctx)
	if err != nil {
		return false, replayWindow{}, err
	}
	if stableTimestamp != nil && !stableTimestamp.IsZero() && !appliedThrough.IsZero() &&
		*stableTimestamp != appliedThrough.TS {
		r.fail(40603, "Stable timestamp does not equal appliedThrough timestamp",
			"stable_timestamp", *stableTimestamp, "applied_through", appliedThrough)
		return false, replayWindow{}, nil
	}

	if err := r.truncateOplogIfNeededAndThenClearOplogTruncateAfterPoint(ctx, stableTimestamp); err != nil {
		return false, replayWindow{}, err
	}

	topOfOplog, err := r.topOfOplog(ctx)
	if errors.Is(err, core.ErrOplogEmpty) || errors.Is(err, core.ErrNamespaceNotFound) {
		// Oplog is empty. There are no oplog entries to apply, so we exit
		// recovery and go into initial sync.
		r.logger.Info("No oplog entries to apply for recovery. Oplog is empty.")
		return false, replayWindow{}, nil
	}
	if err != nil {
		r.fail(40290, "Failed to read the top of the oplog", "error", err)
		return false, replayWindow{}, nil
	}

	if stableTimestamp != nil {
		if !supportsRecoveryTimestamp {
			r.fail(40604, "Stable timestamp provided by a storage engine that does not support recovery timestamps")
			return false, replayWindow{}, nil
		}
		window, err := r.recoverFromStableTimestamp(ctx, *stableTimestamp, appliedThrough, topOfOplog)
		return true, window, err
	}
	window, err := r.recoverFromUnstableCheckpoint(ctx, appliedThrough, topOfOplog)
	return false, window, err
}

func (r *Recovery) recoverFromStableTimestamp(ctx context.Context, stableTimestamp core.Timestamp, appliedThrough, topOfOplog core.OpTime) (replayWindow, error) {
	if stableTimestamp.IsZero() {
		r.fail(40605, "Attempted stable recovery from a null stable timestamp")
		return replayWindow{}, nil
	}
	if topOfOplog.IsZero() {
		r.fail(40606, "Attempted stable recovery with a null top of oplog")
		return replayWindow{}, nil
	}

	truncateAfterPoint, err := r.consistency.OplogTruncateAfterPoint(ctx)
	if err != nil {
		return replayWindow{}, err
	}

	r.logger.Info("Recovering from stable timestamp",
		"stable_timestamp", stableTimestamp,
		"top_of_oplog", topOfOplog,
		"applied_through", appliedThrough,
		"oplog_truncate_after_point", truncateAfterPoint)

	r.logger.Info("Starting recovery oplog application at the stable timestamp",
		"stable_timestamp", stableTimestamp)
	return r.applyToEndOfOplog(ctx, stableTimestamp, topOfOplog.TS)
}

func (r *Recovery) recoverFromUnstableCheckpoint(ctx context.Context, appliedThrough, topOfOplog core.OpTime) (replayWindow, error) {
	if topOfOplog.IsZero() {
		r.fail(40607, "Attempted unstable-checkpoint recovery with a null top of oplog")
		return replayWindow{}, nil
	}
	r.logger.Info("Recovering from an unstable checkpoint",
		"top_of_oplog", topOfOplog,
		"applied_through", appliedThrough)

	var window replayWindow
	if appliedThrough.IsZero() {
		// The appliedThrough is null after a clean shutdown or a crash as
		// primary. Either way the data files are consistent at the top of
		// the oplog.
		r.logger.Info("No oplog entries to apply for recovery. appliedThrough is null.")
	} else {
		// We shut down uncleanly during secondary oplog application and must
		// apply from appliedThrough to the top of the oplog.
		r.logger.Info("Starting recovery oplog application at the appliedThrough",
			"applied_through", appliedThrough,
			"top_of_oplog", topOfOplog)

		// The storage engine's oldest timestamp may sit ahead of the writes
		// we are about to replay. Move it back to the start point so those
		// writes are legal again.
		//
		// TODO(rollback): moving the oldest timestamp backward here is
		// questionable for rollback paths that do not keep history to the
		// majority point; revisit with the storage team before relying on
		// it outside startup.
		r.storage.SetOldestTimestamp(appliedThrough.TS)

		var err error
		window, err = r.applyToEndOfOplog(ctx, appliedThrough.TS, topOfOplog.TS)
		if err != nil {
			return replayWindow{}, err
		}
	}

	// Unstable-checkpoint recovery only runs at startup, so the top of the
	// oplog is where the data files become complete.
	r.storage.SetInitialDataTimestamp(topOfOplog.TS)

	// Pin appliedThrough to the top of the oplog, specifically for a node
	// that previously ran as primary: if we crash before the first stable
	// checkpoint, the next recovery must apply from this point rather than
	// assume the data files hold any pre-crash writes.
	if err := r.consistency.SetAppliedThrough(ctx, topOfOplog); err != nil {
		return replayWindow{}, err
	}

	// Fence the marker update. Without a stable timestamp this degrades
	// into an unstable checkpoint, which is still enough: if we crash after
	// taking writes but before the first stable checkpoint, the next
	// startup finds no recovery timestamp and falls back to appliedThrough
	// to decide where to play the oplog forward from.
	if err := r.storage.WaitUntilUnjournaledWritesDurable(ctx); err != nil {
		return replayWindow{}, err
	}
	return window, nil
}

// RecoverFromOplogUpTo performs bounded replay up to endPoint after a
// rollback. Unlike RecoverFromOplog, caller mistakes surface as typed
// errors: ErrInitialSyncActive when an initial sync owns the node, and
// BadValueError when the start point lies beyond endPoint.
func (r *Recovery) RecoverFromOplogUpTo(ctx context.Context, endPoint core.Timestamp) error {
	ctx, span := r.tracer.Start(ctx, "recovery.RecoverFromOplogUpTo")
	defer span.End()

	initialSync, err := r.consistency.InitialSyncFlag(ctx)
	if err != nil {
		return err
	}
	if initialSync {
		return fmt.Errorf("cannot recover from oplog while the node is performing an initial sync: %w", core.ErrInitialSyncActive)
	}

	recoveryTS := r.recoverFromOplogPrecursor(ctx)
	if recoveryTS == nil {
		r.fail(31399, "Cannot recover to an oplog timestamp without a stable checkpoint")
		return nil
	}

	if err := r.truncateOplogIfNeededAndThenClearOplogTruncateAfterPoint(ctx, recoveryTS); err != nil {
		return err
	}

	appliedThrough, err := r.consistency.AppliedThrough(ctx)
	if err != nil {
		return err
	}
	startPoint := appliedThrough.TS
	if startPoint.IsZero() {
		r.logger.Info("No stored oplog entries to apply for recovery.")
		return r.runReconstructPreparedTransactions(ctx)
	}

	if endPoint.IsZero() {
		r.fail(40608, "Attempted bounded recovery to a null end point")
		return nil
	}

	if startPoint == endPoint {
		r.logger.Info("No oplog entries to apply for recovery. Start point is at the end point in the oplog.",
			"start_point", startPoint, "end_point", endPoint)
		return r.runReconstructPreparedTransactions(ctx)
	} else if startPoint.After(endPoint) {
		return &core.BadValueError{
			Message: fmt.Sprintf("no oplog entries to apply for recovery: start point %s is beyond the end point %s in the oplog", startPoint, endPoint),
		}
	}

	appliedUpTo, err := r.applyOplogOperations(ctx, startPoint, endPoint)
	if err != nil {
		return err
	}
	if appliedUpTo.IsZero() {
		r.logger.Info("No stored oplog entries to apply for recovery between the start point (exclusive) and the end point (inclusive).",
			"start_point", startPoint, "end_point", endPoint)
	} else if appliedUpTo.After(endPoint) {
		r.fail(40609, "Applied past the end point during bounded recovery",
			"applied_up_to", appliedUpTo, "end_point", endPoint)
		return nil
	}

	return r.runReconstructPreparedTransactions(ctx)
}

// RecoverFromOplogAsStandalone recovers a node started in maintenance mode.
// With a stable checkpoint it behaves like startup recovery; without one it
// is only permitted when takeUnstableCheckpointOnShutdown is set, in which
// case it asserts that no recovery work is actually needed. The node is left
// read-only either way.
func (r *Recovery) RecoverFromOplogAsStandalone(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "recovery.RecoverFromOplogAsStandalone")
	defer span.End()

	recoveryTS := r.recoverFromOplogPrecursor(ctx)

	// Initialize the cached handle to the oplog collection for logging.
	if err := r.storage.AcquireOplogHandle(ctx); err != nil {
		r.logger.Debug("Could not cache the oplog handle before standalone recovery", "error", err)
	}

	if recoveryTS != nil {
		// Pass nil for the stable timestamp so RecoverFromOplog asks
		// storage for the recovery timestamp just like replica set recovery.
		r.RecoverFromOplog(ctx, nil)
	} else {
		if r.takeUnstableCheckpointOnShutdown {
			// Ensure standalone recovery with takeUnstableCheckpointOnShutdown
			// is safely idempotent when it succeeds.
			r.logger.Info("Recovering from unstable checkpoint with 'takeUnstableCheckpointOnShutdown'. Confirming that no oplog recovery is needed.")
			r.assertNoRecoveryNeededOnUnstableCheckpoint(ctx)
			r.logger.Info("Not doing any oplog recovery since there is an unstable checkpoint that is up to date.")
		} else {
			r.fail(31229, "Cannot use 'recoverFromOplogAsStandalone' without a stable checkpoint")
			return nil
		}
	}

	if err := r.runReconstructPreparedTransactions(ctx); err != nil {
		return err
	}

	r.logger.Warn("Setting the node to read-only mode as a result of standalone recovery")
	r.storage.SetReadOnly(true)
	return nil
}

// assertNoRecoveryNeededOnUnstableCheckpoint checks that a standalone start
// from an unstable checkpoint has nothing to replay or truncate. Any
// surprise is fatal.
func (r *Recovery) assertNoRecoveryNeededOnUnstableCheckpoint(ctx context.Context) {
	if !r.storage.SupportsRecoveryTimestamp() {
		r.fail(31361, "Storage engine stopped supporting recovery timestamps mid-recovery")
		return
	}
	if _, ok := r.storage.RecoveryTimestamp(); ok {
		r.fail(31360, "Found a recovery timestamp on the unstable-checkpoint assertion path")
		return
	}

	initialSync, err := r.consistency.InitialSyncFlag(ctx)
	if err != nil {
		r.fail(31362, "Unexpected recovery needed, could not read the initial sync flag", "error", err)
		return
	}
	if initialSync {
		r.fail(31362, "Unexpected recovery needed, initial sync flag set")
		return
	}

	truncateAfterPoint, err := r.consistency.OplogTruncateAfterPoint(ctx)
	if err != nil {
		r.fail(31363, "Unexpected recovery needed, could not read the oplog truncate after point", "error", err)
		return
	}
	if !truncateAfterPoint.IsZero() {
		r.fail(31363, "Unexpected recovery needed, oplog requires truncation",
			"truncate_after_point", truncateAfterPoint)
		return
	}

	topOfOplog, err := r.topOfOplog(ctx)
	if err != nil {
		r.fail(31364, "Recovery not possible, no oplog found", "error", err)
		return
	}

	appliedThrough, err := r.consistency.AppliedThrough(ctx)
	if err != nil {
		r.fail(31365, "Unexpected recovery needed, could not read appliedThrough", "error", err)
		return
	}
	if !appliedThrough.IsZero() && appliedThrough != topOfOplog {
		r.fail(31365, "Unexpected recovery needed, appliedThrough is not at top of oplog, indicating oplog has not been fully applied",
			"applied_through", appliedThrough, "top_of_oplog", topOfOplog)
		return
	}

	minValid, err := r.consistency.MinValid(ctx)
	if err != nil {
		r.fail(31366, "Unexpected recovery needed, could not read minValid", "error", err)
		return
	}
	if minValid.Compare(topOfOplog) > 0 {
		r.fail(31366, "Unexpected recovery needed, top of oplog is not consistent",
			"top_of_oplog", topOfOplog, "min_valid", minValid)
		return
	}
}

// applyToEndOfOplog replays (startPoint, topOfOplog] and demands the replay
// reaches the top exactly.
func (r *Recovery) applyToEndOfOplog(ctx context.Context, startPoint, topOfOplog core.Timestamp) (replayWindow, error) {
	if startPoint.IsZero() || topOfOplog.IsZero() {
		r.fail(40610, "Attempted oplog application with a null bound",
			"start_point", startPoint, "top_of_oplog", topOfOplog)
		return replayWindow{}, nil
	}

	// Check for unapplied ops after deleting the ragged end of the oplog.
	if startPoint == topOfOplog {
		r.logger.Info("No oplog entries to apply for recovery. Start point is at the top of the oplog.")
		return replayWindow{}, nil // We've applied all the valid oplog we have.
	} else if startPoint.After(topOfOplog) {
		r.fail(40313, "Applied op not found in the oplog",
			"start_point", startPoint, "top_of_oplog", topOfOplog)
		return replayWindow{}, nil
	}

	appliedUpTo, err := r.applyOplogOperations(ctx, startPoint, topOfOplog)
	if err != nil {
		return replayWindow{}, err
	}
	if appliedUpTo.IsZero() {
		r.fail(40611, "Applied no operations even though the start point precedes the top of the oplog",
			"start_point", startPoint, "top_of_oplog", topOfOplog)
		return replayWindow{}, nil
	}
	if appliedUpTo != topOfOplog {
		r.fail(40612, "Did not apply to top of oplog",
			"applied_through", appliedUpTo, "top_of_oplog", topOfOplog)
		return replayWindow{}, nil
	}
	return replayWindow{start: startPoint, end: appliedUpTo}, nil
}

// applyOplogOperations replays (startPoint, endPoint] through the applier in
// recovering mode and returns the last applied timestamp, or null when the
// window held nothing to apply.
func (r *Recovery) applyOplogOperations(ctx context.Context, startPoint, endPoint core.Timestamp) (core.Timestamp, error) {
	r.logger.Info("Replaying stored operations",
		"start_point", startPoint, "end_point", endPoint)

	ctx, span := r.tracer.Start(ctx, "recovery.applyOplogOperations")
	defer span.End()

	store, err := r.storage.Oplog()
	if err != nil {
		return core.Timestamp{}, err
	}

	buffer := newOplogCursorBuffer(store, startPoint, &endPoint, r.fail, r.logger)
	if err := buffer.Startup(ctx); err != nil {
		return core.Timestamp{}, err
	}

	stats := newApplierStats(r.logger, r.metricsBatches, r.metricsOps)
	applier := replication.NewOplogApplier(buffer, r.storage.Docs(), r.consistency, replication.Options{
		Mode:           replication.ApplyRecovering,
		WriterPoolSize: r.writerPoolSize,
		Observer:       stats,
		Logger:         r.logger,
	})

	var applyThrough core.OpTime
	for {
		batch, err := applier.GetNextApplierBatch(ctx, r.batchLimits)
		if err != nil {
			r.fail(50763, "Failed to pull an applier batch from the oplog", "error", err)
			return core.Timestamp{}, nil
		}
		if len(batch) == 0 {
			break
		}
		applyThrough, err = applier.ApplyOplogBatch(ctx, batch)
		if err != nil {
			return core.Timestamp{}, err
		}
		if r.hooks != nil {
			r.hooks.FirePostBatchApply(ctx, hooks.BatchSummary{
				Ops:         len(batch),
				LastApplied: applyThrough,
			})
		}
	}
	stats.Complete(applyThrough)

	if !buffer.IsEmpty() {
		r.fail(40613, "Oplog buffer not empty after applying operations",
			"last_applied", applyThrough)
		return core.Timestamp{}, nil
	}
	if err := buffer.Shutdown(ctx); err != nil {
		return core.Timestamp{}, err
	}

	// Null when no entries were applied.
	if applyThrough.IsZero() {
		return core.Timestamp{}, nil
	}

	// We may crash before the marker write below; with a stable checkpoint
	// the next start recovers to that checkpoint and replays, and without
	// one we are in startup recovery which only ever applies a single batch
	// that is safe to replay from any point. Either way persisting
	// appliedThrough after each successful run is safe.
	if err := r.consistency.SetAppliedThrough(ctx, applyThrough); err != nil {
		return core.Timestamp{}, err
	}
	return applyThrough.TS, nil
}

// topOfOplog returns the OpTime of the newest durable oplog entry.
func (r *Recovery) topOfOplog(ctx context.Context) (core.OpTime, error) {
	entry, err := r.storage.LastOplogEntry(ctx)
	if err != nil {
		return core.OpTime{}, err
	}
	return entry.OpTime(), nil
}

// truncateOplogTo removes every oplog entry strictly after truncateTimestamp.
// It scans the oplog in reverse, newest to oldest, looking for the first
// entry at or before the bound; everything newer is deleted inclusively via
// the record store's capped truncation. The bound itself does not have to
// match an entry.
func (r *Recovery) truncateOplogTo(ctx context.Context, truncateTimestamp core.Timestamp) error {
	start := time.Now()

	store, err := r.storage.Oplog()
	if err != nil {
		r.fail(34418, "Cannot find the oplog to truncate", "error", err)
		return nil
	}

	var previousRecordID oplog.RecordID
	var previousEntryTS core.Timestamp
	var topOfOplog core.Timestamp
	cursor := store.ReverseCursor()
	count := 0
	for {
		entry, recordID, ok := cursor.Next()
		if !ok {
			break
		}
		count++

		if count == 1 {
			topOfOplog = entry.TS
			r.logger.Debug("Oplog tail entry", "ts", entry.TS)
		}

		if entry.TS.Compare(truncateTimestamp) <= 0 {
			// count == 1 means everything in the oplog is <= the truncate
			// point and there is nothing to delete.
			if count != 1 {
				r.logger.Info("Truncating oplog",
					"first_removed_ts", previousEntryTS,
					"top_of_oplog", topOfOplog,
					"truncate_after_point", truncateTimestamp)
				if previousRecordID == oplog.NilRecordID {
					r.fail(40614, "Lost track of the record to truncate from",
						"truncate_after_point", truncateTimestamp)
					return nil
				}
				if err := store.CappedTruncateAfter(previousRecordID, true); err != nil {
					return err
				}
				if r.hooks != nil {
					r.hooks.FirePostOplogTruncate(ctx, hooks.TruncateSummary{
						TruncateAfterPoint: truncateTimestamp,
						Duration:           time.Since(start),
					})
				}
			} else {
				r.logger.Info("There is no oplog after the truncate point to truncate",
					"truncate_after_point", truncateTimestamp, "top_of_oplog", topOfOplog)
			}
			r.logger.Info("Replication recovery oplog truncation finished",
				"duration", time.Since(start))
			return nil
		}

		previousRecordID = recordID
		previousEntryTS = entry.TS
	}

	r.fail(40296, "Reached end of oplog looking for an entry at or before the truncate point but couldn't find one",
		"truncate_after_point", truncateTimestamp, "entries_scanned", count)
	return nil
}

// truncateOplogIfNeededAndThenClearOplogTruncateAfterPoint decides whether
// ragged-tail truncation is required, picks the effective truncate point,
// performs the truncation, then durably clears the marker.
func (r *Recovery) truncateOplogIfNeededAndThenClearOplogTruncateAfterPoint(ctx context.Context, stableTimestamp *core.Timestamp) error {
	truncatePoint, err := r.consistency.OplogTruncateAfterPoint(ctx)
	if err != nil {
		return err
	}
	if truncatePoint.IsZero() {
		// There are no holes in the oplog that necessitate truncation.
		return nil
	}

	if stableTimestamp != nil && !stableTimestamp.IsZero() && truncatePoint.Compare(*stableTimestamp) <= 0 {
		if _, err := r.storage.Oplog(); err != nil {
			return err
		}

		// Anything at or before the stable checkpoint is already durable
		// and consistent, and the stored truncate point may be stale
		// earlier than reality; truncate after the stable timestamp instead.
		r.logger.Info("The oplog truncation point is equal to or earlier than the stable timestamp, so truncating after the stable timestamp instead",
			"truncate_after_point", truncatePoint, "stable_timestamp", *stableTimestamp)

		truncatePoint = *stableTimestamp
	}

	r.logger.Info("Removing unapplied oplog entries",
		"starting_after", truncatePoint)
	if err := r.truncateOplogTo(ctx, truncatePoint); err != nil {
		return err
	}

	// Clear the truncate point now that any holes are gone, so future
	// entries are not truncated erroneously, then fence the cleared marker
	// so it cannot be lost if we crash before finishing recovery.
	if err := r.consistency.SetOplogTruncateAfterPoint(ctx, core.Timestamp{}); err != nil {
		return err
	}
	return r.storage.WaitUntilDurable(ctx)
}

func (r *Recovery) runReconstructPreparedTransactions(ctx context.Context) error {
	if r.reconstructPreparedTransactions == nil {
		return nil
	}
	return r.reconstructPreparedTransactions(ctx, replication.ApplyRecovering)
}
