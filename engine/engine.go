package engine

import (
	"context"
	"expvar"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/INLOpen/nexusdoc/checkpoint"
	"github.com/INLOpen/nexusdoc/core"
	"github.com/INLOpen/nexusdoc/docstore"
	"github.com/INLOpen/nexusdoc/oplog"
)

// StorageEngine is the document database's storage layer as recovery sees
// it: the oplog record store, the applied-document store, and the checkpoint
// metadata that carries the recovery timestamp across restarts.
type StorageEngine struct {
	dataDir string

	mu            sync.Mutex
	oplogStore    *oplog.Store
	docs          *docstore.Store
	recoveryTS    core.Timestamp
	hasRecoveryTS bool

	initialDataTimestamp core.Timestamp
	oldestTimestamp      core.Timestamp

	readOnly atomic.Bool

	metricsOplogEntries expvar.Int
	metricsOplogBytes   expvar.Int

	logger *slog.Logger
	tracer trace.Tracer
}

var _ StorageEngineInterface = (*StorageEngine)(nil)

// Options holds configuration for opening a storage engine.
type Options struct {
	DataDir     string
	Compression core.CompressionType
	Logger      *slog.Logger
	Tracer      trace.Tracer
}

// Open creates or opens the storage layer under opts.DataDir: the oplog
// store, an empty document store, and the checkpoint metadata.
func Open(opts Options) (*StorageEngine, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("component", "StorageEngine")
	} else {
		opts.Logger = opts.Logger.With("component", "StorageEngine")
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("storage")
	}

	if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", opts.DataDir, err)
	}

	e := &StorageEngine{
		dataDir: opts.DataDir,
		docs:    docstore.NewStore(),
		logger:  opts.Logger,
		tracer:  opts.Tracer,
	}

	store, err := oplog.Open(oplog.Options{
		Path:           filepath.Join(opts.DataDir, core.OplogFileName),
		Compression:    opts.Compression,
		Logger:         opts.Logger,
		EntriesWritten: &e.metricsOplogEntries,
		BytesWritten:   &e.metricsOplogBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open oplog store: %w", err)
	}
	e.oplogStore = store

	cp, found, err := checkpoint.Read(opts.DataDir)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to read checkpoint metadata: %w", err)
	}
	if found {
		e.recoveryTS, e.hasRecoveryTS = cp.StableTimestamp()
	}

	e.logger.Info("Storage engine opened",
		"data_dir", opts.DataDir,
		"oplog_entries", store.Len(),
		"has_stable_checkpoint", e.hasRecoveryTS)
	return e, nil
}

func (e *StorageEngine) SupportsRecoveryTimestamp() bool {
	return true
}

func (e *StorageEngine) RecoveryTimestamp() (core.Timestamp, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recoveryTS, e.hasRecoveryTS
}

func (e *StorageEngine) SetInitialDataTimestamp(ts core.Timestamp) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.initialDataTimestamp = ts
	e.logger.Debug("Set initial data timestamp", "ts", ts)
}

// InitialDataTimestamp returns the last value passed to SetInitialDataTimestamp.
func (e *StorageEngine) InitialDataTimestamp() core.Timestamp {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialDataTimestamp
}

func (e *StorageEngine) SetOldestTimestamp(ts core.Timestamp) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.oldestTimestamp = ts
	e.logger.Debug("Set oldest timestamp", "ts", ts)
}

// OldestTimestamp returns the last value passed to SetOldestTimestamp.
func (e *StorageEngine) OldestTimestamp() core.Timestamp {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.oldestTimestamp
}

func (e *StorageEngine) Oplog() (*oplog.Store, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.oplogStore == nil {
		return nil, core.ErrNamespaceNotFound
	}
	return e.oplogStore, nil
}

func (e *StorageEngine) LastOplogEntry(ctx context.Context) (*core.OplogEntry, error) {
	store, err := e.Oplog()
	if err != nil {
		return nil, err
	}
	return store.LastEntry()
}

func (e *StorageEngine) AcquireOplogHandle(ctx context.Context) error {
	store, err := e.Oplog()
	if err != nil {
		return err
	}
	e.logger.Debug("Cached oplog handle", "path", store.Path())
	return nil
}

func (e *StorageEngine) Docs() *docstore.Store {
	return e.docs
}

func (e *StorageEngine) WaitUntilDurable(ctx context.Context) error {
	store, err := e.Oplog()
	if err != nil {
		return err
	}
	return store.Sync()
}

func (e *StorageEngine) WaitUntilUnjournaledWritesDurable(ctx context.Context) error {
	// With no stable timestamp this degrades into an unstable checkpoint:
	// everything on disk is fenced, but the checkpoint stays untied to any
	// consistent point.
	if err := e.WaitUntilDurable(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	hasStable := e.hasRecoveryTS
	ts := e.recoveryTS
	e.mu.Unlock()

	cp := core.Checkpoint{}
	if hasStable {
		cp = core.NewStableCheckpoint(ts)
	}
	return checkpoint.Write(e.dataDir, cp)
}

// TakeStableCheckpoint fences everything durable and ties the checkpoint to
// ts, making ts the recovery timestamp of subsequent opens.
func (e *StorageEngine) TakeStableCheckpoint(ctx context.Context, ts core.Timestamp) error {
	if err := e.WaitUntilDurable(ctx); err != nil {
		return err
	}
	if err := checkpoint.Write(e.dataDir, core.NewStableCheckpoint(ts)); err != nil {
		return err
	}
	e.mu.Lock()
	e.recoveryTS = ts
	e.hasRecoveryTS = true
	e.mu.Unlock()
	e.logger.Info("Took stable checkpoint", "stable_timestamp", ts)
	return nil
}

func (e *StorageEngine) SetReadOnly(readOnly bool) {
	e.readOnly.Store(readOnly)
}

func (e *StorageEngine) ReadOnly() bool {
	return e.readOnly.Load()
}

func (e *StorageEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.oplogStore == nil {
		return nil
	}
	err := e.oplogStore.Close()
	e.oplogStore = nil
	if err != nil {
		e.logger.Error("Error during storage engine close.", "error", err)
	} else {
		e.logger.Info("Storage engine closed.")
	}
	return err
}
