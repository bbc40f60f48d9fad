package engine

import (
	"context"

	"github.com/INLOpen/nexusdoc/core"
	"github.com/INLOpen/nexusdoc/docstore"
	"github.com/INLOpen/nexusdoc/oplog"
)

// StorageEngineInterface is the contract the replication layer holds against
// the storage engine. Recovery consumes it; StorageEngine implements it.
type StorageEngineInterface interface {
	// SupportsRecoveryTimestamp reports whether the engine can recover to a
	// stable timestamp at all.
	SupportsRecoveryTimestamp() bool
	// RecoveryTimestamp returns the timestamp of the latest stable
	// checkpoint. ok is false when only an unstable checkpoint exists.
	RecoveryTimestamp() (ts core.Timestamp, ok bool)

	// SetInitialDataTimestamp records the timestamp at or before which the
	// data files are complete.
	SetInitialDataTimestamp(ts core.Timestamp)
	// SetOldestTimestamp moves the oldest timestamp the engine must retain
	// history for. Moving it backward re-opens history for writing.
	SetOldestTimestamp(ts core.Timestamp)

	// Oplog returns the oplog record store, or ErrNamespaceNotFound when the
	// node has no oplog.
	Oplog() (*oplog.Store, error)
	// LastOplogEntry returns the newest durable oplog entry. It returns
	// ErrOplogEmpty or ErrNamespaceNotFound when there is nothing to read.
	LastOplogEntry(ctx context.Context) (*core.OplogEntry, error)
	// AcquireOplogHandle caches the oplog handle for later logging use.
	AcquireOplogHandle(ctx context.Context) error

	// Docs returns the applied-document store the applier writes into.
	Docs() *docstore.Store

	// WaitUntilDurable blocks until all journaled writes are on disk.
	WaitUntilDurable(ctx context.Context) error
	// WaitUntilUnjournaledWritesDurable additionally fences writes that
	// bypassed the journal, degrading to an unstable checkpoint when no
	// stable timestamp exists.
	WaitUntilUnjournaledWritesDurable(ctx context.Context) error

	// SetReadOnly flips the engine into (or out of) read-only mode.
	SetReadOnly(readOnly bool)
	ReadOnly() bool

	Close() error
}
