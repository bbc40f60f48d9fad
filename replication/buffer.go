package replication

import (
	"context"
	"time"

	"github.com/INLOpen/nexusdoc/core"
)

// PullBuffer is the read side of an oplog buffer: everything the applier
// needs when it is draining entries that already exist somewhere durable.
type PullBuffer interface {
	// Startup prepares the buffer for reading.
	Startup(ctx context.Context) error
	// Shutdown releases the buffer's resources.
	Shutdown(ctx context.Context) error
	// IsEmpty reports whether the buffer has no more entries.
	IsEmpty() bool
	// Peek returns the next entry without consuming it. Peek is idempotent.
	Peek(ctx context.Context) (*core.OplogEntry, bool)
	// TryPop returns the next entry and consumes it.
	TryPop(ctx context.Context) (*core.OplogEntry, bool)
}

// OplogBuffer is the full buffer contract used by live replication, where a
// producer pushes batches in one end while the applier drains the other.
// Recovery-time buffers implement only the pull side and fail loudly on the
// rest.
type OplogBuffer interface {
	PullBuffer

	// Push appends entries at the tail, blocking while the buffer is full.
	Push(ctx context.Context, entries ...*core.OplogEntry) error
	// WaitForSpace blocks until at least size bytes are free.
	WaitForSpace(ctx context.Context, size int64) error
	// WaitForData blocks up to the given duration for an entry to arrive.
	WaitForData(d time.Duration) bool
	// MaxSize returns the buffer's capacity in bytes.
	MaxSize() int64
	// Size returns the used byte count.
	Size() int64
	// Count returns the number of buffered entries.
	Count() int
	// Clear drops all buffered entries.
	Clear(ctx context.Context) error
	// LastObjectPushed returns the most recently pushed entry, if any.
	LastObjectPushed(ctx context.Context) (*core.OplogEntry, bool)
}
