package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/INLOpen/nexusdoc/core"
	"github.com/INLOpen/nexusdoc/oplog"
	"github.com/INLOpen/nexusdoc/replication"
)

// oplogCursorBuffer presents a timestamp range of the local oplog to the
// applier as a pull-only buffer. Recovery feeds the applier by wrapping the
// oplog itself rather than copying entries into a second buffer; exactly
// once consumption falls out of the cursor's forward-only progression.
//
// The push side of the buffer contract is unreachable here: nothing produces
// into this buffer. Those methods panic.
type oplogCursorBuffer struct {
	store      *oplog.Store
	startPoint core.Timestamp
	endPoint   *core.Timestamp
	cursor     *oplog.Cursor
	fail       FailFn
	logger     *slog.Logger
}

var _ replication.OplogBuffer = (*oplogCursorBuffer)(nil)

func newOplogCursorBuffer(store *oplog.Store, startPoint core.Timestamp, endPoint *core.Timestamp, fail FailFn, logger *slog.Logger) *oplogCursorBuffer {
	return &oplogCursorBuffer{
		store:      store,
		startPoint: startPoint,
		endPoint:   endPoint,
		fail:       fail,
		logger:     logger,
	}
}

// Startup opens the forward cursor and consumes the first entry, which must
// exist and sit exactly at the start point: the caller promised the start
// point is an applied oplog entry, so it is skipped.
func (b *oplogCursorBuffer) Startup(ctx context.Context) error {
	b.cursor = b.store.ForwardCursor(b.startPoint, b.endPoint)

	first, ok := b.cursor.Next()
	if !ok {
		// The caller checked that the top of the oplog is >= the start
		// point, so an empty cursor means a storage or cursor bug.
		b.fail(40293, "Couldn't find any entries in the oplog, which should be impossible",
			"start_point", b.startPoint, "end_point", endPointString(b.endPoint))
		return core.ErrBufferClosed
	}
	if first.TS != b.startPoint {
		b.fail(40292, "Oplog entry at start point is missing",
			"start_point", b.startPoint, "first_timestamp_found", first.TS)
		return core.ErrBufferClosed
	}
	return nil
}

func (b *oplogCursorBuffer) Shutdown(ctx context.Context) error {
	b.cursor = nil
	return nil
}

func (b *oplogCursorBuffer) IsEmpty() bool {
	if b.cursor == nil {
		return true
	}
	_, ok := b.cursor.Peek()
	return !ok
}

func (b *oplogCursorBuffer) Peek(ctx context.Context) (*core.OplogEntry, bool) {
	if b.cursor == nil {
		return nil, false
	}
	return b.cursor.Peek()
}

func (b *oplogCursorBuffer) TryPop(ctx context.Context) (*core.OplogEntry, bool) {
	if b.cursor == nil {
		return nil, false
	}
	return b.cursor.Next()
}

// The push side of the contract is a one-way door recovery never opens.

func (b *oplogCursorBuffer) Push(ctx context.Context, entries ...*core.OplogEntry) error {
	panic(unreachable("Push"))
}

func (b *oplogCursorBuffer) WaitForSpace(ctx context.Context, size int64) error {
	panic(unreachable("WaitForSpace"))
}

func (b *oplogCursorBuffer) WaitForData(d time.Duration) bool {
	panic(unreachable("WaitForData"))
}

func (b *oplogCursorBuffer) MaxSize() int64 {
	panic(unreachable("MaxSize"))
}

func (b *oplogCursorBuffer) Size() int64 {
	panic(unreachable("Size"))
}

func (b *oplogCursorBuffer) Count() int {
	panic(unreachable("Count"))
}

func (b *oplogCursorBuffer) Clear(ctx context.Context) error {
	panic(unreachable("Clear"))
}

func (b *oplogCursorBuffer) LastObjectPushed(ctx context.Context) (*core.OplogEntry, bool) {
	panic(unreachable("LastObjectPushed"))
}

func unreachable(method string) string {
	return fmt.Sprintf("oplog cursor buffer: %s must never be called", method)
}

func endPointString(endPoint *core.Timestamp) string {
	if endPoint == nil {
		return "none"
	}
	return endPoint.String()
}
