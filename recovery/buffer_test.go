package recovery

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/nexusdoc/core"
	"github.com/INLOpen/nexusdoc/oplog"
)

func newBufferTestStore(t *testing.T, timestamps ...core.Timestamp) *oplog.Store {
	t.Helper()
	store, err := oplog.Open(oplog.Options{
		Path:        filepath.Join(t.TempDir(), core.OplogFileName),
		Compression: core.CompressionNone,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	for _, ts := range timestamps {
		require.NoError(t, store.Append(&core.OplogEntry{
			TS: ts, Term: 1, Kind: core.OpInsert, Collection: "c", Key: []byte(ts.String()),
		}))
	}
	return store
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCursorBuffer_SkipsTheStartEntry(t *testing.T) {
	ctx := context.Background()
	store := newBufferTestStore(t, ts(10, 1), ts(10, 2), ts(10, 3))

	b := newOplogCursorBuffer(store, ts(10, 1), nil, panicFail, discardLogger())
	require.NoError(t, b.Startup(ctx))

	// The entry at the start point is already applied and was consumed.
	first, ok := b.Peek(ctx)
	require.True(t, ok)
	assert.Equal(t, ts(10, 2), first.TS)
}

func TestCursorBuffer_PeekIsIdempotentAndPopAdvances(t *testing.T) {
	ctx := context.Background()
	store := newBufferTestStore(t, ts(10, 1), ts(10, 2), ts(10, 3))

	b := newOplogCursorBuffer(store, ts(10, 1), nil, panicFail, discardLogger())
	require.NoError(t, b.Startup(ctx))

	p1, _ := b.Peek(ctx)
	p2, _ := b.Peek(ctx)
	assert.Equal(t, p1.TS, p2.TS)

	popped, ok := b.TryPop(ctx)
	require.True(t, ok)
	assert.Equal(t, ts(10, 2), popped.TS)

	popped, ok = b.TryPop(ctx)
	require.True(t, ok)
	assert.Equal(t, ts(10, 3), popped.TS)

	assert.True(t, b.IsEmpty())
	_, ok = b.TryPop(ctx)
	assert.False(t, ok)
}

func TestCursorBuffer_EndPointBoundsTheRange(t *testing.T) {
	ctx := context.Background()
	store := newBufferTestStore(t, ts(10, 1), ts(10, 2), ts(10, 3), ts(10, 4))

	end := ts(10, 3)
	b := newOplogCursorBuffer(store, ts(10, 1), &end, panicFail, discardLogger())
	require.NoError(t, b.Startup(ctx))

	var seen []core.Timestamp
	for {
		e, ok := b.TryPop(ctx)
		if !ok {
			break
		}
		seen = append(seen, e.TS)
	}
	assert.Equal(t, []core.Timestamp{ts(10, 2), ts(10, 3)}, seen)
}

func TestCursorBuffer_MissingStartEntryIsFatal(t *testing.T) {
	ctx := context.Background()
	store := newBufferTestStore(t, ts(10, 2), ts(10, 3))

	// (10,1) does not exist; the first entry found is (10,2).
	b := newOplogCursorBuffer(store, ts(10, 1), nil, panicFail, discardLogger())
	expectFail(t, 40292, func() {
		b.Startup(ctx)
	})
}

func TestCursorBuffer_EmptyRangeIsFatal(t *testing.T) {
	ctx := context.Background()
	store := newBufferTestStore(t, ts(10, 1))

	b := newOplogCursorBuffer(store, ts(11, 1), nil, panicFail, discardLogger())
	expectFail(t, 40293, func() {
		b.Startup(ctx)
	})
}

func TestCursorBuffer_ShutdownEmptiesTheBuffer(t *testing.T) {
	ctx := context.Background()
	store := newBufferTestStore(t, ts(10, 1), ts(10, 2))

	b := newOplogCursorBuffer(store, ts(10, 1), nil, panicFail, discardLogger())
	require.NoError(t, b.Startup(ctx))
	require.NoError(t, b.Shutdown(ctx))

	assert.True(t, b.IsEmpty())
	_, ok := b.Peek(ctx)
	assert.False(t, ok)
}

func TestCursorBuffer_PushSideIsUnreachable(t *testing.T) {
	ctx := context.Background()
	store := newBufferTestStore(t, ts(10, 1))
	b := newOplogCursorBuffer(store, ts(10, 1), nil, panicFail, discardLogger())

	assert.Panics(t, func() { b.Push(ctx, &core.OplogEntry{}) })
	assert.Panics(t, func() { b.WaitForSpace(ctx, 1) })
	assert.Panics(t, func() { b.WaitForData(0) })
	assert.Panics(t, func() { b.MaxSize() })
	assert.Panics(t, func() { b.Size() })
	assert.Panics(t, func() { b.Count() })
	assert.Panics(t, func() { b.Clear(ctx) })
	assert.Panics(t, func() { b.LastObjectPushed(ctx) })
}
