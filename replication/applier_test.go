package replication

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/nexusdoc/core"
	"github.com/INLOpen/nexusdoc/docstore"
	"github.com/INLOpen/nexusdoc/markers"
)

// sliceBuffer is a minimal PullBuffer over a fixed slice of entries.
type sliceBuffer struct {
	entries []*core.OplogEntry
	idx     int
}

var _ PullBuffer = (*sliceBuffer)(nil)

func (b *sliceBuffer) Startup(ctx context.Context) error  { return nil }
func (b *sliceBuffer) Shutdown(ctx context.Context) error { return nil }
func (b *sliceBuffer) IsEmpty() bool                      { return b.idx >= len(b.entries) }

func (b *sliceBuffer) Peek(ctx context.Context) (*core.OplogEntry, bool) {
	if b.IsEmpty() {
		return nil, false
	}
	return b.entries[b.idx], true
}

func (b *sliceBuffer) TryPop(ctx context.Context) (*core.OplogEntry, bool) {
	if b.IsEmpty() {
		return nil, false
	}
	e := b.entries[b.idx]
	b.idx++
	return e, true
}

func testEntries(n int) []*core.OplogEntry {
	entries := make([]*core.OplogEntry, n)
	for i := 0; i < n; i++ {
		entries[i] = &core.OplogEntry{
			TS:         core.NewTimestamp(10, uint32(i+1)),
			Term:       1,
			Kind:       core.OpInsert,
			Collection: "c",
			Key:        []byte{byte(i)},
			Value:      []byte("value"),
		}
	}
	return entries
}

func newTestApplier(t *testing.T, buffer PullBuffer, docs *docstore.Store) *OplogApplier {
	t.Helper()
	store, err := markers.Open(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return NewOplogApplier(buffer, docs, store, Options{
		Mode:           ApplyRecovering,
		WriterPoolSize: 2,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestGetNextApplierBatch_OpsLimit(t *testing.T) {
	ctx := context.Background()
	buffer := &sliceBuffer{entries: testEntries(5)}
	a := newTestApplier(t, buffer, docstore.NewStore())

	batch, err := a.GetNextApplierBatch(ctx, BatchLimits{Ops: 2})
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	batch, err = a.GetNextApplierBatch(ctx, BatchLimits{Ops: 2})
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	batch, err = a.GetNextApplierBatch(ctx, BatchLimits{Ops: 2})
	require.NoError(t, err)
	assert.Len(t, batch, 1)

	batch, err = a.GetNextApplierBatch(ctx, BatchLimits{Ops: 2})
	require.NoError(t, err)
	assert.Empty(t, batch)
	assert.True(t, buffer.IsEmpty())
}

func TestGetNextApplierBatch_BytesLimit(t *testing.T) {
	ctx := context.Background()
	entries := testEntries(3)
	entrySize := int64(entries[0].EstimatedSize())
	buffer := &sliceBuffer{entries: entries}
	a := newTestApplier(t, buffer, docstore.NewStore())

	// A budget of two entries splits 3 entries into 2 + 1.
	batch, err := a.GetNextApplierBatch(ctx, BatchLimits{Bytes: 2 * entrySize})
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	batch, err = a.GetNextApplierBatch(ctx, BatchLimits{Bytes: 2 * entrySize})
	require.NoError(t, err)
	assert.Len(t, batch, 1)
}

func TestGetNextApplierBatch_OversizedFirstEntryIsAdmitted(t *testing.T) {
	ctx := context.Background()
	buffer := &sliceBuffer{entries: testEntries(2)}
	a := newTestApplier(t, buffer, docstore.NewStore())

	batch, err := a.GetNextApplierBatch(ctx, BatchLimits{Bytes: 1})
	require.NoError(t, err)
	assert.Len(t, batch, 1, "first entry must always be admitted")
}

func TestApplyOplogBatch_AppliesAndReturnsLastOpTime(t *testing.T) {
	ctx := context.Background()
	entries := testEntries(4)
	docs := docstore.NewStore()
	a := newTestApplier(t, &sliceBuffer{}, docs)

	lastApplied, err := a.ApplyOplogBatch(ctx, entries)
	require.NoError(t, err)
	assert.Equal(t, entries[3].OpTime(), lastApplied)

	for _, e := range entries {
		v, ok := docs.Get("c", e.Key)
		require.True(t, ok)
		assert.Equal(t, []byte("value"), v)
	}
}

func TestApplyOplogBatch_EmptyBatchIsAnError(t *testing.T) {
	a := newTestApplier(t, &sliceBuffer{}, docstore.NewStore())
	_, err := a.ApplyOplogBatch(context.Background(), nil)
	assert.Error(t, err)
}

func TestApplyOplogBatch_ReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	entries := testEntries(3)
	docs := docstore.NewStore()
	a := newTestApplier(t, &sliceBuffer{}, docs)

	_, err := a.ApplyOplogBatch(ctx, entries)
	require.NoError(t, err)
	_, err = a.ApplyOplogBatch(ctx, entries)
	require.NoError(t, err)

	assert.Equal(t, 3, docs.Len())
}

// recordingObserver captures callbacks for assertions.
type recordingObserver struct {
	begins int
	ends   int
	last   core.OpTime
}

func (o *recordingObserver) OnBatchBegin(batch []*core.OplogEntry) { o.begins++ }
func (o *recordingObserver) OnBatchEnd(lastApplied core.OpTime, batch []*core.OplogEntry) {
	o.ends++
	o.last = lastApplied
}

func TestApplyOplogBatch_NotifiesObserver(t *testing.T) {
	ctx := context.Background()
	entries := testEntries(2)
	obs := &recordingObserver{}

	store, err := markers.Open(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	a := NewOplogApplier(&sliceBuffer{}, docstore.NewStore(), store, Options{
		Mode:     ApplyRecovering,
		Observer: obs,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	_, err = a.ApplyOplogBatch(ctx, entries)
	require.NoError(t, err)
	assert.Equal(t, 1, obs.begins)
	assert.Equal(t, 1, obs.ends)
	assert.Equal(t, entries[1].OpTime(), obs.last)
}

func TestDefaultBatchLimits(t *testing.T) {
	limits := DefaultBatchLimits(slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Equal(t, defaultBatchMaxOps, limits.Ops)
	assert.GreaterOrEqual(t, limits.Bytes, int64(batchBytesFloor))
	assert.LessOrEqual(t, limits.Bytes, int64(batchBytesCeiling))
}
