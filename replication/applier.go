package replication

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/INLOpen/nexusdoc/core"
	"github.com/INLOpen/nexusdoc/docstore"
	"github.com/INLOpen/nexusdoc/markers"
)

// ApplyMode selects how the applier treats incoming entries.
type ApplyMode int

const (
	// ApplySecondary is steady-state application on a live secondary.
	ApplySecondary ApplyMode = iota
	// ApplyRecovering replays entries that are already durable in the local
	// oplog. Every operation must be idempotent in this mode, since a batch
	// may be replayed after a crash.
	ApplyRecovering
)

func (m ApplyMode) String() string {
	switch m {
	case ApplySecondary:
		return "secondary"
	case ApplyRecovering:
		return "recovering"
	default:
		return "unknown"
	}
}

// Options holds configuration for constructing an OplogApplier.
type Options struct {
	Mode ApplyMode
	// WriterPoolSize is the number of parallel writers within a batch.
	// Values below 1 are treated as 1.
	WriterPoolSize int
	Observer       Observer
	Logger         *slog.Logger
}

// OplogApplier ingests a pull-based buffer of oplog entries and commits them
// to the document store in batches. Batches are strictly serial with respect
// to each other; entries within a batch are parallelised across the writer
// pool, partitioned by document key so per-document order is preserved.
type OplogApplier struct {
	buffer      PullBuffer
	docs        *docstore.Store
	consistency markers.Markers
	mode        ApplyMode
	poolSize    int
	observer    Observer
	logger      *slog.Logger
}

// NewOplogApplier creates an applier over the given buffer and target store.
func NewOplogApplier(buffer PullBuffer, docs *docstore.Store, consistency markers.Markers, opts Options) *OplogApplier {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	poolSize := opts.WriterPoolSize
	if poolSize < 1 {
		poolSize = 1
	}
	observer := opts.Observer
	if observer == nil {
		observer = NoopObserver{}
	}
	return &OplogApplier{
		buffer:      buffer,
		docs:        docs,
		consistency: consistency,
		mode:        opts.Mode,
		poolSize:    poolSize,
		observer:    observer,
		logger:      logger.With("component", "OplogApplier", "mode", opts.Mode.String()),
	}
}

// GetNextApplierBatch drains the buffer into a batch bounded by limits. An
// empty batch means the buffer is exhausted. The first entry is always
// admitted even when it alone exceeds the byte budget.
func (a *OplogApplier) GetNextApplierBatch(ctx context.Context, limits BatchLimits) ([]*core.OplogEntry, error) {
	var batch []*core.OplogEntry
	var batchBytes int64

	for {
		if limits.Ops > 0 && len(batch) >= limits.Ops {
			break
		}
		entry, ok := a.buffer.Peek(ctx)
		if !ok {
			break
		}
		entrySize := int64(entry.EstimatedSize())
		if len(batch) > 0 && limits.Bytes > 0 && batchBytes+entrySize > limits.Bytes {
			break
		}

		popped, ok := a.buffer.TryPop(ctx)
		if !ok {
			return nil, fmt.Errorf("buffer peeked an entry but pop returned nothing")
		}
		if popped.TS != entry.TS {
			return nil, fmt.Errorf("buffer popped %s after peeking %s", popped.TS, entry.TS)
		}
		batch = append(batch, popped)
		batchBytes += entrySize
	}
	return batch, nil
}

// ApplyOplogBatch applies a non-empty batch and returns the OpTime of its
// last entry. The batch commits atomically per entry; a failure leaves the
// batch incompletely applied and the caller must treat the run as failed.
func (a *OplogApplier) ApplyOplogBatch(ctx context.Context, batch []*core.OplogEntry) (core.OpTime, error) {
	if len(batch) == 0 {
		return core.OpTime{}, fmt.Errorf("cannot apply an empty batch of oplog entries")
	}

	a.observer.OnBatchBegin(batch)

	// Partition by document key so each writer sees its keys in oplog
	// order; cross-key order within a batch is not observable.
	partitions := make([][]*core.OplogEntry, a.poolSize)
	for _, entry := range batch {
		idx := partitionIndex(entry, a.poolSize)
		partitions[idx] = append(partitions[idx], entry)
	}

	g, _ := errgroup.WithContext(ctx)
	for _, part := range partitions {
		if len(part) == 0 {
			continue
		}
		part := part
		g.Go(func() error {
			for _, entry := range part {
				if err := a.docs.Apply(entry); err != nil {
					return fmt.Errorf("failed to apply oplog entry %s: %w", entry.OpTime(), err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return core.OpTime{}, err
	}

	lastApplied := batch[len(batch)-1].OpTime()
	a.observer.OnBatchEnd(lastApplied, batch)
	a.logger.Debug("Applied oplog batch", "ops", len(batch), "last_applied", lastApplied)
	return lastApplied, nil
}

// Mode returns the applier's configured mode.
func (a *OplogApplier) Mode() ApplyMode {
	return a.mode
}

func partitionIndex(entry *core.OplogEntry, poolSize int) int {
	h := fnv.New32a()
	h.Write([]byte(entry.Collection))
	h.Write(entry.Key)
	return int(h.Sum32() % uint32(poolSize))
}
