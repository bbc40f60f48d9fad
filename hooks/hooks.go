package hooks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/INLOpen/nexusdoc/core"
)

// Recovery hook points. Recovery runs on a single thread before the node
// accepts traffic, so every callback runs inline on that thread in
// registration order: there is no async dispatch, no priorities, and a slow
// listener directly extends startup time.

// RecoverySummary describes a finished recovery pass.
type RecoverySummary struct {
	// Stable is set when the pass recovered from a stable checkpoint.
	Stable bool
	// StartPoint and EndPoint bound the replayed window; both are zero when
	// the pass had nothing to replay.
	StartPoint core.Timestamp
	EndPoint   core.Timestamp
	Duration   time.Duration
}

// TruncateSummary describes a ragged-tail truncation of the oplog.
type TruncateSummary struct {
	TruncateAfterPoint core.Timestamp
	Duration           time.Duration
}

// BatchSummary describes one committed applier batch.
type BatchSummary struct {
	Ops         int
	LastApplied core.OpTime
}

// Callback signatures. Only the pre-recovery hook returns an error: a
// non-nil error vetoes the pass before it mutates anything, and the driver
// treats a veto as fatal. The post hooks observe state that is already
// durable, so they have nothing left to veto.
type (
	PreRecoveryFunc       func(ctx context.Context) error
	PostRecoveryFunc      func(ctx context.Context, s RecoverySummary)
	PostOplogTruncateFunc func(ctx context.Context, s TruncateSummary)
	PostBatchApplyFunc    func(ctx context.Context, s BatchSummary)
)

// Manager holds the registered recovery callbacks. Registration is
// goroutine-safe; the Fire methods are only ever called from the recovery
// thread. Callbacks must not register further callbacks.
type Manager struct {
	mu           sync.Mutex
	preRecovery  []PreRecoveryFunc
	postRecovery []PostRecoveryFunc
	postTruncate []PostOplogTruncateFunc
	postBatch    []PostBatchApplyFunc
}

// NewManager creates an empty callback registry.
func NewManager() *Manager {
	return &Manager{}
}

// OnPreRecovery registers fn to run before a recovery pass mutates anything.
func (m *Manager) OnPreRecovery(fn PreRecoveryFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preRecovery = append(m.preRecovery, fn)
}

// OnPostRecovery registers fn to run after a recovery pass completes.
func (m *Manager) OnPostRecovery(fn PostRecoveryFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postRecovery = append(m.postRecovery, fn)
}

// OnPostOplogTruncate registers fn to run after the oplog tail is truncated.
func (m *Manager) OnPostOplogTruncate(fn PostOplogTruncateFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postTruncate = append(m.postTruncate, fn)
}

// OnPostBatchApply registers fn to run after each applier batch commits.
func (m *Manager) OnPostBatchApply(fn PostBatchApplyFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postBatch = append(m.postBatch, fn)
}

// FirePreRecovery runs the pre-recovery callbacks in registration order,
// stopping at the first veto.
func (m *Manager) FirePreRecovery(ctx context.Context) error {
	m.mu.Lock()
	fns := m.preRecovery
	m.mu.Unlock()

	for i, fn := range fns {
		if err := fn(ctx); err != nil {
			return fmt.Errorf("pre-recovery hook %d vetoed the recovery pass: %w", i, err)
		}
	}
	return nil
}

// FirePostRecovery runs the post-recovery callbacks in registration order.
func (m *Manager) FirePostRecovery(ctx context.Context, s RecoverySummary) {
	m.mu.Lock()
	fns := m.postRecovery
	m.mu.Unlock()

	for _, fn := range fns {
		fn(ctx, s)
	}
}

// FirePostOplogTruncate runs the truncation callbacks in registration order.
func (m *Manager) FirePostOplogTruncate(ctx context.Context, s TruncateSummary) {
	m.mu.Lock()
	fns := m.postTruncate
	m.mu.Unlock()

	for _, fn := range fns {
		fn(ctx, s)
	}
}

// FirePostBatchApply runs the batch callbacks in registration order.
func (m *Manager) FirePostBatchApply(ctx context.Context, s BatchSummary) {
	m.mu.Lock()
	fns := m.postBatch
	m.mu.Unlock()

	for _, fn := range fns {
		fn(ctx, s)
	}
}
