package replication

import "github.com/INLOpen/nexusdoc/core"

// Observer receives callbacks around each applied batch.
type Observer interface {
	// OnBatchBegin fires before a non-empty batch is applied.
	OnBatchBegin(batch []*core.OplogEntry)
	// OnBatchEnd fires after the batch commits, with the OpTime of its last
	// entry.
	OnBatchEnd(lastApplied core.OpTime, batch []*core.OplogEntry)
}

// NoopObserver discards all callbacks.
type NoopObserver struct{}

var _ Observer = (*NoopObserver)(nil)

func (NoopObserver) OnBatchBegin([]*core.OplogEntry)            {}
func (NoopObserver) OnBatchEnd(core.OpTime, []*core.OplogEntry) {}
