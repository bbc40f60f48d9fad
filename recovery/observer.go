package recovery

import (
	"context"
	"expvar"
	"log/slog"

	"github.com/INLOpen/nexusdoc/core"
	"github.com/INLOpen/nexusdoc/replication"
)

// levelTrace is one notch below debug; per-operation logging lives there so
// batch-level debug output stays readable.
const levelTrace = slog.LevelDebug - 4

// applierStats tracks and logs operations applied during recovery.
type applierStats struct {
	numBatches int
	numOps     int

	metricsBatches *expvar.Int
	metricsOps     *expvar.Int

	logger *slog.Logger
}

var _ replication.Observer = (*applierStats)(nil)

func newApplierStats(logger *slog.Logger, batches, ops *expvar.Int) *applierStats {
	return &applierStats{
		metricsBatches: batches,
		metricsOps:     ops,
		logger:         logger,
	}
}

func (s *applierStats) OnBatchBegin(batch []*core.OplogEntry) {
	s.numBatches++
	s.logger.Debug("Applying operations in batch",
		"batch", s.numBatches,
		"ops", len(batch),
		"first_optime", batch[0].OpTime(),
		"last_optime", batch[len(batch)-1].OpTime(),
		"ops_applied_so_far", s.numOps)

	s.numOps += len(batch)
	if s.metricsBatches != nil {
		s.metricsBatches.Add(1)
	}
	if s.metricsOps != nil {
		s.metricsOps.Add(int64(len(batch)))
	}

	if s.logger.Enabled(context.Background(), levelTrace) {
		for i, entry := range batch {
			s.logger.Log(context.Background(), levelTrace, "Applying op during replication recovery",
				"op", i+1,
				"batch_size", len(batch),
				"batch", s.numBatches,
				"entry", entry.String())
		}
	}
}

func (s *applierStats) OnBatchEnd(lastApplied core.OpTime, batch []*core.OplogEntry) {}

// Complete emits the terminal summary after the replay loop drains.
func (s *applierStats) Complete(applyThrough core.OpTime) {
	s.logger.Info("Applied operations during replication recovery",
		"ops_applied", s.numOps,
		"batches", s.numBatches,
		"apply_through_optime", applyThrough)
}
