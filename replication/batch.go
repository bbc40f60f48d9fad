package replication

import (
	"log/slog"

	"github.com/shirou/gopsutil/v3/mem"
)

const (
	// defaultBatchMaxOps caps the number of operations per applier batch.
	defaultBatchMaxOps = 5000
	// batchBytesFloor and batchBytesCeiling bound the derived byte budget.
	batchBytesFloor   = 16 * 1024 * 1024
	batchBytesCeiling = 100 * 1024 * 1024
)

// BatchLimits bounds a single applier batch.
type BatchLimits struct {
	// Bytes caps the summed entry sizes of a batch; at least one entry is
	// always admitted regardless.
	Bytes int64
	// Ops caps the entry count of a batch. Zero means unlimited.
	Ops int
}

// DefaultBatchLimits derives batch limits from the host: ops fixed, bytes a
// tenth of available memory clamped to [16MiB, 100MiB]. When the probe
// fails, the ceiling is used.
func DefaultBatchLimits(logger *slog.Logger) BatchLimits {
	limits := BatchLimits{Bytes: batchBytesCeiling, Ops: defaultBatchMaxOps}

	vm, err := mem.VirtualMemory()
	if err != nil {
		if logger != nil {
			logger.Warn("Failed to probe system memory for batch limits, using ceiling", "error", err)
		}
		return limits
	}

	derived := int64(vm.Available / 10)
	if derived < batchBytesFloor {
		derived = batchBytesFloor
	}
	if derived > batchBytesCeiling {
		derived = batchBytesCeiling
	}
	limits.Bytes = derived
	return limits
}
