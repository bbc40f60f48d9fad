package markers

import (
	"context"

	"github.com/INLOpen/nexusdoc/core"
)

// Markers is the persisted small-key-value face for the replication
// consistency markers. Implementations must make every setter durable before
// returning, except where documented otherwise.
type Markers interface {
	// InitialSyncFlag reports whether an initial sync owns the node.
	InitialSyncFlag(ctx context.Context) (bool, error)
	SetInitialSyncFlag(ctx context.Context, set bool) error

	// AppliedThrough is the OpTime of the last operation known to have been
	// fully applied to the data files; null after a clean shutdown or a
	// shutdown as primary.
	AppliedThrough(ctx context.Context) (core.OpTime, error)
	SetAppliedThrough(ctx context.Context, opTime core.OpTime) error

	// OplogTruncateAfterPoint, when non-null, marks the oplog as possibly
	// holding entries after this point that were never durably ordered.
	OplogTruncateAfterPoint(ctx context.Context) (core.Timestamp, error)
	SetOplogTruncateAfterPoint(ctx context.Context, ts core.Timestamp) error

	// MinValid is the OpTime beyond which the data files must be considered
	// inconsistent until applied.
	MinValid(ctx context.Context) (core.OpTime, error)
	SetMinValid(ctx context.Context, opTime core.OpTime) error
}
