package markers

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/nexusdoc/core"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStore_FreshDirIsAllNull(t *testing.T) {
	ctx := context.Background()
	s, err := Open(t.TempDir(), testLogger())
	require.NoError(t, err)

	flag, err := s.InitialSyncFlag(ctx)
	require.NoError(t, err)
	assert.False(t, flag)

	applied, err := s.AppliedThrough(ctx)
	require.NoError(t, err)
	assert.True(t, applied.IsZero())

	truncate, err := s.OplogTruncateAfterPoint(ctx)
	require.NoError(t, err)
	assert.True(t, truncate.IsZero())

	minValid, err := s.MinValid(ctx)
	require.NoError(t, err)
	assert.True(t, minValid.IsZero())
}

func TestStore_SettersPersistAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir, testLogger())
	require.NoError(t, err)

	appliedThrough := core.NewOpTime(core.NewTimestamp(10, 4), 1)
	require.NoError(t, s.SetAppliedThrough(ctx, appliedThrough))
	require.NoError(t, s.SetOplogTruncateAfterPoint(ctx, core.NewTimestamp(10, 5)))
	require.NoError(t, s.SetMinValid(ctx, core.NewOpTime(core.NewTimestamp(9, 9), 1)))
	require.NoError(t, s.SetInitialSyncFlag(ctx, true))

	s2, err := Open(dir, testLogger())
	require.NoError(t, err)

	applied, err := s2.AppliedThrough(ctx)
	require.NoError(t, err)
	assert.Equal(t, appliedThrough, applied)

	truncate, err := s2.OplogTruncateAfterPoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.NewTimestamp(10, 5), truncate)

	minValid, err := s2.MinValid(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.NewOpTime(core.NewTimestamp(9, 9), 1), minValid)

	flag, err := s2.InitialSyncFlag(ctx)
	require.NoError(t, err)
	assert.True(t, flag)
}

func TestStore_ClearTruncatePoint(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.SetOplogTruncateAfterPoint(ctx, core.NewTimestamp(10, 5)))
	require.NoError(t, s.SetOplogTruncateAfterPoint(ctx, core.Timestamp{}))

	s2, err := Open(dir, testLogger())
	require.NoError(t, err)
	truncate, err := s2.OplogTruncateAfterPoint(ctx)
	require.NoError(t, err)
	assert.True(t, truncate.IsZero())
}
