package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/nexusdoc/core"
)

func TestWriteAndRead_Stable(t *testing.T) {
	dir := t.TempDir()
	cp := core.NewStableCheckpoint(core.NewTimestamp(10, 5))

	require.NoError(t, Write(dir, cp))

	got, found, err := Read(dir)
	require.NoError(t, err)
	require.True(t, found)

	ts, stable := got.StableTimestamp()
	assert.True(t, stable)
	assert.Equal(t, core.NewTimestamp(10, 5), ts)
}

func TestWriteAndRead_Unstable(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Write(dir, core.Checkpoint{}))

	got, found, err := Read(dir)
	require.NoError(t, err)
	require.True(t, found)

	_, stable := got.StableTimestamp()
	assert.False(t, stable)
}

func TestWrite_OverwritesPreviousRecord(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Write(dir, core.NewStableCheckpoint(core.NewTimestamp(10, 1))))
	require.NoError(t, Write(dir, core.NewStableCheckpoint(core.NewTimestamp(10, 2))))

	got, found, err := Read(dir)
	require.NoError(t, err)
	require.True(t, found)
	ts, _ := got.StableTimestamp()
	assert.Equal(t, core.NewTimestamp(10, 2), ts)
}

func TestWrite_RejectsStableCheckpointAtNullTimestamp(t *testing.T) {
	err := Write(t.TempDir(), core.Checkpoint{HasStableTimestamp: 1})
	assert.Error(t, err)
}

func TestWrite_RejectsUnstableCheckpointCarryingTimestamp(t *testing.T) {
	err := Write(t.TempDir(), core.Checkpoint{StableSeconds: 10, StableIncrement: 1})
	assert.Error(t, err)
}

func TestRead_Missing(t *testing.T) {
	_, found, err := Read(t.TempDir())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRead_BadMagic(t *testing.T) {
	dir := t.TempDir()
	junk := make([]byte, 64)
	for i := range junk {
		junk[i] = byte(i + 1)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, core.CheckpointFileName), junk, 0644))

	_, found, err := Read(dir)
	assert.True(t, found)
	assert.Error(t, err)
}

func TestRead_DetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Write(dir, core.NewStableCheckpoint(core.NewTimestamp(10, 5))))

	path := filepath.Join(dir, core.CheckpointFileName)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// Flip a bit in the checkpoint fields, after the header.
	data[len(data)-5] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, found, err := Read(dir)
	assert.True(t, found)
	assert.Error(t, err)
}

func TestRead_DetectsTruncation(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Write(dir, core.NewStableCheckpoint(core.NewTimestamp(10, 5))))

	path := filepath.Join(dir, core.CheckpointFileName)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-2], 0644))

	_, found, err := Read(dir)
	assert.True(t, found)
	assert.Error(t, err)
}
