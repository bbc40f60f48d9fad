package checkpoint

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/INLOpen/nexusdoc/core"
)

// The checkpoint metadata file records whether the newest durable checkpoint
// is tied to a stable timestamp. It is the first file recovery consults, so
// it uses the same framing as every other persistent record in the system:
// a FileHeader followed by the checkpoint fields and a crc32 over them. A
// torn or bit-rotted record must fail loudly; silently degrading a stable
// checkpoint to an unstable one would change which recovery path runs.

// encode renders a checkpoint as header | fields | crc32(fields).
func encode(cp core.Checkpoint) ([]byte, error) {
	var buf bytes.Buffer
	header := core.NewFileHeader(core.CheckpointMagicNumber, core.CompressionNone)
	if err := binary.Write(&buf, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to encode checkpoint header: %w", err)
	}
	fieldsStart := buf.Len()
	if err := binary.Write(&buf, binary.LittleEndian, &cp); err != nil {
		return nil, fmt.Errorf("failed to encode checkpoint fields: %w", err)
	}
	sum := crc32.ChecksumIEEE(buf.Bytes()[fieldsStart:])
	if err := binary.Write(&buf, binary.LittleEndian, sum); err != nil {
		return nil, fmt.Errorf("failed to encode checkpoint checksum: %w", err)
	}
	return buf.Bytes(), nil
}

// Write atomically replaces the checkpoint metadata in dir. A checkpoint
// that claims a stable timestamp but records a null one is rejected:
// recovery treats that state as impossible, so it must never be produced.
func Write(dir string, cp core.Checkpoint) error {
	ts, stable := cp.StableTimestamp()
	if stable && ts.IsZero() {
		return fmt.Errorf("refusing to persist a stable checkpoint at a null timestamp")
	}
	if !stable && (cp.StableSeconds != 0 || cp.StableIncrement != 0) {
		return fmt.Errorf("refusing to persist an unstable checkpoint carrying timestamp %s",
			core.NewTimestamp(cp.StableSeconds, cp.StableIncrement))
	}

	data, err := encode(cp)
	if err != nil {
		return err
	}
	return writeFileAtomic(dir, core.CheckpointFileName, data)
}

// writeFileAtomic stages data in a temp file, fsyncs it, closes it, and
// renames it over the final name, so readers only ever observe a complete
// record. The close must precede the rename for Windows.
func writeFileAtomic(dir, name string, data []byte) error {
	tempPath := filepath.Join(dir, core.FormatTempFilename(name, "tmp"))
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}

	_, werr := file.Write(data)
	if werr == nil {
		werr = file.Sync()
	}
	if cerr := file.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to stage %s: %w", name, werr)
	}

	if err := os.Rename(tempPath, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("failed to publish %s: %w", name, err)
	}
	return nil
}

// Read loads the checkpoint metadata from dir. found is false when no
// checkpoint has been taken yet; a record that is present but corrupt or
// internally inconsistent is an error.
func Read(dir string) (core.Checkpoint, bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, core.CheckpointFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return core.Checkpoint{}, false, nil
		}
		return core.Checkpoint{}, false, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	r := bytes.NewReader(data)
	var header core.FileHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return core.Checkpoint{}, true, fmt.Errorf("checkpoint file is truncated at the header: %w", err)
	}
	if header.Magic != core.CheckpointMagicNumber {
		return core.Checkpoint{}, true, fmt.Errorf("invalid checkpoint magic number: got %x, want %x", header.Magic, core.CheckpointMagicNumber)
	}
	if header.Version != core.FormatVersion {
		return core.Checkpoint{}, true, fmt.Errorf("unsupported checkpoint format version: %d", header.Version)
	}

	fieldsStart := len(data) - r.Len()
	var cp core.Checkpoint
	if err := binary.Read(r, binary.LittleEndian, &cp); err != nil {
		return core.Checkpoint{}, true, fmt.Errorf("checkpoint file is truncated at the fields: %w", err)
	}
	fieldsEnd := len(data) - r.Len()

	var sum uint32
	if err := binary.Read(r, binary.LittleEndian, &sum); err != nil {
		return core.Checkpoint{}, true, fmt.Errorf("checkpoint file is truncated at the checksum: %w", err)
	}
	if crc32.ChecksumIEEE(data[fieldsStart:fieldsEnd]) != sum {
		return core.Checkpoint{}, true, fmt.Errorf("checkpoint checksum mismatch")
	}

	ts, stable := cp.StableTimestamp()
	if stable && ts.IsZero() {
		return core.Checkpoint{}, true, fmt.Errorf("checkpoint claims a stable timestamp but records a null one")
	}
	if !stable && (cp.StableSeconds != 0 || cp.StableIncrement != 0) {
		return core.Checkpoint{}, true, fmt.Errorf("checkpoint is unstable but carries timestamp %s",
			core.NewTimestamp(cp.StableSeconds, cp.StableIncrement))
	}
	return cp, true, nil
}
