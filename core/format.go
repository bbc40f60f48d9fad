package core

import (
	"encoding/binary"
	"fmt"
	"time"
)

// This file centralizes constants related to file formats, magic numbers,
// and other protocol-level identifiers used across the database.

// --- Magic Numbers ---
const (
	// OplogMagicNumber identifies the oplog record store file.
	OplogMagicNumber uint32 = 0x4F504C47 // "OPLG"
	// MarkersMagicNumber identifies the consistency markers file.
	MarkersMagicNumber uint32 = 0x4D524B53 // "MRKS"
	// CheckpointMagicNumber identifies the checkpoint metadata file.
	CheckpointMagicNumber uint32 = 0x54504B43
)

// --- File Names ---
const (
	// OplogFileName is the name of the oplog record store file.
	OplogFileName = "oplog.log"
	// MarkersFileName is the name of the consistency markers file.
	MarkersFileName = "markers.bin"
	// CheckpointFileName is the name of the file storing checkpoint information.
	CheckpointFileName = "CHECKPOINT"
)

// --- Protocol & Format Versions ---
const (
	// FormatVersion is the current version for all persistent file formats.
	FormatVersion uint8 = 1
)

// FileHeader is a standard header for all persistent log/index files.
type FileHeader struct {
	Magic          uint32
	Version        uint8
	CreatedAt      int64 // UnixNano timestamp
	CompressorType CompressionType
}

func (h *FileHeader) Size() int {
	return binary.Size(h)
}

// NewFileHeader creates a new header with the current time and specified magic number.
func NewFileHeader(magic uint32, compressorType CompressionType) FileHeader {
	return FileHeader{
		Magic:          magic,
		Version:        FormatVersion,
		CreatedAt:      time.Now().UnixNano(),
		CompressorType: compressorType,
	}
}

func FormatTempFilename(prefix, postfix string) string {
	return fmt.Sprintf("%s.%s", prefix, postfix)
}
