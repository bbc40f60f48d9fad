package markers

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/INLOpen/nexusdoc/core"
)

// state is the on-disk record, written as fixed-width little-endian fields
// after the file header.
type state struct {
	InitialSyncFlag         uint8
	AppliedThroughSeconds   uint32
	AppliedThroughIncrement uint32
	AppliedThroughTerm      int64
	TruncateSeconds         uint32
	TruncateIncrement       uint32
	MinValidSeconds         uint32
	MinValidIncrement       uint32
	MinValidTerm            int64
}

// Store is a file-backed Markers implementation. The whole marker set is
// tiny, so every setter rewrites the file with the write-and-rename strategy
// and fsyncs the temp file before the rename, making each update atomic and
// durable.
type Store struct {
	mu     sync.RWMutex
	dir    string
	state  state
	logger *slog.Logger
}

var _ Markers = (*Store)(nil)

// Open loads the markers file from dir, creating an all-null marker set when
// the file does not exist yet.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default().With("component", "ConsistencyMarkers")
	} else {
		logger = logger.With("component", "ConsistencyMarkers")
	}

	s := &Store{dir: dir, logger: logger}

	path := filepath.Join(dir, core.MarkersFileName)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to open markers file: %w", err)
	}
	defer file.Close()

	var magic uint32
	if err := binary.Read(file, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("failed to read markers magic number: %w", err)
	}
	if magic != core.MarkersMagicNumber {
		return nil, fmt.Errorf("invalid markers magic number: got %x, want %x", magic, core.MarkersMagicNumber)
	}
	var version uint8
	if err := binary.Read(file, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("failed to read markers version: %w", err)
	}
	if err := binary.Read(file, binary.LittleEndian, &s.state); err != nil {
		return nil, fmt.Errorf("failed to read markers state: %w", err)
	}
	return s, nil
}

// persistLocked atomically writes the current state to disk.
func (s *Store) persistLocked() error {
	tempPath := filepath.Join(s.dir, core.FormatTempFilename(core.MarkersFileName, "tmp"))
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temp markers file: %w", err)
	}

	if err := binary.Write(file, binary.LittleEndian, core.MarkersMagicNumber); err != nil {
		file.Close()
		return fmt.Errorf("failed to write markers magic number: %w", err)
	}
	if err := binary.Write(file, binary.LittleEndian, core.FormatVersion); err != nil {
		file.Close()
		return fmt.Errorf("failed to write markers version: %w", err)
	}
	if err := binary.Write(file, binary.LittleEndian, &s.state); err != nil {
		file.Close()
		return fmt.Errorf("failed to write markers state: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("failed to sync temp markers file: %w", err)
	}
	// Close before renaming for Windows compatibility.
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close temp markers file before rename: %w", err)
	}

	finalPath := filepath.Join(s.dir, core.MarkersFileName)
	if err := os.Rename(tempPath, finalPath); err != nil {
		return fmt.Errorf("failed to rename temp markers file: %w", err)
	}
	return nil
}

func (s *Store) InitialSyncFlag(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.InitialSyncFlag != 0, nil
}

func (s *Store) SetInitialSyncFlag(ctx context.Context, set bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set {
		s.state.InitialSyncFlag = 1
	} else {
		s.state.InitialSyncFlag = 0
	}
	return s.persistLocked()
}

func (s *Store) AppliedThrough(ctx context.Context) (core.OpTime, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return core.OpTime{
		TS:   core.NewTimestamp(s.state.AppliedThroughSeconds, s.state.AppliedThroughIncrement),
		Term: s.state.AppliedThroughTerm,
	}, nil
}

func (s *Store) SetAppliedThrough(ctx context.Context, opTime core.OpTime) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.AppliedThroughSeconds = opTime.TS.Seconds
	s.state.AppliedThroughIncrement = opTime.TS.Increment
	s.state.AppliedThroughTerm = opTime.Term
	s.logger.Debug("Setting appliedThrough marker", "applied_through", opTime)
	return s.persistLocked()
}

func (s *Store) OplogTruncateAfterPoint(ctx context.Context) (core.Timestamp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return core.NewTimestamp(s.state.TruncateSeconds, s.state.TruncateIncrement), nil
}

func (s *Store) SetOplogTruncateAfterPoint(ctx context.Context, ts core.Timestamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.TruncateSeconds = ts.Seconds
	s.state.TruncateIncrement = ts.Increment
	s.logger.Debug("Setting oplogTruncateAfterPoint marker", "truncate_after_point", ts)
	return s.persistLocked()
}

func (s *Store) MinValid(ctx context.Context) (core.OpTime, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return core.OpTime{
		TS:   core.NewTimestamp(s.state.MinValidSeconds, s.state.MinValidIncrement),
		Term: s.state.MinValidTerm,
	}, nil
}

func (s *Store) SetMinValid(ctx context.Context, opTime core.OpTime) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.MinValidSeconds = opTime.TS.Seconds
	s.state.MinValidIncrement = opTime.TS.Increment
	s.state.MinValidTerm = opTime.Term
	return s.persistLocked()
}
