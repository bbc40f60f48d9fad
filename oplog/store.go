package oplog

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"expvar"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/INLOpen/nexusdoc/compressors"
	"github.com/INLOpen/nexusdoc/core"
)

// RecordID is the opaque, monotonically increasing identity of a stored
// oplog record. It is the byte offset of the record inside the store file.
type RecordID int64

// NilRecordID is the zero RecordID; no valid record carries it.
const NilRecordID RecordID = 0

// Store is the oplog: a capped, append-mostly ordered record store keyed by
// entry timestamp. Records are framed the same way as all other persistent
// logs in the system: length (4 bytes) | payload | checksum (4 bytes), with
// the payload compressed according to the file header.
//
// The full record index is held in memory; the file is the durable copy.
type Store struct {
	mu         sync.RWMutex
	path       string
	file       *os.File
	writer     *bufio.Writer
	compressor core.Compressor

	// records are strictly increasing by ts; parallel to the file layout.
	records []record
	// tail is the file offset one past the last record.
	tail int64

	metricsEntriesWritten *expvar.Int
	metricsBytesWritten   *expvar.Int

	logger *slog.Logger
}

type record struct {
	id    RecordID
	entry *core.OplogEntry
}

// Options holds configuration for opening an oplog store.
type Options struct {
	// Path of the oplog file. The parent directory must exist.
	Path        string
	Compression core.CompressionType
	Logger      *slog.Logger

	EntriesWritten *expvar.Int
	BytesWritten   *expvar.Int
}

// Open creates or opens the oplog store at opts.Path, loading the full
// record index into memory. A torn record at the tail (from a crash mid
// append) is dropped with a warning; everything before it is kept.
func Open(opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("component", "OplogStore")
	} else {
		opts.Logger = opts.Logger.With("component", "OplogStore")
	}

	s := &Store{
		path:                  opts.Path,
		logger:                opts.Logger,
		metricsEntriesWritten: opts.EntriesWritten,
		metricsBytesWritten:   opts.BytesWritten,
	}

	file, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open oplog file %s: %w", opts.Path, err)
	}
	s.file = file

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat oplog file %s: %w", opts.Path, err)
	}

	if stat.Size() == 0 {
		header := core.NewFileHeader(core.OplogMagicNumber, opts.Compression)
		if err := binary.Write(file, binary.LittleEndian, &header); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write oplog header: %w", err)
		}
		if err := file.Sync(); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to sync oplog header: %w", err)
		}
		s.compressor, err = compressors.ForType(opts.Compression)
		if err != nil {
			file.Close()
			return nil, err
		}
	} else {
		if err := s.load(); err != nil {
			file.Close()
			return nil, err
		}
	}

	if s.tail == 0 {
		h := core.FileHeader{}
		s.tail = int64(h.Size())
	}
	if _, err := file.Seek(s.tail, io.SeekStart); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to seek oplog to tail: %w", err)
	}
	s.writer = bufio.NewWriter(file)
	return s, nil
}

// load reads the header and every record, rebuilding the in-memory index.
func (s *Store) load() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	var header core.FileHeader
	if err := binary.Read(s.file, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("failed to read oplog header: %w", err)
	}
	if header.Magic != core.OplogMagicNumber {
		return fmt.Errorf("invalid magic number in oplog %s: got %x, want %x", s.path, header.Magic, core.OplogMagicNumber)
	}

	var err error
	s.compressor, err = compressors.ForType(header.CompressorType)
	if err != nil {
		return err
	}

	offset := int64(header.Size())
	reader := bufio.NewReader(s.file)
	for {
		payload, recLen, rerr := readRecord(reader)
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			if errors.Is(rerr, io.ErrUnexpectedEOF) || errors.Is(rerr, errBadChecksum) {
				// Torn tail write from a crash; truncate it away so appends
				// restart from a clean boundary.
				s.logger.Warn("Dropping torn oplog tail record", "offset", offset, "error", rerr)
				if terr := s.file.Truncate(offset); terr != nil {
					return fmt.Errorf("failed to truncate torn oplog tail: %w", terr)
				}
				break
			}
			return fmt.Errorf("failed to read oplog record at offset %d: %w", offset, rerr)
		}

		decompressed, derr := s.compressor.Decompress(payload)
		if derr != nil {
			return fmt.Errorf("failed to decompress oplog record at offset %d: %w", offset, derr)
		}
		entry, derr := core.DecodeOplogEntry(bytes.NewReader(decompressed))
		if derr != nil {
			return fmt.Errorf("failed to decode oplog record at offset %d: %w", offset, derr)
		}

		s.records = append(s.records, record{id: RecordID(offset), entry: entry})
		offset += recLen
	}
	s.tail = offset
	return nil
}

var errBadChecksum = errors.New("oplog record checksum mismatch")

// readRecord reads one length|payload|checksum frame. It returns the payload
// and the total frame length in bytes.
func readRecord(r io.Reader) ([]byte, int64, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, 0, err
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, 0, io.ErrUnexpectedEOF
	}
	var checksum uint32
	if err := binary.Read(r, binary.LittleEndian, &checksum); err != nil {
		return nil, 0, io.ErrUnexpectedEOF
	}
	if crc32.ChecksumIEEE(payload) != checksum {
		return nil, 0, errBadChecksum
	}
	return payload, int64(length) + 8, nil
}

// Append writes a single entry at the tail of the oplog. Entries must arrive
// in strictly increasing ts order.
func (s *Store) Append(entry *core.OplogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return os.ErrClosed
	}
	if len(s.records) > 0 {
		last := s.records[len(s.records)-1].entry
		if entry.TS.Compare(last.TS) <= 0 {
			return fmt.Errorf("oplog entries must be strictly increasing: got %s after %s", entry.TS, last.TS)
		}
	}

	var buf bytes.Buffer
	if err := core.EncodeOplogEntry(&buf, entry); err != nil {
		return fmt.Errorf("failed to encode oplog entry: %w", err)
	}
	payload, err := s.compressor.Compress(buf.Bytes())
	if err != nil {
		return fmt.Errorf("failed to compress oplog entry: %w", err)
	}

	offset := s.tail

	if err := binary.Write(s.writer, binary.LittleEndian, uint32(len(payload))); err != nil {
		return fmt.Errorf("failed to write oplog record length: %w", err)
	}
	if _, err := s.writer.Write(payload); err != nil {
		return fmt.Errorf("failed to write oplog record payload: %w", err)
	}
	if err := binary.Write(s.writer, binary.LittleEndian, crc32.ChecksumIEEE(payload)); err != nil {
		return fmt.Errorf("failed to write oplog record checksum: %w", err)
	}

	s.records = append(s.records, record{id: RecordID(offset), entry: entry})
	s.tail = offset + int64(len(payload)) + 8
	if s.metricsEntriesWritten != nil {
		s.metricsEntriesWritten.Add(1)
	}
	if s.metricsBytesWritten != nil {
		s.metricsBytesWritten.Add(int64(len(payload) + 8))
	}
	return nil
}

// Sync flushes buffered appends and fsyncs the file.
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncLocked()
}

func (s *Store) syncLocked() error {
	if s.file == nil {
		return os.ErrClosed
	}
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush oplog writer: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync oplog file: %w", err)
	}
	return nil
}

// Close flushes and closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	flushErr := s.writer.Flush()
	closeErr := s.file.Close()
	s.file = nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// Len returns the number of records currently in the oplog.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// LastEntry returns the newest entry in the oplog, or ErrOplogEmpty.
func (s *Store) LastEntry() (*core.OplogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return nil, core.ErrOplogEmpty
	}
	return s.records[len(s.records)-1].entry, nil
}

// FirstEntry returns the oldest entry in the oplog, or ErrOplogEmpty.
func (s *Store) FirstEntry() (*core.OplogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return nil, core.ErrOplogEmpty
	}
	return s.records[0].entry, nil
}

// CappedTruncateAfter deletes every record whose id is strictly greater than
// the given id; when inclusive is set, the record with that id is deleted
// too. The file is truncated and fsynced before returning.
func (s *Store) CappedTruncateAfter(id RecordID, inclusive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return os.ErrClosed
	}
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush oplog before truncation: %w", err)
	}

	keep := len(s.records)
	for i, rec := range s.records {
		if rec.id > id || (inclusive && rec.id == id) {
			keep = i
			break
		}
	}
	if keep == len(s.records) {
		return nil
	}

	var cutOffset int64
	if keep == 0 {
		h := core.FileHeader{}
		cutOffset = int64(h.Size())
	} else {
		cutOffset = int64(s.records[keep].id)
	}

	if err := s.file.Truncate(cutOffset); err != nil {
		return fmt.Errorf("failed to truncate oplog at offset %d: %w", cutOffset, err)
	}
	if _, err := s.file.Seek(cutOffset, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek oplog after truncation: %w", err)
	}
	s.writer.Reset(s.file)
	s.records = s.records[:keep]
	s.tail = cutOffset

	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync oplog after truncation: %w", err)
	}
	s.logger.Info("Truncated oplog records", "remaining", len(s.records))
	return nil
}

// Path returns the file path of the oplog store.
func (s *Store) Path() string {
	return s.path
}
