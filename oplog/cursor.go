package oplog

import (
	"sort"

	"github.com/INLOpen/nexusdoc/core"
)

// Cursor iterates oplog entries forward in timestamp order. It operates on a
// snapshot of the record index taken at creation; concurrent truncation does
// not affect an open cursor.
type Cursor struct {
	records []record
	idx     int
	end     *core.Timestamp
}

// ForwardCursor returns a cursor positioned at the first entry with
// ts >= start. When end is non-nil, the cursor stops after the last entry
// with ts <= end; both bounds are inclusive.
func (s *Store) ForwardCursor(start core.Timestamp, end *core.Timestamp) *Cursor {
	s.mu.RLock()
	records := s.records
	s.mu.RUnlock()

	idx := sort.Search(len(records), func(i int) bool {
		return records[i].entry.TS.Compare(start) >= 0
	})
	return &Cursor{records: records, idx: idx, end: end}
}

// Next returns the next entry and advances, or ok=false when exhausted.
func (c *Cursor) Next() (*core.OplogEntry, bool) {
	if c.idx >= len(c.records) {
		return nil, false
	}
	entry := c.records[c.idx].entry
	if c.end != nil && entry.TS.Compare(*c.end) > 0 {
		c.idx = len(c.records)
		return nil, false
	}
	c.idx++
	return entry, true
}

// Peek returns the next entry without advancing.
func (c *Cursor) Peek() (*core.OplogEntry, bool) {
	if c.idx >= len(c.records) {
		return nil, false
	}
	entry := c.records[c.idx].entry
	if c.end != nil && entry.TS.Compare(*c.end) > 0 {
		return nil, false
	}
	return entry, true
}

// ReverseCursor iterates oplog entries newest to oldest, exposing each
// record's id for capped truncation.
type ReverseCursor struct {
	records []record
	idx     int
}

// ReverseCursor returns a cursor positioned at the newest entry.
func (s *Store) ReverseCursor() *ReverseCursor {
	s.mu.RLock()
	records := s.records
	s.mu.RUnlock()
	return &ReverseCursor{records: records, idx: len(records) - 1}
}

// Next returns the next entry walking backward, with its record id, or
// ok=false when exhausted.
func (rc *ReverseCursor) Next() (*core.OplogEntry, RecordID, bool) {
	if rc.idx < 0 {
		return nil, NilRecordID, false
	}
	rec := rc.records[rc.idx]
	rc.idx--
	return rec.entry, rec.id, true
}
