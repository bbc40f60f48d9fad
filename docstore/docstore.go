package docstore

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/INLOpen/skiplist"

	"github.com/INLOpen/nexusdoc/core"
)

// DocKey identifies a document: collection name plus primary key bytes.
type DocKey struct {
	Collection string
	Key        []byte
}

// Document is the stored value for a key. Deletes leave a tombstone so a
// replayed delete stays idempotent even when the insert it follows was
// already applied.
type Document struct {
	Value   []byte
	LastTS  core.Timestamp
	Deleted bool
}

func compareDocKeys(a, b *DocKey) int {
	if a.Collection != b.Collection {
		if a.Collection < b.Collection {
			return -1
		}
		return 1
	}
	return bytes.Compare(a.Key, b.Key)
}

// Store is the in-memory face of the data files: an ordered document store
// the oplog applier writes into. Mutations are idempotent per entry, which
// is what makes batch replay safe during recovery.
type Store struct {
	mu   sync.RWMutex
	data *skiplist.SkipList[*DocKey, *Document]
}

// NewStore creates an empty document store.
func NewStore() *Store {
	return &Store{
		data: skiplist.NewWithComparator[*DocKey, *Document](compareDocKeys),
	}
}

// Apply performs the data-file mutation described by a single oplog entry.
// Re-applying an entry the store has already seen produces the same state.
func (s *Store) Apply(entry *core.OplogEntry) error {
	switch entry.Kind {
	case core.OpNoop:
		return nil
	case core.OpInsert, core.OpUpdate:
		s.mu.Lock()
		defer s.mu.Unlock()
		key := &DocKey{Collection: entry.Collection, Key: entry.Key}
		s.data.Insert(key, &Document{Value: entry.Value, LastTS: entry.TS})
		return nil
	case core.OpDelete:
		s.mu.Lock()
		defer s.mu.Unlock()
		key := &DocKey{Collection: entry.Collection, Key: entry.Key}
		s.data.Insert(key, &Document{LastTS: entry.TS, Deleted: true})
		return nil
	default:
		return fmt.Errorf("unknown oplog entry kind: %c", entry.Kind)
	}
}

// Get returns the current value of a document, or found=false if it does not
// exist or was deleted.
func (s *Store) Get(collection string, key []byte) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.data.Seek(&DocKey{Collection: collection, Key: key})
	if !ok {
		return nil, false
	}
	if compareDocKeys(node.Key(), &DocKey{Collection: collection, Key: key}) != 0 {
		return nil, false
	}
	doc := node.Value()
	if doc.Deleted {
		return nil, false
	}
	return doc.Value, true
}

// Len returns the number of document slots, tombstones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Len()
}

// Range calls fn for each live document in key order until fn returns false.
func (s *Store) Range(fn func(key *DocKey, doc *Document) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.data.Range(func(key *DocKey, doc *Document) bool {
		if doc.Deleted {
			return true
		}
		return fn(key, doc)
	})
}
