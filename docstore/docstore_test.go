package docstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/nexusdoc/core"
)

func insertEntry(ts core.Timestamp, collection, key, value string) *core.OplogEntry {
	return &core.OplogEntry{
		TS:         ts,
		Term:       1,
		Kind:       core.OpInsert,
		Collection: collection,
		Key:        []byte(key),
		Value:      []byte(value),
	}
}

func TestStore_ApplyInsertUpdateDelete(t *testing.T) {
	s := NewStore()

	require.NoError(t, s.Apply(insertEntry(core.NewTimestamp(10, 1), "users", "u1", "ada")))
	v, ok := s.Get("users", []byte("u1"))
	require.True(t, ok)
	assert.Equal(t, []byte("ada"), v)

	update := insertEntry(core.NewTimestamp(10, 2), "users", "u1", "grace")
	update.Kind = core.OpUpdate
	require.NoError(t, s.Apply(update))
	v, _ = s.Get("users", []byte("u1"))
	assert.Equal(t, []byte("grace"), v)

	del := &core.OplogEntry{TS: core.NewTimestamp(10, 3), Term: 1, Kind: core.OpDelete, Collection: "users", Key: []byte("u1")}
	require.NoError(t, s.Apply(del))
	_, ok = s.Get("users", []byte("u1"))
	assert.False(t, ok)
}

func TestStore_ApplyIsIdempotent(t *testing.T) {
	s := NewStore()
	entry := insertEntry(core.NewTimestamp(10, 1), "users", "u1", "ada")

	require.NoError(t, s.Apply(entry))
	require.NoError(t, s.Apply(entry))

	v, ok := s.Get("users", []byte("u1"))
	require.True(t, ok)
	assert.Equal(t, []byte("ada"), v)
	assert.Equal(t, 1, s.Len())
}

func TestStore_ApplyNoop(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Apply(&core.OplogEntry{TS: core.NewTimestamp(1, 1), Kind: core.OpNoop}))
	assert.Equal(t, 0, s.Len())
}

func TestStore_ApplyUnknownKind(t *testing.T) {
	s := NewStore()
	err := s.Apply(&core.OplogEntry{TS: core.NewTimestamp(1, 1), Kind: core.OpKind('x')})
	assert.Error(t, err)
}

func TestStore_CollectionsAreDistinct(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Apply(insertEntry(core.NewTimestamp(10, 1), "users", "k", "a")))
	require.NoError(t, s.Apply(insertEntry(core.NewTimestamp(10, 2), "orders", "k", "b")))

	v1, _ := s.Get("users", []byte("k"))
	v2, _ := s.Get("orders", []byte("k"))
	assert.Equal(t, []byte("a"), v1)
	assert.Equal(t, []byte("b"), v2)
}

func TestStore_Range(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Apply(insertEntry(core.NewTimestamp(10, 1), "c", "a", "1")))
	require.NoError(t, s.Apply(insertEntry(core.NewTimestamp(10, 2), "c", "b", "2")))
	del := &core.OplogEntry{TS: core.NewTimestamp(10, 3), Term: 1, Kind: core.OpDelete, Collection: "c", Key: []byte("a")}
	require.NoError(t, s.Apply(del))

	var keys []string
	s.Range(func(key *DocKey, doc *Document) bool {
		keys = append(keys, string(key.Key))
		return true
	})
	assert.Equal(t, []string{"b"}, keys)
}
