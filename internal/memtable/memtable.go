// Package memtable provides the in-memory, ordered key-value structure that
// absorbs writes before they are flushed to an sstable. Internally it is a
// concurrent skip list over arena-allocated, length-prefixed internal-key
// entries (§3, §4.D of the design).
package memtable

import (
	"github.com/kiln-db/kiln/internal/arena"
	"github.com/kiln-db/kiln/internal/binfmt"
	"github.com/kiln-db/kiln/internal/dbkey"
	"github.com/kiln-db/kiln/internal/skiplist"
)

// LookupResult is the outcome of Get.
type LookupResult int

const (
	// Miss means no entry for the user key was found at or below the
	// queried sequence number.
	Miss LookupResult = iota
	// Found means a live value was found.
	Found
	// Deleted means the newest visible entry is a tombstone.
	Deleted
)

// Memtable is a reference-counted, arena-backed skip list of internal-key
// entries. A single writer may Add; any number of readers may Get or
// iterate concurrently with that writer, observing a stable ordering.
type Memtable struct {
	arena    *arena.Arena
	list     *skiplist.SkipList
	userCmp  func(a, b []byte) int
	refs     int32
	earliest uint64 // smallest sequence number added, for flush bookkeeping
}

// New returns an empty memtable ordered by userCmp (bytewise if nil).
func New(userCmp func(a, b []byte) int) *Memtable {
	if userCmp == nil {
		userCmp = dbkey.BytewiseComparator.Compare
	}
	a := arena.New()
	internalCmp := dbkey.InternalComparator(userCmp)
	entryCmp := func(a, b []byte) int {
		ikA, _ := decodeEntry(a)
		ikB, _ := decodeEntry(b)
		return internalCmp(ikA, ikB)
	}
	return &Memtable{
		arena:   a,
		list:    skiplist.New(a, entryCmp),
		userCmp: userCmp,
		refs:    1,
	}
}

// Ref increments the reference count held by live versions/iterators.
func (m *Memtable) Ref() { m.refs++ }

// Unref decrements the reference count, returning true if it reached zero
// (the memtable is now unreferenced and may be discarded).
func (m *Memtable) Unref() bool {
	m.refs--
	return m.refs <= 0
}

// encodeEntry packs one memtable record per §3:
//
//	varint32 internal_key_len | internal_key_bytes | varint32 value_len | value_bytes
func encodeEntry(internalKey, value []byte) []byte {
	buf := make([]byte, 0, 5+len(internalKey)+5+len(value))
	buf = binfmt.PutVarint32(buf, uint32(len(internalKey)))
	buf = append(buf, internalKey...)
	buf = binfmt.PutVarint32(buf, uint32(len(value)))
	buf = append(buf, value...)
	return buf
}

func decodeEntry(entry []byte) (internalKey, value []byte) {
	ikLen, n := binfmt.Varint32(entry)
	entry = entry[n:]
	internalKey = entry[:ikLen]
	entry = entry[ikLen:]
	vLen, n := binfmt.Varint32(entry)
	entry = entry[n:]
	value = entry[:vLen]
	return internalKey, value
}

// Add inserts (seq, t, userKey, value) into the memtable. The caller (the
// single writer) must ensure seq has not been used for userKey before.
func (m *Memtable) Add(seq uint64, t dbkey.ValueType, userKey, value []byte) {
	if m.list.Len() == 0 || seq < m.earliest {
		m.earliest = seq
	}
	ik := dbkey.New(userKey, seq, t)
	m.list.Insert(encodeEntry(ik, value))
}

// Get looks up userKey as of sequence number seq (the read snapshot). It
// returns the most recent entry with sequence <= seq.
func (m *Memtable) Get(userKey []byte, seq uint64) (value []byte, result LookupResult) {
	lookup := dbkey.LookupKey(userKey, seq)
	it := m.list.NewIterator()
	it.Seek(encodeEntry(lookup, nil))
	if !it.Valid() {
		return nil, Miss
	}
	ik, v := decodeEntry(it.Key())
	foundUser, _, typ, ok := dbkey.Parse(ik)
	if !ok || m.userCmp(foundUser, userKey) != 0 {
		return nil, Miss
	}
	if typ == dbkey.TypeDeletion {
		return nil, Deleted
	}
	return v, Found
}

// ApproximateMemoryUsage reports the arena bytes consumed so far.
func (m *Memtable) ApproximateMemoryUsage() int64 {
	return m.arena.Size()
}

// Empty reports whether no entries have been added.
func (m *Memtable) Empty() bool { return m.list.Len() == 0 }

// EarliestSequence returns the smallest sequence number added so far, or 0
// if the memtable is empty.
func (m *Memtable) EarliestSequence() uint64 { return m.earliest }

// Iterator yields internal-key/value pairs in internal-key order.
type Iterator struct {
	it *skiplist.Iterator
}

// NewIterator returns a fresh iterator over the memtable's entries.
func (m *Memtable) NewIterator() *Iterator {
	return &Iterator{it: m.list.NewIterator()}
}

func (it *Iterator) Valid() bool { return it.it.Valid() }
func (it *Iterator) Next()       { it.it.Next() }
func (it *Iterator) Prev()       { it.it.Prev() }
func (it *Iterator) SeekFirst()  { it.it.SeekFirst() }
func (it *Iterator) SeekLast()   { it.it.SeekLast() }

// Seek positions the iterator at the first entry whose internal key is >=
// internalKey.
func (it *Iterator) Seek(internalKey []byte) {
	it.it.Seek(encodeEntry(internalKey, nil))
}

// InternalKey and Value return the current entry. Valid must be true.
func (it *Iterator) InternalKey() []byte {
	ik, _ := decodeEntry(it.it.Key())
	return ik
}

func (it *Iterator) Value() []byte {
	_, v := decodeEntry(it.it.Key())
	return v
}
