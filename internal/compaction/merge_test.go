package compaction_test

import (
	"testing"

	"github.com/kiln-db/kiln/internal/compaction"
	"github.com/kiln-db/kiln/internal/dbkey"
	"github.com/stretchr/testify/require"
)

// sliceIterator walks a fixed, already-sorted list of key/value pairs. It
// implements compaction.Iterator for tests without pulling in the memtable
// or sstable packages.
type sliceIterator struct {
	keys   [][]byte
	values [][]byte
	pos    int
}

func newSliceIterator(pairs ...[2]string) *sliceIterator {
	it := &sliceIterator{}
	for _, p := range pairs {
		it.keys = append(it.keys, []byte(p[0]))
		it.values = append(it.values, []byte(p[1]))
	}
	it.pos = -1
	return it
}

func (it *sliceIterator) SeekToFirst() { it.pos = 0 }
func (it *sliceIterator) Valid() bool  { return it.pos >= 0 && it.pos < len(it.keys) }
func (it *sliceIterator) Key() []byte  { return it.keys[it.pos] }
func (it *sliceIterator) Value() []byte {
	return it.values[it.pos]
}
func (it *sliceIterator) Next()        { it.pos++ }
func (it *sliceIterator) Error() error { return nil }

func ik(userKey string, seq uint64) string {
	return string(dbkey.New([]byte(userKey), seq, dbkey.TypeValue))
}

func TestMergingIteratorOrdersAcrossInputs(t *testing.T) {
	cmp := dbkey.InternalComparator(dbkey.BytewiseComparator.Compare)

	a := newSliceIterator([2]string{ik("a", 1), "va1"}, [2]string{ik("c", 1), "vc1"})
	b := newSliceIterator([2]string{ik("b", 2), "vb2"}, [2]string{ik("d", 2), "vd2"})

	m := compaction.NewMergingIterator(cmp, a, b)
	m.SeekToFirst()

	var gotKeys []string
	for m.Valid() {
		userKey, _, _, ok := dbkey.Parse(m.Key())
		require.True(t, ok)
		gotKeys = append(gotKeys, string(userKey))
		m.Next()
	}
	require.NoError(t, m.Error())
	require.Equal(t, []string{"a", "b", "c", "d"}, gotKeys)
}

func TestMergingIteratorBreaksTiesByInputOrder(t *testing.T) {
	cmp := dbkey.InternalComparator(dbkey.BytewiseComparator.Compare)

	// Same user key and sequence number in both inputs: the first input
	// argument must win the tie.
	newer := newSliceIterator([2]string{ik("k", 5), "from-newer"})
	older := newSliceIterator([2]string{ik("k", 5), "from-older"})

	m := compaction.NewMergingIterator(cmp, newer, older)
	m.SeekToFirst()

	require.True(t, m.Valid())
	require.Equal(t, "from-newer", string(m.Value()))
	m.Next()
	require.True(t, m.Valid())
	require.Equal(t, "from-older", string(m.Value()))
	m.Next()
	require.False(t, m.Valid())
}

func TestMergingIteratorHandlesEmptyInputs(t *testing.T) {
	cmp := dbkey.InternalComparator(dbkey.BytewiseComparator.Compare)
	empty := newSliceIterator()
	m := compaction.NewMergingIterator(cmp, empty)
	m.SeekToFirst()
	require.False(t, m.Valid())
	require.NoError(t, m.Error())
}

func TestMergingIteratorOrdersNewestSequenceFirstForSameUserKey(t *testing.T) {
	cmp := dbkey.InternalComparator(dbkey.BytewiseComparator.Compare)

	a := newSliceIterator([2]string{ik("k", 10), "v10"})
	b := newSliceIterator([2]string{ik("k", 20), "v20"})

	m := compaction.NewMergingIterator(cmp, a, b)
	m.SeekToFirst()

	require.True(t, m.Valid())
	require.Equal(t, "v20", string(m.Value()))
	m.Next()
	require.True(t, m.Valid())
	require.Equal(t, "v10", string(m.Value()))
}
