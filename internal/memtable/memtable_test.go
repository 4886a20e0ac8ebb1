package memtable_test

import (
	"testing"

	"github.com/kiln-db/kiln/internal/dbkey"
	"github.com/kiln-db/kiln/internal/memtable"
	"github.com/stretchr/testify/require"
)

func TestAddAndGet(t *testing.T) {
	m := memtable.New(nil)
	m.Add(1, dbkey.TypeValue, []byte("foo"), []byte("bar"))

	v, res := m.Get([]byte("foo"), 10)
	require.Equal(t, memtable.Found, res)
	require.Equal(t, "bar", string(v))
}

func TestGetRespectsSnapshotSequence(t *testing.T) {
	m := memtable.New(nil)
	m.Add(1, dbkey.TypeValue, []byte("foo"), []byte("v1"))
	m.Add(5, dbkey.TypeValue, []byte("foo"), []byte("v2"))

	v, res := m.Get([]byte("foo"), 5)
	require.Equal(t, memtable.Found, res)
	require.Equal(t, "v2", string(v))

	v, res = m.Get([]byte("foo"), 3)
	require.Equal(t, memtable.Found, res)
	require.Equal(t, "v1", string(v))

	_, res = m.Get([]byte("foo"), 0)
	require.Equal(t, memtable.Miss, res)
}

func TestGetSeesTombstone(t *testing.T) {
	m := memtable.New(nil)
	m.Add(1, dbkey.TypeValue, []byte("foo"), []byte("v1"))
	m.Add(2, dbkey.TypeDeletion, []byte("foo"), nil)

	_, res := m.Get([]byte("foo"), 10)
	require.Equal(t, memtable.Deleted, res)

	v, res := m.Get([]byte("foo"), 1)
	require.Equal(t, memtable.Found, res)
	require.Equal(t, "v1", string(v))
}

func TestGetMissingKey(t *testing.T) {
	m := memtable.New(nil)
	m.Add(1, dbkey.TypeValue, []byte("foo"), []byte("v1"))

	_, res := m.Get([]byte("zzz"), 10)
	require.Equal(t, memtable.Miss, res)
}

func TestIteratorOrdersByUserKey(t *testing.T) {
	m := memtable.New(nil)
	m.Add(100, dbkey.TypeValue, []byte("foo"), []byte("bar"))
	m.Add(101, dbkey.TypeDeletion, []byte("box"), nil)
	m.Add(102, dbkey.TypeValue, []byte("baz"), []byte("boo"))

	it := m.NewIterator()
	it.SeekFirst()

	var order []string
	for it.Valid() {
		uk, _, _, ok := dbkey.Parse(it.InternalKey())
		require.True(t, ok)
		order = append(order, string(uk))
		it.Next()
	}
	require.Equal(t, []string{"baz", "box", "foo"}, order)
}

func TestApproximateMemoryUsageGrows(t *testing.T) {
	m := memtable.New(nil)
	before := m.ApproximateMemoryUsage()
	m.Add(1, dbkey.TypeValue, []byte("foo"), []byte("a-fairly-large-value-to-measure"))
	require.Greater(t, m.ApproximateMemoryUsage(), before)
}
