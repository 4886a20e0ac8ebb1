package sstable_test

import (
	"fmt"
	"testing"

	"github.com/kiln-db/kiln/internal/dbkey"
	"github.com/kiln-db/kiln/internal/sstable"
	"github.com/kiln-db/kiln/internal/vfs"
	"github.com/stretchr/testify/require"
)

func buildTable(t *testing.T, fs vfs.FS, name string, n int, policy sstable.FilterPolicy) (int64, [][2]string) {
	t.Helper()
	f, err := fs.Create(name)
	require.NoError(t, err)

	w := sstable.NewWriter(f, dbkey.BytewiseComparator, policy)
	var pairs [][2]string
	for i := 0; i < n; i++ {
		userKey := fmt.Sprintf("key-%05d", i)
		value := fmt.Sprintf("value-%05d", i)
		ik := dbkey.New([]byte(userKey), uint64(i+1), dbkey.TypeValue)
		require.NoError(t, w.Add(ik, []byte(value)))
		pairs = append(pairs, [2]string{userKey, value})
	}
	size, err := w.Finish()
	require.NoError(t, err)
	return size, pairs
}

func TestWriterReaderRoundTripGet(t *testing.T) {
	fs := vfs.NewMem()
	policy := sstable.NewBloomPolicy(10)
	size, pairs := buildTable(t, fs, "000001.sst", 200, policy)

	f, err := fs.Open("000001.sst")
	require.NoError(t, err)
	r, err := sstable.Open(f, size, dbkey.BytewiseComparator, policy, 1, nil)
	require.NoError(t, err)

	for i, p := range pairs {
		ik := dbkey.New([]byte(p[0]), uint64(i+1), dbkey.TypeValue)
		_, value, found, err := r.Get(ik)
		require.NoError(t, err)
		require.True(t, found, "key %s should be found", p[0])
		require.Equal(t, p[1], string(value))
	}
}

func TestReaderGetMissingKeyNotFound(t *testing.T) {
	fs := vfs.NewMem()
	policy := sstable.NewBloomPolicy(10)
	size, _ := buildTable(t, fs, "000002.sst", 50, policy)

	f, err := fs.Open("000002.sst")
	require.NoError(t, err)
	r, err := sstable.Open(f, size, dbkey.BytewiseComparator, policy, 2, nil)
	require.NoError(t, err)

	ik := dbkey.New([]byte("not-a-real-key"), 1, dbkey.TypeValue)
	_, _, found, err := r.Get(ik)
	require.NoError(t, err)
	require.False(t, found)
}

func TestIteratorWalksInOrder(t *testing.T) {
	fs := vfs.NewMem()
	size, pairs := buildTable(t, fs, "000003.sst", 300, nil)

	f, err := fs.Open("000003.sst")
	require.NoError(t, err)
	r, err := sstable.Open(f, size, dbkey.BytewiseComparator, nil, 3, nil)
	require.NoError(t, err)

	it := r.NewIterator()
	i := 0
	for it.SeekToFirst(); it.Valid(); it.Next() {
		userKey, _, _, ok := dbkey.Parse(it.Key())
		require.True(t, ok)
		require.Equal(t, pairs[i][0], string(userKey))
		require.Equal(t, pairs[i][1], string(it.Value()))
		i++
	}
	require.Equal(t, len(pairs), i)
}

func TestIteratorSeekAndPrev(t *testing.T) {
	fs := vfs.NewMem()
	size, pairs := buildTable(t, fs, "000004.sst", 300, nil)

	f, err := fs.Open("000004.sst")
	require.NoError(t, err)
	r, err := sstable.Open(f, size, dbkey.BytewiseComparator, nil, 4, nil)
	require.NoError(t, err)

	it := r.NewIterator()
	target := dbkey.New([]byte(pairs[150][0]), uint64(151), dbkey.TypeValue)
	it.Seek(target)
	require.True(t, it.Valid())
	userKey, _, _, ok := dbkey.Parse(it.Key())
	require.True(t, ok)
	require.Equal(t, pairs[150][0], string(userKey))

	it.Prev()
	require.True(t, it.Valid())
	userKey, _, _, ok = dbkey.Parse(it.Key())
	require.True(t, ok)
	require.Equal(t, pairs[149][0], string(userKey))

	it.SeekToLast()
	require.True(t, it.Valid())
	userKey, _, _, ok = dbkey.Parse(it.Key())
	require.True(t, ok)
	require.Equal(t, pairs[len(pairs)-1][0], string(userKey))
}
