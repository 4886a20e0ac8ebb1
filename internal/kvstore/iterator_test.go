package kvstore_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kiln-db/kiln/internal/dbkey"
	"github.com/kiln-db/kiln/internal/kvstore"
	"github.com/kiln-db/kiln/internal/manifest"
	"github.com/kiln-db/kiln/internal/memtable"
	"github.com/kiln-db/kiln/internal/vfs"
)

func collect(t *testing.T, it *kvstore.DBIterator) []string {
	t.Helper()
	var got []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		got = append(got, string(it.Key())+"="+string(it.Value()))
	}
	require.NoError(t, it.Error())
	return got
}

func TestDBIteratorMergesMemtableAndLevels(t *testing.T) {
	fs := vfs.NewMem()
	tc := newTestCache(t, fs)

	f0 := writeTestTable(t, fs, 1, []kvEntry{{"b", 1, dbkey.TypeValue, "from-level0"}})
	f1 := writeTestTable(t, fs, 2, []kvEntry{{"d", 1, dbkey.TypeValue, "from-level1"}})
	v := manifest.NewVersion()
	v.Levels[0] = []*manifest.FileMetadata{f0}
	v.Levels[1] = []*manifest.FileMetadata{f1}

	mem := memtable.New(nil)
	mem.Add(5, dbkey.TypeValue, []byte("a"), []byte("from-memtable"))
	mem.Add(6, dbkey.TypeValue, []byte("c"), []byte("from-memtable-2"))

	it, err := kvstore.NewDBIterator(mem, nil, v, tc, dbkey.BytewiseComparator, 10, nil)
	require.NoError(t, err)

	got := collect(t, it)
	require.Equal(t, []string{
		"a=from-memtable",
		"b=from-level0",
		"c=from-memtable-2",
		"d=from-level1",
	}, got)
}

func TestDBIteratorHidesTombstonesAndOlderVersions(t *testing.T) {
	fs := vfs.NewMem()
	tc := newTestCache(t, fs)

	f0 := writeTestTable(t, fs, 1, []kvEntry{
		{"a", 5, dbkey.TypeDeletion, ""},
		{"a", 2, dbkey.TypeValue, "stale"},
		{"b", 3, dbkey.TypeValue, "kept"},
	})
	v := manifest.NewVersion()
	v.Levels[0] = []*manifest.FileMetadata{f0}

	it, err := kvstore.NewDBIterator(nil, nil, v, tc, dbkey.BytewiseComparator, 10, nil)
	require.NoError(t, err)

	got := collect(t, it)
	require.Equal(t, []string{"b=kept"}, got)
}

func TestDBIteratorHonorsReadSequence(t *testing.T) {
	fs := vfs.NewMem()
	tc := newTestCache(t, fs)

	f0 := writeTestTable(t, fs, 1, []kvEntry{
		{"a", 10, dbkey.TypeValue, "too-new"},
		{"a", 3, dbkey.TypeValue, "visible"},
	})
	v := manifest.NewVersion()
	v.Levels[0] = []*manifest.FileMetadata{f0}

	it, err := kvstore.NewDBIterator(nil, nil, v, tc, dbkey.BytewiseComparator, 5, nil)
	require.NoError(t, err)

	got := collect(t, it)
	require.Equal(t, []string{"a=visible"}, got)
}

func TestDBIteratorSeekPositionsAtOrAfterKey(t *testing.T) {
	fs := vfs.NewMem()
	tc := newTestCache(t, fs)

	f0 := writeTestTable(t, fs, 1, []kvEntry{
		{"a", 1, dbkey.TypeValue, "va"},
		{"b", 1, dbkey.TypeValue, "vb"},
		{"c", 1, dbkey.TypeValue, "vc"},
	})
	v := manifest.NewVersion()
	v.Levels[0] = []*manifest.FileMetadata{f0}

	it, err := kvstore.NewDBIterator(nil, nil, v, tc, dbkey.BytewiseComparator, 10, nil)
	require.NoError(t, err)

	it.Seek([]byte("b"))
	require.True(t, it.Valid())
	require.Equal(t, "b", string(it.Key()))
	require.Equal(t, "vb", string(it.Value()))

	it.Next()
	require.True(t, it.Valid())
	require.Equal(t, "c", string(it.Key()))
}
