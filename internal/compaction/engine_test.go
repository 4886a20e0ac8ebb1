package compaction_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kiln-db/kiln/internal/compaction"
	"github.com/kiln-db/kiln/internal/dbkey"
	"github.com/kiln-db/kiln/internal/manifest"
	"github.com/kiln-db/kiln/internal/sstable"
	"github.com/kiln-db/kiln/internal/tablecache"
	"github.com/kiln-db/kiln/internal/vfs"
)

func writeTable(t *testing.T, fs vfs.FS, number uint64, entries ...[3]interface{}) *manifest.FileMetadata {
	t.Helper()
	f, err := fs.Create(tablecache.TableName(number))
	require.NoError(t, err)
	w := sstable.NewWriter(f, dbkey.BytewiseComparator, nil)
	for _, e := range entries {
		key := dbkey.New([]byte(e[0].(string)), e[1].(uint64), e[2].(dbkey.ValueType))
		require.NoError(t, w.Add(key, []byte("v")))
	}
	size, err := w.Finish()
	require.NoError(t, err)
	return manifest.NewFileMetadata(number, uint64(size), w.Smallest(), w.Largest())
}

func newTestEngine(t *testing.T, fs vfs.FS) (*compaction.Engine, *tablecache.Cache) {
	t.Helper()
	tc := tablecache.New(fs, dbkey.BytewiseComparator, nil, nil, tablecache.DefaultCapacity)
	return compaction.New(fs, dbkey.BytewiseComparator, nil, tc), tc
}

func TestRunMergesNonOverlappingInputsIntoOneOutput(t *testing.T) {
	fs := vfs.NewMem()
	f1 := writeTable(t, fs, 1, [3]interface{}{"a", uint64(1), dbkey.TypeValue}, [3]interface{}{"b", uint64(2), dbkey.TypeValue})
	f2 := writeTable(t, fs, 2, [3]interface{}{"c", uint64(3), dbkey.TypeValue})

	engine, _ := newTestEngine(t, fs)
	v := manifest.NewVersion()
	v.Levels[1] = []*manifest.FileMetadata{f1, f2}

	c := &manifest.Compaction{Level: 0, Inputs: [2][]*manifest.FileMetadata{{f1}, {f2}}}
	next := uint64(3)
	edit, err := engine.Run(v, c, 0, func() uint64 { n := next; next++; return n })
	require.NoError(t, err)

	require.Len(t, edit.NewFiles, 1)
	require.Equal(t, 1, edit.NewFiles[0].Level)
	require.Len(t, edit.DeletedFiles, 2)
}

func TestRunDropsOlderVersionsBelowSmallestSnapshot(t *testing.T) {
	fs := vfs.NewMem()
	// Two versions of user key "a": seq 5 (older) and seq 10 (newer). With
	// smallestSnapshot >= 10, no live snapshot can see seq 5 once seq 10 has
	// been emitted, so it must be dropped.
	f1 := writeTable(t, fs, 1,
		[3]interface{}{"a", uint64(10), dbkey.TypeValue},
		[3]interface{}{"a", uint64(5), dbkey.TypeValue},
	)

	tc := tablecache.New(fs, dbkey.BytewiseComparator, nil, nil, tablecache.DefaultCapacity)
	engine := compaction.New(fs, dbkey.BytewiseComparator, nil, tc)

	v := manifest.NewVersion()
	c := &manifest.Compaction{Level: 0, Inputs: [2][]*manifest.FileMetadata{{f1}, nil}}
	next := uint64(2)
	edit, err := engine.Run(v, c, 10, func() uint64 { n := next; next++; return n })
	require.NoError(t, err)
	require.Len(t, edit.NewFiles, 1)

	r, err := tc.Get(edit.NewFiles[0].Meta.Number)
	require.NoError(t, err)
	it := r.NewIterator()
	it.SeekToFirst()
	require.True(t, it.Valid())
	_, seq, _, ok := dbkey.Parse(it.Key())
	require.True(t, ok)
	require.Equal(t, uint64(10), seq)
	it.Next()
	require.False(t, it.Valid())
}

func TestRunDropsTombstoneNotVisibleAndNotCoveredDeeper(t *testing.T) {
	fs := vfs.NewMem()
	f1 := writeTable(t, fs, 1, [3]interface{}{"a", uint64(5), dbkey.TypeDeletion})

	tc := tablecache.New(fs, dbkey.BytewiseComparator, nil, nil, tablecache.DefaultCapacity)
	engine := compaction.New(fs, dbkey.BytewiseComparator, nil, tc)

	v := manifest.NewVersion() // no files at any deeper level
	c := &manifest.Compaction{Level: 0, Inputs: [2][]*manifest.FileMetadata{{f1}, nil}}
	next := uint64(2)
	edit, err := engine.Run(v, c, 10, func() uint64 { n := next; next++; return n })
	require.NoError(t, err)
	require.Empty(t, edit.NewFiles)
}

func TestRunKeepsTombstoneWhenDeeperLevelMayStillHoldTheKey(t *testing.T) {
	fs := vfs.NewMem()
	f1 := writeTable(t, fs, 1, [3]interface{}{"a", uint64(5), dbkey.TypeDeletion})
	f2 := writeTable(t, fs, 2, [3]interface{}{"a", uint64(1), dbkey.TypeValue})

	tc := tablecache.New(fs, dbkey.BytewiseComparator, nil, nil, tablecache.DefaultCapacity)
	engine := compaction.New(fs, dbkey.BytewiseComparator, nil, tc)

	v := manifest.NewVersion()
	v.Levels[2] = []*manifest.FileMetadata{f2} // level 2 is beyond outputLevel(1)

	c := &manifest.Compaction{Level: 0, Inputs: [2][]*manifest.FileMetadata{{f1}, nil}}
	next := uint64(3)
	edit, err := engine.Run(v, c, 10, func() uint64 { n := next; next++; return n })
	require.NoError(t, err)
	require.Len(t, edit.NewFiles, 1)
}

func TestRunTrivialMoveProducesNoOutputFiles(t *testing.T) {
	fs := vfs.NewMem()
	f1 := writeTable(t, fs, 1, [3]interface{}{"a", uint64(1), dbkey.TypeValue})

	engine, _ := newTestEngine(t, fs)
	v := manifest.NewVersion()
	c := &manifest.Compaction{Level: 1, Inputs: [2][]*manifest.FileMetadata{{f1}, nil}, TrivialMove: true}

	edit, err := engine.Run(v, c, 0, func() uint64 { return 99 })
	require.NoError(t, err)
	require.Len(t, edit.NewFiles, 1)
	require.Equal(t, 2, edit.NewFiles[0].Level)
	require.Same(t, f1, edit.NewFiles[0].Meta)
	require.Len(t, edit.DeletedFiles, 1)
	require.Equal(t, 1, edit.DeletedFiles[0].Level)
}
