package compaction_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kiln-db/kiln/internal/compaction"
	"github.com/kiln-db/kiln/internal/dbkey"
	"github.com/kiln-db/kiln/internal/manifest"
	"github.com/kiln-db/kiln/internal/memtable"
	"github.com/kiln-db/kiln/internal/vfs"
)

func TestFlushWritesMemtableToLevelZeroByDefault(t *testing.T) {
	fs := vfs.NewMem()
	engine, tc := newTestEngine(t, fs)

	mem := memtable.New(nil)
	mem.Add(1, dbkey.TypeValue, []byte("a"), []byte("va"))
	mem.Add(2, dbkey.TypeValue, []byte("b"), []byte("vb"))

	edit, err := engine.Flush(manifest.NewVersion(), mem, 7)
	require.NoError(t, err)
	require.Len(t, edit.NewFiles, 1)
	require.Equal(t, 0, edit.NewFiles[0].Level)

	r, err := tc.Get(7)
	require.NoError(t, err)
	_, value, found, err := r.Get(dbkey.LookupKey([]byte("a"), dbkey.MaxSequenceNumber))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "va", string(value))
}

func TestFlushSkipsLevelZeroWhenNonOverlapping(t *testing.T) {
	fs := vfs.NewMem()
	engine, _ := newTestEngine(t, fs)

	// An existing level-1 file far from the flush's key range leaves room
	// for the flush to land past level 0.
	existing := manifest.NewFileMetadata(1, 10,
		dbkey.New([]byte("x"), 1, dbkey.TypeValue), dbkey.New([]byte("y"), 1, dbkey.TypeValue))
	v := manifest.NewVersion()
	v.Levels[1] = []*manifest.FileMetadata{existing}

	mem := memtable.New(nil)
	mem.Add(5, dbkey.TypeValue, []byte("a"), []byte("va"))

	edit, err := engine.Flush(v, mem, 2)
	require.NoError(t, err)
	require.Len(t, edit.NewFiles, 1)
	require.Greater(t, edit.NewFiles[0].Level, 0)
}

func TestFlushRejectsEmptyMemtable(t *testing.T) {
	fs := vfs.NewMem()
	engine, _ := newTestEngine(t, fs)

	_, err := engine.Flush(manifest.NewVersion(), memtable.New(nil), 1)
	require.ErrorIs(t, err, compaction.ErrEmptyFlush)
}
