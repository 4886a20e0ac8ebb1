package kiln_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kiln-db/kiln"
	"github.com/kiln-db/kiln/internal/vfs"
)

// TestRecoverReplaysWALWithoutFlush writes enough keys to fill a WAL but not
// enough to cross the write buffer threshold, so at Close time the data
// lives only in the memtable and its WAL, never in an sstable. Reopening
// must replay the WAL to recover it.
func TestRecoverReplaysWALWithoutFlush(t *testing.T) {
	fs := vfs.NewMem()

	db, err := kiln.Open("db", kiln.WithFS(fs), kiln.WithWriteBufferSize(1<<20))
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("k-%03d", i))
		require.NoError(t, db.Put(key, key, true))
	}
	require.NoError(t, db.Close())

	db2, err := kiln.Open("db", kiln.WithFS(fs))
	require.NoError(t, err)
	defer db2.Close()

	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("k-%03d", i))
		val, found, err := db2.Get(key)
		require.NoError(t, err)
		require.True(t, found, "key %s missing after recovery", key)
		require.Equal(t, key, val)
	}

	v, found := db2.GetProperty("kiln.num-files-at-level-0")
	require.True(t, found)
	require.Equal(t, "0", v, "recovery must not have produced an sstable; data came from WAL replay alone")
}

// TestRecoverFlushesDuringReplayWhenWALExceedsBuffer writes past the write
// buffer threshold before closing, forcing recovery to flush at least one
// table mid-replay rather than folding everything into one memtable.
func TestRecoverFlushesDuringReplayWhenWALExceedsBuffer(t *testing.T) {
	fs := vfs.NewMem()

	db, err := kiln.Open("db", kiln.WithFS(fs), kiln.WithWriteBufferSize(512))
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		key := []byte(fmt.Sprintf("key-%04d-with-some-padding-to-grow-the-entry", i))
		require.NoError(t, db.Put(key, key, false))
	}
	require.NoError(t, db.Close())

	db2, err := kiln.Open("db", kiln.WithFS(fs))
	require.NoError(t, err)
	defer db2.Close()

	for i := 0; i < 100; i++ {
		key := []byte(fmt.Sprintf("key-%04d-with-some-padding-to-grow-the-entry", i))
		val, found, err := db2.Get(key)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, key, val)
	}
}

// TestRecoverDeletedKeyStaysDeleted checks that a tombstone written just
// before a crash is replayed as a tombstone, not lost.
func TestRecoverDeletedKeyStaysDeleted(t *testing.T) {
	fs := vfs.NewMem()

	db, err := kiln.Open("db", kiln.WithFS(fs), kiln.WithWriteBufferSize(1<<20))
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("a"), []byte("1"), true))
	require.NoError(t, db.Put([]byte("b"), []byte("2"), true))
	require.NoError(t, db.Delete([]byte("a"), true))
	require.NoError(t, db.Close())

	db2, err := kiln.Open("db", kiln.WithFS(fs))
	require.NoError(t, err)
	defer db2.Close()

	_, found, err := db2.Get([]byte("a"))
	require.NoError(t, err)
	require.False(t, found)

	val, found, err := db2.Get([]byte("b"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("2"), val)
}

// TestMultipleReopenCyclesAccumulateWrites exercises more than one
// recover-and-roll cycle on the same backing filesystem.
func TestMultipleReopenCyclesAccumulateWrites(t *testing.T) {
	fs := vfs.NewMem()

	for round := 0; round < 3; round++ {
		db, err := kiln.Open("db", kiln.WithFS(fs), kiln.WithWriteBufferSize(1<<20))
		require.NoError(t, err)
		key := []byte(fmt.Sprintf("round-%d", round))
		require.NoError(t, db.Put(key, key, true))
		require.NoError(t, db.Close())
	}

	db, err := kiln.Open("db", kiln.WithFS(fs))
	require.NoError(t, err)
	defer db.Close()

	for round := 0; round < 3; round++ {
		key := []byte(fmt.Sprintf("round-%d", round))
		val, found, err := db.Get(key)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, key, val)
	}
}
