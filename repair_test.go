package kiln_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kiln-db/kiln"
	"github.com/kiln-db/kiln/internal/vfs"
)

// removeManifestAndCurrent simulates losing the manifest (the no-manifest
// recovery path Repair exists for): every MANIFEST-* file and CURRENT
// itself are deleted, leaving only sstables and WAL files behind.
func removeManifestAndCurrent(t *testing.T, fs vfs.FS) {
	t.Helper()
	names, err := fs.List(".")
	require.NoError(t, err)
	for _, name := range names {
		if name == "CURRENT" || len(name) >= 9 && name[:9] == "MANIFEST-" {
			require.NoError(t, fs.Remove(name))
		}
	}
}

func TestRepairRebuildsFromSurvivingTablesAndLogs(t *testing.T) {
	fs := vfs.NewMem()

	db, err := kiln.Open("db", kiln.WithFS(fs), kiln.WithWriteBufferSize(512))
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		key := []byte(fmt.Sprintf("key-%04d-with-some-padding-to-grow-the-entry", i))
		require.NoError(t, db.Put(key, key, false))
	}
	require.NoError(t, db.CompactRange(nil, nil))
	require.NoError(t, db.Put([]byte("after-compaction"), []byte("v"), true))
	require.NoError(t, db.Close())

	removeManifestAndCurrent(t, fs)

	_, err = kiln.Open("db", kiln.WithFS(fs), kiln.WithCreateIfMissing(false))
	require.Error(t, err, "a database with no CURRENT looks absent until repaired")

	require.NoError(t, kiln.Repair("db", kiln.WithFS(fs)))

	db2, err := kiln.Open("db", kiln.WithFS(fs), kiln.WithCreateIfMissing(false))
	require.NoError(t, err)
	defer db2.Close()

	for i := 0; i < 100; i++ {
		key := []byte(fmt.Sprintf("key-%04d-with-some-padding-to-grow-the-entry", i))
		val, found, err := db2.Get(key)
		require.NoError(t, err)
		require.True(t, found, "key %s missing after repair", key)
		require.Equal(t, key, val)
	}

	val, found, err := db2.Get([]byte("after-compaction"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v"), val)
}

func TestRepairIsIdempotentAcrossTwoRuns(t *testing.T) {
	fs := vfs.NewMem()

	db, err := kiln.Open("db", kiln.WithFS(fs))
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("a"), []byte("1"), true))
	require.NoError(t, db.Close())

	removeManifestAndCurrent(t, fs)
	require.NoError(t, kiln.Repair("db", kiln.WithFS(fs)))
	require.NoError(t, kiln.Repair("db", kiln.WithFS(fs)))

	db2, err := kiln.Open("db", kiln.WithFS(fs), kiln.WithCreateIfMissing(false))
	require.NoError(t, err)
	defer db2.Close()

	val, found, err := db2.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("1"), val)
}

func TestDestroyRemovesEveryFile(t *testing.T) {
	fs := vfs.NewMem()

	db, err := kiln.Open("db", kiln.WithFS(fs))
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("a"), []byte("1"), true))
	require.NoError(t, db.Close())

	names, err := fs.List(".")
	require.NoError(t, err)
	require.NotEmpty(t, names)

	require.NoError(t, kiln.Destroy("db", kiln.WithFS(fs)))

	names, err = fs.List(".")
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestDestroyOnMissingDirectoryIsNotAnError(t *testing.T) {
	fs := vfs.NewMem()
	require.NoError(t, kiln.Destroy("db", kiln.WithFS(fs)))
}
