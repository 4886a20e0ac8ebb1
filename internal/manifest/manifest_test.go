package manifest_test

import (
	"testing"

	"github.com/kiln-db/kiln/internal/manifest"
	"github.com/kiln-db/kiln/internal/vfs"
	"github.com/stretchr/testify/require"
)

func TestCurrentRoundTrip(t *testing.T) {
	fs := vfs.NewMem()
	require.NoError(t, manifest.SetCurrent(fs, manifest.ManifestName(6)))

	name, err := manifest.ReadCurrent(fs)
	require.NoError(t, err)
	require.Equal(t, "MANIFEST-000006", name)

	n, ok := manifest.ParseManifestNumber(name)
	require.True(t, ok)
	require.Equal(t, uint64(6), n)
}

func TestManifestWriteAndReplayRoundTrip(t *testing.T) {
	fs := vfs.NewMem()

	snapshot := &manifest.Edit{
		ComparatorName:    "kiln.BytewiseComparator",
		NextFileNumber:    2,
		HasNextFileNumber: true,
		LastSequence:      0,
		HasLastSequence:   true,
	}
	w, err := manifest.Create(fs, 1, snapshot)
	require.NoError(t, err)

	require.NoError(t, w.Append(&manifest.Edit{
		LogNumber: 5, HasLogNumber: true,
		NextFileNumber: 3, HasNextFileNumber: true,
		LastSequence: 10, HasLastSequence: true,
		NewFiles: []manifest.NewFileEntry{
			{Level: 0, Meta: manifest.NewFileMetadata(2, 100, ik("a", 5), ik("c", 4))},
		},
	}))
	require.NoError(t, w.Close())

	vs, v, err := manifest.Replay(fs, manifest.ManifestName(1), internalCmp, "kiln.BytewiseComparator")
	require.NoError(t, err)
	require.Equal(t, uint64(3), vs.NextFileNumber)
	require.Equal(t, uint64(10), vs.LastSequence)
	require.Equal(t, uint64(5), vs.LogNumber)
	require.Equal(t, 1, v.NumFiles(0))
}

func TestReplayRejectsComparatorMismatch(t *testing.T) {
	fs := vfs.NewMem()
	w, err := manifest.Create(fs, 1, &manifest.Edit{ComparatorName: "kiln.BytewiseComparator"})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, _, err = manifest.Replay(fs, manifest.ManifestName(1), internalCmp, "some.OtherComparator")
	require.Error(t, err)
}
