package manifest_test

import (
	"testing"

	"github.com/kiln-db/kiln/internal/dbkey"
	"github.com/kiln-db/kiln/internal/manifest"
	"github.com/stretchr/testify/require"
)

func ik(userKey string, seq uint64) []byte {
	return dbkey.New([]byte(userKey), seq, dbkey.TypeValue)
}

var internalCmp = dbkey.InternalComparator(dbkey.BytewiseComparator.Compare)

func TestOverlappingInputsFiltersByRange(t *testing.T) {
	files := []*manifest.FileMetadata{
		manifest.NewFileMetadata(1, 100, ik("a", 10), ik("c", 9)),
		manifest.NewFileMetadata(2, 100, ik("d", 10), ik("f", 9)),
		manifest.NewFileMetadata(3, 100, ik("g", 10), ik("i", 9)),
	}
	got := manifest.OverlappingInputs(internalCmp, files, ik("c", 1), ik("g", 20))
	require.Len(t, got, 2)
	require.Equal(t, uint64(2), got[0].Number)
	require.Equal(t, uint64(3), got[1].Number)
}

func TestOverlappingInputsUnboundedSides(t *testing.T) {
	files := []*manifest.FileMetadata{
		manifest.NewFileMetadata(1, 100, ik("a", 10), ik("c", 9)),
		manifest.NewFileMetadata(2, 100, ik("d", 10), ik("f", 9)),
	}
	got := manifest.OverlappingInputs(internalCmp, files, nil, nil)
	require.Len(t, got, 2)
}

func TestUserKeyRangeSpansAllFiles(t *testing.T) {
	files := []*manifest.FileMetadata{
		manifest.NewFileMetadata(1, 100, ik("m", 10), ik("p", 9)),
		manifest.NewFileMetadata(2, 100, ik("a", 10), ik("z", 9)),
	}
	smallest, largest := manifest.UserKeyRange(files)
	require.Equal(t, "a", string(smallest))
	require.Equal(t, "z", string(largest))
}

func TestSortByNumberDescending(t *testing.T) {
	files := []*manifest.FileMetadata{
		manifest.NewFileMetadata(3, 1, nil, nil),
		manifest.NewFileMetadata(1, 1, nil, nil),
		manifest.NewFileMetadata(2, 1, nil, nil),
	}
	manifest.SortByNumberDescending(files)
	require.Equal(t, []uint64{3, 2, 1}, numbers(files))
}

func TestVersionRefUnrefTracksFileObsolescence(t *testing.T) {
	f := manifest.NewFileMetadata(1, 10, ik("a", 1), ik("b", 1))
	v := manifest.NewVersion()
	v.Levels[0] = []*manifest.FileMetadata{f}
	f.Ref()
	v.Ref()

	zero, obsolete := v.Unref()
	require.True(t, zero)
	require.Len(t, obsolete, 1)
	require.Equal(t, uint64(1), obsolete[0].Number)
}

func numbers(files []*manifest.FileMetadata) []uint64 {
	out := make([]uint64, len(files))
	for i, f := range files {
		out[i] = f.Number
	}
	return out
}
