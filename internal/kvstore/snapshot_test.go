package kvstore_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kiln-db/kiln/internal/kvstore"
)

func TestSnapshotListOldestReflectsLiveSnapshots(t *testing.T) {
	l := kvstore.NewSnapshotList()
	require.EqualValues(t, 42, l.Oldest(42), "no live snapshot: falls back to hint")

	s1 := l.Take(10)
	s2 := l.Take(20)
	require.EqualValues(t, 10, l.Oldest(99))

	l.Release(s1)
	require.EqualValues(t, 20, l.Oldest(99))

	l.Release(s2)
	require.EqualValues(t, 99, l.Oldest(99))
}

func TestSnapshotReleaseIsIdempotent(t *testing.T) {
	l := kvstore.NewSnapshotList()
	s := l.Take(5)
	l.Release(s)
	require.NotPanics(t, func() { l.Release(s) })
	require.EqualValues(t, 7, l.Oldest(7))
}

func TestSnapshotListOldestIsSmallestSequenceNotFirstTaken(t *testing.T) {
	l := kvstore.NewSnapshotList()
	l.Take(30)
	older := l.Take(5)
	l.Take(50)
	require.EqualValues(t, 5, l.Oldest(0))
	l.Release(older)
	require.EqualValues(t, 30, l.Oldest(0))
}
