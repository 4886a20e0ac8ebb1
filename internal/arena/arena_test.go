package arena_test

import (
	"testing"
	"unsafe"

	"github.com/kiln-db/kiln/internal/arena"
	"github.com/stretchr/testify/require"
)

func TestAllocReturnsDistinctSlices(t *testing.T) {
	a := arena.New()
	x := a.Alloc(16)
	y := a.Alloc(16)
	for i := range x {
		x[i] = 1
	}
	for i := range y {
		require.Zero(t, y[i])
	}
}

func TestAllocTracksSize(t *testing.T) {
	a := arena.New()
	a.Alloc(100)
	a.Alloc(200)
	require.Equal(t, int64(300), a.Size())
}

func TestOversizedAllocGetsOwnBlock(t *testing.T) {
	a := arena.New()
	big := a.Alloc(4096)
	require.Len(t, big, 4096)
	require.Equal(t, int64(4096), a.Size())
}

func TestAllocAlignedIsPointerAligned(t *testing.T) {
	a := arena.New()
	a.Alloc(3) // misalign the current block
	b := a.AllocAligned(8)
	require.Len(t, b, 8)
	require.Zero(t, uintptr(unsafe.Pointer(&b[0]))%8)
}
