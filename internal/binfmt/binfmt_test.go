package binfmt_test

import (
	"testing"

	"github.com/kiln-db/kiln/internal/binfmt"
	"github.com/stretchr/testify/require"
)

func TestFixedRoundTrip(t *testing.T) {
	b := binfmt.PutFixed32(nil, 0xdeadbeef)
	require.Equal(t, uint32(0xdeadbeef), binfmt.Fixed32(b))

	b = binfmt.PutFixed64(nil, 0x0102030405060708)
	require.Equal(t, uint64(0x0102030405060708), binfmt.Fixed64(b))
}

func TestVarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 1 << 20, 1<<50 + 100, ^uint64(0)}
	for _, v := range values {
		b := binfmt.PutVarint64(nil, v)
		got, n := binfmt.Varint64(b)
		require.Equal(t, len(b), n)
		require.Equal(t, v, got)
	}
}

func TestVarint32RejectsOutOfRange(t *testing.T) {
	b := binfmt.PutVarint64(nil, 1<<40)
	_, n := binfmt.Varint32(b)
	require.Equal(t, 0, n)
}

func TestLengthPrefixedSliceRoundTrip(t *testing.T) {
	dst := binfmt.PutLengthPrefixedSlice(nil, []byte("hello"))
	dst = binfmt.PutLengthPrefixedSlice(dst, []byte("world"))

	got, rest, err := binfmt.GetLengthPrefixedSlice(dst)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))

	got, rest, err = binfmt.GetLengthPrefixedSlice(rest)
	require.NoError(t, err)
	require.Equal(t, "world", string(got))
	require.Empty(t, rest)
}

func TestLengthPrefixedSliceTruncated(t *testing.T) {
	dst := binfmt.PutLengthPrefixedSlice(nil, []byte("hello"))
	_, _, err := binfmt.GetLengthPrefixedSlice(dst[:len(dst)-1])
	require.ErrorIs(t, err, binfmt.ErrShortBuffer)
}
