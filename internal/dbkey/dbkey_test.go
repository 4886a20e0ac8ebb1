package dbkey_test

import (
	"testing"

	"github.com/kiln-db/kiln/internal/dbkey"
	"github.com/stretchr/testify/require"
)

func TestAppendAndParseRoundTrip(t *testing.T) {
	ik := dbkey.New([]byte("widget"), 42, dbkey.TypeValue)
	userKey, seq, typ, ok := dbkey.Parse(ik)
	require.True(t, ok)
	require.Equal(t, []byte("widget"), userKey)
	require.EqualValues(t, 42, seq)
	require.Equal(t, dbkey.TypeValue, typ)
}

func TestParseRejectsShortKey(t *testing.T) {
	_, _, _, ok := dbkey.Parse([]byte{1, 2, 3})
	require.False(t, ok)
}

func TestInternalComparatorOrdersByUserKeyThenSequenceDescending(t *testing.T) {
	cmp := dbkey.InternalComparator(dbkey.BytewiseComparator.Compare)

	a := dbkey.New([]byte("a"), 5, dbkey.TypeValue)
	b := dbkey.New([]byte("b"), 1, dbkey.TypeValue)
	require.Negative(t, cmp(a, b), "different user keys order lexicographically")

	newer := dbkey.New([]byte("k"), 10, dbkey.TypeValue)
	older := dbkey.New([]byte("k"), 3, dbkey.TypeValue)
	require.Negative(t, cmp(newer, older), "higher sequence sorts first for the same user key")
	require.Positive(t, cmp(older, newer))
	require.Zero(t, cmp(newer, newer))
}

func TestInternalComparatorBreaksSequenceTiesByTypeDescending(t *testing.T) {
	cmp := dbkey.InternalComparator(dbkey.BytewiseComparator.Compare)

	value := dbkey.New([]byte("k"), 7, dbkey.TypeValue)
	deletion := dbkey.New([]byte("k"), 7, dbkey.TypeDeletion)
	require.Negative(t, cmp(value, deletion), "TypeValue(1) sorts before TypeDeletion(0) at equal sequence")
}

func TestLookupKeySortsAtOrBeforeSequence(t *testing.T) {
	cmp := dbkey.InternalComparator(dbkey.BytewiseComparator.Compare)

	lookup := dbkey.LookupKey([]byte("k"), 5)
	atSeq := dbkey.New([]byte("k"), 5, dbkey.TypeValue)
	require.Zero(t, cmp(lookup, atSeq))

	newerThanLookup := dbkey.New([]byte("k"), 6, dbkey.TypeValue)
	require.Positive(t, cmp(lookup, newerThanLookup), "lookup at seq 5 sorts after a seq-6 entry")

	olderThanLookup := dbkey.New([]byte("k"), 4, dbkey.TypeValue)
	require.Negative(t, cmp(lookup, olderThanLookup), "lookup at seq 5 sorts before a seq-4 entry")

	tombstoneAtSeq := dbkey.New([]byte("k"), 5, dbkey.TypeDeletion)
	require.Negative(t, cmp(lookup, tombstoneAtSeq), "lookup must see the tombstone at its own sequence")
}

func TestBytewiseShortestSeparatorStaysInRange(t *testing.T) {
	sep := dbkey.BytewiseComparator.ShortestSeparator([]byte("green"), []byte("honey"))
	require.True(t, dbkey.BytewiseComparator.Compare(sep, []byte("green")) >= 0)
	require.True(t, dbkey.BytewiseComparator.Compare(sep, []byte("honey")) < 0)
}

func TestBytewiseShortSuccessor(t *testing.T) {
	succ := dbkey.BytewiseComparator.ShortSuccessor([]byte("abc"))
	require.True(t, dbkey.BytewiseComparator.Compare(succ, []byte("abc")) >= 0)

	allFF := dbkey.BytewiseComparator.ShortSuccessor([]byte{0xff, 0xff})
	require.Equal(t, []byte{0xff, 0xff}, allFF)
}
