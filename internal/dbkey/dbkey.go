// Package dbkey defines the internal-key format shared by the memtable,
// sstable, manifest, and compaction packages: a user key is never stored
// on its own past the write pipeline's boundary, only as part of an
// internal key carrying a sequence number and a value-type tag.
package dbkey

import (
	"encoding/binary"

	"github.com/kiln-db/kiln/internal/binfmt"
)

// ValueType distinguishes a live value from a tombstone. It occupies the
// low 8 bits of an internal key's 64-bit trailer.
type ValueType uint8

const (
	// TypeDeletion marks a tombstone: the absence of a value for the
	// user key as of this sequence number.
	TypeDeletion ValueType = 0
	// TypeValue marks a live value.
	TypeValue ValueType = 1
)

// MaxSequenceNumber is the largest representable sequence number: 56 bits.
const MaxSequenceNumber = (uint64(1) << 56) - 1

// TrailerSize is the width, in bytes, of the sequence+type suffix appended
// to every user key to form an internal key.
const TrailerSize = 8

// PackTrailer combines a sequence number and type into the 64-bit trailer
// value (seq<<8)|type.
func PackTrailer(seq uint64, t ValueType) uint64 {
	return seq<<8 | uint64(t)
}

// UnpackTrailer splits a trailer back into its sequence number and type.
func UnpackTrailer(trailer uint64) (seq uint64, t ValueType) {
	return trailer >> 8, ValueType(trailer & 0xff)
}

// Comparator is a three-way byte-string comparator plus the two key
// shortening hooks used only to shrink sstable index entries. Both may be
// the identity function; they change only which representative key is
// stored, never query semantics.
type Comparator struct {
	Name string
	// Compare returns <0, 0, >0 as a<b, a==b, a>b.
	Compare func(a, b []byte) int
	// ShortestSeparator returns any s with a <= s < b, preferring a short s.
	ShortestSeparator func(a, b []byte) []byte
	// ShortSuccessor returns any s >= a, preferring a short s.
	ShortSuccessor func(a []byte) []byte
}

// BytewiseComparator is the default total order: lexicographic unsigned
// byte comparison.
var BytewiseComparator = Comparator{
	Name:              "kiln.BytewiseComparator",
	Compare:           bytewiseCompare,
	ShortestSeparator: bytewiseShortestSeparator,
	ShortSuccessor:    bytewiseShortSuccessor,
}

func bytewiseCompare(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// bytewiseShortestSeparator shortens a towards b by truncating after the
// first differing byte and incrementing it, when that still sits in
// [a, b). It is purely an optimization; returning a unchanged is correct.
func bytewiseShortestSeparator(a, b []byte) []byte {
	minLen := len(a)
	if len(b) < minLen {
		minLen = len(b)
	}
	diffIdx := 0
	for diffIdx < minLen && a[diffIdx] == b[diffIdx] {
		diffIdx++
	}
	if diffIdx >= minLen {
		return a // one is a prefix of the other; nothing to shorten
	}
	if a[diffIdx] >= 0xff || a[diffIdx]+1 >= b[diffIdx] {
		return a
	}
	sep := append([]byte(nil), a[:diffIdx+1]...)
	sep[diffIdx]++
	return sep
}

// bytewiseShortSuccessor returns the shortest key >= a by truncating after
// the first byte less than 0xff and incrementing it.
func bytewiseShortSuccessor(a []byte) []byte {
	for i := 0; i < len(a); i++ {
		if a[i] != 0xff {
			succ := append([]byte(nil), a[:i+1]...)
			succ[i]++
			return succ
		}
	}
	return a // all 0xff bytes: no shorter successor exists
}

// Append writes userKey || trailer(seq,t) to dst and returns the result.
func Append(dst, userKey []byte, seq uint64, t ValueType) []byte {
	dst = append(dst, userKey...)
	return binfmt.PutFixed64(dst, PackTrailer(seq, t))
}

// New allocates a fresh internal key for (userKey, seq, t).
func New(userKey []byte, seq uint64, t ValueType) []byte {
	ik := make([]byte, 0, len(userKey)+TrailerSize)
	return Append(ik, userKey, seq, t)
}

// UserKey strips the trailer, returning the user-key portion of ik. ik must
// be at least TrailerSize bytes.
func UserKey(ik []byte) []byte {
	return ik[:len(ik)-TrailerSize]
}

// Trailer returns the raw 64-bit trailer of ik.
func Trailer(ik []byte) uint64 {
	return binary.LittleEndian.Uint64(ik[len(ik)-TrailerSize:])
}

// Parse splits an internal key into its user key, sequence number, and
// type. ok is false if ik is shorter than TrailerSize.
func Parse(ik []byte) (userKey []byte, seq uint64, t ValueType, ok bool) {
	if len(ik) < TrailerSize {
		return nil, 0, 0, false
	}
	seq, t = UnpackTrailer(Trailer(ik))
	return UserKey(ik), seq, t, true
}

// InternalComparator builds the byte-slice comparator used to order
// internal keys: user key ascending by userCmp, then sequence number
// descending, then type descending — so the newest write for a user key
// sorts first.
func InternalComparator(userCmp func(a, b []byte) int) func(a, b []byte) int {
	return func(a, b []byte) int {
		if c := userCmp(UserKey(a), UserKey(b)); c != 0 {
			return c
		}
		ta, tb := Trailer(a), Trailer(b)
		switch {
		case ta > tb:
			return -1
		case ta < tb:
			return 1
		default:
			return 0
		}
	}
}

// LookupKey returns the internal key to search for when reading at
// sequence s: the tag (s<<8)|TypeValue sorts before any entry for the
// same user key with sequence <= s, because TypeValue(1) > TypeDeletion(0)
// sorts first within equal sequences and any smaller sequence sorts after.
func LookupKey(userKey []byte, seq uint64) []byte {
	return New(userKey, seq, TypeValue)
}
