// Package binfmt implements the fixed-width and variable-length integer
// encodings shared by the write-ahead log, the sstable block formats, and
// the manifest's version-edit encoding.
package binfmt

import "github.com/cockroachdb/errors"

// ErrShortBuffer is returned when a decode call does not have enough bytes
// to satisfy the declared length of the value being decoded.
var ErrShortBuffer = errors.New("binfmt: buffer too short")

// PutFixed32 appends a 4-byte little-endian encoding of v to dst.
func PutFixed32(dst []byte, v uint32) []byte {
	return append(dst, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

// PutFixed64 appends an 8-byte little-endian encoding of v to dst.
func PutFixed64(dst []byte, v uint64) []byte {
	return append(dst,
		byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
		byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}

// Fixed32 decodes a 4-byte little-endian unsigned integer.
func Fixed32(b []byte) uint32 {
	_ = b[3]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// Fixed64 decodes an 8-byte little-endian unsigned integer.
func Fixed64(b []byte) uint64 {
	_ = b[7]
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}

// PutVarint32 appends a 1-to-5-byte varint encoding of v to dst.
func PutVarint32(dst []byte, v uint32) []byte {
	return PutVarint64(dst, uint64(v))
}

// PutVarint64 appends a 1-to-10-byte varint encoding of v to dst.
func PutVarint64(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// Varint32 decodes a varint32 from b, returning the value and the number of
// bytes consumed. It returns (0, 0) if b does not contain a complete,
// in-range varint.
func Varint32(b []byte) (uint32, int) {
	v, n := Varint64(b)
	if n <= 0 || v > 1<<32-1 {
		return 0, 0
	}
	return uint32(v), n
}

// Varint64 decodes a varint64 from b, returning the value and the number of
// bytes consumed. It returns (0, 0) if b does not contain a complete
// varint within 10 bytes.
func Varint64(b []byte) (uint64, int) {
	var v uint64
	for i := 0; i < len(b) && i < 10; i++ {
		c := b[i]
		v |= uint64(c&0x7f) << uint(7*i)
		if c < 0x80 {
			return v, i + 1
		}
	}
	return 0, 0
}

// PutLengthPrefixedSlice appends a varint32 length followed by data.
func PutLengthPrefixedSlice(dst []byte, data []byte) []byte {
	dst = PutVarint32(dst, uint32(len(data)))
	return append(dst, data...)
}

// GetLengthPrefixedSlice decodes a varint32-length-prefixed slice from the
// front of b, returning the slice, and the remaining bytes after it. It
// fails if the declared length exceeds the remaining input.
func GetLengthPrefixedSlice(b []byte) (slice, rest []byte, err error) {
	n, k := Varint32(b)
	if k <= 0 {
		return nil, nil, errors.Wrap(ErrShortBuffer, "decoding length prefix")
	}
	b = b[k:]
	if uint32(len(b)) < n {
		return nil, nil, errors.Wrap(ErrShortBuffer, "decoding length-prefixed slice")
	}
	return b[:n], b[n:], nil
}
