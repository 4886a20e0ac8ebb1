// Package sstable implements the on-disk sorted-table format: an immutable
// file of key-sorted data blocks plus a filter block, a meta-index block,
// a two-level index block, and a fixed-size footer. It replaces the
// teacher's write-only sst package with a format that can also be read
// back, the way every other table implementation in this project's
// lineage pairs a builder with a reader.
package sstable

import (
	"hash/crc32"

	"github.com/cockroachdb/errors"
)

// Magic is the 8-byte trailer identifying a valid table file.
const Magic uint64 = 0xdb4775248b80fb57

// FooterSize is the fixed size of the trailing footer.
const FooterSize = 48

// blockTrailerSize is the compression-type byte plus the 4-byte masked CRC
// appended after every block's payload.
const blockTrailerSize = 5

// Compression identifies how a block's payload is encoded on disk.
type Compression byte

const (
	NoCompression     Compression = 0
	SnappyCompression Compression = 1
)

// DefaultBlockRestartInterval is the number of entries between full-key
// restart points in a data, index, or meta-index block.
const DefaultBlockRestartInterval = 16

// DefaultBlockSize is the target raw size, before compression, at which the
// builder closes the current data block and starts a new one.
const DefaultBlockSize = 4 * 1024

// DefaultFilterBaseLog is the log2 of the byte range each filter covers:
// 1<<11 == 2KiB, per spec.
const DefaultFilterBaseLog = 11

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

const crcMaskDelta = 0xa282ead8

func maskCRC(crc uint32) uint32 {
	return (crc>>15 | crc<<17) + crcMaskDelta
}

func unmaskCRC(masked uint32) uint32 {
	rot := masked - crcMaskDelta
	return rot<<15 | rot>>17
}

// ErrCorrupt is wrapped with context and returned for any checksum or
// structural validation failure while reading a table.
var ErrCorrupt = errors.New("sstable: corrupt table")

// ErrNotFound names the absent-key condition. Reader.Get does not return
// it; Get reports a miss with found=false and a nil error.
var ErrNotFound = errors.New("sstable: not found")

// BlockHandle locates a block within a table file.
type BlockHandle struct {
	Offset uint64
	Size   uint64
}

// EncodeTo appends the handle's varint64 offset and size to dst.
func (h BlockHandle) EncodeTo(dst []byte) []byte {
	dst = appendVarint64(dst, h.Offset)
	dst = appendVarint64(dst, h.Size)
	return dst
}

// DecodeBlockHandle parses a handle from the front of b, returning the
// handle and the number of bytes consumed.
func DecodeBlockHandle(b []byte) (BlockHandle, int, error) {
	off, n1 := getVarint64(b)
	if n1 <= 0 {
		return BlockHandle{}, 0, errors.Wrap(ErrCorrupt, "decoding block handle offset")
	}
	size, n2 := getVarint64(b[n1:])
	if n2 <= 0 {
		return BlockHandle{}, 0, errors.Wrap(ErrCorrupt, "decoding block handle size")
	}
	return BlockHandle{Offset: off, Size: size}, n1 + n2, nil
}

func appendVarint64(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

func getVarint64(b []byte) (uint64, int) {
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

func getVarint32(b []byte) (uint32, int) {
	v, n := getVarint64(b)
	if n <= 0 || v > 1<<32-1 {
		return 0, 0
	}
	return uint32(v), n
}

func appendVarint32(dst []byte, v uint32) []byte {
	return appendVarint64(dst, uint64(v))
}
