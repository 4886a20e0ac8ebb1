package sstable

import (
	"hash/crc32"

	"github.com/golang/snappy"
)

// blockBuilder accumulates key-sorted entries for a data, index, or
// meta-index block, applying shared-prefix compression against the
// previous key and resetting to a full key every restartInterval entries.
type blockBuilder struct {
	restartInterval int
	buf             []byte
	restarts        []uint32
	counter         int
	lastKey         []byte
	entries         int
}

func newBlockBuilder(restartInterval int) *blockBuilder {
	if restartInterval <= 0 {
		restartInterval = DefaultBlockRestartInterval
	}
	return &blockBuilder{
		restartInterval: restartInterval,
		restarts:        []uint32{0},
	}
}

func (b *blockBuilder) reset() {
	b.buf = b.buf[:0]
	b.restarts = b.restarts[:0]
	b.restarts = append(b.restarts, 0)
	b.counter = 0
	b.lastKey = b.lastKey[:0]
	b.entries = 0
}

func (b *blockBuilder) empty() bool { return b.entries == 0 }

// add appends one (key, value) entry. Keys must arrive in ascending order.
func (b *blockBuilder) add(key, value []byte) {
	shared := 0
	if b.counter < b.restartInterval {
		shared = sharedPrefixLen(b.lastKey, key)
	} else {
		b.restarts = append(b.restarts, uint32(len(b.buf)))
		b.counter = 0
	}
	nonShared := len(key) - shared

	b.buf = appendVarint32(b.buf, uint32(shared))
	b.buf = appendVarint32(b.buf, uint32(nonShared))
	b.buf = appendVarint32(b.buf, uint32(len(value)))
	b.buf = append(b.buf, key[shared:]...)
	b.buf = append(b.buf, value...)

	b.lastKey = append(b.lastKey[:0], key...)
	b.counter++
	b.entries++
}

// sizeEstimate returns the approximate raw size if finished right now.
func (b *blockBuilder) sizeEstimate() int {
	return len(b.buf) + 4*len(b.restarts) + 4
}

// finish serializes entries || restarts || count, ready for the caller to
// append the compression-type byte and checksum.
func (b *blockBuilder) finish() []byte {
	out := append([]byte(nil), b.buf...)
	for _, r := range b.restarts {
		out = appendFixed32(out, r)
	}
	out = appendFixed32(out, uint32(len(b.restarts)))
	return out
}

func appendFixed32(dst []byte, v uint32) []byte {
	return append(dst, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func sharedPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// finishBlock wraps a builder's serialized contents with the compression
// byte and masked CRC32C trailer, ready to be written to the table file
// verbatim. The checksum covers (entries || restarts || count || type),
// which is the same byte order as the block's on-disk layout up to the
// type byte; for a compressed block that means the checksum is over the
// bytes actually stored on disk, not the raw input.
func finishBlock(b *blockBuilder, compression Compression) []byte {
	payload := b.finish()
	stored := payload
	if compression == SnappyCompression {
		stored = snappy.Encode(nil, payload)
	}
	out := make([]byte, 0, len(stored)+blockTrailerSize)
	out = append(out, stored...)
	out = append(out, byte(compression))
	sum := checksum(stored, compression)
	out = appendFixed32(out, maskCRC(sum))
	return out
}

func checksum(payload []byte, compression Compression) uint32 {
	h := crc32.Update(0, castagnoli, payload)
	h = crc32.Update(h, castagnoli, []byte{byte(compression)})
	return h
}
