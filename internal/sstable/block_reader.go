package sstable

import (
	"github.com/cockroachdb/errors"
	"github.com/golang/snappy"
)

// block is a parsed, validated data/index/meta-index block: the raw entry
// bytes plus the parsed restart-point offsets.
type block struct {
	data     []byte // entries only, restarts/count/trailer stripped
	restarts []uint32
}

// parseBlock validates a block's checksum, decompresses it if needed, and
// splits it into entries and restart offsets. raw is the full on-disk
// block: the (possibly compressed) payload, the compression-type byte,
// and the CRC trailer.
func parseBlock(raw []byte) (*block, error) {
	if len(raw) < blockTrailerSize {
		return nil, errors.Wrap(ErrCorrupt, "block shorter than trailer")
	}
	stored := raw[:len(raw)-blockTrailerSize]
	compression := Compression(raw[len(raw)-blockTrailerSize])
	wantCRC := uint32(raw[len(raw)-4]) | uint32(raw[len(raw)-3])<<8 |
		uint32(raw[len(raw)-2])<<16 | uint32(raw[len(raw)-1])<<24

	gotCRC := checksum(stored, compression)
	if unmaskCRC(wantCRC) != gotCRC {
		return nil, errors.Wrap(ErrCorrupt, "block checksum mismatch")
	}

	var payload []byte
	switch compression {
	case NoCompression:
		payload = stored
	case SnappyCompression:
		decoded, err := snappy.Decode(nil, stored)
		if err != nil {
			return nil, errors.Wrap(ErrCorrupt, "snappy decompress")
		}
		payload = decoded
	default:
		return nil, errors.Wrap(ErrCorrupt, "unknown compression type")
	}
	if len(payload) < 4 {
		return nil, errors.Wrap(ErrCorrupt, "block missing restart count")
	}
	count := fixed32(payload[len(payload)-4:])
	restartsStart := len(payload) - 4 - 4*int(count)
	if restartsStart < 0 {
		return nil, errors.Wrap(ErrCorrupt, "block restart count out of range")
	}
	restarts := make([]uint32, count)
	for i := range restarts {
		restarts[i] = fixed32(payload[restartsStart+4*i:])
	}
	return &block{data: payload[:restartsStart], restarts: restarts}, nil
}

func fixed32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// blockIter walks a parsed block's entries in order, reconstructing full
// keys from the shared-prefix encoding as it goes. curOffset is the start
// of the current entry; nextOffset is where the following entry begins
// (and equal to len(data) once positioned on the last entry).
type blockIter struct {
	blk        *block
	curOffset  int
	nextOffset int
	key        []byte
	value      []byte
	valid      bool
}

func newBlockIter(blk *block) *blockIter {
	return &blockIter{blk: blk}
}

func (it *blockIter) Valid() bool   { return it.valid }
func (it *blockIter) Key() []byte   { return it.key }
func (it *blockIter) Value() []byte { return it.value }

// decodeAt parses the entry starting at byte offset off, given the key
// preceding it (for shared-prefix expansion); returns the offset just past
// the entry, or -1 on malformed input.
func (it *blockIter) decodeAt(off int, prevKey []byte) int {
	data := it.blk.data
	if off >= len(data) {
		it.valid = false
		return -1
	}
	shared, n1 := getVarint32(data[off:])
	if n1 <= 0 {
		it.valid = false
		return -1
	}
	off += n1
	nonShared, n2 := getVarint32(data[off:])
	if n2 <= 0 {
		it.valid = false
		return -1
	}
	off += n2
	valLen, n3 := getVarint32(data[off:])
	if n3 <= 0 {
		it.valid = false
		return -1
	}
	off += n3
	if off+int(nonShared)+int(valLen) > len(data) || int(shared) > len(prevKey) {
		it.valid = false
		return -1
	}
	key := make([]byte, int(shared)+int(nonShared))
	copy(key, prevKey[:shared])
	copy(key[shared:], data[off:off+int(nonShared)])
	off += int(nonShared)
	value := data[off : off+int(valLen)]
	off += int(valLen)

	it.key = key
	it.value = value
	it.valid = true
	return off
}

// SeekToFirst positions the iterator at the first entry.
func (it *blockIter) SeekToFirst() {
	if len(it.blk.restarts) == 0 {
		it.valid = false
		return
	}
	it.seekToRestart(0)
}

// SeekToLast positions the iterator at the last entry by scanning forward
// from the final restart point.
func (it *blockIter) SeekToLast() {
	if len(it.blk.restarts) == 0 {
		it.valid = false
		return
	}
	it.seekToRestart(len(it.blk.restarts) - 1)
	for it.valid && it.nextOffset < len(it.blk.data) {
		cur := it.nextOffset
		end := it.decodeAt(cur, it.key)
		if end < 0 {
			it.valid = true // malformed tail: keep the last good position
			break
		}
		it.curOffset = cur
		it.nextOffset = end
	}
}

// seekToRestart decodes the first (always full-key) entry at restart i.
func (it *blockIter) seekToRestart(i int) {
	off := int(it.blk.restarts[i])
	end := it.decodeAt(off, nil)
	if end < 0 {
		return
	}
	it.curOffset = off
	it.nextOffset = end
}

// Next advances to the entry following the current one.
func (it *blockIter) Next() {
	if !it.valid {
		return
	}
	cur := it.nextOffset
	end := it.decodeAt(cur, it.key)
	if end < 0 {
		return
	}
	it.curOffset = cur
	it.nextOffset = end
}

// Prev moves to the entry preceding the current one, re-decoding forward
// from the covering restart point since entries only carry a forward
// shared-prefix delta.
func (it *blockIter) Prev() {
	if !it.valid {
		return
	}
	target := it.curOffset
	if target == 0 {
		it.valid = false
		return
	}
	idx := 0
	for idx+1 < len(it.blk.restarts) && int(it.blk.restarts[idx+1]) < target {
		idx++
	}
	it.seekToRestart(idx)
	for it.valid && it.nextOffset < target {
		it.Next()
	}
}

// Seek positions the iterator at the first entry with key >= target,
// using a binary search over restart points followed by a linear scan.
func (it *blockIter) Seek(target []byte, cmp func(a, b []byte) int) {
	if len(it.blk.restarts) == 0 {
		it.valid = false
		return
	}
	lo, hi := 0, len(it.blk.restarts)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		it.seekToRestart(mid)
		if !it.valid || cmp(it.key, target) > 0 {
			hi = mid - 1
		} else {
			lo = mid
		}
	}
	it.seekToRestart(lo)
	for it.valid && cmp(it.key, target) < 0 {
		it.Next()
	}
}
