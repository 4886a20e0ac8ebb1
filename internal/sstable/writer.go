package sstable

import (
	"github.com/cockroachdb/errors"
	"github.com/kiln-db/kiln/internal/dbkey"
	"github.com/kiln-db/kiln/internal/vfs"
)

// Writer builds a single sorted table file. Add must be called with
// internal keys in ascending order (per the internal-key comparator
// derived from userCmp); Finish writes the filter, meta-index, index, and
// footer and returns the final file size.
type Writer struct {
	f           vfs.File
	userCmp     dbkey.Comparator
	cmp         func(a, b []byte) int
	policy      FilterPolicy
	compression Compression

	offset int64
	data   *blockBuilder
	index  *blockBuilder
	filter *filterBlockBuilder

	pendingHandle    BlockHandle
	havePendingIndex bool
	lastKey          []byte

	smallest, largest []byte
	closed            bool
}

// NewWriter creates a builder that writes to f, ordering internal keys by
// the internal-key comparator derived from userCmp and, if policy is
// non-nil, building a filter block with it.
func NewWriter(f vfs.File, userCmp dbkey.Comparator, policy FilterPolicy) *Writer {
	w := &Writer{
		f:           f,
		userCmp:     userCmp,
		cmp:         dbkey.InternalComparator(userCmp.Compare),
		policy:      policy,
		compression: SnappyCompression,
		data:        newBlockBuilder(DefaultBlockRestartInterval),
		index:       newBlockBuilder(DefaultBlockRestartInterval),
	}
	if policy != nil {
		w.filter = newFilterBlockBuilder(policy)
		w.filter.startBlock(0)
	}
	return w
}

// SetCompression overrides the data block compression (Snappy by
// default); index, meta-index, and filter blocks are never compressed.
func (w *Writer) SetCompression(c Compression) { w.compression = c }

// internalShortestSeparator returns an internal key s with a <= s < b
// (under the internal-key comparator) that is no longer than necessary,
// by shortening only the user-key portion: the internal-key trailer
// breaks ties within one user key, so any trailer is safe once the
// shortened user key is strictly between a's and b's.
func (w *Writer) internalShortestSeparator(a, b []byte) []byte {
	userA, userB := dbkey.UserKey(a), dbkey.UserKey(b)
	sep := w.userCmp.ShortestSeparator(userA, userB)
	if string(sep) == string(userA) {
		return append([]byte(nil), a...) // could not shorten: keep a verbatim
	}
	return dbkey.New(sep, dbkey.MaxSequenceNumber, dbkey.TypeValue)
}

// internalShortSuccessor returns an internal key s >= a (under the
// internal-key comparator), shortening only the user-key portion.
func (w *Writer) internalShortSuccessor(a []byte) []byte {
	userA := dbkey.UserKey(a)
	succ := w.userCmp.ShortSuccessor(userA)
	if string(succ) == string(userA) {
		return append([]byte(nil), a...)
	}
	return dbkey.New(succ, dbkey.MaxSequenceNumber, dbkey.TypeValue)
}

// Add appends one internal-key/value entry.
func (w *Writer) Add(key, value []byte) error {
	if w.closed {
		return errors.New("sstable: add after finish/abandon")
	}
	if w.havePendingIndex {
		sep := w.internalShortestSeparator(w.lastKey, key)
		w.index.add(sep, w.pendingHandle.EncodeTo(nil))
		w.havePendingIndex = false
	}

	if w.smallest == nil {
		w.smallest = append([]byte(nil), key...)
	}
	w.largest = append(w.largest[:0], key...)

	if w.filter != nil {
		w.filter.addKey(dbkey.UserKey(key))
	}
	w.data.add(key, value)
	w.lastKey = append(w.lastKey[:0], key...)

	if w.data.sizeEstimate() >= DefaultBlockSize {
		return w.flushDataBlock()
	}
	return nil
}

func (w *Writer) flushDataBlock() error {
	if w.data.empty() {
		return nil
	}
	handle, err := w.writeBlock(w.data, w.compression)
	if err != nil {
		return err
	}
	w.data.reset()
	w.pendingHandle = handle
	w.havePendingIndex = true
	if w.filter != nil {
		w.filter.startBlock(uint64(w.offset))
	}
	return nil
}

func (w *Writer) writeBlock(b *blockBuilder, compression Compression) (BlockHandle, error) {
	raw := finishBlock(b, compression)
	if _, err := w.f.Write(raw); err != nil {
		return BlockHandle{}, errors.Wrap(err, "sstable: write block")
	}
	handle := BlockHandle{Offset: uint64(w.offset), Size: uint64(len(raw)) - blockTrailerSize}
	w.offset += int64(len(raw))
	return handle, nil
}

// Finish flushes any pending data block, writes the filter, meta-index,
// index, and footer, and returns the final file size.
func (w *Writer) Finish() (int64, error) {
	if w.closed {
		return 0, errors.New("sstable: finish after finish/abandon")
	}
	if err := w.flushDataBlock(); err != nil {
		return 0, err
	}
	if w.havePendingIndex {
		succ := w.internalShortSuccessor(w.lastKey)
		w.index.add(succ, w.pendingHandle.EncodeTo(nil))
		w.havePendingIndex = false
	}

	var filterHandle BlockHandle
	haveFilter := w.filter != nil
	if haveFilter {
		raw := w.filter.finish()
		trailer := append(append([]byte(nil), raw...), byte(NoCompression))
		crc := checksum(raw, NoCompression)
		trailer = appendFixed32(trailer, maskCRC(crc))
		if _, err := w.f.Write(trailer); err != nil {
			return 0, errors.Wrap(err, "sstable: write filter block")
		}
		filterHandle = BlockHandle{Offset: uint64(w.offset), Size: uint64(len(raw))}
		w.offset += int64(len(trailer))
	}

	metaIndex := newBlockBuilder(DefaultBlockRestartInterval)
	if haveFilter {
		metaIndex.add([]byte("filter."+w.policy.Name()), filterHandle.EncodeTo(nil))
	}
	metaIndexHandle, err := w.writeBlock(metaIndex, NoCompression)
	if err != nil {
		return 0, err
	}

	indexHandle, err := w.writeBlock(w.index, NoCompression)
	if err != nil {
		return 0, err
	}

	footer := make([]byte, 0, FooterSize)
	footer = padHandle(footer, metaIndexHandle, 20)
	footer = padHandle(footer, indexHandle, 20)
	footer = appendFixed64(footer, Magic)
	if _, err := w.f.Write(footer); err != nil {
		return 0, errors.Wrap(err, "sstable: write footer")
	}
	w.offset += int64(len(footer))

	if err := w.f.Sync(); err != nil {
		return 0, errors.Wrap(err, "sstable: sync")
	}
	w.closed = true
	return w.offset, errors.Wrap(w.f.Close(), "sstable: close")
}

// Abandon discards the in-progress file without finalizing it.
func (w *Writer) Abandon() error {
	w.closed = true
	return errors.Wrap(w.f.Close(), "sstable: abandon")
}

// Smallest and Largest return the smallest/largest keys added so far.
func (w *Writer) Smallest() []byte { return w.smallest }
func (w *Writer) Largest() []byte  { return w.largest }

// EstimatedSize returns the approximate number of bytes written so far,
// including the data block currently being assembled. Callers use this to
// decide when to roll over to a new output file.
func (w *Writer) EstimatedSize() int64 {
	return w.offset + int64(w.data.sizeEstimate())
}

func padHandle(dst []byte, h BlockHandle, width int) []byte {
	start := len(dst)
	dst = h.EncodeTo(dst)
	for len(dst)-start < width {
		dst = append(dst, 0)
	}
	return dst
}

func appendFixed64(dst []byte, v uint64) []byte {
	return append(dst,
		byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
		byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}
