package sstable

import (
	"github.com/cockroachdb/errors"
	"github.com/kiln-db/kiln/internal/dbkey"
	"github.com/kiln-db/kiln/internal/vfs"
)

// Reader opens an existing table file for point lookups and iteration.
// Open verifies the magic, parses the footer, and loads the index block;
// the block cache, if supplied, is consulted (and populated) for data
// blocks read afterward.
type Reader struct {
	f       vfs.File
	size    int64
	cmp     func(a, b []byte) int
	userCmp func(a, b []byte) int

	indexBlock *block
	filter     *filterBlockReader
	fileNumber uint64
	blockCache BlockCache
}

// BlockCache is the subset of internal/blockcache's cache that Reader
// needs: a lookup-or-load keyed by (fileNumber, blockOffset).
type BlockCache interface {
	GetOrLoad(fileNumber, blockOffset uint64, load func() ([]byte, error)) ([]byte, error)
}

// Open validates and opens the table file f (already positioned at 0).
// userCmp is the user-key comparator the table was built with; fileNumber
// identifies this table in the block cache's key space (pass 0 and a nil
// cache to skip caching).
func Open(f vfs.File, size int64, userCmp dbkey.Comparator, policy FilterPolicy, fileNumber uint64, cache BlockCache) (*Reader, error) {
	if size < FooterSize {
		return nil, errors.Wrap(ErrCorrupt, "table smaller than footer")
	}
	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, size-FooterSize); err != nil {
		return nil, errors.Wrap(err, "sstable: read footer")
	}
	magic := fixed64(footer[FooterSize-8:])
	if magic != Magic {
		return nil, errors.Wrap(ErrCorrupt, "bad magic")
	}
	metaIndexHandle, _, err := DecodeBlockHandle(footer[0:20])
	if err != nil {
		return nil, errors.Wrap(err, "sstable: decode meta-index handle")
	}
	indexHandle, _, err := DecodeBlockHandle(footer[20:40])
	if err != nil {
		return nil, errors.Wrap(err, "sstable: decode index handle")
	}

	indexRaw, err := readBlockAt(f, indexHandle)
	if err != nil {
		return nil, errors.Wrap(err, "sstable: read index block")
	}
	indexBlk, err := parseBlock(indexRaw)
	if err != nil {
		return nil, errors.Wrap(err, "sstable: parse index block")
	}

	r := &Reader{
		f: f, size: size, cmp: dbkey.InternalComparator(userCmp.Compare), userCmp: userCmp.Compare,
		indexBlock: indexBlk, fileNumber: fileNumber, blockCache: cache,
	}

	if policy != nil {
		metaRaw, err := readBlockAt(f, metaIndexHandle)
		if err == nil {
			metaBlk, err := parseBlock(metaRaw)
			if err == nil {
				if h, ok := findMetaHandle(metaBlk, "filter."+policy.Name()); ok {
					if filterRaw, err := readBlockAt(f, h); err == nil {
						r.filter = newFilterBlockReader(policy, stripBlockTrailer(filterRaw))
					}
				}
			}
		}
	}
	return r, nil
}

func fixed64(b []byte) uint64 {
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}

func readBlockAt(f vfs.File, h BlockHandle) ([]byte, error) {
	buf := make([]byte, h.Size+blockTrailerSize)
	if _, err := f.ReadAt(buf, int64(h.Offset)); err != nil {
		return nil, err
	}
	return buf, nil
}

// stripBlockTrailer validates and removes a block's compression+CRC
// trailer for meta-blocks that are not parsed through parseBlock (the
// filter block has its own internal layout, not the shared-prefix one).
func stripBlockTrailer(raw []byte) []byte {
	if len(raw) < blockTrailerSize {
		return nil
	}
	return raw[:len(raw)-blockTrailerSize]
}

func findMetaHandle(metaBlk *block, name string) (BlockHandle, bool) {
	it := newBlockIter(metaBlk)
	for it.SeekToFirst(); it.Valid(); it.Next() {
		if string(it.Key()) == name {
			h, _, err := DecodeBlockHandle(it.Value())
			if err != nil {
				return BlockHandle{}, false
			}
			return h, true
		}
	}
	return BlockHandle{}, false
}

func (r *Reader) loadDataBlock(h BlockHandle) (*block, error) {
	load := func() ([]byte, error) { return readBlockAt(r.f, h) }
	var raw []byte
	var err error
	if r.blockCache != nil {
		raw, err = r.blockCache.GetOrLoad(r.fileNumber, h.Offset, load)
	} else {
		raw, err = load()
	}
	if err != nil {
		return nil, err
	}
	return parseBlock(raw)
}

// Get finds the newest entry for target's user key with an internal key
// >= target under the internal-key order — i.e. the entry a LookupKey(userKey,
// seq) target would see as of sequence seq, be it a live value or a
// tombstone. found is false only on an outright miss; callers distinguish
// a tombstone from a live value by parsing the returned key's type. The
// filter block, built over user keys, is consulted before touching the
// data block.
func (r *Reader) Get(target []byte) (key, value []byte, found bool, err error) {
	targetUser := dbkey.UserKey(target)
	idx := newBlockIter(r.indexBlock)
	idx.Seek(target, r.cmp)
	if !idx.Valid() {
		return nil, nil, false, nil
	}
	h, _, derr := DecodeBlockHandle(idx.Value())
	if derr != nil {
		return nil, nil, false, errors.Wrap(derr, "sstable: decode data block handle")
	}
	if r.filter != nil && !r.filter.mayContain(h.Offset, targetUser) {
		return nil, nil, false, nil
	}
	blk, err := r.loadDataBlock(h)
	if err != nil {
		return nil, nil, false, err
	}
	dit := newBlockIter(blk)
	dit.Seek(target, r.cmp)
	if !dit.Valid() {
		return nil, nil, false, nil
	}
	foundUser, _, _, ok := dbkey.Parse(dit.Key())
	if !ok || r.userCmp(foundUser, targetUser) != 0 {
		return nil, nil, false, nil
	}
	return append([]byte(nil), dit.Key()...), append([]byte(nil), dit.Value()...), true, nil
}

// Iterator walks the table's entries in internal-key order via a two-level
// iterator: outer over index entries, inner over one data block's
// contents.
type Iterator struct {
	r        *Reader
	idx      *blockIter
	data     *blockIter
	dataErr  error
}

// NewIterator returns a fresh two-level iterator positioned before the
// first entry.
func (r *Reader) NewIterator() *Iterator {
	return &Iterator{r: r, idx: newBlockIter(r.indexBlock)}
}

func (it *Iterator) setDataBlock() {
	it.data = nil
	if !it.idx.Valid() {
		return
	}
	h, _, err := DecodeBlockHandle(it.idx.Value())
	if err != nil {
		it.dataErr = err
		return
	}
	blk, err := it.r.loadDataBlock(h)
	if err != nil {
		it.dataErr = err
		return
	}
	it.data = newBlockIter(blk)
}

func (it *Iterator) SeekToFirst() {
	it.idx.SeekToFirst()
	it.setDataBlock()
	if it.data != nil {
		it.data.SeekToFirst()
		it.skipForwardIfInvalid()
	}
}

func (it *Iterator) SeekToLast() {
	it.idx.SeekToLast()
	it.setDataBlock()
	if it.data != nil {
		it.data.SeekToLast()
		it.skipBackwardIfInvalid()
	}
}

func (it *Iterator) Seek(target []byte) {
	it.idx.Seek(target, it.r.cmp)
	it.setDataBlock()
	if it.data != nil {
		it.data.Seek(target, it.r.cmp)
		it.skipForwardIfInvalid()
	}
}

// skipForwardIfInvalid advances to the next index entry's data block
// whenever the current data-block position fell off the end (an empty
// block, or a Seek target past every key in the block).
func (it *Iterator) skipForwardIfInvalid() {
	for (it.data == nil || !it.data.Valid()) && it.dataErr == nil {
		it.idx.Next()
		if !it.idx.Valid() {
			it.data = nil
			return
		}
		it.setDataBlock()
		if it.data != nil {
			it.data.SeekToFirst()
		}
	}
}

// skipBackwardIfInvalid is skipForwardIfInvalid's mirror for Prev/SeekToLast.
func (it *Iterator) skipBackwardIfInvalid() {
	for (it.data == nil || !it.data.Valid()) && it.dataErr == nil {
		it.idx.Prev()
		if !it.idx.Valid() {
			it.data = nil
			return
		}
		it.setDataBlock()
		if it.data != nil {
			it.data.SeekToLast()
		}
	}
}

func (it *Iterator) Next() {
	if it.data == nil {
		return
	}
	it.data.Next()
	it.skipForwardIfInvalid()
}

// Prev moves to the entry preceding the current one, crossing into the
// previous index entry's data block if the current one is exhausted.
func (it *Iterator) Prev() {
	if it.data == nil {
		return
	}
	it.data.Prev()
	it.skipBackwardIfInvalid()
}

func (it *Iterator) Valid() bool    { return it.data != nil && it.data.Valid() }
func (it *Iterator) Key() []byte    { return it.data.Key() }
func (it *Iterator) Value() []byte  { return it.data.Value() }
func (it *Iterator) Error() error   { return it.dataErr }
