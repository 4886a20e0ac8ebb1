package kvstore

import (
	"github.com/kiln-db/kiln/internal/manifest"
	"github.com/kiln-db/kiln/internal/sstable"
	"github.com/kiln-db/kiln/internal/tablecache"
)

// levelIterator concatenates the per-file iterators of one level >= 1,
// whose files are disjoint and sorted by Smallest, into a single ordered
// stream — the level-N counterpart to treating each level-0 file as its
// own independent source.
type levelIterator struct {
	tc    *tablecache.Cache
	cmp   func(a, b []byte) int
	files []*manifest.FileMetadata
	level int

	idx int
	cur *sstable.Iterator
	err error
}

// newLevelIterator builds a concatenating iterator over files, ordered by
// the internal-key comparator cmp.
func newLevelIterator(tc *tablecache.Cache, cmp func(a, b []byte) int, level int, files []*manifest.FileMetadata) *levelIterator {
	return &levelIterator{tc: tc, cmp: cmp, files: files, level: level}
}

func (it *levelIterator) loadAt(idx int) {
	it.idx = idx
	it.cur = nil
	if idx < 0 || idx >= len(it.files) {
		return
	}
	r, err := it.tc.Get(it.files[idx].Number)
	if err != nil {
		it.err = err
		return
	}
	it.cur = r.NewIterator()
}

func (it *levelIterator) SeekToFirst() {
	it.loadAt(0)
	if it.cur == nil {
		return
	}
	it.cur.SeekToFirst()
	it.skipForward()
}

func (it *levelIterator) skipForward() {
	for it.err == nil && (it.cur == nil || !it.cur.Valid()) {
		if it.cur != nil {
			if cerr := it.cur.Error(); cerr != nil {
				it.err = cerr
				return
			}
		}
		it.loadAt(it.idx + 1)
		if it.cur == nil {
			return
		}
		it.cur.SeekToFirst()
	}
}

// Seek positions the iterator at the first entry with internal key >=
// target, binary-searching the disjoint file list by Largest before
// seeking within the chosen file.
func (it *levelIterator) Seek(target []byte) {
	lo, hi := 0, len(it.files)
	for lo < hi {
		mid := (lo + hi) / 2
		if it.cmp(it.files[mid].Largest, target) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	it.loadAt(lo)
	if it.cur == nil {
		return
	}
	it.cur.Seek(target)
	it.skipForward()
}

func (it *levelIterator) Valid() bool   { return it.err == nil && it.cur != nil && it.cur.Valid() }
func (it *levelIterator) Key() []byte   { return it.cur.Key() }
func (it *levelIterator) Value() []byte { return it.cur.Value() }
func (it *levelIterator) Error() error  { return it.err }

func (it *levelIterator) Next() {
	if it.cur == nil {
		return
	}
	it.cur.Next()
	it.skipForward()
}

// CurrentFile returns the file metadata backing the iterator's current
// position, for seek-compaction sampling.
func (it *levelIterator) CurrentFile() *manifest.FileMetadata {
	if it.idx < 0 || it.idx >= len(it.files) {
		return nil
	}
	return it.files[it.idx]
}
