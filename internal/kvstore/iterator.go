package kvstore

import (
	"container/heap"

	"github.com/cockroachdb/errors"

	"github.com/kiln-db/kiln/internal/dbkey"
	"github.com/kiln-db/kiln/internal/manifest"
	"github.com/kiln-db/kiln/internal/memtable"
	"github.com/kiln-db/kiln/internal/sstable"
	"github.com/kiln-db/kiln/internal/tablecache"
)

// ReadBytesPeriod is how many bytes of merged entries DBIterator samples
// between seek charges, per spec §4.K.
const ReadBytesPeriod = 1 << 20

// source is the minimal contract every input to the database iterator's
// merge satisfies: the memtable, immutable memtable, and every level-0 or
// concatenated level-N table iterator all shape themselves this way.
// CurrentFile identifies the table backing the current position for
// seek-compaction sampling; it is nil for memtable sources.
type source interface {
	SeekToFirst()
	Seek(target []byte)
	Valid() bool
	Key() []byte
	Value() []byte
	Next()
	Error() error
	CurrentFile() *manifest.FileMetadata
	Level() int
}

type memtableSource struct{ it *memtable.Iterator }

func (s memtableSource) SeekToFirst()                       { s.it.SeekFirst() }
func (s memtableSource) Seek(target []byte)                 { s.it.Seek(target) }
func (s memtableSource) Valid() bool                         { return s.it.Valid() }
func (s memtableSource) Key() []byte                         { return s.it.InternalKey() }
func (s memtableSource) Value() []byte                       { return s.it.Value() }
func (s memtableSource) Next()                               { s.it.Next() }
func (s memtableSource) Error() error                        { return nil }
func (s memtableSource) CurrentFile() *manifest.FileMetadata { return nil }
func (s memtableSource) Level() int                          { return -1 }

// level0Source wraps one level-0 file's table iterator; unlike levels >=
// 1, level-0 files may overlap so each is its own independent merge input.
type level0Source struct {
	it   *sstable.Iterator
	file *manifest.FileMetadata
}

func (s level0Source) SeekToFirst()                       { s.it.SeekToFirst() }
func (s level0Source) Seek(target []byte)                 { s.it.Seek(target) }
func (s level0Source) Valid() bool                        { return s.it.Valid() }
func (s level0Source) Key() []byte                        { return s.it.Key() }
func (s level0Source) Value() []byte                      { return s.it.Value() }
func (s level0Source) Next()                              { s.it.Next() }
func (s level0Source) Error() error                       { return s.it.Error() }
func (s level0Source) CurrentFile() *manifest.FileMetadata { return s.file }
func (s level0Source) Level() int                         { return 0 }

// levelNSource adapts *levelIterator (level >= 1) to source; the two
// interfaces already match method-for-method except Level, which
// levelIterator doesn't expose directly.
type levelNSource struct{ *levelIterator }

func (s levelNSource) Level() int { return s.level }

type mergeItem struct {
	src   source
	index int
}

type mergeHeap struct {
	items []*mergeItem
	cmp   func(a, b []byte) int
}

func (h mergeHeap) Len() int { return len(h.items) }
func (h mergeHeap) Less(i, j int) bool {
	c := h.cmp(h.items[i].src.Key(), h.items[j].src.Key())
	if c != 0 {
		return c < 0
	}
	return h.items[i].index < h.items[j].index
}
func (h mergeHeap) Swap(i, j int)       { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *mergeHeap) Push(x interface{}) { h.items = append(h.items, x.(*mergeItem)) }
func (h *mergeHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// readSampler accumulates bytes served across a DBIterator's lifetime and,
// every time the running total crosses ReadBytesPeriod, charges a seek
// against the file that served the entry at the crossing, per spec §4.K.
type readSampler struct {
	accumulated int64
	onCharge    func(file *manifest.FileMetadata, level int, exhausted bool)
}

// NewReadSampler returns a sampler that invokes onCharge each time a full
// ReadBytesPeriod of entries has been served from some file, per spec
// §4.K. Pass nil to NewDBIterator to disable sampling entirely.
func NewReadSampler(onCharge func(file *manifest.FileMetadata, level int, exhausted bool)) *readSampler {
	return &readSampler{onCharge: onCharge}
}

func (s *readSampler) sample(n int, file *manifest.FileMetadata, level int) {
	if s == nil || file == nil {
		return
	}
	s.accumulated += int64(n)
	if s.accumulated < ReadBytesPeriod {
		return
	}
	s.accumulated -= ReadBytesPeriod
	if s.onCharge != nil {
		s.onCharge(file, level, file.ChargeSeek())
	}
}

// DBIterator is the merging database iterator of spec §4.K: a min-heap
// over the active memtable, the immutable memtable (if any), every
// level-0 file, and one concatenating iterator per non-empty level >= 1,
// filtered to a read sequence and with tombstones and superseded versions
// hidden.
type DBIterator struct {
	userCmp dbkey.Comparator
	icmp    func(a, b []byte) int
	seq     uint64
	sampler *readSampler

	all []*mergeItem
	h   mergeHeap

	lastUserKey []byte
	haveLast    bool

	key, value []byte
	valid      bool
	err        error
}

// NewDBIterator builds a database iterator reading at sequence seq. mem
// must be non-nil; imm may be nil. v may be nil for an empty database.
// sampler may be nil to disable seek-compaction sampling (e.g. in tests
// that don't care about it).
func NewDBIterator(
	mem, imm *memtable.Memtable,
	v *manifest.Version,
	tc *tablecache.Cache,
	userCmp dbkey.Comparator,
	seq uint64,
	sampler *readSampler,
) (*DBIterator, error) {
	icmp := dbkey.InternalComparator(userCmp.Compare)
	it := &DBIterator{userCmp: userCmp, icmp: icmp, seq: seq, sampler: sampler}

	add := func(src source) { it.all = append(it.all, &mergeItem{src: src, index: len(it.all)}) }

	if mem != nil {
		add(memtableSource{it: mem.NewIterator()})
	}
	if imm != nil {
		add(memtableSource{it: imm.NewIterator()})
	}
	if v != nil {
		for _, f := range v.Levels[0] {
			r, err := tc.Get(f.Number)
			if err != nil {
				return nil, err
			}
			add(level0Source{it: r.NewIterator(), file: f})
		}
		for level := 1; level < manifest.NumLevels; level++ {
			if len(v.Levels[level]) == 0 {
				continue
			}
			add(levelNSource{newLevelIterator(tc, icmp, level, v.Levels[level])})
		}
	}
	return it, nil
}

// SeekToFirst positions the iterator at the first visible user entry.
func (it *DBIterator) SeekToFirst() {
	it.h = mergeHeap{cmp: it.icmp}
	it.haveLast = false
	it.err = nil
	for _, item := range it.all {
		item.src.SeekToFirst()
		if err := item.src.Error(); err != nil {
			it.err = err
			continue
		}
		if item.src.Valid() {
			it.h.items = append(it.h.items, item)
		}
	}
	heap.Init(&it.h)
	it.findNextUserEntry()
}

// Seek positions the iterator at the first visible user entry with key >=
// userKey.
func (it *DBIterator) Seek(userKey []byte) {
	target := dbkey.LookupKey(userKey, it.seq)
	it.h = mergeHeap{cmp: it.icmp}
	it.haveLast = false
	it.err = nil
	for _, item := range it.all {
		item.src.Seek(target)
		if err := item.src.Error(); err != nil {
			it.err = err
			continue
		}
		if item.src.Valid() {
			it.h.items = append(it.h.items, item)
		}
	}
	heap.Init(&it.h)
	it.findNextUserEntry()
}

// findNextUserEntry drains the heap until it lands on the newest <=seq
// entry for a user key not yet emitted this pass, skipping tombstones.
func (it *DBIterator) findNextUserEntry() {
	it.valid = false
	for it.h.Len() > 0 {
		top := it.h.items[0]
		key := top.src.Key()
		value := append([]byte(nil), top.src.Value()...)
		userKey, seq, typ, ok := dbkey.Parse(key)
		if !ok {
			it.err = errors.New("kvstore: malformed internal key")
			return
		}
		if it.sampler != nil {
			it.sampler.sample(len(key)+len(value), top.src.CurrentFile(), top.src.Level())
		}

		alreadyDecided := it.haveLast && it.userCmp.Compare(userKey, it.lastUserKey) == 0
		skip := seq > it.seq || alreadyDecided
		if !skip {
			it.lastUserKey = append(it.lastUserKey[:0], userKey...)
			it.haveLast = true
		}

		top.src.Next()
		if err := top.src.Error(); err != nil {
			it.err = err
			return
		}
		if top.src.Valid() {
			heap.Fix(&it.h, 0)
		} else {
			heap.Pop(&it.h)
		}

		if skip || typ == dbkey.TypeDeletion {
			continue
		}
		it.key = append(it.key[:0], userKey...)
		it.value = value
		it.valid = true
		return
	}
}

// Next advances to the next visible user entry.
func (it *DBIterator) Next() { it.findNextUserEntry() }

// Valid reports whether the iterator is positioned on an entry.
func (it *DBIterator) Valid() bool { return it.err == nil && it.valid }

// Key and Value return the current user key and value. Valid must be true.
func (it *DBIterator) Key() []byte   { return it.key }
func (it *DBIterator) Value() []byte { return it.value }

// Error returns the first error observed from any merged source.
func (it *DBIterator) Error() error { return it.err }
