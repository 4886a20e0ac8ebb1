// Package compaction implements the background compaction engine of
// spec §4.J: merging inputs chosen by internal/manifest's picker into new
// table files, applying the snapshot and tombstone drop policies, and
// committing the result as a version edit.
package compaction

import "container/heap"

// Iterator is the minimal internal-key iterator contract every input to a
// merge must satisfy: sstable's table iterator and the memtable's skiplist
// iterator both already shape themselves this way.
type Iterator interface {
	SeekToFirst()
	Valid() bool
	Key() []byte
	Value() []byte
	Next()
	Error() error
}

type heapItem struct {
	it    Iterator
	index int // original input order, for stable tie-breaking
}

// mergeHeap is a container/heap.Interface over the currently-valid input
// iterators, ordered by their current key.
type mergeHeap struct {
	items []*heapItem
	cmp   func(a, b []byte) int
}

func (h mergeHeap) Len() int { return len(h.items) }
func (h mergeHeap) Less(i, j int) bool {
	c := h.cmp(h.items[i].it.Key(), h.items[j].it.Key())
	if c != 0 {
		return c < 0
	}
	return h.items[i].index < h.items[j].index
}
func (h mergeHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *mergeHeap) Push(x interface{}) { h.items = append(h.items, x.(*heapItem)) }
func (h *mergeHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// MergingIterator merges several internal-key-ordered iterators into one
// ordered stream via a min-heap, per spec §4.K. Ties are broken by input
// order, which callers arrange so that newer sources (e.g. the active
// memtable, then newer level-0 files) come first.
type MergingIterator struct {
	cmp   func(a, b []byte) int
	all   []*heapItem
	h     mergeHeap
	cur   *heapItem
	err   error
}

// NewMergingIterator builds a merging iterator over iters, ordering keys
// with cmp.
func NewMergingIterator(cmp func(a, b []byte) int, iters ...Iterator) *MergingIterator {
	m := &MergingIterator{cmp: cmp}
	for i, it := range iters {
		m.all = append(m.all, &heapItem{it: it, index: i})
	}
	return m
}

// SeekToFirst positions every input at its first entry and primes the heap.
func (m *MergingIterator) SeekToFirst() {
	m.h = mergeHeap{cmp: m.cmp}
	m.cur = nil
	m.err = nil
	for _, item := range m.all {
		item.it.SeekToFirst()
		if err := item.it.Error(); err != nil {
			m.err = err
			continue
		}
		if item.it.Valid() {
			m.h.items = append(m.h.items, item)
		}
	}
	heap.Init(&m.h)
	m.advance()
}

// advance pops the new minimum into m.cur, leaving it off the heap until
// Next is called (so repeated Key()/Value() calls are cheap).
func (m *MergingIterator) advance() {
	if m.h.Len() == 0 {
		m.cur = nil
		return
	}
	m.cur = heap.Pop(&m.h).(*heapItem)
}

// Valid reports whether the iterator is positioned on an entry.
func (m *MergingIterator) Valid() bool { return m.cur != nil }

// Key returns the current minimum internal key.
func (m *MergingIterator) Key() []byte { return m.cur.it.Key() }

// Value returns the value for the current entry.
func (m *MergingIterator) Value() []byte { return m.cur.it.Value() }

// Next advances the source that produced the current entry and
// re-establishes the heap invariant.
func (m *MergingIterator) Next() {
	if m.cur == nil {
		return
	}
	item := m.cur
	item.it.Next()
	if err := item.it.Error(); err != nil {
		m.err = err
	} else if item.it.Valid() {
		heap.Push(&m.h, item)
	}
	m.advance()
}

// Error returns the first error observed from any input iterator.
func (m *MergingIterator) Error() error { return m.err }
