// Package skiplist implements the ordered, insert-only, arena-backed skip
// list that backs the memtable. It supports a single writer and an
// arbitrary number of concurrent lock-free readers observing a stable
// ordering: a reader that begins iterating never observes a torn insert,
// because new nodes are published with a store-release on every forward
// pointer and readers load-acquire them.
package skiplist

import (
	"math/rand"
	"sync/atomic"

	"github.com/kiln-db/kiln/internal/arena"
)

const maxHeight = 12

// Comparator orders raw key bytes. The memtable supplies one that compares
// length-prefixed internal keys; tests may use bytes.Compare directly.
type Comparator func(a, b []byte) int

type node struct {
	key     []byte
	forward []atomic.Pointer[node]
}

func newNode(key []byte, height int) *node {
	return &node{key: key, forward: make([]atomic.Pointer[node], height)}
}

func (n *node) next(level int) *node {
	return n.forward[level].Load()
}

func (n *node) setNext(level int, v *node) {
	n.forward[level].Store(v)
}

// SkipList is a single-writer, multi-reader ordered set of byte-string
// keys. Duplicate inserts of equal keys (per cmp) are forbidden by
// contract; the memtable enforces uniqueness via a per-entry sequence
// number embedded in the key.
type SkipList struct {
	arena  *arena.Arena
	cmp    Comparator
	head   *node
	height atomic.Int32 // 1-based count of levels currently in use
	rnd    *rand.Rand
	length int
}

// New returns an empty skip list ordered by cmp. a tracks memory usage for
// approximate_memory_usage; it is not otherwise load-bearing since node
// headers are ordinary Go allocations.
func New(a *arena.Arena, cmp Comparator) *SkipList {
	sl := &SkipList{
		arena: a,
		cmp:   cmp,
		head:  newNode(nil, maxHeight),
		rnd:   rand.New(rand.NewSource(0xC0FFEE)),
	}
	sl.height.Store(1)
	return sl
}

func (s *SkipList) randomHeight() int {
	h := 1
	for h < maxHeight && s.rnd.Int31n(4) == 0 {
		h++
	}
	return h
}

// Len returns the number of keys inserted so far.
func (s *SkipList) Len() int { return s.length }

// findGreaterOrEqual walks down from the top of the list, returning the
// first node whose key is >= target (or nil), and optionally filling prev
// with the predecessor at each level.
func (s *SkipList) findGreaterOrEqual(target []byte, prev []*node) *node {
	x := s.head
	level := int(s.height.Load()) - 1
	for {
		next := x.next(level)
		if next != nil && s.cmp(next.key, target) < 0 {
			x = next
			continue
		}
		if prev != nil {
			prev[level] = x
		}
		if level == 0 {
			return next
		}
		level--
	}
}

func (s *SkipList) findLessThan(target []byte) *node {
	x := s.head
	level := int(s.height.Load()) - 1
	for {
		next := x.next(level)
		if next != nil && s.cmp(next.key, target) < 0 {
			x = next
			continue
		}
		if level == 0 {
			if x == s.head {
				return nil
			}
			return x
		}
		level--
	}
}

func (s *SkipList) findLast() *node {
	x := s.head
	level := int(s.height.Load()) - 1
	for {
		next := x.next(level)
		if next != nil {
			x = next
			continue
		}
		if level == 0 {
			if x == s.head {
				return nil
			}
			return x
		}
		level--
	}
}

// Contains reports whether key is present.
func (s *SkipList) Contains(key []byte) bool {
	n := s.findGreaterOrEqual(key, nil)
	return n != nil && s.cmp(n.key, key) == 0
}

// Insert adds key to the list. The caller (the single writer) must ensure
// key does not already compare equal to any key in the list.
func (s *SkipList) Insert(key []byte) {
	var prev [maxHeight]*node
	s.findGreaterOrEqual(key, prev[:])

	height := s.randomHeight()
	if curHeight := int(s.height.Load()); height > curHeight {
		for i := curHeight; i < height; i++ {
			prev[i] = s.head
		}
		// max_height is published before the new node is created and
		// linked in; the unlinked higher levels of head still terminate
		// correctly because their forward pointers are nil until the loop
		// below stores them.
		s.height.Store(int32(height))
	}

	if s.arena != nil {
		s.arena.Alloc(len(key))
	}
	n := newNode(key, height)
	for i := 0; i < height; i++ {
		n.setNext(i, prev[i].next(i))
		prev[i].setNext(i, n) // store-release: publishes n to readers
	}
	s.length++
}

// Iterator yields keys in ascending order via search-based positioning.
type Iterator struct {
	list *SkipList
	node *node
}

// NewIterator returns an iterator positioned before the first key.
func (s *SkipList) NewIterator() *Iterator {
	return &Iterator{list: s}
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return it.node != nil }

// Key returns the key at the current position. Valid must be true.
func (it *Iterator) Key() []byte { return it.node.key }

// Next advances to the next key in ascending order.
func (it *Iterator) Next() { it.node = it.node.next(0) }

// Prev moves to the previous key in ascending order. O(log n) via a
// fresh search, matching the spec's "search-based" prev contract.
func (it *Iterator) Prev() {
	it.node = it.list.findLessThan(it.node.key)
}

// Seek positions the iterator at the first key >= target.
func (it *Iterator) Seek(target []byte) {
	it.node = it.list.findGreaterOrEqual(target, nil)
}

// SeekFirst positions the iterator at the smallest key.
func (it *Iterator) SeekFirst() {
	it.node = it.list.head.next(0)
}

// SeekLast positions the iterator at the largest key.
func (it *Iterator) SeekLast() {
	it.node = it.list.findLast()
}
