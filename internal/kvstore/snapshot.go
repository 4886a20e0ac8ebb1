// Package kvstore implements the read path described in spec §4.K and
// §4.H's seek-compaction trigger: the live-snapshot list, the merging
// database iterator over memtable/immutable-memtable/level files, and the
// point Get lookup, all layered on top of internal/manifest's versions and
// internal/tablecache's open readers.
package kvstore

import "sync"

// Snapshot pins a sequence number as a stable read point: reads against it
// see exactly the writes committed at or before it, forever, until
// Release. The zero value is not valid; obtain one from SnapshotList.Take.
type Snapshot struct {
	Sequence   uint64
	list       *SnapshotList
	prev, next *Snapshot
}

// SnapshotList is the doubly linked list of live snapshots, newest at the
// tail, mirroring the sentinel-list idiom internal/manifest's VersionSet
// uses for its in-use version chain.
type SnapshotList struct {
	mu     sync.Mutex
	dummy  Snapshot
}

// NewSnapshotList returns an empty list.
func NewSnapshotList() *SnapshotList {
	l := &SnapshotList{}
	l.dummy.next = &l.dummy
	l.dummy.prev = &l.dummy
	return l
}

// Take records a new live snapshot at seq and returns it.
func (l *SnapshotList) Take(seq uint64) *Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := &Snapshot{Sequence: seq, list: l}
	s.prev = l.dummy.prev
	s.next = &l.dummy
	l.dummy.prev.next = s
	l.dummy.prev = s
	return s
}

// Release removes s from the list. Safe to call at most once per snapshot;
// a second call is a no-op.
func (l *SnapshotList) Release(s *Snapshot) {
	if s.list == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	s.prev.next = s.next
	s.next.prev = s.prev
	s.prev, s.next, s.list = nil, nil, nil
}

// Oldest returns the smallest live sequence number, or hint if no snapshot
// is live (the caller's own current last-sequence, so compaction still
// drops everything it safely can when nothing is pinned).
func (l *SnapshotList) Oldest(hint uint64) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dummy.next == &l.dummy {
		return hint
	}
	oldest := l.dummy.next.Sequence
	for s := l.dummy.next.next; s != &l.dummy; s = s.next {
		if s.Sequence < oldest {
			oldest = s.Sequence
		}
	}
	return oldest
}
