// Package manifest implements version edits and the version set described
// in spec §4.H: the durable record of which table files make up each level
// of the tree, and how that set changes as compactions and flushes run.
package manifest

import "sync/atomic"

// NumLevels is the fixed number of levels in the tree, matching the
// teacher pack's LSM layout.
const NumLevels = 7

// FileMetadata describes one sorted table file as recorded in a version.
// Smallest and Largest are internal keys (user key plus trailer), so
// sequence-number ordering across files at the same level is directly
// comparable.
type FileMetadata struct {
	Number   uint64
	Size     uint64
	Smallest []byte
	Largest  []byte

	// AllowedSeeks counts down on misses against this file's filter;
	// reaching zero flags it for seek-triggered compaction (§4.H).
	AllowedSeeks int32

	refs int32
}

// NewFileMetadata returns file metadata with an initial reference count of
// zero; callers must Ref it before sharing it across versions.
func NewFileMetadata(number, size uint64, smallest, largest []byte) *FileMetadata {
	return &FileMetadata{
		Number:       number,
		Size:         size,
		Smallest:     smallest,
		Largest:      largest,
		AllowedSeeks: defaultAllowedSeeks(size),
	}
}

// defaultAllowedSeeks scales a fresh file's seek budget with its size: one
// compaction's worth of I/O (16 KiB units) before the file is seek-flagged,
// with a floor of 100 so small files are not flagged prematurely.
func defaultAllowedSeeks(size uint64) int32 {
	n := int32(size / (16 * 1024))
	if n < 100 {
		n = 100
	}
	return n
}

// Ref and Unref track how many live versions reference this file. A file
// is eligible for deletion once its count reaches zero and no live
// version's level list contains it.
func (f *FileMetadata) Ref() { atomic.AddInt32(&f.refs, 1) }

// Unref decrements the reference count and reports whether it reached
// zero.
func (f *FileMetadata) Unref() bool {
	return atomic.AddInt32(&f.refs, -1) == 0
}

// Refs returns the current reference count.
func (f *FileMetadata) Refs() int32 { return atomic.LoadInt32(&f.refs) }

// ChargeSeek decrements the file's seek budget by one, from a Get that
// consulted it and missed, or an iterator read sample crossing the
// read-bytes period. It reports whether the budget was just exhausted by
// this call (crossed from positive to zero or below), so the caller
// charges exactly one seek-triggered compaction per exhaustion.
func (f *FileMetadata) ChargeSeek() (justExhausted bool) {
	return atomic.AddInt32(&f.AllowedSeeks, -1) == 0
}

// Seeks returns the current seek budget.
func (f *FileMetadata) Seeks() int32 { return atomic.LoadInt32(&f.AllowedSeeks) }
