package kiln

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/kiln-db/kiln/internal/dbkey"
	"github.com/kiln-db/kiln/internal/kvstore"
	"github.com/kiln-db/kiln/internal/manifest"
)

// Get returns the value for key at the database's current state, or
// found=false if it does not exist (or has been deleted).
func (db *DB) Get(key []byte) (value []byte, found bool, err error) {
	db.mu.Lock()
	mem, imm := db.mem, db.imm
	v := db.versions.Current()
	seq := db.versions.LastSequenceNumber()
	db.mu.Unlock()

	value, found, charge, err := kvstore.Get(mem, imm, v, db.tableCache, db.userCmp, key, seq)
	if charge != nil {
		db.onSeekCharge(charge.File, charge.Level, charge.Exhausted)
	}
	return value, found, err
}

// Put sets key to value, synchronously durable iff sync is true.
func (db *DB) Put(key, value []byte, sync bool) error {
	b := NewBatch()
	b.Put(key, value)
	return db.Write(b, sync)
}

// Delete removes key, synchronously durable iff sync is true.
func (db *DB) Delete(key []byte, sync bool) error {
	b := NewBatch()
	b.Delete(key)
	return db.Write(b, sync)
}

// Iterator walks the database's keys in ascending order, as of the
// sequence number it was created against.
type Iterator struct {
	it *kvstore.DBIterator
}

// SeekToFirst positions the iterator at the smallest key.
func (it *Iterator) SeekToFirst() { it.it.SeekToFirst() }

// Seek positions the iterator at the first key >= target.
func (it *Iterator) Seek(target []byte) { it.it.Seek(target) }

// Next advances to the next key.
func (it *Iterator) Next() { it.it.Next() }

// Valid reports whether the iterator is positioned on an entry.
func (it *Iterator) Valid() bool { return it.it.Valid() }

// Key and Value return the entry at the iterator's current position.
// Valid must be true.
func (it *Iterator) Key() []byte   { return it.it.Key() }
func (it *Iterator) Value() []byte { return it.it.Value() }

// Error returns the first error encountered while iterating, if any.
func (it *Iterator) Error() error { return it.it.Error() }

// NewIterator returns an iterator reading a consistent snapshot taken at
// the moment of the call. If snap is non-nil, the iterator reads as of
// snap's sequence number instead.
func (db *DB) NewIterator(snap *Snapshot) (*Iterator, error) {
	db.mu.Lock()
	mem, imm := db.mem, db.imm
	v := db.versions.Current()
	seq := db.versions.LastSequenceNumber()
	if snap != nil {
		seq = snap.s.Sequence
	}
	db.mu.Unlock()

	sampler := kvstore.NewReadSampler(db.onSeekCharge)
	underlying, err := kvstore.NewDBIterator(mem, imm, v, db.tableCache, db.userCmp, seq, sampler)
	if err != nil {
		return nil, errors.Wrap(err, "kiln: build iterator")
	}
	return &Iterator{it: underlying}, nil
}

// Snapshot pins a sequence number so reads against it always see exactly
// the writes committed at or before the moment it was taken, regardless
// of later writes or compactions.
type Snapshot struct {
	s *kvstore.Snapshot
}

// GetSnapshot takes a new snapshot at the database's current sequence
// number. The caller must call ReleaseSnapshot when done with it.
func (db *DB) GetSnapshot() *Snapshot {
	db.mu.Lock()
	seq := db.versions.LastSequenceNumber()
	db.mu.Unlock()
	return &Snapshot{s: db.snapshots.Take(seq)}
}

// ReleaseSnapshot releases a snapshot taken by GetSnapshot. Using snap
// after this call is undefined.
func (db *DB) ReleaseSnapshot(snap *Snapshot) {
	db.snapshots.Release(snap.s)
}

// CompactRange forces every file overlapping [begin, end] (either bound
// nil for unbounded) through compaction, level by level, until the range
// reaches the bottom level or no file there overlaps it any longer.
func (db *DB) CompactRange(begin, end []byte) error {
	var ikBegin, ikEnd []byte
	if begin != nil {
		ikBegin = dbkey.New(begin, dbkey.MaxSequenceNumber, dbkey.TypeValue)
	}
	if end != nil {
		ikEnd = dbkey.New(end, 0, dbkey.TypeDeletion)
	}

	for level := 0; level < manifest.NumLevels-1; level++ {
		for {
			db.mu.Lock()
			c, ok := manifest.PickRangeCompaction(db.versions, db.icmp, level, ikBegin, ikEnd)
			if !ok {
				db.mu.Unlock()
				break
			}

			// Queued for the background worker rather than run here, so it
			// never races the worker's own compactions over the same files.
			req := &manualCompactionRequest{c: c}
			db.pendingManual = append(db.pendingManual, req)
			db.workerCond.Signal()
			for !req.done {
				db.memCond.Wait()
			}
			bgErr := db.bgErr
			db.mu.Unlock()
			if bgErr != nil {
				return bgErr
			}
		}
	}
	return nil
}

// GetProperty returns the value of an internal diagnostic property, or
// found=false if name is not recognized, per spec §4.O.
func (db *DB) GetProperty(name string) (value string, found bool) {
	db.mu.Lock()
	defer db.mu.Unlock()

	switch {
	case name == "kiln.stats":
		v := db.versions.Current()
		var b strings.Builder
		fmt.Fprintf(&b, "last_sequence: %d\n", db.versions.LastSequenceNumber())
		for level := 0; level < manifest.NumLevels; level++ {
			fmt.Fprintf(&b, "level %d: %d files, %d bytes\n", level, v.NumFiles(level), v.TotalSize(level))
		}
		return b.String(), true

	case strings.HasPrefix(name, "kiln.num-files-at-level-"):
		level, err := strconv.Atoi(strings.TrimPrefix(name, "kiln.num-files-at-level-"))
		if err != nil || level < 0 || level >= manifest.NumLevels {
			return "", false
		}
		return strconv.Itoa(db.versions.Current().NumFiles(level)), true

	case name == "kiln.sstables":
		v := db.versions.Current()
		var b strings.Builder
		for level := 0; level < manifest.NumLevels; level++ {
			for _, f := range v.Levels[level] {
				fmt.Fprintf(&b, "level %d: %06d.sst (%d bytes)\n", level, f.Number, f.Size)
			}
		}
		return b.String(), true

	case name == "kiln.approximate-memory-usage":
		usage := db.mem.ApproximateMemoryUsage()
		if db.imm != nil {
			usage += db.imm.ApproximateMemoryUsage()
		}
		return strconv.FormatInt(usage, 10), true

	default:
		return "not_found", false
	}
}
