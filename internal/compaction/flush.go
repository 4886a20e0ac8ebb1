package compaction

import (
	"github.com/cockroachdb/errors"

	"github.com/kiln-db/kiln/internal/manifest"
	"github.com/kiln-db/kiln/internal/memtable"
	"github.com/kiln-db/kiln/internal/sstable"
	"github.com/kiln-db/kiln/internal/tablecache"
)

// memtableIterator adapts *memtable.Iterator to the Iterator contract the
// merging iterator and flush path both use.
type memtableIterator struct {
	it *memtable.Iterator
}

func (m memtableIterator) SeekToFirst() { m.it.SeekFirst() }
func (m memtableIterator) Valid() bool  { return m.it.Valid() }
func (m memtableIterator) Key() []byte  { return m.it.InternalKey() }
func (m memtableIterator) Value() []byte { return m.it.Value() }
func (m memtableIterator) Next()        { m.it.Next() }
func (m memtableIterator) Error() error { return nil }

// ErrEmptyFlush is returned when a memtable has no entries to flush.
var ErrEmptyFlush = errors.New("compaction: memtable has no entries")

// Flush writes mem's entries to a new table file and returns the edit
// that adds it, choosing its level with
// manifest.PickLevelForMemtableOutput so a non-overlapping flush can skip
// past level-0 churn (spec §4.J step 1). v is the version the flush is
// chosen against; it is not otherwise read or modified.
func (e *Engine) Flush(v *manifest.Version, mem *memtable.Memtable, fileNumber uint64) (*manifest.Edit, error) {
	if mem.Empty() {
		return nil, ErrEmptyFlush
	}

	f, err := e.fs.Create(tablecache.TableName(fileNumber))
	if err != nil {
		return nil, errors.Wrap(err, "flush: create output table")
	}
	w := sstable.NewWriter(f, e.userCmp, e.policy)

	it := memtableIterator{it: mem.NewIterator()}
	for it.SeekToFirst(); it.Valid(); it.Next() {
		if err := w.Add(it.Key(), it.Value()); err != nil {
			_ = w.Abandon()
			return nil, errors.Wrap(err, "flush: add entry")
		}
	}

	size, err := w.Finish()
	if err != nil {
		return nil, errors.Wrap(err, "flush: finish output table")
	}

	level := 0
	if v != nil {
		level = manifest.PickLevelForMemtableOutput(v, e.cmp, w.Smallest(), w.Largest())
	}

	edit := &manifest.Edit{}
	edit.NewFiles = append(edit.NewFiles, manifest.NewFileEntry{
		Level: level,
		Meta:  manifest.NewFileMetadata(fileNumber, uint64(size), w.Smallest(), w.Largest()),
	})
	return edit, nil
}
