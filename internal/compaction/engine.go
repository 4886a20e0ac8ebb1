package compaction

import (
	"github.com/cockroachdb/errors"

	"github.com/kiln-db/kiln/internal/dbkey"
	"github.com/kiln-db/kiln/internal/manifest"
	"github.com/kiln-db/kiln/internal/sstable"
	"github.com/kiln-db/kiln/internal/tablecache"
	"github.com/kiln-db/kiln/internal/vfs"
)

// Engine drives the single background compaction worker of spec §4.J: it
// turns a manifest.Compaction (or a flush) into new table files and the
// version edit that publishes them.
type Engine struct {
	fs         vfs.FS
	userCmp    dbkey.Comparator
	cmp        func(a, b []byte) int
	policy     sstable.FilterPolicy
	tableCache *tablecache.Cache

	// TargetFileSize is the output rollover size (spec default 2 MiB).
	TargetFileSize int64
}

// New returns an engine writing tables under fs, ordered by userCmp, with
// the given default filter policy (nil disables filters) and table cache.
func New(fs vfs.FS, userCmp dbkey.Comparator, policy sstable.FilterPolicy, tableCache *tablecache.Cache) *Engine {
	return &Engine{
		fs:             fs,
		userCmp:        userCmp,
		cmp:            dbkey.InternalComparator(userCmp.Compare),
		policy:         policy,
		tableCache:     tableCache,
		TargetFileSize: manifest.TargetFileSize,
	}
}

// outputFile tracks one in-progress output table.
type outputFile struct {
	number uint64
	w      *sstable.Writer
	size   int64
}

// Run executes c against v: merges its inputs, drops obsolete entries per
// the snapshot/tombstone policy, and writes new level-(c.Level+1) tables,
// rolling over on size or grandparent overlap. It returns the edit that
// deletes the inputs and adds the outputs; newFileNumber is called once
// per output file.
func (e *Engine) Run(v *manifest.Version, c *manifest.Compaction, smallestSnapshot uint64, newFileNumber func() uint64) (*manifest.Edit, error) {
	if c.TrivialMove {
		return e.trivialMoveEdit(c), nil
	}

	iters, err := e.openInputIterators(c)
	if err != nil {
		return nil, err
	}

	merged := NewMergingIterator(e.cmp, iters...)
	merged.SeekToFirst()

	outputLevel := c.Level + 1

	var outputs []*outputFile
	var cur *outputFile
	var grandparentBytesConsumed uint64
	grandparentIdx := 0

	var lastUserKey []byte
	haveLastUserKey := false
	lastSeqForKey := dbkey.MaxSequenceNumber

	for merged.Valid() {
		key := merged.Key()
		value := merged.Value()
		userKey, seq, typ, ok := dbkey.Parse(key)
		if !ok {
			return nil, errors.New("compaction: malformed internal key")
		}

		sameUserKey := haveLastUserKey && e.userCmp.Compare(userKey, lastUserKey) == 0
		if !sameUserKey {
			lastUserKey = append(lastUserKey[:0], userKey...)
			haveLastUserKey = true
			lastSeqForKey = dbkey.MaxSequenceNumber
		}

		drop := false
		if sameUserKey && lastSeqForKey <= smallestSnapshot {
			// A newer version of this user key, visible to every live
			// snapshot, has already been emitted.
			drop = true
		} else if typ == dbkey.TypeDeletion && seq <= smallestSnapshot &&
			!e.overlapsBeyondLevel(v, outputLevel+1, userKey) {
			drop = true
		}
		lastSeqForKey = seq

		if drop {
			merged.Next()
			continue
		}

		if cur == nil || cur.w.EstimatedSize() >= e.TargetFileSize ||
			e.grandparentRolloverDue(c, userKey, &grandparentIdx, &grandparentBytesConsumed) {
			if cur != nil {
				if err := e.finishOutput(cur); err != nil {
					return nil, err
				}
				outputs = append(outputs, cur)
			}
			cur, err = e.startOutput(newFileNumber())
			if err != nil {
				return nil, err
			}
			grandparentBytesConsumed = 0
		}

		if err := cur.w.Add(key, value); err != nil {
			return nil, errors.Wrap(err, "compaction: add entry")
		}

		merged.Next()
	}
	if err := merged.Error(); err != nil {
		for _, o := range outputs {
			_ = e.fs.Remove(tablecache.TableName(o.number))
		}
		if cur != nil {
			_ = cur.w.Abandon()
			_ = e.fs.Remove(tablecache.TableName(cur.number))
		}
		return nil, errors.Wrap(err, "compaction: input iterator error")
	}
	if cur != nil {
		if err := e.finishOutput(cur); err != nil {
			return nil, err
		}
		outputs = append(outputs, cur)
	}

	return e.buildEdit(c, outputLevel, outputs), nil
}

func (e *Engine) startOutput(number uint64) (*outputFile, error) {
	f, err := e.fs.Create(tablecache.TableName(number))
	if err != nil {
		return nil, errors.Wrap(err, "compaction: create output table")
	}
	return &outputFile{number: number, w: sstable.NewWriter(f, e.userCmp, e.policy)}, nil
}

// finishOutput finalizes o's table (Finish also closes the underlying
// file) and records its final size.
func (e *Engine) finishOutput(o *outputFile) error {
	size, err := o.w.Finish()
	if err != nil {
		return errors.Wrap(err, "compaction: finish output table")
	}
	o.size = size
	return nil
}

// grandparentRolloverDue advances idx through c.Grandparents as userKey
// passes their boundaries, accumulating overlap bytes, and reports
// whether the accumulated overlap has crossed the rollover threshold.
func (e *Engine) grandparentRolloverDue(c *manifest.Compaction, userKey []byte, idx *int, consumed *uint64) bool {
	ik := dbkey.New(userKey, dbkey.MaxSequenceNumber, dbkey.TypeValue)
	for *idx < len(c.Grandparents) && e.cmp(c.Grandparents[*idx].Largest, ik) < 0 {
		*consumed += c.Grandparents[*idx].Size
		*idx++
	}
	return *consumed > manifest.MaxGrandparentOverlapBytes
}

// overlapsBeyondLevel reports whether any file at a level strictly above
// minLevel-1 (i.e. level >= minLevel) contains userKey in its range — the
// cheap range-overlap check spec §4.J's tombstone policy calls for, in
// lieu of an exact key probe.
func (e *Engine) overlapsBeyondLevel(v *manifest.Version, minLevel int, userKey []byte) bool {
	ik := dbkey.New(userKey, dbkey.MaxSequenceNumber, dbkey.TypeValue)
	for level := minLevel; level < manifest.NumLevels; level++ {
		for _, f := range v.Levels[level] {
			if e.cmp(f.Smallest, ik) <= 0 && e.cmp(ik, f.Largest) <= 0 {
				return true
			}
		}
	}
	return false
}

func (e *Engine) buildEdit(c *manifest.Compaction, outputLevel int, outputs []*outputFile) *manifest.Edit {
	edit := &manifest.Edit{}
	for _, f := range c.Inputs[0] {
		edit.DeletedFiles = append(edit.DeletedFiles, manifest.DeletedFileEntry{Level: c.Level, Number: f.Number})
	}
	for _, f := range c.Inputs[1] {
		edit.DeletedFiles = append(edit.DeletedFiles, manifest.DeletedFileEntry{Level: outputLevel, Number: f.Number})
	}
	for _, o := range outputs {
		edit.NewFiles = append(edit.NewFiles, manifest.NewFileEntry{
			Level: outputLevel,
			Meta:  manifest.NewFileMetadata(o.number, uint64(o.size), o.w.Smallest(), o.w.Largest()),
		})
	}
	return edit
}

// trivialMoveEdit relevels the single input file without any I/O.
func (e *Engine) trivialMoveEdit(c *manifest.Compaction) *manifest.Edit {
	edit := &manifest.Edit{}
	f := c.Inputs[0][0]
	edit.DeletedFiles = append(edit.DeletedFiles, manifest.DeletedFileEntry{Level: c.Level, Number: f.Number})
	edit.NewFiles = append(edit.NewFiles, manifest.NewFileEntry{Level: c.Level + 1, Meta: f})
	return edit
}

// openInputIterators opens a table iterator for every input file via the
// shared table cache, which owns the underlying file handles; compaction
// never closes them directly.
func (e *Engine) openInputIterators(c *manifest.Compaction) ([]Iterator, error) {
	var iters []Iterator
	open := func(f *manifest.FileMetadata) error {
		r, err := e.tableCache.Get(f.Number)
		if err != nil {
			return errors.Wrapf(err, "compaction: open input table %d", f.Number)
		}
		iters = append(iters, r.NewIterator())
		return nil
	}
	for _, f := range c.Inputs[0] {
		if err := open(f); err != nil {
			return nil, err
		}
	}
	for _, f := range c.Inputs[1] {
		if err := open(f); err != nil {
			return nil, err
		}
	}
	return iters, nil
}
