package manifest

import "github.com/cockroachdb/errors"

// Builder applies a sequence of edits on top of a base version to produce
// a new version, per spec §4.H: deletions are applied first, then
// additions, with level 0 kept in file-number-descending order and every
// other level kept sorted by Smallest.
type Builder struct {
	cmp     func(a, b []byte) int
	deleted [NumLevels]map[uint64]bool
	added   [NumLevels][]*FileMetadata
}

// NewBuilder returns a builder that will compare internal keys with cmp.
func NewBuilder(cmp func(a, b []byte) int) *Builder {
	return &Builder{cmp: cmp}
}

// Accumulate folds one edit's file changes into the builder's pending
// state; it may be called multiple times before Apply to fold a batch of
// edits (e.g. while replaying a manifest) into a single version transition.
func (b *Builder) Accumulate(e *Edit) {
	for _, d := range e.DeletedFiles {
		if b.deleted[d.Level] == nil {
			b.deleted[d.Level] = make(map[uint64]bool)
		}
		b.deleted[d.Level][d.Number] = true
		// A file added by an earlier accumulated edit and deleted by this
		// one drops out of the pending additions.
		kept := b.added[d.Level][:0]
		for _, f := range b.added[d.Level] {
			if f.Number != d.Number {
				kept = append(kept, f)
			}
		}
		b.added[d.Level] = kept
	}
	for _, n := range e.NewFiles {
		b.added[n.Level] = append(b.added[n.Level], n.Meta)
	}
}

// Apply produces the new version resulting from curr plus every edit
// accumulated so far. curr may be nil, equivalent to an all-empty version.
func (b *Builder) Apply(curr *Version) (*Version, error) {
	v := NewVersion()
	for level := 0; level < NumLevels; level++ {
		deleted := b.deleted[level]
		added := b.added[level]

		var base []*FileMetadata
		if curr != nil {
			base = curr.Levels[level]
		}

		if len(added) == 0 && len(deleted) == 0 {
			v.Levels[level] = base
			for _, f := range base {
				f.Ref()
			}
			continue
		}

		merged := make([]*FileMetadata, 0, len(base)+len(added))
		for _, f := range base {
			if deleted[f.Number] {
				continue
			}
			merged = append(merged, f)
		}
		for _, f := range added {
			if deleted[f.Number] {
				return nil, errors.Errorf("manifest: file %d deleted and added in the same edit at level %d", f.Number, level)
			}
			merged = append(merged, f)
		}

		if level == 0 {
			SortByNumberDescending(merged)
		} else {
			SortByInternalSmallest(b.cmp, merged)
			if err := checkNonOverlapping(b.cmp, merged); err != nil {
				return nil, errors.Wrapf(err, "level %d", level)
			}
		}

		for _, f := range merged {
			f.Ref()
		}
		v.Levels[level] = merged
	}
	return v, nil
}

func checkNonOverlapping(cmp func(a, b []byte) int, files []*FileMetadata) error {
	for i := 1; i < len(files); i++ {
		if cmp(files[i-1].Largest, files[i].Smallest) >= 0 {
			return errors.Errorf("files %d and %d overlap", files[i-1].Number, files[i].Number)
		}
	}
	return nil
}
