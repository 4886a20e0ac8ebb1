package manifest

import (
	"sort"
	"sync/atomic"

	"github.com/kiln-db/kiln/internal/dbkey"
)

// Version is an immutable snapshot of the tree: the set of table files at
// each level. New versions are produced by Builder.Apply; once installed,
// a version never changes, only gains and loses references.
type Version struct {
	Levels [NumLevels][]*FileMetadata

	refs int32

	// prev/next link this version into its VersionSet's in-use list.
	prev, next *Version
}

// NewVersion returns an empty, unreferenced version.
func NewVersion() *Version {
	return &Version{}
}

// Ref increments the version's reference count.
func (v *Version) Ref() { atomic.AddInt32(&v.refs, 1) }

// Unref decrements the version's reference count and, along with it, every
// file it holds; it reports whether the version itself reached zero.
func (v *Version) Unref() (zero bool, obsoleteFiles []*FileMetadata) {
	if atomic.AddInt32(&v.refs, -1) != 0 {
		return false, nil
	}
	for _, level := range v.Levels {
		for _, f := range level {
			if f.Unref() {
				obsoleteFiles = append(obsoleteFiles, f)
			}
		}
	}
	return true, obsoleteFiles
}

// NumFiles returns the file count at level.
func (v *Version) NumFiles(level int) int {
	if level < 0 || level >= NumLevels {
		return 0
	}
	return len(v.Levels[level])
}

// TotalSize returns the sum of file sizes at level.
func (v *Version) TotalSize(level int) uint64 {
	var total uint64
	for _, f := range v.Levels[level] {
		total += f.Size
	}
	return total
}

// OverlappingInputs returns the files at level whose internal-key range
// intersects [begin, end] (a nil bound means unbounded on that side),
// compared under cmp.
func OverlappingInputs(cmp func(a, b []byte) int, files []*FileMetadata, begin, end []byte) []*FileMetadata {
	var result []*FileMetadata
	for _, f := range files {
		if begin != nil && cmp(f.Largest, begin) < 0 {
			continue
		}
		if end != nil && cmp(f.Smallest, end) > 0 {
			continue
		}
		result = append(result, f)
	}
	return result
}

// UserKeyRange returns the smallest and largest user keys spanned by
// files, or (nil, nil) if files is empty.
func UserKeyRange(files []*FileMetadata) (smallest, largest []byte) {
	if len(files) == 0 {
		return nil, nil
	}
	smallest = dbkey.UserKey(files[0].Smallest)
	largest = dbkey.UserKey(files[0].Largest)
	for _, f := range files[1:] {
		if uk := dbkey.UserKey(f.Smallest); dbkey.BytewiseComparator.Compare(uk, smallest) < 0 {
			smallest = uk
		}
		if uk := dbkey.UserKey(f.Largest); dbkey.BytewiseComparator.Compare(uk, largest) > 0 {
			largest = uk
		}
	}
	return smallest, largest
}

// SortByInternalSmallest orders files ascending by Smallest, used for every
// level >= 1 where files are non-overlapping.
func SortByInternalSmallest(cmp func(a, b []byte) int, files []*FileMetadata) {
	sort.Slice(files, func(i, j int) bool {
		return cmp(files[i].Smallest, files[j].Smallest) < 0
	})
}

// SortByNumberDescending orders level-0 files newest-file-number-first, the
// order in which they must be searched and merged (newest entries win).
func SortByNumberDescending(files []*FileMetadata) {
	sort.Slice(files, func(i, j int) bool { return files[i].Number > files[j].Number })
}
