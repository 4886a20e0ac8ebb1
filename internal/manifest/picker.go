package manifest

import "github.com/kiln-db/kiln/internal/dbkey"

// Tuning constants from spec §4.H/§4.J.
const (
	L0CompactionTrigger = 4

	// TargetFileSize is the default output file size for compaction.
	TargetFileSize = 2 << 20 // 2 MiB

	// ExpandedCompactionByteSizeLimit bounds how far a level-L input may
	// be symmetrically re-expanded once L+1 overlaps are known.
	ExpandedCompactionByteSizeLimit = 25 * TargetFileSize

	// MaxGrandparentOverlapBytes is the threshold at which the output
	// builder rolls over to a new file to bound future L+1->L+2 work.
	MaxGrandparentOverlapBytes = 10 * TargetFileSize

	// MaxMemCompactLevel is the highest level a freshly flushed memtable
	// may be pushed to directly, skipping level-0 churn.
	MaxMemCompactLevel = 2
)

// PickLevelForMemtableOutput chooses the level a freshly flushed memtable's
// table should land at: level 0 if it overlaps anything there (level-0
// files may overlap, so there is nothing to gain by pushing past it), else
// the deepest level up to MaxMemCompactLevel it can reach without
// overlapping that level and without risking too much future overlap
// against level+2.
func PickLevelForMemtableOutput(v *Version, cmp func(a, b []byte) int, smallest, largest []byte) int {
	if len(OverlappingInputs(cmp, v.Levels[0], smallest, largest)) > 0 {
		return 0
	}
	level := 0
	for level < MaxMemCompactLevel {
		if len(OverlappingInputs(cmp, v.Levels[level+1], smallest, largest)) > 0 {
			break
		}
		if level+2 < NumLevels {
			overlap := OverlappingInputs(cmp, v.Levels[level+2], smallest, largest)
			if totalSize(overlap) > MaxGrandparentOverlapBytes {
				break
			}
		}
		level++
	}
	return level
}

// levelMaxBytes returns the byte budget for level >= 1: 10MiB * 10^(L-1).
func levelMaxBytes(level int) uint64 {
	bytes := uint64(10 << 20)
	for i := 1; i < level; i++ {
		bytes *= 10
	}
	return bytes
}

// Compaction describes one unit of compaction work: the chosen level and
// its two input file sets, plus any grandparent files whose overlap bounds
// output file rollover.
type Compaction struct {
	Level        int
	Inputs       [2][]*FileMetadata // level L, level L+1
	Grandparents []*FileMetadata    // level L+2, overlapping the combined input range

	// TrivialMove is true when this compaction can be satisfied by an
	// edit alone (delete+re-add at L+1), with no merge I/O.
	TrivialMove bool
}

// PickSizeCompaction chooses the level with the highest compaction score
// at or above 1.0 and builds its input set, or returns ok=false if no
// level needs compacting. cmp is the internal-key comparator.
func PickSizeCompaction(vs *VersionSet, cmp func(a, b []byte) int) (*Compaction, bool) {
	v := vs.Current()
	if v == nil {
		return nil, false
	}

	bestLevel := -1
	bestScore := 1.0
	if score := float64(v.NumFiles(0)) / float64(L0CompactionTrigger); score >= bestScore {
		bestLevel, bestScore = 0, score
	}
	for level := 1; level < NumLevels-1; level++ {
		score := float64(v.TotalSize(level)) / float64(levelMaxBytes(level))
		if score >= bestScore {
			bestLevel, bestScore = level, score
		}
	}
	if bestLevel < 0 {
		return nil, false
	}
	return buildCompaction(vs, cmp, v, bestLevel), true
}

// PickSeekCompaction returns a compaction targeting file's level if file's
// allowed-seeks budget has been exhausted.
func PickSeekCompaction(vs *VersionSet, cmp func(a, b []byte) int, file *FileMetadata, level int) (*Compaction, bool) {
	if file.Seeks() > 0 {
		return nil, false
	}
	v := vs.Current()
	if v == nil {
		return nil, false
	}
	c := buildCompactionFromFile(vs, cmp, v, level, file)
	return c, true
}

// buildCompaction picks the starting file at level (the one whose
// Smallest is >= the stored compaction pointer, wrapping to the first
// file if none qualifies) and expands it per spec §4.H.
func buildCompaction(vs *VersionSet, cmp func(a, b []byte) int, v *Version, level int) *Compaction {
	files := v.Levels[level]
	if len(files) == 0 {
		return nil
	}
	pointer := vs.CompactPointer(level)
	start := files[0]
	if pointer != nil {
		for _, f := range files {
			if cmp(f.Smallest, pointer) >= 0 {
				start = f
				break
			}
		}
	}
	return buildCompactionFromFile(vs, cmp, v, level, start)
}

func buildCompactionFromFile(vs *VersionSet, cmp func(a, b []byte) int, v *Version, level int, start *FileMetadata) *Compaction {
	var input []*FileMetadata
	if level == 0 {
		// All level-0 files overlapping start's user-key range participate,
		// since level-0 files may themselves overlap each other.
		begin := dbkey.New(dbkey.UserKey(start.Smallest), dbkey.MaxSequenceNumber, dbkey.TypeValue)
		end := dbkey.New(dbkey.UserKey(start.Largest), 0, dbkey.TypeDeletion)
		input = OverlappingInputs(cmp, v.Levels[0], begin, end)
		if len(input) == 0 {
			input = []*FileMetadata{start}
		}
	} else {
		input = []*FileMetadata{start}
	}
	return buildCompactionFromInputs(vs, cmp, v, level, input)
}

// PickRangeCompaction builds a compaction covering every file at level
// whose internal-key range intersects [begin, end] (a nil bound is
// unbounded on that side), for CompactRange's forced, manually-triggered
// compaction. It returns ok=false if no file at level overlaps the range.
func PickRangeCompaction(vs *VersionSet, cmp func(a, b []byte) int, level int, begin, end []byte) (*Compaction, bool) {
	v := vs.Current()
	if v == nil {
		return nil, false
	}
	input := OverlappingInputs(cmp, v.Levels[level], begin, end)
	if len(input) == 0 {
		return nil, false
	}
	return buildCompactionFromInputs(vs, cmp, v, level, input), true
}

func buildCompactionFromInputs(vs *VersionSet, cmp func(a, b []byte) int, v *Version, level int, input []*FileMetadata) *Compaction {
	input = ExpandBoundaryInputs(cmp, v.Levels[level], input)

	smallest, largest := rangeOf(cmp, input)
	nextLevel := level + 1
	var nextInputs []*FileMetadata
	if nextLevel < NumLevels {
		nextInputs = OverlappingInputs(cmp, v.Levels[nextLevel], smallest, largest)
	}

	// Symmetric re-expansion: if level-L input plus L+1 overlap still fits
	// under the byte budget, grow level-L without touching L+1.
	if level > 0 {
		allSmallest, allLargest := rangeOf(cmp, append(append([]*FileMetadata{}, input...), nextInputs...))
		expanded := OverlappingInputs(cmp, v.Levels[level], allSmallest, allLargest)
		expanded = ExpandBoundaryInputs(cmp, v.Levels[level], expanded)
		if len(expanded) > len(input) && totalSize(expanded)+totalSize(nextInputs) < ExpandedCompactionByteSizeLimit {
			input = expanded
		}
	}

	var grandparents []*FileMetadata
	if nextLevel+1 < NumLevels {
		s, l := rangeOf(cmp, append(append([]*FileMetadata{}, input...), nextInputs...))
		grandparents = OverlappingInputs(cmp, v.Levels[nextLevel+1], s, l)
	}

	c := &Compaction{Level: level, Grandparents: grandparents}
	c.Inputs[0] = input
	c.Inputs[1] = nextInputs
	c.TrivialMove = len(input) == 1 && len(nextInputs) == 0 && totalSize(grandparents) <= MaxGrandparentOverlapBytes
	return c
}

func rangeOf(cmp func(a, b []byte) int, files []*FileMetadata) (smallest, largest []byte) {
	if len(files) == 0 {
		return nil, nil
	}
	smallest, largest = files[0].Smallest, files[0].Largest
	for _, f := range files[1:] {
		if cmp(f.Smallest, smallest) < 0 {
			smallest = f.Smallest
		}
		if cmp(f.Largest, largest) > 0 {
			largest = f.Largest
		}
	}
	return smallest, largest
}

func totalSize(files []*FileMetadata) uint64 {
	var total uint64
	for _, f := range files {
		total += f.Size
	}
	return total
}
