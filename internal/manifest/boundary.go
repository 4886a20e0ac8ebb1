package manifest

import "github.com/kiln-db/kiln/internal/dbkey"

// ExpandBoundaryInputs implements the boundary-inputs rule of spec §4.H.3:
// if any file in input shares a user key with another file g at the same
// level (g's smallest internal key has the same user key as some input
// file's largest internal key and sorts after it, i.e. has a smaller
// trailer and so a smaller sequence number — meaning g picks up
// immediately after input's tail),
// g is pulled into input. This repeats until no more files qualify,
// preventing a compaction boundary from splitting one user key's versions
// across levels out of sequence order.
func ExpandBoundaryInputs(cmp func(a, b []byte) int, levelFiles []*FileMetadata, input []*FileMetadata) []*FileMetadata {
	inSet := make(map[uint64]bool, len(input))
	for _, f := range input {
		inSet[f.Number] = true
	}

	for {
		grew := false
		for _, f := range input {
			largestUser := dbkey.UserKey(f.Largest)
			for _, g := range levelFiles {
				if inSet[g.Number] {
					continue
				}
				if dbkey.BytewiseComparator.Compare(dbkey.UserKey(g.Smallest), largestUser) != 0 {
					continue
				}
				if cmp(g.Smallest, f.Largest) <= 0 {
					continue
				}
				input = append(input, g)
				inSet[g.Number] = true
				grew = true
			}
		}
		if !grew {
			break
		}
	}
	return input
}
