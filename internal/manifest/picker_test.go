package manifest_test

import (
	"testing"

	"github.com/kiln-db/kiln/internal/manifest"
	"github.com/stretchr/testify/require"
)

func TestPickSizeCompactionTriggersOnLevel0FileCount(t *testing.T) {
	vs := manifest.NewVersionSet(internalCmp)
	edit := &manifest.Edit{}
	for i := uint64(1); i <= manifest.L0CompactionTrigger; i++ {
		edit.NewFiles = append(edit.NewFiles, manifest.NewFileEntry{
			Level: 0, Meta: manifest.NewFileMetadata(i, 10, ik("a", i), ik("b", i)),
		})
	}
	_, _, err := vs.LogAndApply(edit)
	require.NoError(t, err)

	c, ok := manifest.PickSizeCompaction(vs, internalCmp)
	require.True(t, ok)
	require.Equal(t, 0, c.Level)
	require.NotEmpty(t, c.Inputs[0])
}

func TestPickSizeCompactionReturnsFalseWhenNothingNeedsIt(t *testing.T) {
	vs := manifest.NewVersionSet(internalCmp)
	_, _, err := vs.LogAndApply(&manifest.Edit{
		NewFiles: []manifest.NewFileEntry{
			{Level: 0, Meta: manifest.NewFileMetadata(1, 10, ik("a", 1), ik("b", 1))},
		},
	})
	require.NoError(t, err)

	_, ok := manifest.PickSizeCompaction(vs, internalCmp)
	require.False(t, ok)
}

func TestBuildCompactionIsNotTrivialMoveForOverlappingLevel0Files(t *testing.T) {
	vs := manifest.NewVersionSet(internalCmp)
	edit := &manifest.Edit{}
	for i := uint64(1); i <= manifest.L0CompactionTrigger; i++ {
		edit.NewFiles = append(edit.NewFiles, manifest.NewFileEntry{
			Level: 0, Meta: manifest.NewFileMetadata(i, 10, ik("a", i), ik("b", i)),
		})
	}
	_, _, err := vs.LogAndApply(edit)
	require.NoError(t, err)

	c, ok := manifest.PickSizeCompaction(vs, internalCmp)
	require.True(t, ok)
	// Level 0 files all overlap each other (same user-key range), so this
	// is never a trivial move even with an empty L1.
	require.False(t, c.TrivialMove)
}

func TestExpandBoundaryInputsPullsInSameUserKeyFile(t *testing.T) {
	f1 := manifest.NewFileMetadata(1, 10, ik("a", 20), ik("m", 10))
	f2 := manifest.NewFileMetadata(2, 10, ik("m", 5), ik("z", 1))
	level := []*manifest.FileMetadata{f1, f2}

	expanded := manifest.ExpandBoundaryInputs(internalCmp, level, []*manifest.FileMetadata{f1})
	require.Len(t, expanded, 2)
}

func TestExpandBoundaryInputsLeavesDisjointFilesAlone(t *testing.T) {
	f1 := manifest.NewFileMetadata(1, 10, ik("a", 20), ik("c", 10))
	f2 := manifest.NewFileMetadata(2, 10, ik("d", 5), ik("z", 1))
	level := []*manifest.FileMetadata{f1, f2}

	expanded := manifest.ExpandBoundaryInputs(internalCmp, level, []*manifest.FileMetadata{f1})
	require.Len(t, expanded, 1)
}
