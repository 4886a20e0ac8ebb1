package manifest

import "sync"

// VersionSet owns the chain of in-use versions and the durable counters
// that accompany them, per spec §4.H. New versions are installed only
// through LogAndApply, which does not write the manifest log; persisting
// each edit is the caller's job (see Writer.Append).
type VersionSet struct {
	mu sync.Mutex

	cmp func(a, b []byte) int

	current *Version
	dummy   Version // sentinel head/tail of the in-use doubly linked list

	NextFileNumber     uint64
	ManifestFileNumber uint64
	LastSequence       uint64
	LogNumber          uint64
	PrevLogNumber      uint64

	compactPointer [NumLevels][]byte // internal key, per level
}

// NewVersionSet returns an empty version set comparing internal keys
// with cmp. Callers populate its counters and initial version via Replay
// or by calling LogAndApply with a bootstrap edit.
func NewVersionSet(cmp func(a, b []byte) int) *VersionSet {
	vs := &VersionSet{cmp: cmp}
	vs.dummy.next = &vs.dummy
	vs.dummy.prev = &vs.dummy
	return vs
}

// Current returns the active version. The caller should Ref it if the
// reference must outlive the current mutex section.
func (vs *VersionSet) Current() *Version {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.current
}

// NewFileNumber allocates and returns the next file number, advancing the
// counter.
func (vs *VersionSet) NewFileNumber() uint64 {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	n := vs.NextFileNumber
	vs.NextFileNumber++
	return n
}

// CompactPointer returns the stored compaction pointer for level, or nil
// if none has been recorded yet.
func (vs *VersionSet) CompactPointer(level int) []byte {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.compactPointer[level]
}

// LastSequenceNumber returns the most recently assigned sequence number.
func (vs *VersionSet) LastSequenceNumber() uint64 {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.LastSequence
}

// SetLastSequence advances the live sequence counter. The write pipeline
// calls this directly, under the database mutex, once a batch's WAL
// append and memtable apply have both succeeded; it does not go through
// LogAndApply, since no file addition/removal accompanies it.
func (vs *VersionSet) SetLastSequence(seq uint64) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.LastSequence = seq
}

// appendVersion installs v as current, links it into the in-use list, and
// unreferences (but does not yet garbage collect) the version it replaces.
// Caller must hold vs.mu.
func (vs *VersionSet) appendVersion(v *Version) (obsolete []*FileMetadata) {
	v.Ref()
	v.prev = vs.dummy.prev
	v.next = &vs.dummy
	vs.dummy.prev.next = v
	vs.dummy.prev = v

	old := vs.current
	vs.current = v
	if old != nil {
		if old.prev != nil {
			old.prev.next = old.next
		}
		if old.next != nil {
			old.next.prev = old.prev
		}
		old.prev, old.next = nil, nil
		if zero, files := old.Unref(); zero {
			obsolete = files
		}
	}
	return obsolete
}

// LogAndApply builds the version resulting from applying edit to the
// current version, installs it as current, and updates the set's
// counters from any fields the edit carries. It does not itself write to
// the manifest log; callers pair it with Writer.Append under the same
// external lock so the two stay consistent. It returns the new version and
// the files made obsolete by superseding the previous one.
func (vs *VersionSet) LogAndApply(edit *Edit) (newVersion *Version, obsolete []*FileMetadata, err error) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	b := NewBuilder(vs.cmp)
	b.Accumulate(edit)
	v, err := b.Apply(vs.current)
	if err != nil {
		return nil, nil, err
	}

	if edit.HasLogNumber {
		vs.LogNumber = edit.LogNumber
	}
	if edit.HasPrevLogNumber {
		vs.PrevLogNumber = edit.PrevLogNumber
	}
	if edit.HasNextFileNumber && edit.NextFileNumber > vs.NextFileNumber {
		vs.NextFileNumber = edit.NextFileNumber
	}
	if edit.HasLastSequence {
		vs.LastSequence = edit.LastSequence
	}
	for _, c := range edit.CompactPointers {
		vs.compactPointer[c.Level] = c.Key
	}

	obsolete = vs.appendVersion(v)
	return v, obsolete, nil
}

// Snapshot returns an edit capturing every durable field needed to
// reconstruct this version set from scratch plus every file in the
// current version, suitable as the sole entry of a freshly rolled
// manifest.
func (vs *VersionSet) Snapshot(comparatorName string) *Edit {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	e := &Edit{
		ComparatorName:    comparatorName,
		LogNumber:         vs.LogNumber,
		HasLogNumber:      true,
		PrevLogNumber:     vs.PrevLogNumber,
		HasPrevLogNumber:  true,
		NextFileNumber:    vs.NextFileNumber,
		HasNextFileNumber: true,
		LastSequence:      vs.LastSequence,
		HasLastSequence:   true,
	}
	for level, key := range vs.compactPointer {
		if key != nil {
			e.CompactPointers = append(e.CompactPointers, CompactPointerEntry{Level: level, Key: key})
		}
	}
	if vs.current != nil {
		for level, files := range vs.current.Levels {
			for _, f := range files {
				e.NewFiles = append(e.NewFiles, NewFileEntry{Level: level, Meta: f})
			}
		}
	}
	return e
}
