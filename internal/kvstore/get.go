package kvstore

import (
	"sort"

	"github.com/kiln-db/kiln/internal/dbkey"
	"github.com/kiln-db/kiln/internal/manifest"
	"github.com/kiln-db/kiln/internal/memtable"
	"github.com/kiln-db/kiln/internal/tablecache"
)

// SeekCharge names the single file whose seek budget should be charged
// after a Get examined more than one file before finding (or failing to
// find) userKey, per spec §4.H: a seek is charged to the first file
// checked whenever the search needed more than one. Exhausted reports
// whether this charge just brought the file's budget to zero, making it
// eligible for manifest.PickSeekCompaction.
type SeekCharge struct {
	File      *manifest.FileMetadata
	Level     int
	Exhausted bool
}

// Get performs the lookup path of spec §4.K/§4.M: active memtable, then
// immutable memtable (imm may be nil), then level-by-level table lookup
// via tc. The first VALUE or DELETION hit ends the search. charge is
// non-nil exactly when a seek should be billed against some file.
func Get(
	mem, imm *memtable.Memtable,
	v *manifest.Version,
	tc *tablecache.Cache,
	userCmp dbkey.Comparator,
	userKey []byte,
	seq uint64,
) (value []byte, found bool, charge *SeekCharge, err error) {
	if mem != nil {
		if val, r := mem.Get(userKey, seq); r != memtable.Miss {
			return val, r == memtable.Found, nil, nil
		}
	}
	if imm != nil {
		if val, r := imm.Get(userKey, seq); r != memtable.Miss {
			return val, r == memtable.Found, nil, nil
		}
	}
	if v == nil {
		return nil, false, nil, nil
	}

	lookup := dbkey.LookupKey(userKey, seq)

	var firstFile *manifest.FileMetadata
	var firstLevel int
	filesExamined := 0

	record := func(f *manifest.FileMetadata, level int) {
		filesExamined++
		if firstFile == nil {
			firstFile, firstLevel = f, level
		}
	}
	chargeIfMultiple := func() *SeekCharge {
		if filesExamined <= 1 || firstFile == nil {
			return nil
		}
		return &SeekCharge{File: firstFile, Level: firstLevel, Exhausted: firstFile.ChargeSeek()}
	}

	// Level 0: files may overlap, so every one whose range could hold the
	// key must be tried, newest (highest file number) first.
	for _, f := range v.Levels[0] {
		if userCmp.Compare(userKey, dbkey.UserKey(f.Smallest)) < 0 ||
			userCmp.Compare(userKey, dbkey.UserKey(f.Largest)) > 0 {
			continue
		}
		record(f, 0)
		val, live, hit, rerr := lookupInFile(tc, f, lookup)
		if rerr != nil {
			return nil, false, chargeIfMultiple(), rerr
		}
		if hit {
			return val, live, chargeIfMultiple(), nil
		}
	}

	for level := 1; level < manifest.NumLevels; level++ {
		files := v.Levels[level]
		if len(files) == 0 {
			continue
		}
		i := sort.Search(len(files), func(i int) bool {
			return userCmp.Compare(userKey, dbkey.UserKey(files[i].Largest)) <= 0
		})
		if i >= len(files) {
			continue
		}
		f := files[i]
		if userCmp.Compare(userKey, dbkey.UserKey(f.Smallest)) < 0 {
			continue
		}
		record(f, level)
		val, live, hit, rerr := lookupInFile(tc, f, lookup)
		if rerr != nil {
			return nil, false, chargeIfMultiple(), rerr
		}
		if hit {
			return val, live, chargeIfMultiple(), nil
		}
	}

	return nil, false, chargeIfMultiple(), nil
}

// lookupInFile reads fileMeta's table for the newest entry at or below
// lookup's sequence. hit is false only on an outright miss (no entry for
// the user key at all); hit true with live false means the newest entry
// is a tombstone.
func lookupInFile(tc *tablecache.Cache, fileMeta *manifest.FileMetadata, lookup []byte) (value []byte, live bool, hit bool, err error) {
	r, err := tc.Get(fileMeta.Number)
	if err != nil {
		return nil, false, false, err
	}
	ik, val, found, err := r.Get(lookup)
	if err != nil {
		return nil, false, false, err
	}
	if !found {
		return nil, false, false, nil
	}
	_, _, typ, ok := dbkey.Parse(ik)
	if !ok || typ == dbkey.TypeDeletion {
		return nil, false, true, nil
	}
	return val, true, true, nil
}
