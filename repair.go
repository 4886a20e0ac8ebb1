package kiln

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/kiln-db/kiln/internal/compaction"
	"github.com/kiln-db/kiln/internal/dbkey"
	"github.com/kiln-db/kiln/internal/manifest"
	"github.com/kiln-db/kiln/internal/memtable"
	"github.com/kiln-db/kiln/internal/sstable"
	"github.com/kiln-db/kiln/internal/tablecache"
	"github.com/kiln-db/kiln/internal/vfs"
	"github.com/kiln-db/kiln/internal/wal"
)

// Destroy removes every file belonging to the database at path, per spec
// §4.L. It does not take the database lock; the caller must ensure no
// other handle has it open.
func Destroy(path string, opts ...Option) error {
	o := NewOptions(opts...)
	fs := o.FS
	if fs == nil {
		fs = vfs.NewDisk(path)
	}
	names, err := fs.List(".")
	if err != nil {
		if !fs.Exists(".") {
			return nil
		}
		return errors.Wrap(err, "kiln: list database directory for destroy")
	}
	for _, name := range names {
		if err := fs.Remove(name); err != nil {
			return errors.Wrapf(err, "kiln: remove %s", name)
		}
	}
	return nil
}

// Repair rebuilds a database with no usable manifest, per spec §4.L's
// repair path: every write-ahead log is converted to a table exactly as
// recovery would, every surviving table (pre-existing or freshly
// converted) is scanned for its key range and sequence numbers, and a
// brand new manifest is written registering every survivor at level 0.
// The manifest and logs that existed before the repair are archived into
// a "lost" subdirectory rather than deleted outright.
func Repair(path string, opts ...Option) error {
	o := NewOptions(opts...)
	fs := o.FS
	if fs == nil {
		fs = vfs.NewDisk(path)
	}

	lock, err := fs.Lock("LOCK")
	if err != nil {
		return errors.Wrap(err, "kiln: lock database directory for repair")
	}
	defer lock.Unlock()

	if err := fs.MkdirAll("lost"); err != nil {
		return errors.Wrap(err, "kiln: create lost directory")
	}

	names, err := fs.List(".")
	if err != nil {
		return errors.Wrap(err, "kiln: list database directory for repair")
	}

	icmp := dbkey.InternalComparator(o.Comparator.Compare)
	vs := manifest.NewVersionSet(icmp)
	engine := compaction.New(fs, o.Comparator, o.FilterPolicy, tablecache.New(fs, o.Comparator, o.FilterPolicy, nil, o.maxOpenTables()))

	var tableNumbers []uint64
	var logNames []string
	var manifestNames []string
	for _, name := range names {
		switch {
		case strings.HasSuffix(name, ".sst"):
			if n, ok := parseTableNumber(name); ok {
				tableNumbers = append(tableNumbers, n)
			}
		case strings.HasSuffix(name, ".log"):
			logNames = append(logNames, name)
		case strings.HasPrefix(name, "MANIFEST-"):
			manifestNames = append(manifestNames, name)
		}
	}

	var files []*manifest.FileMetadata
	var maxFileNumber uint64
	var maxSeq uint64

	for _, n := range tableNumbers {
		meta, seq, err := scanTable(fs, o, n)
		if err != nil {
			// A table that fails to parse is abandoned, not fatal: it is
			// moved aside with everything else deemed unusable.
			if archiveErr := fs.Rename(tablecache.TableName(n), "lost/"+tablecache.TableName(n)); archiveErr == nil {
				continue
			}
			return errors.Wrapf(err, "kiln: scan table %d", n)
		}
		files = append(files, meta)
		if n > maxFileNumber {
			maxFileNumber = n
		}
		if seq > maxSeq {
			maxSeq = seq
		}
	}

	for _, name := range logNames {
		n, ok := wal.ParseLogNumber(name)
		if !ok {
			continue
		}
		mem := memtable.New(o.Comparator.Compare)
		seq, err := replayLogInto(fs, name, mem, false)
		if err != nil {
			return errors.Wrapf(err, "kiln: replay %s during repair", name)
		}
		if seq > maxSeq {
			maxSeq = seq
		}
		if !mem.Empty() {
			fileNumber := n
			if fileNumber <= maxFileNumber {
				fileNumber = maxFileNumber + 1
			}
			edit, err := engine.Flush(nil, mem, fileNumber)
			if err != nil && !errors.Is(err, compaction.ErrEmptyFlush) {
				return errors.Wrapf(err, "kiln: convert %s to table", name)
			}
			if err == nil {
				for _, nf := range edit.NewFiles {
					files = append(files, nf.Meta)
					if nf.Meta.Number > maxFileNumber {
						maxFileNumber = nf.Meta.Number
					}
				}
			}
		}
		if err := fs.Rename(name, "lost/"+name); err != nil {
			return errors.Wrapf(err, "kiln: archive %s", name)
		}
	}

	for _, name := range manifestNames {
		if err := fs.Rename(name, "lost/"+name); err != nil {
			return errors.Wrapf(err, "kiln: archive %s", name)
		}
	}
	if fs.Exists("CURRENT") {
		if err := fs.Rename("CURRENT", "lost/CURRENT"); err != nil {
			return errors.Wrapf(err, "kiln: archive CURRENT")
		}
	}

	vs.NextFileNumber = maxFileNumber + 1
	vs.LastSequence = maxSeq
	logNum := vs.NextFileNumber
	vs.NextFileNumber++
	vs.LogNumber = logNum

	edit := &manifest.Edit{
		ComparatorName:    o.Comparator.Name,
		LogNumber:         vs.LogNumber,
		HasLogNumber:      true,
		NextFileNumber:    vs.NextFileNumber,
		HasNextFileNumber: true,
		LastSequence:      vs.LastSequence,
		HasLastSequence:   true,
	}
	for _, f := range files {
		edit.NewFiles = append(edit.NewFiles, manifest.NewFileEntry{Level: 0, Meta: f})
	}

	manifestNum := vs.NewFileNumber()
	mw, err := manifest.Create(fs, manifestNum, edit)
	if err != nil {
		return errors.Wrap(err, "kiln: create repaired manifest")
	}
	if err := mw.Close(); err != nil {
		return errors.Wrap(err, "kiln: close repaired manifest")
	}
	if err := manifest.SetCurrent(fs, manifest.ManifestName(manifestNum)); err != nil {
		return errors.Wrap(err, "kiln: publish repaired manifest")
	}

	logFile, err := fs.Create(wal.LogName(logNum))
	if err != nil {
		return errors.Wrap(err, "kiln: create repaired wal")
	}
	return errors.Wrap(logFile.Close(), "kiln: close repaired wal")
}

// parseTableNumber inverts tablecache.TableName's "%06d.sst" format.
func parseTableNumber(name string) (uint64, bool) {
	const suffix = ".sst"
	if !strings.HasSuffix(name, suffix) {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimSuffix(name, suffix), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// scanTable opens table fileNumber and walks its entries to recover the
// key range and maximum sequence number repair needs, since a table with
// no manifest entry carries no FileMetadata of its own yet.
func scanTable(fs vfs.FS, o *Options, fileNumber uint64) (*manifest.FileMetadata, uint64, error) {
	name := tablecache.TableName(fileNumber)
	size, err := fs.Size(name)
	if err != nil {
		return nil, 0, err
	}
	f, err := fs.Open(name)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	r, err := sstable.Open(f, size, o.Comparator, o.FilterPolicy, fileNumber, nil)
	if err != nil {
		return nil, 0, err
	}

	var smallest, largest []byte
	var maxSeq uint64
	it := r.NewIterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		if smallest == nil {
			smallest = append([]byte(nil), it.Key()...)
		}
		largest = append([]byte(nil), it.Key()...)
		if _, seq, _, ok := dbkey.Parse(it.Key()); ok && seq > maxSeq {
			maxSeq = seq
		}
	}
	if err := it.Error(); err != nil {
		return nil, 0, err
	}
	if smallest == nil {
		return nil, 0, errors.New("kiln: table has no entries")
	}
	return manifest.NewFileMetadata(fileNumber, uint64(size), smallest, largest), maxSeq, nil
}
