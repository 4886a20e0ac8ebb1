package manifest

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/kiln-db/kiln/internal/vfs"
	"github.com/kiln-db/kiln/internal/wal"
)

// RollSizeThreshold is the manifest file size past which the next write
// rolls over to a fresh manifest containing a single snapshot edit,
// rather than growing the existing log indefinitely.
const RollSizeThreshold = 4 << 20 // 4 MiB, conservative vs. a 2 MiB table

// ManifestName formats a manifest file's name for number n.
func ManifestName(n uint64) string {
	return fmt.Sprintf("MANIFEST-%06d", n)
}

// ReadCurrent reads the CURRENT file and returns the manifest file name it
// names.
func ReadCurrent(fs vfs.FS) (string, error) {
	f, err := fs.Open("CURRENT")
	if err != nil {
		return "", errors.Wrap(err, "manifest: open CURRENT")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", errors.Wrap(err, "manifest: read CURRENT")
	}
	name := strings.TrimSuffix(string(data), "\n")
	if name == "" {
		return "", errors.New("manifest: CURRENT is empty")
	}
	return name, nil
}

// SetCurrent atomically publishes manifestName as the active manifest: it
// writes to a temp file and renames over CURRENT, so a crash never leaves
// CURRENT pointing at a partially-written name.
func SetCurrent(fs vfs.FS, manifestName string) error {
	tmp := "CURRENT.dbtmp"
	f, err := fs.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "manifest: create CURRENT temp")
	}
	if _, err := f.Write([]byte(manifestName + "\n")); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "manifest: write CURRENT temp")
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "manifest: sync CURRENT temp")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "manifest: close CURRENT temp")
	}
	return errors.Wrap(fs.Rename(tmp, "CURRENT"), "manifest: rename CURRENT")
}

// ParseManifestNumber extracts the numeric suffix from a manifest file
// name, e.g. "MANIFEST-000006" -> 6.
func ParseManifestNumber(name string) (uint64, bool) {
	const prefix = "MANIFEST-"
	if !strings.HasPrefix(name, prefix) {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(name, prefix), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Writer appends edits to one manifest file using the same block-framed
// log format as the write-ahead log, fsyncing after every append so a
// reader never observes a torn edit.
type Writer struct {
	w    *wal.Writer
	size int64
}

// Create opens a fresh manifest file named ManifestName(number), writes
// snapshot as its first (and only) record, and leaves the writer ready for
// further incremental Append calls.
func Create(fs vfs.FS, number uint64, snapshot *Edit) (*Writer, error) {
	f, err := fs.Create(ManifestName(number))
	if err != nil {
		return nil, errors.Wrap(err, "manifest: create manifest file")
	}
	w := &Writer{w: wal.NewWriter(f)}
	if err := w.Append(snapshot); err != nil {
		return nil, err
	}
	return w, nil
}

// Append writes one incremental edit and fsyncs.
func (w *Writer) Append(e *Edit) error {
	data := e.Encode()
	if err := w.w.AddRecord(data); err != nil {
		return errors.Wrap(err, "manifest: append edit")
	}
	if err := w.w.Sync(); err != nil {
		return errors.Wrap(err, "manifest: sync")
	}
	w.size += int64(len(data))
	return nil
}

// Size returns the approximate number of payload bytes written so far,
// used to decide whether the manifest should be rolled.
func (w *Writer) Size() int64 { return w.size }

// Close releases the underlying file handle.
func (w *Writer) Close() error {
	return errors.Wrap(w.w.Close(), "manifest: close")
}

// Replay reads every edit from the manifest file named name and folds it
// into a fresh VersionSet plus the version it produces. comparatorName, if
// non-empty in the first edit, is validated against want.
func Replay(fs vfs.FS, name string, cmp func(a, b []byte) int, want string) (*VersionSet, *Version, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, nil, errors.Wrap(err, "manifest: open manifest")
	}
	defer f.Close()

	var reportedErr error
	r := wal.NewReader(f, func(n int, reason error) {
		reportedErr = errors.Wrapf(reason, "manifest: corrupt record (%d bytes)", n)
	}, 0)
	r.Paranoid = true

	vs := NewVersionSet(cmp)
	b := NewBuilder(cmp)
	haveComparator := false

	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errors.Wrap(err, "manifest: read record")
		}
		e, err := Decode(rec)
		if err != nil {
			return nil, nil, errors.Wrap(err, "manifest: decode edit")
		}
		if e.ComparatorName != "" {
			if want != "" && e.ComparatorName != want {
				return nil, nil, errors.Errorf("manifest: comparator mismatch: file has %q, want %q", e.ComparatorName, want)
			}
			haveComparator = true
		}
		if e.HasLogNumber {
			vs.LogNumber = e.LogNumber
		}
		if e.HasPrevLogNumber {
			vs.PrevLogNumber = e.PrevLogNumber
		}
		if e.HasNextFileNumber {
			vs.NextFileNumber = e.NextFileNumber
		}
		if e.HasLastSequence {
			vs.LastSequence = e.LastSequence
		}
		for _, c := range e.CompactPointers {
			vs.compactPointer[c.Level] = c.Key
		}
		b.Accumulate(e)
	}
	if reportedErr != nil {
		return nil, nil, reportedErr
	}
	if !haveComparator {
		return nil, nil, errors.New("manifest: no comparator record found")
	}

	v, err := b.Apply(nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, "manifest: apply replayed edits")
	}
	vs.appendVersion(v)
	return vs, v, nil
}
