// Package vfs is the filesystem collaborator required by spec §6: every
// disk touch in kiln goes through this interface so tests can swap in an
// in-memory filesystem instead of touching the real disk, the same seam
// the teacher's segmentmanager.SegmentManager already drew around os.*.
package vfs

import (
	"io"
	"os"
)

// File is the subset of *os.File that kiln needs from a writable or
// readable handle.
type File interface {
	io.ReadWriteCloser
	io.ReaderAt
	io.Seeker
	Sync() error
	Stat() (os.FileInfo, error)
}

// Lock represents an exclusive, process-scoped advisory lock on a file.
// Unlock releases it.
type Lock interface {
	Unlock() error
}

// FS is the filesystem collaborator. Paths are always forward-slash and
// joined with path.Join/filepath.Join by the implementation.
type FS interface {
	// Create truncates-or-creates a file for writing.
	Create(name string) (File, error)
	// Open opens a file for reading.
	Open(name string) (File, error)
	// OpenForAppend opens an existing file positioned for appends.
	OpenForAppend(name string) (File, error)
	Remove(name string) error
	Rename(oldname, newname string) error
	MkdirAll(dir string) error
	List(dir string) ([]string, error)
	Size(name string) (int64, error)
	Exists(name string) bool
	Lock(name string) (Lock, error)
}
