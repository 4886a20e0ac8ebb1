package vfs

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/cockroachdb/errors"
)

// Disk implements FS directly against the operating system's filesystem,
// the way the teacher's segmentmanager.DiskSegmentManager talks to os.*
// without an intervening interface.
type Disk struct {
	dir string
}

// NewDisk returns an FS rooted at dir. dir is created lazily by MkdirAll,
// mirroring the teacher's NewDiskSegmentManager behavior of creating the
// directory only once it is known to be missing.
func NewDisk(dir string) *Disk {
	return &Disk{dir: dir}
}

func (d *Disk) path(name string) string {
	return filepath.Join(d.dir, filepath.FromSlash(name))
}

func (d *Disk) Create(name string) (File, error) {
	f, err := os.OpenFile(d.path(name), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "vfs: create %s", name)
	}
	return f, nil
}

func (d *Disk) Open(name string) (File, error) {
	f, err := os.OpenFile(d.path(name), os.O_RDONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "vfs: open %s", name)
	}
	return f, nil
}

func (d *Disk) OpenForAppend(name string) (File, error) {
	f, err := os.OpenFile(d.path(name), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "vfs: open-for-append %s", name)
	}
	if _, err := f.Seek(0, os.SEEK_END); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "vfs: seek-to-end %s", name)
	}
	return f, nil
}

func (d *Disk) Remove(name string) error {
	if err := os.Remove(d.path(name)); err != nil {
		return errors.Wrapf(err, "vfs: remove %s", name)
	}
	return nil
}

func (d *Disk) Rename(oldname, newname string) error {
	if err := os.Rename(d.path(oldname), d.path(newname)); err != nil {
		return errors.Wrapf(err, "vfs: rename %s -> %s", oldname, newname)
	}
	return nil
}

func (d *Disk) MkdirAll(dir string) error {
	if err := os.MkdirAll(d.path(dir), 0o755); err != nil {
		return errors.Wrapf(err, "vfs: mkdir %s", dir)
	}
	return nil
}

func (d *Disk) List(dir string) ([]string, error) {
	entries, err := os.ReadDir(d.path(dir))
	if err != nil {
		return nil, errors.Wrapf(err, "vfs: list %s", dir)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (d *Disk) Size(name string) (int64, error) {
	fi, err := os.Stat(d.path(name))
	if err != nil {
		return 0, errors.Wrapf(err, "vfs: stat %s", name)
	}
	return fi.Size(), nil
}

func (d *Disk) Exists(name string) bool {
	_, err := os.Stat(d.path(name))
	return err == nil
}

type diskLock struct{ f *os.File }

func (l *diskLock) Unlock() error {
	defer l.f.Close()
	return unlockFile(l.f)
}

func (d *Disk) Lock(name string) (Lock, error) {
	if err := d.MkdirAll("."); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(d.path(name), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "vfs: open lock file %s", name)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "vfs: lock %s: database already in use", name)
	}
	return &diskLock{f: f}, nil
}
