package vfs

import (
	"io"
	"os"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// Mem is an in-memory FS used by tests that want filesystem semantics
// without touching disk.
type Mem struct {
	mu    sync.Mutex
	files map[string]*memFileData
	locks map[string]bool
}

type memFileData struct {
	mu   sync.Mutex
	data []byte
}

// NewMem returns an empty in-memory filesystem.
func NewMem() *Mem {
	return &Mem{files: map[string]*memFileData{}, locks: map[string]bool{}}
}

func clean(name string) string { return path.Clean("/" + name) }

func (m *Mem) getOrCreate(name string) *memFileData {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = clean(name)
	fd, ok := m.files[name]
	if !ok {
		fd = &memFileData{}
		m.files[name] = fd
	}
	return fd
}

func (m *Mem) Create(name string) (File, error) {
	name = clean(name)
	m.mu.Lock()
	m.files[name] = &memFileData{}
	m.mu.Unlock()
	return &memFile{fs: m, name: name}, nil
}

func (m *Mem) Open(name string) (File, error) {
	name = clean(name)
	m.mu.Lock()
	_, ok := m.files[name]
	m.mu.Unlock()
	if !ok {
		return nil, errors.Wrapf(os.ErrNotExist, "vfs(mem): open %s", name)
	}
	return &memFile{fs: m, name: name}, nil
}

func (m *Mem) OpenForAppend(name string) (File, error) {
	name = clean(name)
	m.mu.Lock()
	if _, ok := m.files[name]; !ok {
		m.files[name] = &memFileData{}
	}
	m.mu.Unlock()
	f := &memFile{fs: m, name: name}
	fd := m.getOrCreate(name)
	fd.mu.Lock()
	f.pos = int64(len(fd.data))
	fd.mu.Unlock()
	return f, nil
}

func (m *Mem) Remove(name string) error {
	name = clean(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[name]; !ok {
		return errors.Wrapf(os.ErrNotExist, "vfs(mem): remove %s", name)
	}
	delete(m.files, name)
	return nil
}

func (m *Mem) Rename(oldname, newname string) error {
	oldname, newname = clean(oldname), clean(newname)
	m.mu.Lock()
	defer m.mu.Unlock()
	fd, ok := m.files[oldname]
	if !ok {
		return errors.Wrapf(os.ErrNotExist, "vfs(mem): rename %s", oldname)
	}
	m.files[newname] = fd
	delete(m.files, oldname)
	return nil
}

func (m *Mem) MkdirAll(dir string) error { return nil }

func (m *Mem) List(dir string) ([]string, error) {
	dir = clean(dir)
	if dir != "/" {
		dir += "/"
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for name := range m.files {
		rest, ok := cutPrefix(name, dir)
		if !ok || rest == "" {
			continue
		}
		names = append(names, rest)
	}
	sort.Strings(names)
	return names, nil
}

func cutPrefix(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || s[:len(prefix)] != prefix {
		return "", false
	}
	return s[len(prefix):], true
}

func (m *Mem) Size(name string) (int64, error) {
	name = clean(name)
	m.mu.Lock()
	fd, ok := m.files[name]
	m.mu.Unlock()
	if !ok {
		return 0, errors.Wrapf(os.ErrNotExist, "vfs(mem): stat %s", name)
	}
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return int64(len(fd.data)), nil
}

func (m *Mem) Exists(name string) bool {
	name = clean(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[name]
	return ok
}

type memLock struct {
	fs   *Mem
	name string
}

func (l *memLock) Unlock() error {
	l.fs.mu.Lock()
	defer l.fs.mu.Unlock()
	delete(l.fs.locks, l.name)
	return nil
}

func (m *Mem) Lock(name string) (Lock, error) {
	name = clean(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[name] {
		return nil, errors.Newf("vfs(mem): %s already locked", name)
	}
	m.locks[name] = true
	return &memLock{fs: m, name: name}, nil
}

// memFile implements File over a memFileData's byte buffer.
type memFile struct {
	fs   *Mem
	name string
	pos  int64
}

func (f *memFile) data() *memFileData { return f.fs.getOrCreate(f.name) }

func (f *memFile) Read(p []byte) (int, error) {
	fd := f.data()
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if f.pos >= int64(len(fd.data)) {
		return 0, errEOF
	}
	n := copy(p, fd.data[f.pos:])
	f.pos += int64(n)
	return n, nil
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	fd := f.data()
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if off >= int64(len(fd.data)) {
		return 0, errEOF
	}
	n := copy(p, fd.data[off:])
	if n < len(p) {
		return n, errEOF
	}
	return n, nil
}

func (f *memFile) Write(p []byte) (int, error) {
	fd := f.data()
	fd.mu.Lock()
	defer fd.mu.Unlock()
	need := f.pos + int64(len(p))
	if need > int64(len(fd.data)) {
		grown := make([]byte, need)
		copy(grown, fd.data)
		fd.data = grown
	}
	copy(fd.data[f.pos:], p)
	f.pos += int64(len(p))
	return len(p), nil
}

func (f *memFile) Seek(offset int64, whence int) (int64, error) {
	fd := f.data()
	fd.mu.Lock()
	size := int64(len(fd.data))
	fd.mu.Unlock()
	switch whence {
	case 0:
		f.pos = offset
	case 1:
		f.pos += offset
	case 2:
		f.pos = size + offset
	}
	return f.pos, nil
}

func (f *memFile) Close() error { return nil }
func (f *memFile) Sync() error  { return nil }

func (f *memFile) Stat() (os.FileInfo, error) {
	fd := f.data()
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return memFileInfo{name: path.Base(f.name), size: int64(len(fd.data))}, nil
}

type memFileInfo struct {
	name string
	size int64
}

func (fi memFileInfo) Name() string       { return fi.name }
func (fi memFileInfo) Size() int64        { return fi.size }
func (fi memFileInfo) Mode() os.FileMode  { return 0o644 }
func (fi memFileInfo) ModTime() time.Time { return time.Time{} }
func (fi memFileInfo) IsDir() bool        { return false }
func (fi memFileInfo) Sys() any           { return nil }

var errEOF = io.EOF
