// Package tablecache implements the sharded LRU of open sstable readers
// described in spec §4.G: each entry owns a file handle plus the parsed
// index and filter blocks, so repeated lookups against the same table
// avoid re-opening and re-parsing it.
package tablecache

import (
	"hash/fnv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cockroachdb/errors"
	"github.com/kiln-db/kiln/internal/blockcache"
	"github.com/kiln-db/kiln/internal/dbkey"
	"github.com/kiln-db/kiln/internal/sstable"
	"github.com/kiln-db/kiln/internal/vfs"
)

const numShards = 16

// DefaultCapacity is max_open_files - 10, per spec; callers compute the
// concrete number from their own max_open_files setting and pass it in.
const DefaultCapacity = 990

// TableName formats the on-disk filename for a table file number.
func TableName(fileNumber uint64) string {
	return formatFileName(fileNumber, "sst")
}

func formatFileName(fileNumber uint64, ext string) string {
	digits := make([]byte, 0, 12)
	s := fileNumber
	for i := 0; i < 6 || s > 0; i++ {
		digits = append([]byte{byte('0' + s%10)}, digits...)
		s /= 10
	}
	return string(digits) + "." + ext
}

type entry struct {
	reader *sstable.Reader
	file   vfs.File
}

type shard struct {
	mu  sync.Mutex
	lru *lru.Cache[uint64, *entry]
}

// Cache is a sharded LRU of open table readers, keyed by file number.
type Cache struct {
	fs         vfs.FS
	userCmp    dbkey.Comparator
	policy     sstable.FilterPolicy
	blockCache *blockcache.Cache
	shards     [numShards]*shard
}

// New returns a table cache with the given total entry capacity, opening
// tables found under fs with userCmp/policy and populating blockCache as
// their blocks are read.
func New(fs vfs.FS, userCmp dbkey.Comparator, policy sstable.FilterPolicy, blockCache *blockcache.Cache, capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	perShard := capacity / numShards
	if perShard < 1 {
		perShard = 1
	}
	c := &Cache{fs: fs, userCmp: userCmp, policy: policy, blockCache: blockCache}
	for i := range c.shards {
		i := i
		s := &shard{}
		s.lru, _ = lru.NewWithEvict[uint64, *entry](perShard, func(_ uint64, e *entry) {
			_ = e.file.Close()
		})
		c.shards[i] = s
	}
	return c
}

func (c *Cache) shardFor(fileNumber uint64) *shard {
	h := fnv.New32a()
	var buf [8]byte
	for i := range buf {
		buf[i] = byte(fileNumber >> (8 * i))
	}
	_, _ = h.Write(buf[:])
	return c.shards[h.Sum32()%numShards]
}

// Get returns the reader for fileNumber, opening and parsing the table
// file on a miss.
func (c *Cache) Get(fileNumber uint64) (*sstable.Reader, error) {
	s := c.shardFor(fileNumber)

	s.mu.Lock()
	if e, ok := s.lru.Get(fileNumber); ok {
		s.mu.Unlock()
		return e.reader, nil
	}
	s.mu.Unlock()

	name := TableName(fileNumber)
	size, err := c.fs.Size(name)
	if err != nil {
		return nil, errors.Wrapf(err, "tablecache: stat %s", name)
	}
	f, err := c.fs.Open(name)
	if err != nil {
		return nil, errors.Wrapf(err, "tablecache: open %s", name)
	}
	r, err := sstable.Open(f, size, c.userCmp, c.policy, fileNumber, c.blockCache)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "tablecache: open table %s", name)
	}

	s.mu.Lock()
	s.lru.Add(fileNumber, &entry{reader: r, file: f})
	s.mu.Unlock()
	return r, nil
}

// Evict closes and removes fileNumber's entry, called once a table becomes
// obsolete, and evicts its blocks from the block cache if one is wired in.
func (c *Cache) Evict(fileNumber uint64) {
	s := c.shardFor(fileNumber)
	s.mu.Lock()
	s.lru.Remove(fileNumber)
	s.mu.Unlock()
	if c.blockCache != nil {
		c.blockCache.EvictFile(fileNumber)
	}
}
