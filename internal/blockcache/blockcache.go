// Package blockcache implements the sharded LRU cache of parsed sstable
// data blocks described in spec §4.G: 16 independently-locked shards, each
// backed by github.com/hashicorp/golang-lru/v2, keyed by the pair of
// (file number, block offset) that uniquely names a block across the
// whole database.
package blockcache

import (
	"hash/fnv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const numShards = 16

// DefaultCapacity is the combined byte budget across all shards; it is
// translated into an entry-count capacity per shard by dividing by the
// fixed assumedEntrySize.
const DefaultCapacity = 8 << 20 // 8 MiB

const assumedEntrySize = 4 << 10 // 4 KiB, matches DefaultBlockSize

// Key identifies one cached block.
type Key struct {
	FileNumber  uint64
	BlockOffset uint64
}

// Cache is a sharded, size-bounded LRU of block payloads.
type Cache struct {
	shards [numShards]*shard
}

type shard struct {
	mu  sync.Mutex
	lru *lru.Cache[Key, []byte]
}

// New returns a cache targeting roughly capacityBytes total, split evenly
// across 16 shards.
func New(capacityBytes int) *Cache {
	if capacityBytes <= 0 {
		capacityBytes = DefaultCapacity
	}
	perShardEntries := capacityBytes / assumedEntrySize / numShards
	if perShardEntries < 1 {
		perShardEntries = 1
	}
	c := &Cache{}
	for i := range c.shards {
		l, _ := lru.New[Key, []byte](perShardEntries)
		c.shards[i] = &shard{lru: l}
	}
	return c
}

func (c *Cache) shardFor(k Key) *shard {
	h := fnv.New32a()
	var buf [16]byte
	buf[0] = byte(k.FileNumber)
	buf[1] = byte(k.FileNumber >> 8)
	buf[2] = byte(k.FileNumber >> 16)
	buf[3] = byte(k.FileNumber >> 24)
	buf[4] = byte(k.FileNumber >> 32)
	buf[5] = byte(k.FileNumber >> 40)
	buf[6] = byte(k.FileNumber >> 48)
	buf[7] = byte(k.FileNumber >> 56)
	buf[8] = byte(k.BlockOffset)
	buf[9] = byte(k.BlockOffset >> 8)
	buf[10] = byte(k.BlockOffset >> 16)
	buf[11] = byte(k.BlockOffset >> 24)
	buf[12] = byte(k.BlockOffset >> 32)
	buf[13] = byte(k.BlockOffset >> 40)
	buf[14] = byte(k.BlockOffset >> 48)
	buf[15] = byte(k.BlockOffset >> 56)
	_, _ = h.Write(buf[:])
	return c.shards[h.Sum32()%numShards]
}

// GetOrLoad returns the cached block for (fileNumber, blockOffset),
// calling load and populating the cache on a miss.
func (c *Cache) GetOrLoad(fileNumber, blockOffset uint64, load func() ([]byte, error)) ([]byte, error) {
	key := Key{FileNumber: fileNumber, BlockOffset: blockOffset}
	s := c.shardFor(key)

	s.mu.Lock()
	if v, ok := s.lru.Get(key); ok {
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	v, err := load()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.lru.Add(key, v)
	s.mu.Unlock()
	return v, nil
}

// EvictFile removes every cached block belonging to fileNumber, called when
// a table becomes obsolete and its blocks can never be looked up again.
func (c *Cache) EvictFile(fileNumber uint64) {
	for _, s := range c.shards {
		s.mu.Lock()
		for _, key := range s.lru.Keys() {
			if key.FileNumber == fileNumber {
				s.lru.Remove(key)
			}
		}
		s.mu.Unlock()
	}
}
