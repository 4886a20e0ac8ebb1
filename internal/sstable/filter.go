package sstable

import (
	"bytes"
	"math"

	"github.com/bits-and-blooms/bloom/v3"
)

// FilterPolicy builds and probes the per-range filters stored in a table's
// filter block. The default policy wraps a Bloom filter sized for a
// configured bits-per-key budget.
type FilterPolicy interface {
	Name() string
	CreateFilter(keys [][]byte) []byte
	KeyMayMatch(key, filter []byte) bool
}

// BloomPolicy is the default FilterPolicy: a classic Bloom filter with
// k = max(1, round(bitsPerKey * ln2)) hash functions, per spec.
type BloomPolicy struct {
	bitsPerKey int
}

// NewBloomPolicy returns a policy targeting bitsPerKey bits of filter
// storage per key added.
func NewBloomPolicy(bitsPerKey int) *BloomPolicy {
	if bitsPerKey <= 0 {
		bitsPerKey = 10
	}
	return &BloomPolicy{bitsPerKey: bitsPerKey}
}

func (p *BloomPolicy) Name() string { return "leveldb.BuiltinBloomFilter2" }

func (p *BloomPolicy) numHashes() uint {
	k := int(math.Round(float64(p.bitsPerKey) * math.Ln2))
	if k < 1 {
		k = 1
	}
	return uint(k)
}

// CreateFilter builds a serialized Bloom filter covering keys.
func (p *BloomPolicy) CreateFilter(keys [][]byte) []byte {
	bits := uint(len(keys) * p.bitsPerKey)
	if bits < 64 {
		bits = 64
	}
	f := bloom.New(bits, p.numHashes())
	for _, k := range keys {
		f.Add(k)
	}
	var buf bytes.Buffer
	_, _ = f.WriteTo(&buf)
	return buf.Bytes()
}

// KeyMayMatch reports whether key might be present in filter. False
// negatives are impossible; false positives are expected at the configured
// rate.
func (p *BloomPolicy) KeyMayMatch(key, filter []byte) bool {
	if len(filter) == 0 {
		return false
	}
	f := &bloom.BloomFilter{}
	if _, err := f.ReadFrom(bytes.NewReader(filter)); err != nil {
		return true // can't parse: fail open rather than miss a real key
	}
	return f.Test(key)
}

// filterBlockBuilder groups data-block start offsets into 2^baseLog byte
// ranges and builds one filter per non-empty range, per spec §4.F.
type filterBlockBuilder struct {
	policy  FilterPolicy
	baseLog uint

	keys         [][]byte
	filterOffset []uint32 // byte offset into result, one per covered range
	result       []byte
	lastRange    int
}

func newFilterBlockBuilder(policy FilterPolicy) *filterBlockBuilder {
	return &filterBlockBuilder{policy: policy, baseLog: DefaultFilterBaseLog, lastRange: 0}
}

// startBlock is called whenever a new data block begins, with its starting
// file offset, so ranges not covering any block boundary stay empty.
func (b *filterBlockBuilder) startBlock(blockOffset uint64) {
	r := int(blockOffset >> b.baseLog)
	for r > b.lastRange {
		b.generateFilter()
		b.lastRange++
	}
}

func (b *filterBlockBuilder) addKey(key []byte) {
	b.keys = append(b.keys, append([]byte(nil), key...))
}

func (b *filterBlockBuilder) generateFilter() {
	if len(b.keys) == 0 {
		b.filterOffset = append(b.filterOffset, uint32(len(b.result)))
		return
	}
	filter := b.policy.CreateFilter(b.keys)
	b.filterOffset = append(b.filterOffset, uint32(len(b.result)))
	b.result = append(b.result, filter...)
	b.keys = b.keys[:0]
}

// finish serializes the filter block: concatenated filters, the offset
// array, the offset-array start, and the base log.
func (b *filterBlockBuilder) finish() []byte {
	if len(b.keys) > 0 || len(b.filterOffset) == 0 {
		b.generateFilter()
	}
	arrayStart := len(b.result)
	out := append([]byte(nil), b.result...)
	for _, off := range b.filterOffset {
		out = appendFixed32(out, off)
	}
	out = appendFixed32(out, uint32(arrayStart))
	out = append(out, byte(b.baseLog))
	return out
}

// filterBlockReader parses a filter block and answers KeyMayMatch queries
// for the range containing a given data-block offset.
type filterBlockReader struct {
	policy  FilterPolicy
	data    []byte // concatenated filters
	offsets []byte // the uint32 offset array, raw
	numOffs int
	baseLog uint
}

func newFilterBlockReader(policy FilterPolicy, raw []byte) *filterBlockReader {
	if len(raw) < 5 {
		return &filterBlockReader{policy: policy}
	}
	baseLog := uint(raw[len(raw)-1])
	arrayStart := fixed32(raw[len(raw)-5:])
	if int(arrayStart) > len(raw)-5 {
		return &filterBlockReader{policy: policy}
	}
	offsets := raw[arrayStart : len(raw)-5]
	return &filterBlockReader{
		policy:  policy,
		data:    raw[:arrayStart],
		offsets: offsets,
		numOffs: len(offsets) / 4,
		baseLog: baseLog,
	}
}

// mayContain reports whether key might be present in the data block
// starting at blockOffset.
func (r *filterBlockReader) mayContain(blockOffset uint64, key []byte) bool {
	if r.numOffs == 0 {
		return true
	}
	index := int(blockOffset >> r.baseLog)
	if index >= r.numOffs {
		return true
	}
	start := fixed32(r.offsets[index*4:])
	var limit uint32
	if index+1 < r.numOffs {
		limit = fixed32(r.offsets[(index+1)*4:])
	} else {
		limit = uint32(len(r.data))
	}
	if start > limit || int(limit) > len(r.data) {
		return true
	}
	if start == limit {
		return false // empty filter: this range added no blocks
	}
	return r.policy.KeyMayMatch(key, r.data[start:limit])
}
