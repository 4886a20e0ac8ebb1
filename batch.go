package kiln

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/kiln-db/kiln/internal/binfmt"
	"github.com/kiln-db/kiln/internal/dbkey"
	"github.com/kiln-db/kiln/internal/memtable"
)

// batchHeaderSize is the 8-byte base sequence plus the 4-byte record
// count that precede every batch's records, per spec §4.I.
const batchHeaderSize = 8 + 4

// Batch accumulates Put/Delete operations for atomic application via
// Write: either every operation in it becomes visible, or none does.
// The zero value is a ready-to-use empty batch.
type Batch struct {
	// data holds the on-wire encoding directly: base sequence, count,
	// then records. Only the count (not the base sequence, which the
	// write pipeline assigns at commit time) is meaningful before Write.
	data  []byte
	count uint32
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	b := &Batch{data: make([]byte, batchHeaderSize)}
	return b
}

func (b *Batch) ensureHeader() {
	if b.data == nil {
		b.data = make([]byte, batchHeaderSize)
	}
}

// Put appends a put(key, value) operation.
func (b *Batch) Put(key, value []byte) {
	b.ensureHeader()
	b.data = append(b.data, byte(dbkey.TypeValue))
	b.data = binfmt.PutLengthPrefixedSlice(b.data, key)
	b.data = binfmt.PutLengthPrefixedSlice(b.data, value)
	b.count++
	b.putCount()
}

// Delete appends a delete(key) operation.
func (b *Batch) Delete(key []byte) {
	b.ensureHeader()
	b.data = append(b.data, byte(dbkey.TypeDeletion))
	b.data = binfmt.PutLengthPrefixedSlice(b.data, key)
	b.count++
	b.putCount()
}

func (b *Batch) putCount() {
	copy(b.data[8:12], binfmt.PutFixed32(nil, b.count))
}

// Count returns the number of operations queued.
func (b *Batch) Count() uint32 { return b.count }

// Empty reports whether the batch has no operations.
func (b *Batch) Empty() bool { return b.count == 0 }

// ApproximateSize returns the on-wire size of the batch, equal to the
// number of bytes Write will append to the WAL.
func (b *Batch) ApproximateSize() int {
	b.ensureHeader()
	return len(b.data)
}

// setSequence stamps the base sequence number the write pipeline assigned
// this batch at commit time.
func (b *Batch) setSequence(seq uint64) {
	copy(b.data[0:8], binfmt.PutFixed64(nil, seq))
}

func (b *Batch) baseSequence() uint64 {
	return binfmt.Fixed64(b.data[0:8])
}

// encoded returns the full on-wire representation, ready to append to the
// WAL.
func (b *Batch) encoded() []byte {
	b.ensureHeader()
	return b.data
}

// batchRecord is one decoded operation within a batch.
type batchRecord struct {
	typ   dbkey.ValueType
	key   []byte
	value []byte
}

// decodeBatch parses a batch's on-wire form, returning its base sequence
// and operations in order.
func decodeBatch(data []byte) (seq uint64, records []batchRecord, err error) {
	if len(data) < batchHeaderSize {
		return 0, nil, errors.New("kiln: batch shorter than header")
	}
	seq = binfmt.Fixed64(data[0:8])
	count := binfmt.Fixed32(data[8:12])
	rest := data[12:]

	records = make([]batchRecord, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(rest) < 1 {
			return 0, nil, errors.New("kiln: batch truncated before record type")
		}
		typ := dbkey.ValueType(rest[0])
		rest = rest[1:]

		key, tail, derr := binfmt.GetLengthPrefixedSlice(rest)
		if derr != nil {
			return 0, nil, errors.Wrap(derr, "kiln: decode batch key")
		}
		rest = tail

		var value []byte
		if typ == dbkey.TypeValue {
			value, tail, derr = binfmt.GetLengthPrefixedSlice(rest)
			if derr != nil {
				return 0, nil, errors.Wrap(derr, "kiln: decode batch value")
			}
			rest = tail
		}

		records = append(records, batchRecord{typ: typ, key: key, value: value})
	}
	if len(records) != int(count) {
		return 0, nil, errors.New("kiln: batch record count mismatch")
	}
	return seq, records, nil
}

// BatchFromRecord wraps a WAL record's raw bytes into a Batch for
// inspection (see cmd/kilnctl's dump command), deferring the actual
// operation decode to DebugString.
func BatchFromRecord(data []byte) *Batch {
	return &Batch{data: append([]byte(nil), data...)}
}

// RecordBaseSequence returns the base sequence number stamped into a
// WAL record's batch header, the one DebugString ignores in favor of its
// own baseSeq argument unless the caller passes this value back in.
func RecordBaseSequence(data []byte) uint64 {
	return binfmt.Fixed64(data[0:8])
}

// DebugString renders the batch's operations for offline inspection,
// ordered by user key rather than append order: each record assigned
// sequence baseSeq+i (i its position in the batch) as applyBatch would,
// then printed as "Put(key, value)@seq" or "Delete(key)@seq" with no
// separator, sorted ascending by key. An empty batch renders as "".
func (b *Batch) DebugString(baseSeq uint64) string {
	_, records, err := decodeBatch(b.encoded())
	if err != nil {
		return ""
	}

	type entry struct {
		seq uint64
		r   batchRecord
	}
	entries := make([]entry, len(records))
	for i, r := range records {
		entries[i] = entry{seq: baseSeq + uint64(i), r: r}
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].r.key, entries[j].r.key) < 0
	})

	var sb strings.Builder
	for _, e := range entries {
		switch e.r.typ {
		case dbkey.TypeValue:
			fmt.Fprintf(&sb, "Put(%s, %s)@%d", e.r.key, e.r.value, e.seq)
		case dbkey.TypeDeletion:
			fmt.Fprintf(&sb, "Delete(%s)@%d", e.r.key, e.seq)
		}
	}
	return sb.String()
}

// applyBatch applies every record in records to mem, assigning consecutive
// sequence numbers starting at baseSeq, in order, as spec §4.I requires.
func applyBatch(mem *memtable.Memtable, baseSeq uint64, records []batchRecord) {
	for i, r := range records {
		mem.Add(baseSeq+uint64(i), r.typ, r.key, r.value)
	}
}
