package manifest

import (
	"github.com/cockroachdb/errors"

	"github.com/kiln-db/kiln/internal/binfmt"
)

// Edit tags, per spec §4.H: each field is a varint32 tag followed by a
// type-specific body. An unknown tag aborts decoding.
const (
	tagComparator     = 1
	tagLogNumber      = 2
	tagPrevLogNumber  = 3
	tagNextFileNumber = 4
	tagLastSequence   = 5
	tagCompactPointer = 6
	tagDeletedFile    = 7
	tagNewFile        = 8
)

// ErrUnknownTag is wrapped with the offending tag value when Decode
// encounters a field it does not recognize.
var ErrUnknownTag = errors.New("manifest: unknown version-edit tag")

// DeletedFileEntry names one file removed from a level by an edit.
type DeletedFileEntry struct {
	Level  int
	Number uint64
}

// NewFileEntry names one file added to a level by an edit.
type NewFileEntry struct {
	Level int
	Meta  *FileMetadata
}

// CompactPointerEntry records where the next size-triggered compaction at
// Level should resume scanning.
type CompactPointerEntry struct {
	Level int
	Key   []byte // internal key
}

// Edit is one unit of change to a version: a snapshot of certain version-set
// fields plus sets of file additions and deletions. The first edit written
// to a fresh manifest carries ComparatorName and NextFileNumber and acts as
// a full snapshot; later edits are incremental.
type Edit struct {
	ComparatorName  string
	LogNumber       uint64
	HasLogNumber    bool
	PrevLogNumber   uint64
	HasPrevLogNumber bool
	NextFileNumber  uint64
	HasNextFileNumber bool
	LastSequence    uint64
	HasLastSequence bool

	CompactPointers []CompactPointerEntry
	DeletedFiles    []DeletedFileEntry
	NewFiles        []NewFileEntry
}

// Encode serializes e per the tagged field format.
func (e *Edit) Encode() []byte {
	var buf []byte
	if e.ComparatorName != "" {
		buf = binfmt.PutVarint32(buf, tagComparator)
		buf = binfmt.PutLengthPrefixedSlice(buf, []byte(e.ComparatorName))
	}
	if e.HasLogNumber {
		buf = binfmt.PutVarint32(buf, tagLogNumber)
		buf = binfmt.PutVarint64(buf, e.LogNumber)
	}
	if e.HasPrevLogNumber {
		buf = binfmt.PutVarint32(buf, tagPrevLogNumber)
		buf = binfmt.PutVarint64(buf, e.PrevLogNumber)
	}
	if e.HasNextFileNumber {
		buf = binfmt.PutVarint32(buf, tagNextFileNumber)
		buf = binfmt.PutVarint64(buf, e.NextFileNumber)
	}
	if e.HasLastSequence {
		buf = binfmt.PutVarint32(buf, tagLastSequence)
		buf = binfmt.PutVarint64(buf, e.LastSequence)
	}
	for _, c := range e.CompactPointers {
		buf = binfmt.PutVarint32(buf, tagCompactPointer)
		buf = binfmt.PutVarint32(buf, uint32(c.Level))
		buf = binfmt.PutLengthPrefixedSlice(buf, c.Key)
	}
	for _, d := range e.DeletedFiles {
		buf = binfmt.PutVarint32(buf, tagDeletedFile)
		buf = binfmt.PutVarint32(buf, uint32(d.Level))
		buf = binfmt.PutVarint64(buf, d.Number)
	}
	for _, n := range e.NewFiles {
		buf = binfmt.PutVarint32(buf, tagNewFile)
		buf = binfmt.PutVarint32(buf, uint32(n.Level))
		buf = binfmt.PutVarint64(buf, n.Meta.Number)
		buf = binfmt.PutVarint64(buf, n.Meta.Size)
		buf = binfmt.PutLengthPrefixedSlice(buf, n.Meta.Smallest)
		buf = binfmt.PutLengthPrefixedSlice(buf, n.Meta.Largest)
	}
	return buf
}

// Decode parses an edit from its encoded form.
func Decode(b []byte) (*Edit, error) {
	e := &Edit{}
	for len(b) > 0 {
		tag, n := binfmt.Varint32(b)
		if n <= 0 {
			return nil, errors.Wrap(binfmt.ErrShortBuffer, "manifest: decoding tag")
		}
		b = b[n:]

		switch tag {
		case tagComparator:
			s, rest, err := binfmt.GetLengthPrefixedSlice(b)
			if err != nil {
				return nil, err
			}
			e.ComparatorName = string(s)
			b = rest

		case tagLogNumber:
			v, n := binfmt.Varint64(b)
			if n <= 0 {
				return nil, errors.Wrap(binfmt.ErrShortBuffer, "manifest: decoding log number")
			}
			e.LogNumber, e.HasLogNumber = v, true
			b = b[n:]

		case tagPrevLogNumber:
			v, n := binfmt.Varint64(b)
			if n <= 0 {
				return nil, errors.Wrap(binfmt.ErrShortBuffer, "manifest: decoding prev log number")
			}
			e.PrevLogNumber, e.HasPrevLogNumber = v, true
			b = b[n:]

		case tagNextFileNumber:
			v, n := binfmt.Varint64(b)
			if n <= 0 {
				return nil, errors.Wrap(binfmt.ErrShortBuffer, "manifest: decoding next file number")
			}
			e.NextFileNumber, e.HasNextFileNumber = v, true
			b = b[n:]

		case tagLastSequence:
			v, n := binfmt.Varint64(b)
			if n <= 0 {
				return nil, errors.Wrap(binfmt.ErrShortBuffer, "manifest: decoding last sequence")
			}
			e.LastSequence, e.HasLastSequence = v, true
			b = b[n:]

		case tagCompactPointer:
			level, n := binfmt.Varint32(b)
			if n <= 0 {
				return nil, errors.Wrap(binfmt.ErrShortBuffer, "manifest: decoding compact-pointer level")
			}
			b = b[n:]
			key, rest, err := binfmt.GetLengthPrefixedSlice(b)
			if err != nil {
				return nil, err
			}
			e.CompactPointers = append(e.CompactPointers, CompactPointerEntry{
				Level: int(level), Key: append([]byte(nil), key...),
			})
			b = rest

		case tagDeletedFile:
			level, n := binfmt.Varint32(b)
			if n <= 0 {
				return nil, errors.Wrap(binfmt.ErrShortBuffer, "manifest: decoding deleted-file level")
			}
			b = b[n:]
			number, n := binfmt.Varint64(b)
			if n <= 0 {
				return nil, errors.Wrap(binfmt.ErrShortBuffer, "manifest: decoding deleted-file number")
			}
			b = b[n:]
			e.DeletedFiles = append(e.DeletedFiles, DeletedFileEntry{Level: int(level), Number: number})

		case tagNewFile:
			level, n := binfmt.Varint32(b)
			if n <= 0 {
				return nil, errors.Wrap(binfmt.ErrShortBuffer, "manifest: decoding new-file level")
			}
			b = b[n:]
			number, n := binfmt.Varint64(b)
			if n <= 0 {
				return nil, errors.Wrap(binfmt.ErrShortBuffer, "manifest: decoding new-file number")
			}
			b = b[n:]
			size, n := binfmt.Varint64(b)
			if n <= 0 {
				return nil, errors.Wrap(binfmt.ErrShortBuffer, "manifest: decoding new-file size")
			}
			b = b[n:]
			smallest, rest, err := binfmt.GetLengthPrefixedSlice(b)
			if err != nil {
				return nil, err
			}
			b = rest
			largest, rest, err := binfmt.GetLengthPrefixedSlice(b)
			if err != nil {
				return nil, err
			}
			b = rest
			meta := NewFileMetadata(number, size, append([]byte(nil), smallest...), append([]byte(nil), largest...))
			e.NewFiles = append(e.NewFiles, NewFileEntry{Level: int(level), Meta: meta})

		default:
			return nil, errors.Wrapf(ErrUnknownTag, "tag %d", tag)
		}
	}
	return e, nil
}
