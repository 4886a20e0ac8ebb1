package wal

import (
	"hash/crc32"
	"io"

	"github.com/cockroachdb/errors"
)

// Reader reassembles logical records from a stream of physical blocks. It
// is forgiving by default: any corruption invokes the Reporter and resumes
// at the next block; set Paranoid to fail hard instead, per the recovery
// path's paranoid-checks mode.
type Reader struct {
	r        io.Reader
	reporter Reporter
	Paranoid bool

	buf    [BlockSize]byte
	bufLen int
	bufPos int
	eof    bool

	// resyncing is true until the first FIRST/FULL record is seen; it
	// drops any MIDDLE/LAST fragments encountered first, matching the
	// semantics needed when starting mid-stream at a nonzero offset.
	resyncing bool
	scratch   []byte
}

// NewReader wraps r. initialOffset, when nonzero, causes the reader to
// resync onto the next FIRST/FULL record rather than emitting a truncated
// fragment.
func NewReader(r io.Reader, reporter Reporter, initialOffset int64) *Reader {
	return &Reader{
		r:         r,
		reporter:  reporter,
		resyncing: initialOffset > 0,
	}
}

func (r *Reader) report(n int, err error) {
	if r.reporter != nil {
		r.reporter(n, err)
	}
}

// fillBuffer reads the next physical block into r.buf.
func (r *Reader) fillBuffer() error {
	n, err := io.ReadFull(r.r, r.buf[:])
	if err == io.ErrUnexpectedEOF {
		// A short final block: still scan transcribed bytes, EOF falls
		// out naturally once bufPos reaches bufLen.
		r.eof = true
		r.bufLen = n
		r.bufPos = 0
		return nil
	}
	if err == io.EOF {
		r.eof = true
		r.bufLen = 0
		r.bufPos = 0
		return io.EOF
	}
	if err != nil {
		return err
	}
	r.bufLen = n
	r.bufPos = 0
	return nil
}

// nextPhysicalRecord returns the next physical record's type and payload,
// or io.EOF when the stream is exhausted.
func (r *Reader) nextPhysicalRecord() (recordType, []byte, error) {
	for {
		if r.bufLen-r.bufPos < HeaderSize {
			if r.eof {
				return recordZero, nil, io.EOF
			}
			if err := r.fillBuffer(); err != nil {
				return recordZero, nil, err
			}
			if r.bufLen-r.bufPos < HeaderSize {
				if r.bufLen-r.bufPos > 0 {
					r.report(r.bufLen-r.bufPos, errors.Wrap(ErrCorrupt, "truncated header at EOF"))
				}
				return recordZero, nil, io.EOF
			}
		}

		header := r.buf[r.bufPos : r.bufPos+HeaderSize]
		masked := uint32(header[0]) | uint32(header[1])<<8 | uint32(header[2])<<16 | uint32(header[3])<<24
		length := int(header[4]) | int(header[5])<<8
		typ := recordType(header[6])

		if typ == recordZero {
			// Padding to end of block: skip straight to the next one.
			r.bufPos = r.bufLen
			continue
		}

		if r.bufPos+HeaderSize+length > r.bufLen {
			if r.Paranoid {
				return recordZero, nil, errors.Wrap(ErrCorrupt, "declared length exceeds block")
			}
			r.report(r.bufLen-r.bufPos, errors.Wrap(ErrCorrupt, "declared length exceeds block"))
			r.bufPos = r.bufLen
			continue
		}

		payload := r.buf[r.bufPos+HeaderSize : r.bufPos+HeaderSize+length]
		r.bufPos += HeaderSize + length

		gotCRC := crc32.Update(crc32.Update(0, castagnoli, []byte{byte(typ)}), castagnoli, payload)
		if unmaskCRC(masked) != gotCRC {
			if r.Paranoid {
				return recordZero, nil, errors.Wrap(ErrCorrupt, "checksum mismatch")
			}
			r.report(HeaderSize+length, errors.Wrap(ErrCorrupt, "checksum mismatch"))
			continue
		}

		return typ, payload, nil
	}
}

// Next returns the next logical record, or io.EOF once the stream is
// exhausted. In non-paranoid mode, corrupt stretches are skipped and
// reported via the Reporter rather than failing the call; in paranoid
// mode the first corruption is returned as an error.
func (r *Reader) Next() ([]byte, error) {
	r.scratch = r.scratch[:0]
	for {
		typ, payload, err := r.nextPhysicalRecord()
		if err == io.EOF {
			// Any pending FIRST/MIDDLE fragments are writer-crash debris;
			// discard them silently rather than surfacing a short record.
			return nil, io.EOF
		}
		if err != nil {
			if r.Paranoid {
				return nil, err
			}
			r.report(0, err)
			return nil, io.EOF
		}

		switch typ {
		case recordFull:
			if r.resyncing {
				r.resyncing = false
			}
			return append([]byte(nil), payload...), nil
		case recordFirst:
			r.resyncing = false
			r.scratch = append(r.scratch[:0], payload...)
		case recordMiddle:
			if r.resyncing {
				continue
			}
			if len(r.scratch) == 0 {
				if r.Paranoid {
					return nil, errors.Wrap(ErrCorrupt, "middle fragment with no preceding first")
				}
				r.report(len(payload), errors.Wrap(ErrCorrupt, "middle fragment with no preceding first"))
				continue
			}
			r.scratch = append(r.scratch, payload...)
		case recordLast:
			if r.resyncing {
				continue
			}
			if len(r.scratch) == 0 {
				if r.Paranoid {
					return nil, errors.Wrap(ErrCorrupt, "last fragment with no preceding first")
				}
				r.report(len(payload), errors.Wrap(ErrCorrupt, "last fragment with no preceding first"))
				continue
			}
			r.scratch = append(r.scratch, payload...)
			return append([]byte(nil), r.scratch...), nil
		default:
			if r.Paranoid {
				return nil, errors.Wrapf(ErrCorrupt, "unexpected record type %d", typ)
			}
			r.report(len(payload), errors.Wrapf(ErrCorrupt, "unexpected record type %d", typ))
		}
	}
}
