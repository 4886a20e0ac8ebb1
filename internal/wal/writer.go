package wal

import (
	"hash/crc32"

	"github.com/cockroachdb/errors"
	"github.com/kiln-db/kiln/internal/vfs"
)

// Writer appends logical records to a single log file, fragmenting across
// physical blocks as needed. A Writer is not safe for concurrent use; the
// write pipeline serializes access to the active log through its leader.
type Writer struct {
	f        vfs.File
	blockOff int // bytes written into the current block
	closed   bool
}

// NewWriter wraps f, an already-positioned file handle (for a brand new log
// this is offset 0; for recovery's log-replay path logs are never appended
// to after replay, so mid-block resume is not a concern kiln needs to
// support).
func NewWriter(f vfs.File) *Writer {
	return &Writer{f: f}
}

// AddRecord writes one logical record, fragmenting it across block
// boundaries as needed, and returns once every fragment has been handed to
// the underlying file (not necessarily fsynced; call Sync for that).
func (w *Writer) AddRecord(data []byte) error {
	if w.closed {
		return errors.New("wal: write to closed writer")
	}

	begin := true
	for {
		leftover := BlockSize - w.blockOff
		if leftover < HeaderSize {
			if leftover > 0 {
				if _, err := w.f.Write(make([]byte, leftover)); err != nil {
					return errors.Wrap(err, "wal: pad block")
				}
			}
			w.blockOff = 0
			leftover = BlockSize
		}

		avail := leftover - HeaderSize
		fragment := data
		var end bool
		if len(fragment) <= avail {
			end = true
		} else {
			fragment = data[:avail]
		}

		var typ recordType
		switch {
		case begin && end:
			typ = recordFull
		case begin:
			typ = recordFirst
		case end:
			typ = recordLast
		default:
			typ = recordMiddle
		}

		if err := w.writePhysicalRecord(typ, fragment); err != nil {
			return err
		}
		data = data[len(fragment):]
		begin = false
		if end {
			return nil
		}
	}
}

func (w *Writer) writePhysicalRecord(typ recordType, payload []byte) error {
	var header [HeaderSize]byte
	crc := crc32.Update(crc32.Update(0, castagnoli, []byte{byte(typ)}), castagnoli, payload)
	masked := maskCRC(crc)
	header[0] = byte(masked)
	header[1] = byte(masked >> 8)
	header[2] = byte(masked >> 16)
	header[3] = byte(masked >> 24)
	header[4] = byte(len(payload))
	header[5] = byte(len(payload) >> 8)
	header[6] = byte(typ)

	if _, err := w.f.Write(header[:]); err != nil {
		return errors.Wrap(err, "wal: write record header")
	}
	if len(payload) > 0 {
		if _, err := w.f.Write(payload); err != nil {
			return errors.Wrap(err, "wal: write record payload")
		}
	}
	w.blockOff += HeaderSize + len(payload)
	return nil
}

// Sync flushes the underlying file to stable storage.
func (w *Writer) Sync() error {
	return errors.Wrap(w.f.Sync(), "wal: sync")
}

// Close releases the underlying file handle. It does not sync.
func (w *Writer) Close() error {
	w.closed = true
	return errors.Wrap(w.f.Close(), "wal: close")
}
