// Package wal implements the write-ahead log: an append-only, block-framed
// byte stream that makes every write durable before it is visible in the
// memtable. The framing follows the teacher's single-record checksum trick
// generalized to an append-only stream of arbitrarily sized logical records
// split across fixed-size physical blocks.
package wal

import (
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// LogName formats a write-ahead log file's name for file number n.
func LogName(n uint64) string {
	return fmt.Sprintf("%06d.log", n)
}

// ParseLogNumber extracts the numeric file number from a log file name, or
// ok=false if name does not have the ".log" extension LogName produces.
func ParseLogNumber(name string) (n uint64, ok bool) {
	const suffix = ".log"
	if !strings.HasSuffix(name, suffix) {
		return 0, false
	}
	v, err := strconv.ParseUint(strings.TrimSuffix(name, suffix), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// BlockSize is the size of a physical block. Every block boundary starts a
// fresh record header; no header is ever split across blocks.
const BlockSize = 32 * 1024

// HeaderSize is the width of a physical record's header: 4-byte masked
// CRC32C, 2-byte little-endian payload length, 1-byte record type.
const HeaderSize = 7

// recordType tags a physical record's role in reassembling a logical record.
type recordType byte

const (
	// recordZero never appears on the wire as a written type; a zero byte
	// read where a type is expected means the rest of the block is
	// unwritten padding.
	recordZero   recordType = 0
	recordFull   recordType = 1
	recordFirst  recordType = 2
	recordMiddle recordType = 3
	recordLast   recordType = 4
)

// castagnoli is the CRC32C table used throughout kiln: the write-ahead log
// and every sstable block, filter, and footer checksum.
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// maskDelta is added after right-rotating a raw CRC by 15 bits, so that a
// raw CRC embedded in an outer stream does not recursively checksum to
// itself.
const maskDelta = 0xa282ead8

func maskCRC(crc uint32) uint32 {
	return (crc>>15 | crc<<17) + maskDelta
}

func unmaskCRC(masked uint32) uint32 {
	rot := masked - maskDelta
	return rot<<15 | rot>>17
}

// ErrCorrupt is wrapped with a byte count and reason and delivered to a
// Reporter; it is never returned directly from Reader.Next in non-paranoid
// mode.
var ErrCorrupt = errors.New("wal: corrupt record")

// Reporter receives notice of a skipped, corrupt stretch of the log. bytes
// is the approximate length dropped, reason is a short description.
type Reporter func(bytes int, reason error)
