package kiln

import (
	"github.com/kiln-db/kiln/internal/dbkey"
	"github.com/kiln-db/kiln/internal/kilnlog"
	"github.com/kiln-db/kiln/internal/sstable"
	"github.com/kiln-db/kiln/internal/vfs"
)

// Tuning defaults, per spec §4.I/§4.D/§4.F/§4.G.
const (
	DefaultWriteBufferSize = 4 << 20 // 4 MiB
	DefaultMaxOpenFiles    = 1000
	DefaultBlockCacheSize  = 8 << 20 // 8 MiB, matches internal/blockcache.DefaultCapacity
	DefaultBloomBitsPerKey = 10
)

// Options configures a database. The zero value is not usable directly;
// construct one with NewOptions so every field gets a sane default, then
// apply overrides with the With* functions.
type Options struct {
	Comparator dbkey.Comparator

	WriteBufferSize int64
	MaxOpenFiles    int
	BlockCacheSize  int
	TargetFileSize  int64

	// FilterPolicy builds the per-table bloom filter. A nil policy
	// disables filters entirely.
	FilterPolicy sstable.FilterPolicy

	// Compression selects the data block codec; tables never compress
	// index, meta-index, or filter blocks regardless of this setting.
	Compression sstable.Compression

	// ParanoidChecks causes recovery and manifest/WAL replay to fail hard
	// on the first checksum mismatch instead of truncating at the error.
	ParanoidChecks bool

	// ReuseLogs is stored but recovery does not read it: Open always
	// replays every outstanding WAL file into tables and starts a fresh WAL.
	ReuseLogs bool

	// CreateIfMissing and ErrorIfExists gate directory creation on Open,
	// matching the teacher's own os.MkdirAll-on-missing-directory policy.
	CreateIfMissing bool
	ErrorIfExists   bool

	Logger *kilnlog.Logger

	// FS overrides the filesystem collaborator; nil means the real disk,
	// rooted at the directory passed to Open. Tests substitute vfs.NewMem().
	FS vfs.FS
}

// Option mutates an Options value; the pattern matches the teacher's own
// segmentmanager.DiskSegmentManagerOption.
type Option func(*Options)

// NewOptions returns an Options populated with every documented default,
// with opts applied on top in order.
func NewOptions(opts ...Option) *Options {
	o := &Options{
		Comparator:      dbkey.BytewiseComparator,
		WriteBufferSize: DefaultWriteBufferSize,
		MaxOpenFiles:    DefaultMaxOpenFiles,
		BlockCacheSize:  DefaultBlockCacheSize,
		TargetFileSize:  2 << 20,
		FilterPolicy:    sstable.NewBloomPolicy(DefaultBloomBitsPerKey),
		Compression:     sstable.SnappyCompression,
		CreateIfMissing: true,
		Logger:          kilnlog.New(nil, kilnlog.LevelInfo),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithComparator overrides the user-key comparator. All tables and WAL
// records in an existing database must have been written with the same
// comparator; recovery validates this against the comparator name stored
// in the manifest.
func WithComparator(cmp dbkey.Comparator) Option {
	return func(o *Options) { o.Comparator = cmp }
}

// WithWriteBufferSize sets the memtable size threshold that triggers
// rotation to a new memtable and WAL file.
func WithWriteBufferSize(n int64) Option {
	return func(o *Options) { o.WriteBufferSize = n }
}

// WithMaxOpenFiles bounds the table cache's entry count to n-10, per spec.
func WithMaxOpenFiles(n int) Option {
	return func(o *Options) { o.MaxOpenFiles = n }
}

// WithBlockCacheSize sets the combined byte budget of the block cache.
func WithBlockCacheSize(n int) Option {
	return func(o *Options) { o.BlockCacheSize = n }
}

// WithTargetFileSize sets the compaction output file rollover size.
func WithTargetFileSize(n int64) Option {
	return func(o *Options) { o.TargetFileSize = n }
}

// WithFilterPolicy overrides the default bloom filter policy. Pass nil to
// disable filters.
func WithFilterPolicy(p sstable.FilterPolicy) Option {
	return func(o *Options) { o.FilterPolicy = p }
}

// WithCompression overrides the default data-block compression.
func WithCompression(c sstable.Compression) Option {
	return func(o *Options) { o.Compression = c }
}

// WithParanoidChecks enables hard failure on the first checksum mismatch
// encountered during recovery.
func WithParanoidChecks(v bool) Option {
	return func(o *Options) { o.ParanoidChecks = v }
}

// WithReuseLogs sets Options.ReuseLogs. Recovery does not read the
// setting; it always rotates to a fresh WAL file.
func WithReuseLogs(v bool) Option {
	return func(o *Options) { o.ReuseLogs = v }
}

// WithCreateIfMissing controls whether Open creates a missing database
// directory and bootstrap manifest.
func WithCreateIfMissing(v bool) Option {
	return func(o *Options) { o.CreateIfMissing = v }
}

// WithErrorIfExists causes Open to fail if the database directory already
// holds a manifest.
func WithErrorIfExists(v bool) Option {
	return func(o *Options) { o.ErrorIfExists = v }
}

// WithLogger overrides the destination for background-worker and recovery
// diagnostics.
func WithLogger(l *kilnlog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithFS overrides the filesystem collaborator, matching the teacher's own
// seam for swapping in an in-memory filesystem under test.
func WithFS(fs vfs.FS) Option {
	return func(o *Options) { o.FS = fs }
}

// maxOpenTables translates MaxOpenFiles into the table cache's entry
// capacity, reserving headroom for the manifest, WAL, and lock file
// handles, per spec §4.G.
func (o *Options) maxOpenTables() int {
	n := o.MaxOpenFiles - 10
	if n < 1 {
		n = 1
	}
	return n
}
