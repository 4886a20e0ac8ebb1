package kiln

import (
	"io"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/kiln-db/kiln/internal/blockcache"
	"github.com/kiln-db/kiln/internal/compaction"
	"github.com/kiln-db/kiln/internal/dbkey"
	"github.com/kiln-db/kiln/internal/manifest"
	"github.com/kiln-db/kiln/internal/memtable"
	"github.com/kiln-db/kiln/internal/tablecache"
	"github.com/kiln-db/kiln/internal/vfs"
	"github.com/kiln-db/kiln/internal/wal"
)

// Open opens (or, per CreateIfMissing, creates) the database at dirname,
// per spec §4.L: an exclusive lock, then either bootstrap-from-nothing or
// recover from the existing manifest and write-ahead logs.
func Open(dirname string, opts ...Option) (*DB, error) {
	o := NewOptions(opts...)

	fs := o.FS
	if fs == nil {
		fs = vfs.NewDisk(dirname)
	}

	lock, err := fs.Lock("LOCK")
	if err != nil {
		return nil, errors.Wrap(err, "kiln: lock database directory")
	}

	db, err := openLocked(fs, dirname, o, lock)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return db, nil
}

func openLocked(fs vfs.FS, dirname string, o *Options, lock vfs.Lock) (*DB, error) {
	exists := fs.Exists("CURRENT")
	if exists && o.ErrorIfExists {
		return nil, errors.Newf("kiln: database %q already exists", dirname)
	}
	if !exists {
		if !o.CreateIfMissing {
			return nil, errors.Newf("kiln: database %q does not exist", dirname)
		}
		return bootstrap(fs, dirname, o, lock)
	}
	return recover_(fs, dirname, o, lock)
}

// bootstrap creates a brand new, empty database: a fresh manifest holding
// a single snapshot edit, and a fresh WAL.
func bootstrap(fs vfs.FS, dirname string, o *Options, lock vfs.Lock) (*DB, error) {
	icmp := dbkey.InternalComparator(o.Comparator.Compare)
	vs := manifest.NewVersionSet(icmp)

	logNum := vs.NewFileNumber()
	logFile, err := fs.Create(wal.LogName(logNum))
	if err != nil {
		return nil, errors.Wrap(err, "kiln: create initial wal")
	}
	logWriter := wal.NewWriter(logFile)

	vs.LogNumber = logNum
	manifestNum := vs.NewFileNumber()
	snapshot := vs.Snapshot(o.Comparator.Name)
	if _, _, err := vs.LogAndApply(snapshot); err != nil {
		return nil, errors.Wrap(err, "kiln: apply bootstrap edit")
	}

	mw, err := manifest.Create(fs, manifestNum, snapshot)
	if err != nil {
		return nil, errors.Wrap(err, "kiln: create initial manifest")
	}
	if err := manifest.SetCurrent(fs, manifest.ManifestName(manifestNum)); err != nil {
		return nil, errors.Wrap(err, "kiln: publish initial manifest")
	}

	blockCache := blockcache.New(o.BlockCacheSize)
	tableCache := tablecache.New(fs, o.Comparator, o.FilterPolicy, blockCache, o.maxOpenTables())
	engine := compaction.New(fs, o.Comparator, o.FilterPolicy, tableCache)
	engine.TargetFileSize = o.TargetFileSize

	mem := memtable.New(o.Comparator.Compare)

	db := newDB(o, fs, dirname, vs, mw, manifestNum, mem, logNum, logWriter, logFile, lock, tableCache, blockCache, engine)
	db.start()
	return db, nil
}

// recover_ reopens an existing database: replay the manifest into a
// version, replay every WAL file the manifest's log_number doesn't cover
// yet into a memtable (flushing along the way if it grows past the
// write-buffer threshold), flush whatever remains, then commit a single
// fresh-manifest edit recording the result and delete the old manifest and
// the replayed logs.
// (Named recover_ to avoid shadowing the builtin recover.)
func recover_(fs vfs.FS, dirname string, o *Options, lock vfs.Lock) (*DB, error) {
	icmp := dbkey.InternalComparator(o.Comparator.Compare)

	manifestName, err := manifest.ReadCurrent(fs)
	if err != nil {
		return nil, errors.Wrap(err, "kiln: read CURRENT")
	}

	vs, _, err := manifest.Replay(fs, manifestName, icmp, o.Comparator.Name)
	if err != nil {
		return nil, errors.Wrap(err, "kiln: replay manifest")
	}

	blockCache := blockcache.New(o.BlockCacheSize)
	tableCache := tablecache.New(fs, o.Comparator, o.FilterPolicy, blockCache, o.maxOpenTables())
	engine := compaction.New(fs, o.Comparator, o.FilterPolicy, tableCache)
	engine.TargetFileSize = o.TargetFileSize

	logNumbers, err := findLogsToReplay(fs, vs)
	if err != nil {
		return nil, err
	}

	mem := memtable.New(o.Comparator.Compare)
	var maxSeq uint64

	for _, n := range logNumbers {
		seq, err := replayLogInto(fs, wal.LogName(n), mem, o.ParanoidChecks)
		if err != nil {
			return nil, errors.Wrapf(err, "kiln: replay %s", wal.LogName(n))
		}
		if seq > maxSeq {
			maxSeq = seq
		}
		if mem.ApproximateMemoryUsage() >= o.WriteBufferSize {
			if err := flushDuringRecovery(vs, engine, mem); err != nil {
				return nil, err
			}
			mem = memtable.New(o.Comparator.Compare)
		}
	}
	if !mem.Empty() {
		if err := flushDuringRecovery(vs, engine, mem); err != nil {
			return nil, err
		}
		mem = memtable.New(o.Comparator.Compare)
	}
	if maxSeq > vs.LastSequenceNumber() {
		vs.SetLastSequence(maxSeq)
	}

	freshLogNum := vs.NewFileNumber()
	freshLogFile, err := fs.Create(wal.LogName(freshLogNum))
	if err != nil {
		return nil, errors.Wrap(err, "kiln: create post-recovery wal")
	}
	freshLogWriter := wal.NewWriter(freshLogFile)

	vs.LogNumber = freshLogNum
	vs.PrevLogNumber = 0
	freshManifestNum := vs.NewFileNumber()
	snapshot := vs.Snapshot(o.Comparator.Name)
	if _, _, err := vs.LogAndApply(snapshot); err != nil {
		return nil, errors.Wrap(err, "kiln: apply post-recovery edit")
	}

	mw, err := manifest.Create(fs, freshManifestNum, snapshot)
	if err != nil {
		return nil, errors.Wrap(err, "kiln: create post-recovery manifest")
	}
	if err := manifest.SetCurrent(fs, manifest.ManifestName(freshManifestNum)); err != nil {
		return nil, errors.Wrap(err, "kiln: publish post-recovery manifest")
	}

	_ = fs.Remove(manifestName)
	for _, n := range logNumbers {
		_ = fs.Remove(wal.LogName(n))
	}

	db := newDB(o, fs, dirname, vs, mw, freshManifestNum, mem, freshLogNum, freshLogWriter, freshLogFile, lock, tableCache, blockCache, engine)
	db.start()
	return db, nil
}

// findLogsToReplay lists every WAL file number at or after vs.LogNumber,
// plus vs.PrevLogNumber if the manifest still names one, in ascending
// order — the set spec §4.L requires replaying.
func findLogsToReplay(fs vfs.FS, vs *manifest.VersionSet) ([]uint64, error) {
	names, err := fs.List(".")
	if err != nil {
		return nil, errors.Wrap(err, "kiln: list database directory")
	}
	var numbers []uint64
	for _, name := range names {
		n, ok := wal.ParseLogNumber(name)
		if !ok {
			continue
		}
		if n >= vs.LogNumber || (vs.PrevLogNumber != 0 && n == vs.PrevLogNumber) {
			numbers = append(numbers, n)
		}
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	return numbers, nil
}

// replayLogInto reads every batch record in name and applies it to mem,
// returning the largest sequence number seen.
func replayLogInto(fs vfs.FS, name string, mem *memtable.Memtable, paranoid bool) (maxSeq uint64, err error) {
	f, err := fs.Open(name)
	if err != nil {
		return 0, errors.Wrap(err, "kiln: open wal for replay")
	}
	defer f.Close()

	var reportedErr error
	r := wal.NewReader(f, func(n int, reason error) {
		reportedErr = errors.Wrapf(reason, "kiln: corrupt wal record (%d bytes)", n)
	}, 0)
	r.Paranoid = paranoid

	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return maxSeq, err
		}
		seq, records, derr := decodeBatch(rec)
		if derr != nil {
			if paranoid {
				return maxSeq, derr
			}
			continue
		}
		applyBatch(mem, seq, records)
		if last := seq + uint64(len(records)) - 1; last > maxSeq {
			maxSeq = last
		}
	}
	if paranoid && reportedErr != nil {
		return maxSeq, reportedErr
	}
	return maxSeq, nil
}

// flushDuringRecovery writes mem to a new table and folds the resulting
// edit into vs directly; recovery persists the cumulative result as a
// single manifest snapshot at the end rather than appending each
// intermediate edit, so no manifest writer is touched here.
func flushDuringRecovery(vs *manifest.VersionSet, engine *compaction.Engine, mem *memtable.Memtable) error {
	fileNumber := vs.NewFileNumber()
	edit, err := engine.Flush(vs.Current(), mem, fileNumber)
	if err != nil {
		if errors.Is(err, compaction.ErrEmptyFlush) {
			return nil
		}
		return errors.Wrap(err, "kiln: flush during recovery")
	}
	if _, _, err := vs.LogAndApply(edit); err != nil {
		return errors.Wrap(err, "kiln: apply recovery flush edit")
	}
	return nil
}
