package kiln

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/kiln-db/kiln/internal/blockcache"
	"github.com/kiln-db/kiln/internal/compaction"
	"github.com/kiln-db/kiln/internal/dbkey"
	"github.com/kiln-db/kiln/internal/kvstore"
	"github.com/kiln-db/kiln/internal/manifest"
	"github.com/kiln-db/kiln/internal/memtable"
	"github.com/kiln-db/kiln/internal/tablecache"
	"github.com/kiln-db/kiln/internal/vfs"
	"github.com/kiln-db/kiln/internal/wal"
)

// L0SlowdownWritesTrigger and L0StopWritesTrigger are the level-0 file
// counts that respectively ease and hard-stop incoming writes, per
// spec §4.I.
const (
	L0SlowdownWritesTrigger = 8
	L0StopWritesTrigger     = 12
)

// writeRequest is one writer's position in the queue. done/err are set
// by whichever writer became leader and merged this request into its
// group; a writer still waiting sees queue[0] != itself and !done.
type writeRequest struct {
	batch *Batch
	sync  bool

	done bool
	err  error
}

// DB is an open database. The zero value is not usable; construct one
// with Open.
type DB struct {
	opts     *Options
	fs       vfs.FS
	dirname  string
	userCmp  dbkey.Comparator
	icmp     func(a, b []byte) int
	fileLock vfs.Lock

	tableCache       *tablecache.Cache
	blockCache       *blockcache.Cache
	compactionEngine *compaction.Engine
	snapshots        *kvstore.SnapshotList

	mu         sync.Mutex
	writerCond *sync.Cond // wakes queued writers once the front of the queue changes
	memCond    *sync.Cond // wakes writers stalled on L0 pressure or a flush in flight
	workerCond *sync.Cond // wakes the background worker when there is work or a shutdown

	writerQueue []*writeRequest

	versions       *manifest.VersionSet
	manifestWriter *manifest.Writer
	manifestNumber uint64

	mem           *memtable.Memtable
	imm           *memtable.Memtable
	logNumber     uint64
	prevLogNumber uint64 // WAL backing imm, removed once its flush commits
	logWriter     *wal.Writer
	logFile       vfs.File

	pendingSeek    *manifest.Compaction
	pendingManual  []*manualCompactionRequest

	closed     bool
	bgErr      error
	workerDone chan struct{}
}

// newDB assembles a DB from already-opened collaborators; called by the
// recovery and repair paths once a version set, manifest writer, active
// memtable, and WAL are all in hand.
func newDB(
	opts *Options,
	fs vfs.FS,
	dirname string,
	vs *manifest.VersionSet,
	mw *manifest.Writer,
	manifestNumber uint64,
	mem *memtable.Memtable,
	logNumber uint64,
	logWriter *wal.Writer,
	logFile vfs.File,
	fileLock vfs.Lock,
	tc *tablecache.Cache,
	bc *blockcache.Cache,
	engine *compaction.Engine,
) *DB {
	db := &DB{
		opts:             opts,
		fs:               fs,
		dirname:          dirname,
		userCmp:          opts.Comparator,
		icmp:             dbkey.InternalComparator(opts.Comparator.Compare),
		fileLock:         fileLock,
		tableCache:       tc,
		blockCache:       bc,
		compactionEngine: engine,
		snapshots:        kvstore.NewSnapshotList(),
		versions:         vs,
		manifestWriter:   mw,
		manifestNumber:   manifestNumber,
		mem:              mem,
		logNumber:        logNumber,
		logWriter:        logWriter,
		logFile:          logFile,
		workerDone:       make(chan struct{}),
	}
	db.writerCond = sync.NewCond(&db.mu)
	db.memCond = sync.NewCond(&db.mu)
	db.workerCond = sync.NewCond(&db.mu)
	return db
}

// start launches the background compaction/flush worker. Called once,
// after newDB, by the path that opened the database.
func (db *DB) start() {
	go db.backgroundWorker()
}

// Write applies every operation in batch atomically, assigning it fresh
// sequence numbers. If sync is true (or any writer merged into the same
// group requested it), the WAL append is fsynced before Write returns.
func (db *DB) Write(batch *Batch, sync bool) error {
	if batch == nil || batch.Empty() {
		return nil
	}

	req := &writeRequest{batch: batch, sync: sync}

	db.mu.Lock()
	db.writerQueue = append(db.writerQueue, req)
	for !req.done && db.writerQueue[0] != req {
		db.writerCond.Wait()
	}
	if req.done {
		db.mu.Unlock()
		return req.err
	}

	// req is now the leader: front of the queue, not yet completed.
	if db.closed {
		db.dequeueGroup([]*writeRequest{req})
		db.writerCond.Broadcast()
		db.mu.Unlock()
		return errors.New("kiln: db closed")
	}
	if db.bgErr != nil {
		err := db.bgErr
		db.dequeueGroup([]*writeRequest{req})
		db.writerCond.Broadcast()
		db.mu.Unlock()
		return err
	}

	if err := db.prepareForWrite(); err != nil {
		db.dequeueGroup([]*writeRequest{req})
		db.writerCond.Broadcast()
		db.mu.Unlock()
		return err
	}

	group := db.collectWriteGroup(req)
	baseSeq := db.versions.LastSequenceNumber() + 1
	data, count := mergeWriteGroup(group, baseSeq)
	needSync := false
	for _, r := range group {
		needSync = needSync || r.sync
	}

	mem := db.mem
	logWriter := db.logWriter

	db.mu.Unlock()

	writeErr := logWriter.AddRecord(data)
	if writeErr == nil && needSync {
		writeErr = logWriter.Sync()
	}
	if writeErr == nil {
		_, records, derr := decodeBatch(data)
		if derr != nil {
			writeErr = derr
		} else {
			applyBatch(mem, baseSeq, records)
		}
	}

	db.mu.Lock()
	if writeErr == nil {
		db.versions.SetLastSequence(baseSeq + uint64(count) - 1)
	} else {
		// Per spec §7, a failed commit latches the error so every writer
		// merged into this group, and every later one, observes it.
		db.bgErr = writeErr
	}
	db.dequeueGroup(group)
	for _, r := range group {
		if r != req {
			r.err = writeErr
			r.done = true
		}
	}
	db.writerCond.Broadcast()
	db.mu.Unlock()

	return writeErr
}

// dequeueGroup removes group, which must be a prefix of db.writerQueue
// starting at its front, from the queue. Caller holds db.mu.
func (db *DB) dequeueGroup(group []*writeRequest) {
	db.writerQueue = db.writerQueue[len(group):]
}

// collectWriteGroup returns leader plus every directly-following queued
// writer sharing its sync flag, bounded to 1 MiB of combined batch size
// (128 KiB if leader's own batch is under 128 KiB), per spec §4.I step 3.
// Caller holds db.mu.
func (db *DB) collectWriteGroup(leader *writeRequest) []*writeRequest {
	const (
		maxGroupSize    = 1 << 20
		smallGroupSize  = 128 << 10
		smallBatchLimit = 128 << 10
	)
	maxSize := maxGroupSize
	size := leader.batch.ApproximateSize()
	if size < smallBatchLimit {
		maxSize = smallGroupSize
	}

	group := []*writeRequest{leader}
	for i := 1; i < len(db.writerQueue); i++ {
		r := db.writerQueue[i]
		if r.sync != leader.sync {
			break
		}
		next := size + r.batch.ApproximateSize()
		if next > maxSize {
			break
		}
		size = next
		group = append(group, r)
	}
	return group
}

// mergeWriteGroup concatenates every request's batch records into one
// wire-format batch stamped with baseSeq, returning the encoded bytes and
// total operation count.
func mergeWriteGroup(group []*writeRequest, baseSeq uint64) (data []byte, count uint32) {
	for _, r := range group {
		count += r.batch.Count()
	}
	merged := &Batch{data: make([]byte, batchHeaderSize, batchHeaderSize+32)}
	for _, r := range group {
		merged.data = append(merged.data, r.batch.encoded()[batchHeaderSize:]...)
	}
	merged.count = count
	merged.putCount()
	merged.setSequence(baseSeq)
	return merged.data, count
}

// prepareForWrite implements spec §4.I step 1: throttle and, if the
// active memtable is full, rotate to a fresh one. Caller holds db.mu,
// which prepareForWrite may release and reacquire while sleeping or
// waiting.
func (db *DB) prepareForWrite() error {
	if v := db.versions.Current(); v.NumFiles(0) >= L0SlowdownWritesTrigger {
		db.mu.Unlock()
		time.Sleep(time.Millisecond)
		db.mu.Lock()
	}

	for db.versions.Current().NumFiles(0) >= L0StopWritesTrigger {
		db.memCond.Wait()
	}

	for db.mem.ApproximateMemoryUsage() >= db.opts.WriteBufferSize {
		if db.imm != nil {
			// A previous flush is still in flight; there is nowhere to
			// rotate to until it finishes.
			db.memCond.Wait()
			continue
		}
		if err := db.rotateMemtable(); err != nil {
			return err
		}
	}
	return nil
}

// rotateMemtable marks the active memtable immutable, opens a fresh WAL
// file and memtable to receive subsequent writes, and wakes the
// background worker to flush the one just retired. Caller holds db.mu.
func (db *DB) rotateMemtable() error {
	num := db.versions.NewFileNumber()
	f, err := db.fs.Create(wal.LogName(num))
	if err != nil {
		return errors.Wrap(err, "kiln: create wal file")
	}

	oldLogWriter := db.logWriter
	db.imm = db.mem
	db.prevLogNumber = db.logNumber
	db.mem = memtable.New(db.userCmp.Compare)
	db.logWriter = wal.NewWriter(f)
	db.logFile = f
	db.logNumber = num

	if oldLogWriter != nil {
		if err := oldLogWriter.Close(); err != nil {
			return errors.Wrap(err, "kiln: close rotated wal")
		}
	}

	db.workerCond.Signal()
	return nil
}

// commitEdit installs edit as the current version and persists it,
// rolling the manifest over to a fresh snapshot file first if the active
// one has grown past manifest.RollSizeThreshold, then removes any table
// files the edit made obsolete. Caller holds db.mu, per spec §4.H point
// 5: the lock serializes manifest appends.
func (db *DB) commitEdit(edit *manifest.Edit) (*manifest.Version, error) {
	v, obsolete, err := db.versions.LogAndApply(edit)
	if err != nil {
		return nil, errors.Wrap(err, "kiln: apply version edit")
	}

	if db.manifestWriter.Size() >= manifest.RollSizeThreshold {
		if err := db.rollManifest(); err != nil {
			return v, err
		}
	} else if err := db.manifestWriter.Append(edit); err != nil {
		return v, errors.Wrap(err, "kiln: append version edit")
	}

	for _, f := range obsolete {
		db.tableCache.Evict(f.Number)
		_ = db.fs.Remove(tablecache.TableName(f.Number))
	}
	return v, nil
}

// rollManifest publishes a fresh manifest file containing a single
// snapshot edit of the version set's current state, atomically flips
// CURRENT to name it, then closes and removes the old one.
func (db *DB) rollManifest() error {
	snapshot := db.versions.Snapshot(db.userCmp.Name)
	num := db.versions.NewFileNumber()

	w, err := manifest.Create(db.fs, num, snapshot)
	if err != nil {
		return errors.Wrap(err, "kiln: create manifest")
	}
	if err := manifest.SetCurrent(db.fs, manifest.ManifestName(num)); err != nil {
		_ = w.Close()
		_ = db.fs.Remove(manifest.ManifestName(num))
		return errors.Wrap(err, "kiln: set current manifest")
	}

	oldWriter, oldNumber := db.manifestWriter, db.manifestNumber
	db.manifestWriter, db.manifestNumber = w, num

	if oldWriter != nil {
		_ = oldWriter.Close()
		_ = db.fs.Remove(manifest.ManifestName(oldNumber))
	}
	return nil
}

// onSeekCharge is the kvstore.Get / kvstore.DBIterator seek-compaction
// callback: once a file's allowed-seeks budget is exhausted, it becomes a
// compaction candidate unless one is already pending.
func (db *DB) onSeekCharge(file *manifest.FileMetadata, level int, exhausted bool) {
	if !exhausted {
		return
	}
	db.mu.Lock()
	if db.pendingSeek == nil {
		if c, ok := manifest.PickSeekCompaction(db.versions, db.icmp, file, level); ok {
			db.pendingSeek = c
			db.workerCond.Signal()
		}
	}
	db.mu.Unlock()
}

// manualCompactionRequest is one CompactRange caller's unit of work,
// queued for the background worker rather than run on the caller's own
// goroutine so it never races the worker's own compactions over the same
// input files.
type manualCompactionRequest struct {
	c    *manifest.Compaction
	done bool
}

// backgroundWorker is the single compaction/flush worker of spec §4.J. It
// runs for the life of the database, flushing the immutable memtable
// whenever one is pending and otherwise running whatever compaction a
// CompactRange call, a seek-compaction trigger, or
// manifest.PickSizeCompaction has queued up, in that priority order.
func (db *DB) backgroundWorker() {
	db.mu.Lock()
	defer db.mu.Unlock()
	for {
		if db.closed {
			close(db.workerDone)
			return
		}
		if db.imm != nil {
			db.flushImmutable()
			continue
		}
		if req := db.nextManualCompaction(); req != nil {
			db.runCompaction(req.c)
			req.done = true
			db.memCond.Broadcast()
			continue
		}
		if c, ok := db.pickCompaction(); ok {
			db.runCompaction(c)
			continue
		}
		db.workerCond.Wait()
	}
}

func (db *DB) nextManualCompaction() *manualCompactionRequest {
	if len(db.pendingManual) == 0 {
		return nil
	}
	req := db.pendingManual[0]
	db.pendingManual = db.pendingManual[1:]
	return req
}

func (db *DB) pickCompaction() (*manifest.Compaction, bool) {
	if db.pendingSeek != nil {
		c := db.pendingSeek
		db.pendingSeek = nil
		return c, true
	}
	return manifest.PickSizeCompaction(db.versions, db.icmp)
}

// flushImmutable writes db.imm to a new level-0 (or pushed-up) table and
// installs the edit that publishes it, then removes the WAL file it
// superseded. Caller holds db.mu; it is released for the flush I/O.
func (db *DB) flushImmutable() {
	imm := db.imm
	v := db.versions.Current()
	fileNumber := db.versions.NewFileNumber()
	curLogNumber := db.logNumber
	prevLogNumber := db.prevLogNumber

	db.mu.Unlock()
	edit, err := db.compactionEngine.Flush(v, imm, fileNumber)
	db.mu.Lock()

	if err != nil {
		if errors.Is(err, compaction.ErrEmptyFlush) {
			db.imm = nil
			db.prevLogNumber = 0
			db.memCond.Broadcast()
			return
		}
		db.bgErr = err
		db.opts.Logger.Errorf("kiln: flush failed: %v", err)
		return
	}

	edit.LogNumber, edit.HasLogNumber = curLogNumber, true
	edit.PrevLogNumber, edit.HasPrevLogNumber = 0, true

	if _, err := db.commitEdit(edit); err != nil {
		db.bgErr = err
		db.opts.Logger.Errorf("kiln: commit flush edit failed: %v", err)
		return
	}

	db.imm = nil
	db.prevLogNumber = 0
	if prevLogNumber != 0 {
		_ = db.fs.Remove(wal.LogName(prevLogNumber))
	}
	db.memCond.Broadcast()
	db.opts.Logger.Infof("kiln: flushed memtable to table %d", fileNumber)
}

// runCompaction executes c and installs the resulting edit. Caller holds
// db.mu; it is released for the compaction I/O.
func (db *DB) runCompaction(c *manifest.Compaction) {
	v := db.versions.Current()
	smallestSnapshot := db.snapshots.Oldest(db.versions.LastSequenceNumber())

	db.mu.Unlock()
	edit, err := db.compactionEngine.Run(v, c, smallestSnapshot, db.versions.NewFileNumber)
	db.mu.Lock()

	if err != nil {
		db.bgErr = err
		db.opts.Logger.Errorf("kiln: compaction failed: %v", err)
		return
	}
	if _, err := db.commitEdit(edit); err != nil {
		db.bgErr = err
		db.opts.Logger.Errorf("kiln: commit compaction edit failed: %v", err)
		return
	}
	db.memCond.Broadcast()
	db.opts.Logger.Infof("kiln: compacted level %d: %d+%d inputs -> %d outputs",
		c.Level, len(c.Inputs[0]), len(c.Inputs[1]), len(edit.NewFiles))
}

// Close drains outstanding writes, waits for the background worker to
// finish its current unit of work, and releases the database's file
// handles and lock, per spec §5's shutdown description.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.writerCond.Broadcast()
	for len(db.writerQueue) > 0 {
		db.writerCond.Wait()
	}
	db.workerCond.Broadcast()
	db.mu.Unlock()

	<-db.workerDone

	db.mu.Lock()
	defer db.mu.Unlock()

	var err error
	record := func(e error) {
		if e != nil && err == nil {
			err = e
		}
	}
	record(db.logWriter.Close())
	record(db.manifestWriter.Close())
	if db.fileLock != nil {
		record(db.fileLock.Unlock())
	}
	record(db.bgErr)
	return err
}
