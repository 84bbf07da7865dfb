// ABOUTME: Environment lifecycle: Create/Open/Close, wiring Device+Cache+Freelist+BLOB+ExtKey+WAL+Txn into one backing file
// ABOUTME: Top-level Environment type, split into per-DB Database handles, backed by a physical-undo WAL

package env

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nainya/kvengine/internal/logger"
	"github.com/nainya/kvengine/internal/metrics"
	"github.com/nainya/kvengine/pkg/blob"
	"github.com/nainya/kvengine/pkg/cache"
	"github.com/nainya/kvengine/pkg/device"
	"github.com/nainya/kvengine/pkg/extkey"
	"github.com/nainya/kvengine/pkg/freelist"
	"github.com/nainya/kvengine/pkg/keys"
	"github.com/nainya/kvengine/pkg/page"
	"github.com/nainya/kvengine/pkg/txn"
	"github.com/nainya/kvengine/pkg/wal"
)

// cacheMetricsAdapter bridges internal/metrics's Record*-prefixed method
// names to the bare CacheHit/CacheMiss/CacheEviction names pkg/cache expects,
// so a single *metrics.Metrics can be handed to both.
type cacheMetricsAdapter struct{ m *metrics.Metrics }

func (a cacheMetricsAdapter) CacheHit()      { a.m.RecordCacheHit() }
func (a cacheMetricsAdapter) CacheMiss()     { a.m.RecordCacheMiss() }
func (a cacheMetricsAdapter) CacheEviction() { a.m.RecordCacheEviction() }

// headerRid is the fixed address of the Environment header page.
const headerRid = 0

// Environment owns one backing file: the header page, the freelist, the
// BLOB and extended-key stores shared by every Database, and the
// write-ahead log and transaction manager guarding mutation.
type Environment struct {
	mu sync.Mutex

	// SessionID identifies this particular open of the Environment for log
	// correlation; it has no on-disk meaning.
	SessionID string

	path   string
	cfg    Config
	dev    device.Device
	cache  *cache.Cache
	fl     *freelist.Freelist
	blobs  *blob.Store
	ext    *extkey.Store
	wal    *wal.WAL
	txns   *txn.Manager
	header Header

	databases map[uint16]*Database

	log     *logger.Logger
	metrics *metrics.Metrics
}

// Create initializes a brand-new Environment at path, creating the file if
// needed. An existing file is not refused: it is opened and its header page
// is overwritten.
func Create(path string, cfg Config) (*Environment, error) {
	dev, err := openDevice(path, cfg, device.FlagCreate|device.FlagExclusive)
	if err != nil {
		return nil, err
	}
	dev.SetPagesize(cfg.Pagesize)

	e := &Environment{
		SessionID: uuid.NewString(),
		path:      path,
		cfg:       cfg,
		dev:       dev,
		cache:     cache.New(cfg.CacheSize, false),
		databases: make(map[uint16]*Database),
		txns:      txn.NewManager(),
		metrics:   cfg.Metrics,
	}
	if cfg.Logger != nil {
		e.log = cfg.Logger.Component("env")
	}
	if cfg.Metrics != nil {
		e.cache.SetMetrics(cacheMetricsAdapter{cfg.Metrics})
	}
	e.header = newHeader(uint32(cfg.Pagesize), uint16(cfg.MaxEnvDatabases), cfg.DataAccessMode)

	e.fl = freelist.New(&envIO{e}, cfg.Pagesize, 0)
	e.blobs = blob.New(&envIO{e}, e.fl)
	e.ext = extkey.New(e.blobs)

	if _, err := e.dev.Allocate(int64(cfg.Pagesize)); err != nil {
		return nil, err
	}
	if cfg.InitialDBSize > 0 {
		if _, err := e.dev.Allocate(cfg.InitialDBSize); err != nil {
			return nil, err
		}
	}
	if err := e.writeHeader(); err != nil {
		return nil, err
	}

	e.wal = wal.New(path)
	if err := e.wal.Open(); err != nil {
		return nil, err
	}
	if e.log != nil {
		e.log.Info().Str("path", path).Str("session_id", e.SessionID).Msg("environment created")
	}
	return e, nil
}

// Open attaches to an existing Environment file, acquiring its exclusive
// lock and replaying write-ahead-log recovery before the Environment is
// usable.
func Open(path string, cfg Config) (*Environment, error) {
	dev, err := openDevice(path, cfg, device.FlagExclusive)
	if err != nil {
		return nil, err
	}

	headerBuf, err := dev.ReadPage(headerRid, cfg.Pagesize)
	if err != nil {
		return nil, err
	}
	hdr, err := decodeHeader(headerBuf)
	if err != nil {
		return nil, err
	}
	dev.SetPagesize(int(hdr.Pagesize))

	e := &Environment{
		SessionID: uuid.NewString(),
		path:      path,
		cfg:       cfg,
		dev:       dev,
		cache:     cache.New(cfg.CacheSize, false),
		header:    hdr,
		databases: make(map[uint16]*Database),
		txns:      txn.NewManager(),
		metrics:   cfg.Metrics,
	}
	if cfg.Logger != nil {
		e.log = cfg.Logger.Component("env")
	}
	if cfg.Metrics != nil {
		e.cache.SetMetrics(cacheMetricsAdapter{cfg.Metrics})
	}
	e.fl = freelist.New(&envIO{e}, int(hdr.Pagesize), hdr.FreelistRoot)
	e.blobs = blob.New(&envIO{e}, e.fl)
	e.ext = extkey.New(e.blobs)

	e.wal = wal.New(path)
	if err := e.wal.Open(); err != nil {
		return nil, err
	}
	start := time.Now()
	entriesRead, pagesUndone, err := wal.Recover([]string{e.wal.OtherPath(), e.wal.ActivePath()}, &recoveryWriter{e})
	if e.log != nil {
		e.log.LogRecovery(entriesRead, pagesUndone, time.Since(start), err)
	}
	if e.metrics != nil {
		e.metrics.RecordRecovery(entriesRead, pagesUndone)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func openDevice(path string, cfg Config, flags device.Flags) (device.Device, error) {
	if cfg.ReadOnly {
		flags = flags&^device.FlagCreate | device.FlagReadOnly
	}
	if cfg.CustomDevice == "memory" {
		return device.NewMemoryDevice(), nil
	}
	return device.OpenFile(path, flags, 0o644)
}

// Close flushes dirty pages, writes the header page, closes the log files,
// and closes the device (releasing the file lock). It does not checkpoint.
func (e *Environment) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.flushDirty(); err != nil {
		return err
	}
	if err := e.writeHeader(); err != nil {
		return err
	}
	if e.wal != nil {
		if err := e.wal.Close(); err != nil {
			return err
		}
	}
	err := e.dev.Close()
	if e.log != nil {
		e.log.Info().Str("session_id", e.SessionID).Err(err).Msg("environment closed")
	}
	return err
}

func (e *Environment) writeHeader() error {
	e.header.FreelistRoot = e.fl.Root()
	e.header.Serial++
	buf := make([]byte, e.header.byteSize())
	if buf2len := len(buf); buf2len < int(e.header.Pagesize) {
		buf = append(buf, make([]byte, int(e.header.Pagesize)-buf2len)...)
	}
	e.header.encode(buf)
	return e.dev.WritePage(headerRid, buf)
}

func (e *Environment) flushDirty() error {
	for _, p := range e.cache.Dirty() {
		if err := e.dev.WritePage(p.Rid, p.Buf); err != nil {
			return err
		}
		p.ClearDirty()
		p.BeforeImgLSN = 0
	}
	return e.dev.Flush()
}

// Begin opens the Environment's single cooperative transaction slot.
func (e *Environment) Begin() (*txn.Txn, error) {
	t, err := e.txns.Begin(keys.Default{})
	if err == nil {
		e.fl.ArmTxnHorizon()
		if e.metrics != nil {
			e.metrics.SetActiveTransaction(true)
		}
	}
	return t, err
}

// Commit flushes every page dirtied by t, fsyncs the log with a commit
// marker, and releases the transaction slot.
func (e *Environment) Commit(t *txn.Txn) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.flushDirty(); err != nil {
		return err
	}
	commit := &wal.Entry{LSN: e.wal.NextLSN(), TxnID: t.ID, Type: wal.TxnCommit}
	if err := e.wal.Append(commit); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.RecordWalAppend(len(commit.Encode()))
	}
	if err := e.wal.Fsync(); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.RecordWalFsync()
		e.metrics.SetActiveTransaction(false)
	}
	if e.log != nil {
		e.log.LogDbOperation("commit", 0, 0, nil)
	}
	e.fl.DisarmTxnHorizon()
	return e.txns.End(t, true)
}

// Abort appends a TxnAbort marker and replays the same PageBeforeImage-undo
// machinery crash recovery uses, so the live cache always ends up exactly
// where a crash at this instant would have recovered to.
func (e *Environment) Abort(t *txn.Txn) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	abort := &wal.Entry{LSN: e.wal.NextLSN(), TxnID: t.ID, Type: wal.TxnAbort}
	if err := e.wal.Append(abort); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.RecordWalAppend(len(abort.Encode()))
	}
	if err := e.wal.Fsync(); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.RecordWalFsync()
	}
	start := time.Now()
	entriesRead, pagesUndone, err := wal.Recover([]string{e.wal.OtherPath(), e.wal.ActivePath()}, &recoveryWriter{e})
	if e.log != nil {
		e.log.LogRecovery(entriesRead, pagesUndone, time.Since(start), err)
	}
	if e.metrics != nil {
		e.metrics.RecordRecovery(entriesRead, pagesUndone)
		e.metrics.SetActiveTransaction(false)
	}
	e.fl.DisarmTxnHorizon()
	if err != nil {
		return err
	}
	return e.txns.End(t, false)
}

// Checkpoint flushes all dirty pages then rotates the write-ahead log.
func (e *Environment) Checkpoint() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.flushDirty(); err != nil {
		return err
	}
	err := e.wal.Checkpoint(0)
	if e.log != nil {
		e.log.LogCheckpoint(e.wal.ActivePath(), err)
	}
	if err == nil && e.metrics != nil {
		e.metrics.RecordCheckpoint()
	}
	return err
}

// recoveryWriter adapts Environment to wal.PageWriter, restoring a page's
// before-image both in the cache (if resident) and on the backing device.
type recoveryWriter struct{ e *Environment }

func (w *recoveryWriter) RestorePage(rid uint64, before []byte) error {
	e := w.e
	if p, ok := e.cache.Get(rid); ok {
		copy(p.Buf, before)
		p.ClearDirty()
		p.BeforeImgLSN = 0
	}
	return e.dev.WritePage(rid, before)
}

// maybeLogBeforeImage captures p's current bytes as a WAL before-image the
// first time the active transaction touches p (page.BeforeImgLSN == 0 is
// the per-txn dedup signal; it is reset to 0 whenever a page stops being
// dirty). Called from fetchPage, since that is the one seam every caller
// (B+tree, freelist, BLOB store) passes through before it may mutate a page.
func (e *Environment) maybeLogBeforeImage(p *page.Page) error {
	t := e.txns.Active()
	if t == nil {
		return nil
	}
	if p.BeforeImgLSN != 0 {
		return nil
	}
	entry := wal.NewBeforeImageEntry(e.wal.NextLSN(), t.ID, p.Rid, append([]byte(nil), p.Buf...))
	if err := e.wal.Append(entry); err != nil {
		return err
	}
	p.BeforeImgLSN = entry.LSN
	p.SetDirty(t.ID)
	return nil
}

func (e *Environment) fetchPage(rid uint64) (*page.Page, error) {
	if p, ok := e.cache.Get(rid); ok {
		if err := e.maybeLogBeforeImage(p); err != nil {
			return nil, err
		}
		return p, nil
	}
	buf, err := e.dev.ReadPage(rid, e.dev.Pagesize())
	if err != nil {
		return nil, err
	}
	p := page.Wrap(rid, buf)
	if err := e.cache.Put(p); err != nil {
		return nil, err
	}
	if err := e.maybeLogBeforeImage(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (e *Environment) newPage(typ page.Type) (*page.Page, error) {
	rid, err := e.fl.AllocPage(freelist.Hints{DAM: e.header.DAM})
	if err != nil {
		return nil, err
	}
	p := page.New(rid, e.dev.Pagesize(), typ)
	if t := e.txns.Active(); t != nil {
		p.BeforeImgLSN = 1 // a fresh page has nothing to undo to; never re-logged
		p.SetDirty(t.ID)
	} else {
		p.SetDirty(0)
	}
	if err := e.cache.Put(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (e *Environment) freePage(rid uint64) error {
	e.cache.Remove(rid)
	return e.fl.MarkFree(rid, e.dev.Pagesize(), true)
}

func (e *Environment) writePage(p *page.Page) error {
	if t := e.txns.Active(); t != nil {
		p.SetDirty(t.ID)
	}
	return e.cache.Put(p)
}

func (e *Environment) readRaw(offset uint64, size int) ([]byte, error) {
	return e.dev.Read(int64(offset), size)
}

func (e *Environment) writeRaw(offset uint64, data []byte) error {
	return e.dev.Write(int64(offset), data)
}

func (e *Environment) extendRaw(size int64) (uint64, error) {
	return e.dev.Allocate(size)
}

// envIO is the single concrete type satisfying btree.IO, blob.IO, and
// freelist.IO, all backed by the same cache+device pair.
type envIO struct{ e *Environment }

func (io *envIO) Fetch(rid uint64) (*page.Page, error)         { return io.e.fetchPage(rid) }
func (io *envIO) New(typ page.Type) (*page.Page, error)        { return io.e.newPage(typ) }
func (io *envIO) Free(rid uint64) error                        { return io.e.freePage(rid) }
func (io *envIO) Write(p *page.Page) error                     { return io.e.writePage(p) }
func (io *envIO) FetchPage(rid uint64) (*page.Page, error)     { return io.e.fetchPage(rid) }
func (io *envIO) NewPage(typ page.Type, _ int) (*page.Page, error) { return io.e.newPage(typ) }
func (io *envIO) WritePage(p *page.Page) error                 { return io.e.writePage(p) }
func (io *envIO) ReadRaw(offset uint64, size int) ([]byte, error) { return io.e.readRaw(offset, size) }
func (io *envIO) WriteRaw(offset uint64, data []byte) error    { return io.e.writeRaw(offset, data) }
func (io *envIO) ExtendRaw(size int64) (uint64, error)         { return io.e.extendRaw(size) }
