// ABOUTME: Database: one named B+tree index within an Environment, plus its DB-index-slot bookkeeping
// ABOUTME: Per-namespace Database wiring over a dense DB-index-slot table

package env

import (
	"github.com/nainya/kvengine/pkg/blob"
	"github.com/nainya/kvengine/pkg/btree"
	"github.com/nainya/kvengine/pkg/keys"
	"github.com/nainya/kvengine/pkg/kverrors"
	"github.com/nainya/kvengine/pkg/txn"
)

// DBConfig are the parameters fixed at CreateDatabase time.
type DBConfig struct {
	MaxKeys          int
	Keysize          int
	RecordNumber     bool // RECNO database: keys are engine-assigned sequence numbers
	EnableDuplicates bool
}

// Database is one open B+tree index plus the op-tree bookkeeping a
// transaction touching it accumulates.
type Database struct {
	env  *Environment
	name uint16
	tree *btree.Tree
}

// CreateDatabase adds a new named index to the Environment and opens it.
func (e *Environment) CreateDatabase(name uint16, cfg DBConfig) (*Database, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if name == 0 {
		return nil, kverrors.New(kverrors.InvalidParameter, "database name 0 is reserved")
	}
	if e.header.findSlot(name) >= 0 {
		return nil, kverrors.New(kverrors.AlreadyInitialized, "database already exists")
	}
	idx := e.header.firstFreeSlot()
	if idx < 0 {
		return nil, kverrors.New(kverrors.LimitsReached, "environment has reached max_env_databases")
	}

	var flags uint32
	if cfg.RecordNumber {
		flags |= uint32(dbFlagRecordNumber)
	}
	if cfg.EnableDuplicates {
		flags |= uint32(dbFlagDuplicates)
	}
	e.header.DBs[idx] = DBIndexSlot{
		DBName:  name,
		MaxKeys: uint16(cfg.MaxKeys),
		Keysize: uint16(cfg.Keysize),
		Flags:   flags,
	}
	if err := e.writeHeader(); err != nil {
		return nil, err
	}
	return e.openDatabaseLocked(name)
}

// OpenDatabase attaches to an already-created named index.
func (e *Environment) OpenDatabase(name uint16) (*Database, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.openDatabaseLocked(name)
}

func (e *Environment) openDatabaseLocked(name uint16) (*Database, error) {
	if db, ok := e.databases[name]; ok {
		return db, nil
	}
	idx := e.header.findSlot(name)
	if idx < 0 {
		return nil, kverrors.New(kverrors.FileNotFound, "no such database")
	}
	slot := e.header.DBs[idx]

	var cmp keys.Comparator = keys.Default{}
	if slot.recordNumber() {
		cmp = keys.Recno{}
	}
	cfg := btree.Config{
		MaxKeys:          int(slot.MaxKeys),
		Keysize:          int(slot.Keysize),
		Comparator:       cmp,
		EnableDuplicates: slot.duplicates(),
		DAM:              e.header.DAM,
		DBID:             name,
	}
	tree := btree.New(&envIO{e}, cfg, e.ext, e.blobs, slot.SelfRid)
	db := &Database{env: e, name: name, tree: tree}
	e.databases[name] = db
	return db, nil
}

// EraseDatabase closes and removes name's slot. The tree's pages are not
// individually freed: this is equivalent to abandoning the whole subtree,
// which a future freelist sweep (or a fresh environment) reclaims.
func (e *Environment) EraseDatabase(name uint16) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.header.findSlot(name)
	if idx < 0 {
		return kverrors.New(kverrors.FileNotFound, "no such database")
	}
	e.header.DBs[idx] = DBIndexSlot{}
	delete(e.databases, name)
	return e.writeHeader()
}

// syncRoot copies the tree's current root rid into its DB index slot in the
// in-memory header (written to disk by the next writeHeader), called after
// any Insert/Delete that may have changed it (root splits, root-height
// shrinks on delete).
func (db *Database) syncRoot() error {
	e := db.env
	idx := e.header.findSlot(db.name)
	if idx < 0 {
		return kverrors.New(kverrors.InternalError, "database slot vanished")
	}
	e.header.DBs[idx].SelfRid = db.tree.Root()
	return nil
}

// Insert stores record under key. If t is non-nil the mutation is recorded
// into the transaction's op-tree in addition to being applied directly to
// the tree: with only one transaction ever active at a time there is no
// concurrent reader to hide uncommitted state from, so direct application
// plus the WAL's physical before-images already give Commit/Abort their
// correctness. The op-tree's job is bookkeeping -- a per-txn audit trail a
// cursor or caller can enumerate -- not isolation.
func (db *Database) Insert(t *txn.Txn, key, record []byte, flag keys.SetFlag) error {
	if idx := db.env.header.findSlot(db.name); idx >= 0 && db.env.header.DBs[idx].recordNumber() {
		return kverrors.New(kverrors.InvalidParameter, "RECNO database assigns its own keys; use InsertRecno")
	}
	if err := db.tree.Insert(key, record, flag); err != nil {
		return err
	}
	if t != nil {
		t.Record(key, txn.Op{Kind: txn.OpInsert, Record: record, Flag: flag})
	}
	return db.syncRoot()
}

// InsertRecno inserts record under the database's next auto-assigned
// sequence number, persisting the advanced counter into the DB index slot.
func (db *Database) InsertRecno(t *txn.Txn, record []byte, flag keys.SetFlag) (uint64, error) {
	e := db.env
	idx := e.header.findSlot(db.name)
	if idx < 0 {
		return 0, kverrors.New(kverrors.InternalError, "database slot vanished")
	}
	next := e.header.DBs[idx].Recno + 1
	assigned, err := db.tree.InsertRecno(next, record, flag)
	if err != nil {
		return 0, err
	}
	e.header.DBs[idx].Recno = assigned
	if t != nil {
		t.Record(keys.EncodeRecno(assigned), txn.Op{Kind: txn.OpInsert, Record: record, Flag: flag})
	}
	return assigned, db.syncRoot()
}

// Overwrite replaces key's stored record in place, merging record into
// [partial.Offset, partial.Offset+partial.Size) of the existing bytes when
// partial is non-nil instead of replacing them outright. Unlike Insert, key
// must already exist.
func (db *Database) Overwrite(t *txn.Txn, key, record []byte, partial *blob.PartialRange) error {
	if err := db.tree.Overwrite(key, record, partial); err != nil {
		return err
	}
	if t != nil {
		t.Record(key, txn.Op{Kind: txn.OpInsert, Record: record, Flag: keys.SetOverwrite})
	}
	return db.syncRoot()
}

// Find looks up key (or its approximate match per flag).
func (db *Database) Find(key []byte, flag btree.FindFlag) ([]byte, keys.Record, error) {
	return db.tree.Find(key, flag)
}

// Get looks up key and resolves its record to the underlying value bytes
// (or a partial window of them), following the BLOB store's tiny/small/
// out-of-line representation transparently.
func (db *Database) Get(key []byte, partial *blob.PartialRange) ([]byte, error) {
	_, rec, err := db.tree.Find(key, btree.FindExact)
	if err != nil {
		return nil, err
	}
	return db.env.blobs.Read(rec.BlobHandle(), partial)
}

// Erase deletes key (or one of its duplicates, by dupeID).
func (db *Database) Erase(t *txn.Txn, key []byte, dupeID int, flag keys.EraseFlag) error {
	if err := db.tree.Delete(key, dupeID, flag); err != nil {
		return err
	}
	if t != nil {
		t.Record(key, txn.Op{Kind: txn.OpErase, DupeID: dupeID})
	}
	return db.syncRoot()
}

// NewCursor opens a cursor over this database's tree.
func (db *Database) NewCursor() *btree.Cursor {
	return btree.NewCursor(db.tree)
}

// CheckIntegrity validates the tree's structural invariants.
func (db *Database) CheckIntegrity() error {
	return db.tree.CheckIntegrity()
}

// Enumerate walks every key/record in order.
func (db *Database) Enumerate(cb btree.EnumerateFunc) error {
	return db.tree.Enumerate(cb)
}
