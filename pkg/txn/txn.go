// ABOUTME: Transaction lifecycle: Begin/Commit/Abort over a single cooperative slot per Environment
// ABOUTME: One transaction active at a time; each tracks its mutations in a per-key op-tree for audit, not isolation

package txn

import (
	"sync"

	"github.com/nainya/kvengine/pkg/keys"
	"github.com/nainya/kvengine/pkg/kverrors"
)

// State is a transaction's lifecycle stage.
type State int

const (
	StateActive State = iota
	StateCommitted
	StateAborted
)

// Txn is one open transaction: an op-tree of pending mutations plus the
// open-cursor bookkeeping Commit/Abort need. Before-image dedup ("has this
// page already been logged this txn") lives on page.Page.BeforeImgLSN
// instead of here, since the Environment checks it at the same place it
// already holds the fetched page.
type Txn struct {
	ID    uint64
	State State

	ops *OpTree

	mu          sync.Mutex
	cursorCount int
}

func (t *Txn) Record(key []byte, op Op) { t.ops.Record(key, op) }

func (t *Txn) Ops(key []byte) ([]Op, bool) { return t.ops.Ops(key) }

func (t *Txn) Keys() [][]byte { return t.ops.Keys() }

func (t *Txn) IncCursor() {
	t.mu.Lock()
	t.cursorCount++
	t.mu.Unlock()
}

func (t *Txn) DecCursor() {
	t.mu.Lock()
	if t.cursorCount > 0 {
		t.cursorCount--
	}
	t.mu.Unlock()
}

func (t *Txn) CursorCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cursorCount
}

// Manager enforces a single-active-transaction model: cooperative,
// single-threaded concurrency means a second Begin while one transaction is
// open does not block or queue -- it fails immediately with WouldBlock,
// exactly like the Environment's exclusive file lock.
type Manager struct {
	mu     sync.Mutex
	active *Txn
	nextID uint64
}

func NewManager() *Manager {
	return &Manager{nextID: 1}
}

func (m *Manager) Begin(cmp keys.Comparator) (*Txn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return nil, kverrors.New(kverrors.WouldBlock, "a transaction is already open")
	}
	t := &Txn{ID: m.nextID, State: StateActive, ops: New(cmp)}
	m.nextID++
	m.active = t
	return t, nil
}

// Active returns the currently open transaction, if any.
func (m *Manager) Active() *Txn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// End closes out t (whether by commit or abort), freeing the slot for the
// next Begin. Returns CursorStillOpen if t still has cursors attached.
func (m *Manager) End(t *Txn, committed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != t {
		return kverrors.New(kverrors.InvalidParameter, "txn is not the active transaction")
	}
	if t.CursorCount() > 0 {
		return kverrors.New(kverrors.CursorStillOpen, "transaction has open cursors")
	}
	if committed {
		t.State = StateCommitted
	} else {
		t.State = StateAborted
	}
	m.active = nil
	return nil
}
