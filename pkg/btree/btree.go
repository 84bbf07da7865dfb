// ABOUTME: B+tree core: Find/Insert/Delete/Enumerate over fixed-slot, in-place-mutable nodes
// ABOUTME: Recursive descendToLeaf/insertInto/deleteFrom over in-place fixed-capacity nodes with a fast-index and sibling links

package btree

import (
	"github.com/nainya/kvengine/pkg/blob"
	"github.com/nainya/kvengine/pkg/extkey"
	"github.com/nainya/kvengine/pkg/freelist"
	"github.com/nainya/kvengine/pkg/keys"
	"github.com/nainya/kvengine/pkg/kverrors"
	"github.com/nainya/kvengine/pkg/page"
)

// Config holds the per-Database tree parameters fixed at creation time.
type Config struct {
	MaxKeys          int
	Keysize          int
	Comparator       keys.Comparator
	EnableDuplicates bool
	DAM              freelist.DAM
	DBID             uint16
}

// Tree is one Database's B+tree index.
type Tree struct {
	io    IO
	cfg   Config
	ext   *extkey.Store
	blobs *blob.Store
	root  uint64
}

func New(io IO, cfg Config, ext *extkey.Store, blobs *blob.Store, root uint64) *Tree {
	return &Tree{io: io, cfg: cfg, ext: ext, blobs: blobs, root: root}
}

func (t *Tree) Root() uint64     { return t.root }
func (t *Tree) SetRoot(rid uint64) { t.root = rid }

func (t *Tree) materialize(r keys.Record) ([]byte, error) {
	return keys.MaterializeKey(r, t.ext, t.cfg.DBID)
}

// makeSeparator builds an internal-node separator record for key, re-running
// it through MakeKeyRecord so a separator longer than keysize gets the same
// FlagExtended overflow treatment as an ordinary leaf key. childRid overwrites
// the Rid field MakeKeyRecord leaves at zero, since on an internal node Rid is
// the child pointer rather than a blob handle.
func (t *Tree) makeSeparator(key []byte, childRid uint64) (keys.Record, error) {
	rec, err := keys.MakeKeyRecord(key, t.cfg.Keysize, t.ext, t.cfg.DBID)
	if err != nil {
		return keys.Record{}, err
	}
	rec.Rid = childRid
	return rec, nil
}

func (t *Tree) compare(a, b []byte) int {
	return keys.PrefixThenFull(t.cfg.Comparator, a, b)
}

// lowerBound returns the smallest slot index whose key is >= userKey
// (== n.Count() if every key is smaller), and whether that slot is an exact
// match.
func (t *Tree) lowerBound(n *Node, userKey []byte) (int, bool, error) {
	lo, hi := 0, n.Count()
	for lo < hi {
		mid := (lo + hi) / 2
		k, err := t.materialize(n.RecordAt(mid))
		if err != nil {
			return 0, false, err
		}
		c := t.compare(k, userKey)
		if c < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < n.Count() {
		k, err := t.materialize(n.RecordAt(lo))
		if err != nil {
			return 0, false, err
		}
		if t.compare(k, userKey) == 0 {
			return lo, true, nil
		}
	}
	return lo, false, nil
}

// childSlot converts a lowerBound result on an internal node into the
// ChildPtr slot that should hold userKey.
func childSlot(idx int, equal bool) int {
	if equal {
		return idx
	}
	return idx - 1
}

// FindFlag selects exact or approximate-match semantics for Find.
type FindFlag int

const (
	FindExact FindFlag = iota
	FindLT
	FindLE
	FindGT
	FindGE
	FindNear // LE, falling back to GE if nothing smaller exists
)

// Find locates userKey (or its approximate neighbor per flag) and returns the
// matched key bytes and its record.
func (t *Tree) Find(userKey []byte, flag FindFlag) ([]byte, keys.Record, error) {
	if t.root == 0 {
		return nil, keys.Record{}, kverrors.New(kverrors.KeyNotFound, "empty database")
	}
	leafRid, err := t.descendToLeaf(t.root, userKey)
	if err != nil {
		return nil, keys.Record{}, err
	}
	p, err := t.io.Fetch(leafRid)
	if err != nil {
		return nil, keys.Record{}, err
	}
	n := Wrap(p.Payload(), t.cfg.MaxKeys, t.cfg.Keysize)
	idx, equal, err := t.lowerBound(n, userKey)
	if err != nil {
		return nil, keys.Record{}, err
	}

	switch flag {
	case FindExact:
		if !equal {
			return nil, keys.Record{}, kverrors.New(kverrors.KeyNotFound, "key not found")
		}
		return t.recordResult(n, idx)
	case FindLE, FindLT, FindNear:
		if equal && flag != FindLT {
			return t.recordResult(n, idx)
		}
		return t.stepBackward(p, n, idx, flag == FindNear)
	case FindGE, FindGT:
		if equal && flag != FindGT {
			return t.recordResult(n, idx)
		}
		return t.stepForward(p, n, idx)
	default:
		return nil, keys.Record{}, kverrors.New(kverrors.InvalidParameter, "unknown find flag")
	}
}

func (t *Tree) recordResult(n *Node, idx int) ([]byte, keys.Record, error) {
	r := n.RecordAt(idx)
	k, err := t.materialize(r)
	if err != nil {
		return nil, keys.Record{}, err
	}
	return k, r, nil
}

// stepBackward looks at slot idx-1 in n, walking to the left sibling leaf if
// idx is 0. near causes a GE fallback when nothing smaller exists anywhere.
func (t *Tree) stepBackward(p *page.Page, n *Node, idx int, near bool) ([]byte, keys.Record, error) {
	if idx > 0 {
		return t.recordResult(n, idx-1)
	}
	left := n.LeftSibling()
	for left != 0 {
		lp, err := t.io.Fetch(left)
		if err != nil {
			return nil, keys.Record{}, err
		}
		ln := Wrap(lp.Payload(), t.cfg.MaxKeys, t.cfg.Keysize)
		if ln.Count() > 0 {
			return t.recordResult(ln, ln.Count()-1)
		}
		left = ln.LeftSibling()
	}
	if near {
		return t.stepForward(p, n, idx)
	}
	return nil, keys.Record{}, kverrors.New(kverrors.KeyNotFound, "no smaller key")
}

func (t *Tree) stepForward(p *page.Page, n *Node, idx int) ([]byte, keys.Record, error) {
	if idx < n.Count() {
		return t.recordResult(n, idx)
	}
	right := n.RightSibling()
	for right != 0 {
		rp, err := t.io.Fetch(right)
		if err != nil {
			return nil, keys.Record{}, err
		}
		rn := Wrap(rp.Payload(), t.cfg.MaxKeys, t.cfg.Keysize)
		if rn.Count() > 0 {
			return t.recordResult(rn, 0)
		}
		right = rn.RightSibling()
	}
	return nil, keys.Record{}, kverrors.New(kverrors.KeyNotFound, "no larger key")
}

func (t *Tree) descendToLeaf(rid uint64, userKey []byte) (uint64, error) {
	p, err := t.io.Fetch(rid)
	if err != nil {
		return 0, err
	}
	n := Wrap(p.Payload(), t.cfg.MaxKeys, t.cfg.Keysize)
	if n.IsLeaf() {
		return rid, nil
	}
	idx, equal, err := t.lowerBound(n, userKey)
	if err != nil {
		return 0, err
	}
	cs := childSlot(idx, equal)
	return t.descendToLeaf(n.ChildPtr(cs), userKey)
}

// Overwrite replaces userKey's stored bytes in place: a structural no-op for
// the tree (userKey must already exist; the node's key count never changes).
// When partial is non-nil, record is merged into [partial.Offset,
// partial.Offset+partial.Size) of the existing bytes rather than replacing
// them outright (see blob.Store.Overwrite).
func (t *Tree) Overwrite(userKey, record []byte, partial *blob.PartialRange) error {
	if t.root == 0 {
		return kverrors.New(kverrors.KeyNotFound, "empty database")
	}
	leafRid, err := t.descendToLeaf(t.root, userKey)
	if err != nil {
		return err
	}
	p, err := t.io.Fetch(leafRid)
	if err != nil {
		return err
	}
	n := Wrap(p.Payload(), t.cfg.MaxKeys, t.cfg.Keysize)
	idx, equal, err := t.lowerBound(n, userKey)
	if err != nil {
		return err
	}
	if !equal {
		return kverrors.New(kverrors.KeyNotFound, "key not found")
	}
	existing := n.RecordAt(idx)
	updated, _, err := keys.SetRecord(t.blobs, existing, false, record, 0, keys.SetOverwrite, partial, t.cfg.EnableDuplicates)
	if err != nil {
		return err
	}
	n.SetRecordAt(idx, updated)
	return t.io.Write(p)
}

// Insert adds or updates userKey with record, per flag's overwrite/duplicate
// semantics (see keys.SetRecord).
func (t *Tree) Insert(userKey, record []byte, flag keys.SetFlag) error {
	if t.root == 0 {
		p, err := t.io.New(page.TypeBRoot)
		if err != nil {
			return err
		}
		n := InitLeaf(p.Payload(), t.cfg.MaxKeys, t.cfg.Keysize)
		rec, err := keys.MakeKeyRecord(userKey, t.cfg.Keysize, t.ext, t.cfg.DBID)
		if err != nil {
			return err
		}
		rec, _, err = keys.SetRecord(t.blobs, rec, true, record, 0, flag, nil, t.cfg.EnableDuplicates)
		if err != nil {
			return err
		}
		n.InsertAt(0, rec)
		if err := t.io.Write(p); err != nil {
			return err
		}
		t.root = p.Rid
		return nil
	}

	prom, err := t.insertInto(t.root, userKey, record, flag)
	if err != nil {
		return err
	}
	if prom != nil {
		oldRoot, err := t.io.Fetch(t.root)
		if err != nil {
			return err
		}
		oldRoot.SetType(page.TypeBIndex)
		if err := t.io.Write(oldRoot); err != nil {
			return err
		}

		p, err := t.io.New(page.TypeBRoot)
		if err != nil {
			return err
		}
		n := InitInternal(p.Payload(), t.cfg.MaxKeys, t.cfg.Keysize)
		n.SetPtrLeft(t.root)
		sep, err := t.makeSeparator(prom.Key, prom.Rid)
		if err != nil {
			return err
		}
		n.InsertAt(0, sep)
		if err := t.io.Write(p); err != nil {
			return err
		}
		t.root = p.Rid
	}
	return nil
}

func (t *Tree) insertInto(rid uint64, userKey, record []byte, flag keys.SetFlag) (*promotion, error) {
	p, err := t.io.Fetch(rid)
	if err != nil {
		return nil, err
	}
	n := Wrap(p.Payload(), t.cfg.MaxKeys, t.cfg.Keysize)

	if n.IsLeaf() {
		idx, equal, err := t.lowerBound(n, userKey)
		if err != nil {
			return nil, err
		}
		if equal {
			existing := n.RecordAt(idx)
			updated, _, err := keys.SetRecord(t.blobs, existing, false, record, 0, flag, nil, t.cfg.EnableDuplicates)
			if err != nil {
				return nil, err
			}
			n.SetRecordAt(idx, updated)
			return nil, t.io.Write(p)
		}
		rec, err := keys.MakeKeyRecord(userKey, t.cfg.Keysize, t.ext, t.cfg.DBID)
		if err != nil {
			return nil, err
		}
		rec, _, err = keys.SetRecord(t.blobs, rec, true, record, 0, flag, nil, t.cfg.EnableDuplicates)
		if err != nil {
			return nil, err
		}
		return t.insertRecordSplitting(p, n, idx, rec, true)
	}

	idx, equal, err := t.lowerBound(n, userKey)
	if err != nil {
		return nil, err
	}
	cs := childSlot(idx, equal)
	childProm, err := t.insertInto(n.ChildPtr(cs), userKey, record, flag)
	if err != nil {
		return nil, err
	}
	if childProm == nil {
		return nil, nil
	}
	sep, err := t.makeSeparator(childProm.Key, childProm.Rid)
	if err != nil {
		return nil, err
	}
	return t.insertRecordSplitting(p, n, cs+1, sep, false)
}

// Delete removes userKey (or, when dupeID >= 0, one specific duplicate of
// it). Returns kverrors.KeyNotFound if absent.
func (t *Tree) Delete(userKey []byte, dupeID int, flag keys.EraseFlag) error {
	if t.root == 0 {
		return kverrors.New(kverrors.KeyNotFound, "empty database")
	}
	_, err := t.deleteFrom(t.root, userKey, dupeID, flag)
	if err != nil {
		return err
	}
	p, err := t.io.Fetch(t.root)
	if err != nil {
		return err
	}
	n := Wrap(p.Payload(), t.cfg.MaxKeys, t.cfg.Keysize)
	if n.IsInternal() && n.Count() == 0 {
		newRoot := n.PtrLeft()
		t.io.Free(t.root)
		t.root = newRoot

		np, err := t.io.Fetch(t.root)
		if err != nil {
			return err
		}
		np.SetType(page.TypeBRoot)
		if err := t.io.Write(np); err != nil {
			return err
		}
	}
	return nil
}

// deleteFrom returns whether rid's node underflowed after the delete, so the
// caller can attempt a sibling merge.
func (t *Tree) deleteFrom(rid uint64, userKey []byte, dupeID int, flag keys.EraseFlag) (bool, error) {
	p, err := t.io.Fetch(rid)
	if err != nil {
		return false, err
	}
	n := Wrap(p.Payload(), t.cfg.MaxKeys, t.cfg.Keysize)

	if n.IsLeaf() {
		idx, equal, err := t.lowerBound(n, userKey)
		if err != nil {
			return false, err
		}
		if !equal {
			return false, kverrors.New(kverrors.KeyNotFound, "key not found")
		}
		rec := n.RecordAt(idx)
		updated, err := keys.EraseRecord(t.blobs, rec, dupeID, flag)
		if err != nil {
			return false, err
		}
		if updated.Rid == 0 && updated.Flags == 0 {
			n.EraseAt(idx)
		} else {
			n.SetRecordAt(idx, updated)
		}
		if err := t.io.Write(p); err != nil {
			return false, err
		}
		return n.Count() < t.underflowThreshold(), nil
	}

	idx, equal, err := t.lowerBound(n, userKey)
	if err != nil {
		return false, err
	}
	cs := childSlot(idx, equal)
	childRid := n.ChildPtr(cs)
	underflowed, err := t.deleteFrom(childRid, userKey, dupeID, flag)
	if err != nil {
		return false, err
	}
	if underflowed {
		cp, err := t.io.Fetch(childRid)
		if err != nil {
			return false, err
		}
		cn := Wrap(cp.Payload(), t.cfg.MaxKeys, t.cfg.Keysize)
		childIsLeaf := cn.IsLeaf()
		if err := t.rebalanceChild(p, n, cs, cp, cn, childIsLeaf); err != nil {
			return false, err
		}
	}
	return n.Count() < t.underflowThreshold(), nil
}

// EnumerateFunc is called once per key in ascending order; returning an
// error stops the walk and is propagated to Enumerate's caller.
type EnumerateFunc func(key []byte, rec keys.Record) error

// Enumerate walks every key in ascending order via the leaf sibling chain.
func (t *Tree) Enumerate(cb EnumerateFunc) error {
	if t.root == 0 {
		return nil
	}
	leafRid, err := t.leftmostLeaf(t.root)
	if err != nil {
		return err
	}
	for leafRid != 0 {
		p, err := t.io.Fetch(leafRid)
		if err != nil {
			return err
		}
		n := Wrap(p.Payload(), t.cfg.MaxKeys, t.cfg.Keysize)
		for i := 0; i < n.Count(); i++ {
			r := n.RecordAt(i)
			k, err := t.materialize(r)
			if err != nil {
				return err
			}
			if err := cb(k, r); err != nil {
				return err
			}
		}
		leafRid = n.RightSibling()
	}
	return nil
}

func (t *Tree) leftmostLeaf(rid uint64) (uint64, error) {
	p, err := t.io.Fetch(rid)
	if err != nil {
		return 0, err
	}
	n := Wrap(p.Payload(), t.cfg.MaxKeys, t.cfg.Keysize)
	if n.IsLeaf() {
		return rid, nil
	}
	return t.leftmostLeaf(n.PtrLeft())
}
