// ABOUTME: Cursor: coupled (page,slot,dupe) position over a Tree's leaf chain, with FIRST/LAST/NEXT/PREV and duplicate-position tracking
// ABOUTME: Leaf-sibling-link cursor walk, since nodes carry LeftSibling/RightSibling

package btree

import (
	"github.com/nainya/kvengine/pkg/blob"
	"github.com/nainya/kvengine/pkg/keys"
	"github.com/nainya/kvengine/pkg/kverrors"
)

// Cursor tracks a position within a Tree: a leaf page, a logical slot within
// it, and (for HAS_DUPLICATES keys) which duplicate is selected.
type Cursor struct {
	tree    *Tree
	leafRid uint64
	slot    int
	dupeIdx int // -1 when positioned on a non-duplicate record
	valid   bool
}

func NewCursor(t *Tree) *Cursor {
	return &Cursor{tree: t, dupeIdx: -1}
}

// Clone duplicates the cursor's position (cursor clone-on-fork).
func (c *Cursor) Clone() *Cursor {
	return &Cursor{tree: c.tree, leafRid: c.leafRid, slot: c.slot, dupeIdx: c.dupeIdx, valid: c.valid}
}

func (c *Cursor) Close() { c.valid = false }

func (c *Cursor) currentNode() (*Node, error) {
	p, err := c.tree.io.Fetch(c.leafRid)
	if err != nil {
		return nil, err
	}
	return Wrap(p.Payload(), c.tree.cfg.MaxKeys, c.tree.cfg.Keysize), nil
}

// First positions the cursor on the smallest key.
func (c *Cursor) First() error {
	if c.tree.root == 0 {
		c.valid = false
		return kverrors.New(kverrors.KeyNotFound, "empty database")
	}
	leafRid, err := c.tree.leftmostLeaf(c.tree.root)
	if err != nil {
		return err
	}
	for leafRid != 0 {
		p, err := c.tree.io.Fetch(leafRid)
		if err != nil {
			return err
		}
		n := Wrap(p.Payload(), c.tree.cfg.MaxKeys, c.tree.cfg.Keysize)
		if n.Count() > 0 {
			c.leafRid, c.slot, c.dupeIdx, c.valid = leafRid, 0, -1, true
			return nil
		}
		leafRid = n.RightSibling()
	}
	c.valid = false
	return kverrors.New(kverrors.KeyNotFound, "empty database")
}

// Last positions the cursor on the largest key.
func (c *Cursor) Last() error {
	if c.tree.root == 0 {
		c.valid = false
		return kverrors.New(kverrors.KeyNotFound, "empty database")
	}
	rid := c.tree.root
	for {
		p, err := c.tree.io.Fetch(rid)
		if err != nil {
			return err
		}
		n := Wrap(p.Payload(), c.tree.cfg.MaxKeys, c.tree.cfg.Keysize)
		if n.IsLeaf() {
			for rid != 0 {
				np, err := c.tree.io.Fetch(rid)
				if err != nil {
					return err
				}
				nn := Wrap(np.Payload(), c.tree.cfg.MaxKeys, c.tree.cfg.Keysize)
				if nn.Count() > 0 {
					c.leafRid, c.slot, c.dupeIdx, c.valid = rid, nn.Count()-1, -1, true
					return nil
				}
				rid = nn.LeftSibling()
			}
			c.valid = false
			return kverrors.New(kverrors.KeyNotFound, "empty database")
		}
		rid = n.ChildPtr(n.Count() - 1)
	}
}

// Find couples the cursor to userKey (or its approximate neighbor per flag).
func (c *Cursor) Find(userKey []byte, flag FindFlag) error {
	if c.tree.root == 0 {
		c.valid = false
		return kverrors.New(kverrors.KeyNotFound, "empty database")
	}
	leafRid, err := c.tree.descendToLeaf(c.tree.root, userKey)
	if err != nil {
		return err
	}
	p, err := c.tree.io.Fetch(leafRid)
	if err != nil {
		return err
	}
	n := Wrap(p.Payload(), c.tree.cfg.MaxKeys, c.tree.cfg.Keysize)
	idx, equal, err := c.tree.lowerBound(n, userKey)
	if err != nil {
		return err
	}

	switch flag {
	case FindExact:
		if !equal {
			c.valid = false
			return kverrors.New(kverrors.KeyNotFound, "key not found")
		}
		c.leafRid, c.slot, c.dupeIdx, c.valid = leafRid, idx, -1, true
		return nil
	case FindGE, FindGT:
		if equal && flag == FindGE {
			c.leafRid, c.slot, c.dupeIdx, c.valid = leafRid, idx, -1, true
			return nil
		}
		return c.seekForward(leafRid, n, idx)
	default: // FindLE, FindLT, FindNear
		if equal && flag != FindLT {
			c.leafRid, c.slot, c.dupeIdx, c.valid = leafRid, idx, -1, true
			return nil
		}
		if err := c.seekBackward(leafRid, n, idx); err == nil {
			return nil
		}
		if flag == FindNear {
			return c.seekForward(leafRid, n, idx)
		}
		return kverrors.New(kverrors.KeyNotFound, "no smaller key")
	}
}

func (c *Cursor) seekForward(leafRid uint64, n *Node, idx int) error {
	for {
		if idx < n.Count() {
			c.leafRid, c.slot, c.dupeIdx, c.valid = leafRid, idx, -1, true
			return nil
		}
		right := n.RightSibling()
		if right == 0 {
			c.valid = false
			return kverrors.New(kverrors.KeyNotFound, "no larger key")
		}
		p, err := c.tree.io.Fetch(right)
		if err != nil {
			return err
		}
		n = Wrap(p.Payload(), c.tree.cfg.MaxKeys, c.tree.cfg.Keysize)
		leafRid, idx = right, 0
	}
}

func (c *Cursor) seekBackward(leafRid uint64, n *Node, idx int) error {
	for {
		if idx > 0 {
			c.leafRid, c.slot, c.dupeIdx, c.valid = leafRid, idx-1, -1, true
			return nil
		}
		left := n.LeftSibling()
		if left == 0 {
			return kverrors.New(kverrors.KeyNotFound, "no smaller key")
		}
		p, err := c.tree.io.Fetch(left)
		if err != nil {
			return err
		}
		n = Wrap(p.Payload(), c.tree.cfg.MaxKeys, c.tree.cfg.Keysize)
		leafRid, idx = left, n.Count()
	}
}

// Next advances to the next key (or next duplicate of the current key when
// skipDupes is false and more duplicates remain). When onlyDupes is true,
// Next never leaves the current key's duplicate run: once it is exhausted
// (or the current key has none), it fails with KeyNotFound instead of
// stepping forward into the next distinct key.
func (c *Cursor) Next(skipDupes, onlyDupes bool) error {
	if !c.valid {
		return c.First()
	}
	n, err := c.currentNode()
	if err != nil {
		return err
	}
	if !skipDupes && n.RecordAt(c.slot).Flags&keys.FlagHasDuplicates != 0 {
		cur := c.dupeIdx
		if cur < 0 {
			cur = 0
		}
		dupeCount, err := c.tree.blobs.DupeCount(n.RecordAt(c.slot).BlobHandle())
		if err == nil && cur+1 < dupeCount {
			c.dupeIdx = cur + 1
			return nil
		}
	}
	if onlyDupes {
		return kverrors.New(kverrors.KeyNotFound, "no more duplicates")
	}
	c.dupeIdx = -1
	if c.slot+1 < n.Count() {
		c.slot++
		return nil
	}
	right := n.RightSibling()
	for right != 0 {
		p, err := c.tree.io.Fetch(right)
		if err != nil {
			return err
		}
		rn := Wrap(p.Payload(), c.tree.cfg.MaxKeys, c.tree.cfg.Keysize)
		if rn.Count() > 0 {
			c.leafRid, c.slot = right, 0
			return nil
		}
		right = rn.RightSibling()
	}
	c.valid = false
	return kverrors.New(kverrors.KeyNotFound, "no next key")
}

// Prev moves to the previous key. onlyDupes mirrors Next's: it confines Prev
// to the current key's duplicate run instead of stepping back into the
// previous distinct key once the run is exhausted.
func (c *Cursor) Prev(skipDupes, onlyDupes bool) error {
	if !c.valid {
		return c.Last()
	}
	n, err := c.currentNode()
	if err != nil {
		return err
	}
	if !skipDupes && n.RecordAt(c.slot).Flags&keys.FlagHasDuplicates != 0 && c.dupeIdx > 0 {
		c.dupeIdx--
		return nil
	}
	if onlyDupes {
		return kverrors.New(kverrors.KeyNotFound, "no more duplicates")
	}
	c.dupeIdx = -1
	if c.slot > 0 {
		c.slot--
		return nil
	}
	left := n.LeftSibling()
	for left != 0 {
		p, err := c.tree.io.Fetch(left)
		if err != nil {
			return err
		}
		ln := Wrap(p.Payload(), c.tree.cfg.MaxKeys, c.tree.cfg.Keysize)
		if ln.Count() > 0 {
			c.leafRid, c.slot = left, ln.Count()-1
			return nil
		}
		left = ln.LeftSibling()
	}
	c.valid = false
	return kverrors.New(kverrors.KeyNotFound, "no previous key")
}

// Key returns the materialized key at the cursor's current position.
func (c *Cursor) Key() ([]byte, error) {
	if !c.valid {
		return nil, kverrors.New(kverrors.CursorStillOpen, "cursor not positioned")
	}
	n, err := c.currentNode()
	if err != nil {
		return nil, err
	}
	return c.tree.materialize(n.RecordAt(c.slot))
}

// Record returns the raw record bytes at the cursor's current position,
// resolving the selected duplicate when the key HasDuplicates.
func (c *Cursor) Record(partial *blob.PartialRange) ([]byte, error) {
	if !c.valid {
		return nil, kverrors.New(kverrors.CursorStillOpen, "cursor not positioned")
	}
	n, err := c.currentNode()
	if err != nil {
		return nil, err
	}
	rec := n.RecordAt(c.slot)
	if rec.Flags&keys.FlagHasDuplicates != 0 {
		idx := c.dupeIdx
		if idx < 0 {
			idx = 0
		}
		h, err := c.tree.blobs.DupeGet(rec.BlobHandle(), idx)
		if err != nil {
			return nil, err
		}
		return c.tree.blobs.Read(h, partial)
	}
	return c.tree.blobs.Read(rec.BlobHandle(), partial)
}

// GetDuplicateCount reports how many duplicates the current key has (1 for
// a non-duplicate key).
func (c *Cursor) GetDuplicateCount() (int, error) {
	if !c.valid {
		return 0, kverrors.New(kverrors.CursorStillOpen, "cursor not positioned")
	}
	n, err := c.currentNode()
	if err != nil {
		return 0, err
	}
	rec := n.RecordAt(c.slot)
	if rec.Flags&keys.FlagHasDuplicates == 0 {
		return 1, nil
	}
	return c.tree.blobs.DupeCount(rec.BlobHandle())
}
