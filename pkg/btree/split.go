// ABOUTME: Node splitting with a hinted split point over fixed-slot nodes
// ABOUTME: Leaf splits duplicate the separator key into the right node; internal splits promote the middle separator without duplicating it

package btree

import (
	"github.com/nainya/kvengine/pkg/keys"
	"github.com/nainya/kvengine/pkg/page"
)

// promotion is what bubbles up to a parent after a child node split: the new
// right-hand sibling's rid and the separator key that now divides the two.
type promotion struct {
	Key []byte
	Rid uint64
}

// buildCombined returns the node's existing records with rec inserted at
// logical position at, as a plain slice (length Count()+1).
func buildCombined(n *Node, at int, rec keys.Record) []keys.Record {
	count := n.Count()
	out := make([]keys.Record, 0, count+1)
	for i := 0; i < at; i++ {
		out = append(out, n.RecordAt(i))
	}
	out = append(out, rec)
	for i := at; i < count; i++ {
		out = append(out, n.RecordAt(i))
	}
	return out
}

// splitIndex picks where to divide a combined slice of length total,
// preferring the page's accumulated split-point hint but clamping to leave
// at least one record on each side.
func splitIndex(p *page.Page, total int) int {
	bias := 0.5
	if p != nil {
		bias = p.SplitBias()
	}
	idx := int(bias * float64(total))
	if idx < 1 {
		idx = 1
	}
	if idx > total-1 {
		idx = total - 1
	}
	return idx
}

// splitLeafInsert splits a full leaf, inserting rec, and returns the
// promotion describing the new right sibling.
func (t *Tree) splitLeafInsert(p *page.Page, n *Node, at int, rec keys.Record) (*promotion, error) {
	combined := buildCombined(n, at, rec)
	mid := splitIndex(p, len(combined))

	rp, err := t.io.New(page.TypeBIndex)
	if err != nil {
		return nil, err
	}
	rn := InitLeaf(rp.Payload(), t.cfg.MaxKeys, t.cfg.Keysize)

	oldRight := n.RightSibling()
	n.SetCount(0)
	for i := 0; i < mid; i++ {
		n.InsertAt(i, combined[i])
	}
	for i := mid; i < len(combined); i++ {
		rn.InsertAt(i-mid, combined[i])
	}

	rn.SetLeftSibling(p.Rid)
	rn.SetRightSibling(oldRight)
	n.SetRightSibling(rp.Rid)
	if oldRight != 0 {
		if orp, err := t.io.Fetch(oldRight); err == nil {
			orn := Wrap(orp.Payload(), t.cfg.MaxKeys, t.cfg.Keysize)
			orn.SetLeftSibling(rp.Rid)
			t.io.Write(orp)
		}
	}

	p.UpdateSplitHint(float64(mid) / float64(len(combined)))
	if err := t.io.Write(p); err != nil {
		return nil, err
	}
	if err := t.io.Write(rp); err != nil {
		return nil, err
	}

	sepKey, err := t.materialize(rn.RecordAt(0))
	if err != nil {
		return nil, err
	}
	return &promotion{Key: sepKey, Rid: rp.Rid}, nil
}

// splitInternalInsert splits a full internal node, inserting rec (a new
// separator/child pair) at logical position at. The middle separator is
// promoted to the caller rather than duplicated.
func (t *Tree) splitInternalInsert(p *page.Page, n *Node, at int, rec keys.Record) (*promotion, error) {
	combined := buildCombined(n, at, rec)
	mid := splitIndex(p, len(combined))
	midRec := combined[mid]

	rp, err := t.io.New(page.TypeBIndex)
	if err != nil {
		return nil, err
	}
	rn := InitInternal(rp.Payload(), t.cfg.MaxKeys, t.cfg.Keysize)
	rn.SetPtrLeft(midRec.Rid)

	n.SetCount(0)
	for i := 0; i < mid; i++ {
		n.InsertAt(i, combined[i])
	}
	for i := mid + 1; i < len(combined); i++ {
		rn.InsertAt(i-mid-1, combined[i])
	}

	p.UpdateSplitHint(float64(mid) / float64(len(combined)))
	if err := t.io.Write(p); err != nil {
		return nil, err
	}
	if err := t.io.Write(rp); err != nil {
		return nil, err
	}

	sepKey, err := t.materialize(midRec)
	if err != nil {
		return nil, err
	}
	return &promotion{Key: sepKey, Rid: rp.Rid}, nil
}

// insertRecordSplitting inserts rec at logical slot `at`, splitting the node
// first if it is already at capacity.
func (t *Tree) insertRecordSplitting(p *page.Page, n *Node, at int, rec keys.Record, isLeaf bool) (*promotion, error) {
	if n.Count() < t.cfg.MaxKeys {
		n.InsertAt(at, rec)
		return nil, t.io.Write(p)
	}
	if isLeaf {
		return t.splitLeafInsert(p, n, at, rec)
	}
	return t.splitInternalInsert(p, n, at, rec)
}
