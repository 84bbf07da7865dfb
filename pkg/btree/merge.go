// ABOUTME: Sibling merge-on-underflow over in-place fixed-slot nodes
// ABOUTME: Tries the right sibling first, then the left; leaves an underflowed node alone if neither fits

package btree

import "github.com/nainya/kvengine/pkg/page"

// underflowThreshold returns ceil(maxKeys/2): a node with fewer records than
// this needs rebalancing against a sibling.
func (t *Tree) underflowThreshold() int {
	th := (t.cfg.MaxKeys + 1) / 2
	if th < 1 {
		th = 1
	}
	return th
}

// rebalanceChild is called after a recursive delete leaves the child at
// childSlot underflowed (below underflowThreshold). It first tries borrowing
// a record from a sibling that can spare one without itself underflowing,
// then falls back to merging with the right sibling, then the left, mutating
// parent's separators in place. childSlot follows Node.ChildPtr's convention
// (-1 is the leftmost child / ptr_left).
func (t *Tree) rebalanceChild(parent *page.Page, pn *Node, childSlot int, child *page.Page, cn *Node, isLeaf bool) error {
	if cn.Count() >= t.underflowThreshold() {
		return nil
	}

	if borrowed, err := t.borrowFromRight(parent, pn, childSlot, child, cn, isLeaf); err != nil || borrowed {
		return err
	}
	if borrowed, err := t.borrowFromLeft(parent, pn, childSlot, child, cn, isLeaf); err != nil || borrowed {
		return err
	}
	if merged, err := t.mergeWithRight(parent, pn, childSlot, child, cn, isLeaf); err != nil || merged {
		return err
	}
	if merged, err := t.mergeWithLeft(parent, pn, childSlot, child, cn, isLeaf); err != nil || merged {
		return err
	}
	return nil
}

// borrowFromRight pulls one record from the child's right sibling through the
// parent separator, when that sibling has enough of a surplus to spare it.
func (t *Tree) borrowFromRight(parent *page.Page, pn *Node, childSlot int, child *page.Page, cn *Node, isLeaf bool) (bool, error) {
	rightSlot := childSlot + 1
	if rightSlot > pn.Count()-1 {
		return false, nil
	}
	rightRid := pn.ChildPtr(rightSlot)
	rp, err := t.io.Fetch(rightRid)
	if err != nil {
		return false, err
	}
	rn := Wrap(rp.Payload(), t.cfg.MaxKeys, t.cfg.Keysize)
	if rn.Count() <= t.underflowThreshold() {
		return false, nil
	}

	if isLeaf {
		moved := rn.RecordAt(0)
		rn.EraseAt(0)
		cn.InsertAt(cn.Count(), moved)
		sepKey, err := t.materialize(rn.RecordAt(0))
		if err != nil {
			return false, err
		}
		sep, err := t.makeSeparator(sepKey, rightRid)
		if err != nil {
			return false, err
		}
		pn.SetRecordAt(rightSlot, sep)
	} else {
		pulled := pn.RecordAt(rightSlot)
		pulled.Rid = rn.PtrLeft()
		cn.InsertAt(cn.Count(), pulled)

		promoted := rn.RecordAt(0)
		rn.SetPtrLeft(promoted.Rid)
		rn.EraseAt(0)
		sepKey, err := t.materialize(promoted)
		if err != nil {
			return false, err
		}
		sep, err := t.makeSeparator(sepKey, rightRid)
		if err != nil {
			return false, err
		}
		pn.SetRecordAt(rightSlot, sep)
	}

	if err := t.io.Write(child); err != nil {
		return false, err
	}
	if err := t.io.Write(rp); err != nil {
		return false, err
	}
	return true, t.io.Write(parent)
}

// borrowFromLeft is borrowFromRight's mirror image: pulls one record from the
// child's left sibling through the parent separator.
func (t *Tree) borrowFromLeft(parent *page.Page, pn *Node, childSlot int, child *page.Page, cn *Node, isLeaf bool) (bool, error) {
	leftSlot := childSlot - 1
	if leftSlot < -1 {
		return false, nil
	}
	leftRid := pn.ChildPtr(leftSlot)
	lp, err := t.io.Fetch(leftRid)
	if err != nil {
		return false, err
	}
	ln := Wrap(lp.Payload(), t.cfg.MaxKeys, t.cfg.Keysize)
	if ln.Count() <= t.underflowThreshold() {
		return false, nil
	}

	if isLeaf {
		moved := ln.RecordAt(ln.Count() - 1)
		ln.EraseAt(ln.Count() - 1)
		cn.InsertAt(0, moved)
		sepKey, err := t.materialize(moved)
		if err != nil {
			return false, err
		}
		sep, err := t.makeSeparator(sepKey, child.Rid)
		if err != nil {
			return false, err
		}
		pn.SetRecordAt(childSlot, sep)
	} else {
		pulled := pn.RecordAt(childSlot)
		pulled.Rid = cn.PtrLeft()
		cn.InsertAt(0, pulled)

		promoted := ln.RecordAt(ln.Count() - 1)
		cn.SetPtrLeft(promoted.Rid)
		ln.EraseAt(ln.Count() - 1)
		sepKey, err := t.materialize(promoted)
		if err != nil {
			return false, err
		}
		sep, err := t.makeSeparator(sepKey, child.Rid)
		if err != nil {
			return false, err
		}
		pn.SetRecordAt(childSlot, sep)
	}

	if err := t.io.Write(lp); err != nil {
		return false, err
	}
	if err := t.io.Write(child); err != nil {
		return false, err
	}
	return true, t.io.Write(parent)
}

func (t *Tree) mergeWithRight(parent *page.Page, pn *Node, childSlot int, child *page.Page, cn *Node, isLeaf bool) (bool, error) {
	rightSlot := childSlot + 1
	if rightSlot > pn.Count()-1 {
		return false, nil
	}
	rightRid := pn.ChildPtr(rightSlot)
	rp, err := t.io.Fetch(rightRid)
	if err != nil {
		return false, err
	}
	rn := Wrap(rp.Payload(), t.cfg.MaxKeys, t.cfg.Keysize)

	if isLeaf {
		if cn.Count()+rn.Count() > t.cfg.MaxKeys {
			return false, nil
		}
		for i := 0; i < rn.Count(); i++ {
			cn.InsertAt(cn.Count(), rn.RecordAt(i))
		}
		cn.SetRightSibling(rn.RightSibling())
		if rn.RightSibling() != 0 {
			if orp, err := t.io.Fetch(rn.RightSibling()); err == nil {
				orn := Wrap(orp.Payload(), t.cfg.MaxKeys, t.cfg.Keysize)
				orn.SetLeftSibling(child.Rid)
				t.io.Write(orp)
			}
		}
	} else {
		if cn.Count()+1+rn.Count() > t.cfg.MaxKeys {
			return false, nil
		}
		pulled := pn.RecordAt(rightSlot)
		pulled.Rid = rn.PtrLeft()
		cn.InsertAt(cn.Count(), pulled)
		for i := 0; i < rn.Count(); i++ {
			cn.InsertAt(cn.Count(), rn.RecordAt(i))
		}
	}

	if err := t.io.Write(child); err != nil {
		return false, err
	}
	if err := t.io.Free(rightRid); err != nil {
		return false, err
	}
	pn.EraseAt(rightSlot)
	return true, t.io.Write(parent)
}

func (t *Tree) mergeWithLeft(parent *page.Page, pn *Node, childSlot int, child *page.Page, cn *Node, isLeaf bool) (bool, error) {
	leftSlot := childSlot - 1
	if leftSlot < -1 {
		return false, nil
	}
	leftRid := pn.ChildPtr(leftSlot)
	lp, err := t.io.Fetch(leftRid)
	if err != nil {
		return false, err
	}
	ln := Wrap(lp.Payload(), t.cfg.MaxKeys, t.cfg.Keysize)

	if isLeaf {
		if ln.Count()+cn.Count() > t.cfg.MaxKeys {
			return false, nil
		}
		for i := 0; i < cn.Count(); i++ {
			ln.InsertAt(ln.Count(), cn.RecordAt(i))
		}
		ln.SetRightSibling(cn.RightSibling())
		if cn.RightSibling() != 0 {
			if orp, err := t.io.Fetch(cn.RightSibling()); err == nil {
				orn := Wrap(orp.Payload(), t.cfg.MaxKeys, t.cfg.Keysize)
				orn.SetLeftSibling(leftRid)
				t.io.Write(orp)
			}
		}
	} else {
		if ln.Count()+1+cn.Count() > t.cfg.MaxKeys {
			return false, nil
		}
		pulled := pn.RecordAt(childSlot)
		pulled.Rid = cn.PtrLeft()
		ln.InsertAt(ln.Count(), pulled)
		for i := 0; i < cn.Count(); i++ {
			ln.InsertAt(ln.Count(), cn.RecordAt(i))
		}
	}

	if err := t.io.Write(lp); err != nil {
		return false, err
	}
	if err := t.io.Free(child.Rid); err != nil {
		return false, err
	}
	pn.EraseAt(childSlot)
	return true, t.io.Write(parent)
}
