// ABOUTME: check_integrity: structural validation of node ordering, separators, count bounds, and node page types
// ABOUTME: Grounded on original_source/src/btree.cc's btree_check_integrity (see DESIGN.md)

package btree

import (
	"fmt"

	"github.com/nainya/kvengine/pkg/kverrors"
	"github.com/nainya/kvengine/pkg/page"
)

// CheckIntegrity walks the whole tree validating key ordering within each
// node, count bounds, that each separator equals its child's first key, and
// that every node page carries the BRoot/BIndex type flag expected for its
// position. Sibling links and non-node pages (freelist, BLOB, dupe-table,
// extkey) are not checked. It does not mutate anything.
func (t *Tree) CheckIntegrity() error {
	if t.root == 0 {
		return nil
	}
	_, _, err := t.checkNode(t.root, true)
	return err
}

// checkNode returns the node's first and last materialized keys (for the
// caller to verify ordering against neighboring subtrees).
func (t *Tree) checkNode(rid uint64, isRoot bool) ([]byte, []byte, error) {
	p, err := t.io.Fetch(rid)
	if err != nil {
		return nil, nil, err
	}
	wantType := page.TypeBIndex
	if isRoot {
		wantType = page.TypeBRoot
	}
	if p.Typ != wantType {
		return nil, nil, kverrors.New(kverrors.IntegrityViolated, fmt.Sprintf("node %d has page type %d, want %d", rid, p.Typ, wantType))
	}
	n := Wrap(p.Payload(), t.cfg.MaxKeys, t.cfg.Keysize)

	if !isRoot && n.Count() < t.underflowThreshold() {
		return nil, nil, kverrors.New(kverrors.IntegrityViolated, fmt.Sprintf("node %d underflowed: %d keys", rid, n.Count()))
	}
	if n.Count() > t.cfg.MaxKeys {
		return nil, nil, kverrors.New(kverrors.IntegrityViolated, fmt.Sprintf("node %d overflowed: %d keys", rid, n.Count()))
	}

	var prevKey []byte
	var firstKey, lastKey []byte
	for i := 0; i < n.Count(); i++ {
		k, err := t.materialize(n.RecordAt(i))
		if err != nil {
			return nil, nil, err
		}
		if i == 0 {
			firstKey = k
		}
		lastKey = k
		if prevKey != nil && t.compare(prevKey, k) >= 0 {
			return nil, nil, kverrors.New(kverrors.IntegrityViolated, fmt.Sprintf("node %d keys out of order at slot %d", rid, i))
		}
		prevKey = k

		if n.IsInternal() {
			childFirst, _, err := t.checkNode(n.RecordAt(i).Rid, false)
			if err != nil {
				return nil, nil, err
			}
			if t.compare(childFirst, k) != 0 {
				return nil, nil, kverrors.New(kverrors.IntegrityViolated, fmt.Sprintf("node %d separator %d does not match child's first key", rid, i))
			}
		}
	}
	if n.IsInternal() {
		if _, _, err := t.checkNode(n.PtrLeft(), false); err != nil {
			return nil, nil, err
		}
	}
	return firstKey, lastKey, nil
}
