// ABOUTME: Per-transaction op-tree: an ordered map of user key to the list of operations issued against it, in issue order
// ABOUTME: New package (no direct teacher analog); ordering is keyed through the Database's own comparator so lookups agree with the B+tree's notion of key order

package txn

import (
	"github.com/nainya/kvengine/pkg/keys"
)

// OpKind is the kind of operation recorded against a key within a txn.
type OpKind int

const (
	OpInsert OpKind = iota
	OpErase
)

// Op is one operation issued against a key, in the order it was issued.
type Op struct {
	Kind   OpKind
	Record []byte
	Flag   keys.SetFlag
	DupeID int
}

// node is one key's entry in the op-tree: the key bytes and its ops in
// issue order.
type node struct {
	key []byte
	ops []Op
}

// OpTree is a transaction's private view of pending mutations, ordered by
// key so a cursor walking the transaction can merge it with the committed
// tree in key order.
type OpTree struct {
	cmp   keys.Comparator
	nodes []*node // kept sorted by cmp; small txns don't need a real tree
}

func New(cmp keys.Comparator) *OpTree {
	return &OpTree{cmp: cmp}
}

func (t *OpTree) find(key []byte) (int, bool) {
	lo, hi := 0, len(t.nodes)
	for lo < hi {
		mid := (lo + hi) / 2
		c := keys.PrefixThenFull(t.cmp, t.nodes[mid].key, key)
		if c < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(t.nodes) && keys.PrefixThenFull(t.cmp, t.nodes[lo].key, key) == 0 {
		return lo, true
	}
	return lo, false
}

// Record appends an operation for key, creating its node on first use.
func (t *OpTree) Record(key []byte, op Op) {
	idx, found := t.find(key)
	if found {
		t.nodes[idx].ops = append(t.nodes[idx].ops, op)
		return
	}
	n := &node{key: append([]byte(nil), key...), ops: []Op{op}}
	t.nodes = append(t.nodes, nil)
	copy(t.nodes[idx+1:], t.nodes[idx:])
	t.nodes[idx] = n
}

// Ops returns the recorded ops for key, in issue order, and whether the key
// has any.
func (t *OpTree) Ops(key []byte) ([]Op, bool) {
	idx, found := t.find(key)
	if !found {
		return nil, false
	}
	return t.nodes[idx].ops, true
}

// Keys returns every key touched by this transaction, in ascending order.
func (t *OpTree) Keys() [][]byte {
	out := make([][]byte, len(t.nodes))
	for i, n := range t.nodes {
		out[i] = n.key
	}
	return out
}

// Len reports how many distinct keys this transaction has touched.
func (t *OpTree) Len() int { return len(t.nodes) }
