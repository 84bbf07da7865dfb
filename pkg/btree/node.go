// ABOUTME: B+tree node layout: header + fast-index indirection array + fixed-width key records
// ABOUTME: Fixed-slot BNode with sibling pointers, a fast-index array, and the engine's Key record format

package btree

import (
	"encoding/binary"

	"github.com/nainya/kvengine/pkg/keys"
)

const (
	flagLeaf     uint16 = 1
	flagInternal uint16 = 2
)

// headerSize: ptr_left:u64, count:u16, flags:u16, reserved:u32, left_sibling:u64, right_sibling:u64.
const headerSize = 8 + 2 + 2 + 4 + 8 + 8

// Node is a view over one B+tree page's payload. Layout:
//
//	[0:headerSize)                         header
//	[headerSize : headerSize+2*maxKeys)    fast-index: slot -> physical position (u16)
//	[.. : ..+maxKeys*recordSize)           key-record arena, indexed by physical position
//
// The fast-index means insert/erase at an arbitrary slot costs one u16
// memmove instead of moving whole key records; lookups pay one extra
// indirection per compared key.
type Node struct {
	buf     []byte
	maxKeys int
	keysize int
}

func recordSize(keysize int) int  { return keys.RecordSize(keysize) }
func fastIndexOffset() int        { return headerSize }
func arenaOffset(maxKeys int) int { return headerSize + 2*maxKeys }

// Wrap adapts a page payload buffer as a Node with the given tree parameters.
func Wrap(buf []byte, maxKeys, keysize int) *Node {
	return &Node{buf: buf, maxKeys: maxKeys, keysize: keysize}
}

// InitLeaf / InitInternal zero a fresh node and set its type.
func InitLeaf(buf []byte, maxKeys, keysize int) *Node {
	n := &Node{buf: buf, maxKeys: maxKeys, keysize: keysize}
	n.setFlags(flagLeaf)
	n.SetCount(0)
	n.SetPtrLeft(0)
	n.SetLeftSibling(0)
	n.SetRightSibling(0)
	return n
}

func InitInternal(buf []byte, maxKeys, keysize int) *Node {
	n := &Node{buf: buf, maxKeys: maxKeys, keysize: keysize}
	n.setFlags(flagInternal)
	n.SetCount(0)
	n.SetPtrLeft(0)
	n.SetLeftSibling(0)
	n.SetRightSibling(0)
	return n
}

func (n *Node) PtrLeft() uint64      { return binary.LittleEndian.Uint64(n.buf[0:8]) }
func (n *Node) SetPtrLeft(v uint64)  { binary.LittleEndian.PutUint64(n.buf[0:8], v) }
func (n *Node) Count() int           { return int(binary.LittleEndian.Uint16(n.buf[8:10])) }
func (n *Node) SetCount(v int)       { binary.LittleEndian.PutUint16(n.buf[8:10], uint16(v)) }
func (n *Node) flags() uint16        { return binary.LittleEndian.Uint16(n.buf[10:12]) }
func (n *Node) setFlags(v uint16)    { binary.LittleEndian.PutUint16(n.buf[10:12], v) }
func (n *Node) IsLeaf() bool         { return n.flags()&flagLeaf != 0 }
func (n *Node) IsInternal() bool     { return n.flags()&flagInternal != 0 }

func (n *Node) LeftSibling() uint64     { return binary.LittleEndian.Uint64(n.buf[16:24]) }
func (n *Node) SetLeftSibling(v uint64) { binary.LittleEndian.PutUint64(n.buf[16:24], v) }
func (n *Node) RightSibling() uint64    { return binary.LittleEndian.Uint64(n.buf[24:32]) }
func (n *Node) SetRightSibling(v uint64) { binary.LittleEndian.PutUint64(n.buf[24:32], v) }

// fast index: slot -> physical position in the arena.

func (n *Node) slotPos(slot int) int {
	off := fastIndexOffset() + slot*2
	return int(binary.LittleEndian.Uint16(n.buf[off : off+2]))
}

func (n *Node) setSlotPos(slot, pos int) {
	off := fastIndexOffset() + slot*2
	binary.LittleEndian.PutUint16(n.buf[off:off+2], uint16(pos))
}

func (n *Node) recordBytes(physPos int) []byte {
	rs := recordSize(n.keysize)
	off := arenaOffset(n.maxKeys) + physPos*rs
	return n.buf[off : off+rs]
}

// RecordAt decodes the key record at logical slot `slot` (0 <= slot < Count()).
func (n *Node) RecordAt(slot int) keys.Record {
	return keys.Decode(n.recordBytes(n.slotPos(slot)))
}

// SetRecordAt overwrites the key record physically stored at logical slot.
func (n *Node) SetRecordAt(slot int, r keys.Record) {
	r.Encode(n.recordBytes(n.slotPos(slot)))
}

// usedPhysSlots reports which physical arena slots are referenced by the
// fast index, for picking a destination when inserting a brand-new record.
func (n *Node) usedPhysSlots() []bool {
	used := make([]bool, n.maxKeys)
	for s := 0; s < n.Count(); s++ {
		used[n.slotPos(s)] = true
	}
	return used
}

func (n *Node) firstFreePhys() int {
	used := n.usedPhysSlots()
	for i, u := range used {
		if !u {
			return i
		}
	}
	return -1
}

// InsertAt inserts r as the new logical slot `at`, shifting the fast-index
// array (not the key-record bytes themselves) to make room.
func (n *Node) InsertAt(at int, r keys.Record) {
	phys := n.firstFreePhys()
	count := n.Count()
	for s := count; s > at; s-- {
		n.setSlotPos(s, n.slotPos(s-1))
	}
	n.setSlotPos(at, phys)
	n.SetCount(count + 1)
	n.SetRecordAt(at, r)
}

// EraseAt removes logical slot `at`, shifting the fast-index array down.
func (n *Node) EraseAt(at int) {
	count := n.Count()
	for s := at; s < count-1; s++ {
		n.setSlotPos(s, n.slotPos(s+1))
	}
	n.SetCount(count - 1)
}

// ChildPtr returns the child page pointer associated with internal-node slot
// `slot` (slot -1 means ptr_left, the leftmost child).
func (n *Node) ChildPtr(slot int) uint64 {
	if slot < 0 {
		return n.PtrLeft()
	}
	return n.RecordAt(slot).Rid
}

func (n *Node) SetChildPtr(slot int, rid uint64) {
	if slot < 0 {
		n.SetPtrLeft(rid)
		return
	}
	r := n.RecordAt(slot)
	r.Rid = rid
	n.SetRecordAt(slot, r)
}

// MaxKeys / Keysize expose the tree parameters this node was wrapped with.
func (n *Node) MaxKeys() int { return n.maxKeys }
func (n *Node) Keysize() int { return n.keysize }

// RequiredPayloadSize computes the payload bytes one node needs to hold
// maxKeys records with the fast-index array, for sizing pages at open time.
func RequiredPayloadSize(maxKeys, keysize int) int {
	return arenaOffset(maxKeys) + maxKeys*recordSize(keysize)
}

// MaxKeysForPayload computes the largest maxKeys that fits in a page of the
// given payload size with the given keysize (inverse of RequiredPayloadSize).
func MaxKeysForPayload(payloadSize, keysize int) int {
	rs := recordSize(keysize)
	avail := payloadSize - headerSize
	if avail <= 0 {
		return 0
	}
	return avail / (2 + rs)
}
