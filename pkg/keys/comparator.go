// ABOUTME: Comparator hooks: prefix-then-full compare, default lexicographic and RECNO comparators
// ABOUTME: Grounded on original_source/src/btree.cc's key_compare_pub_to_int prefix/full split (see DESIGN.md)

package keys

import (
	"bytes"
	"encoding/binary"

	"github.com/nainya/kvengine/pkg/kverrors"
)

// PrefixResult is the outcome of a cheap prefix comparator.
type PrefixResult int

const (
	PrefixLess PrefixResult = iota
	PrefixGreater
	PrefixEqual
	PrefixNeedFullKey
)

// Comparator adapts a Database's key ordering. Prefix is optional (may be
// nil) and, when present, is tried before materializing both full keys;
// returning PrefixNeedFullKey causes the caller to fetch full keys (following
// extended-key RIDs if necessary) and fall back to Full.
type Comparator interface {
	Prefix(a, b []byte) PrefixResult
	Full(a, b []byte) int
}

// Default is plain lexicographic byte comparison, with no prefix shortcut
// (every comparison goes straight to Full — this is itself cheap enough that
// a prefix stage buys nothing for byte-string keys).
type Default struct{}

func (Default) Prefix(a, b []byte) PrefixResult { return PrefixNeedFullKey }
func (Default) Full(a, b []byte) int            { return bytes.Compare(a, b) }

// Recno compares RECNO database keys: persisted as little-endian 8-byte
// values (matching every other on-disk integer in this format), interpreted
// as host u64 for compare.
type Recno struct{}

func (Recno) Prefix(a, b []byte) PrefixResult { return PrefixNeedFullKey }
func (Recno) Full(a, b []byte) int {
	av := recnoValue(a)
	bv := recnoValue(b)
	switch {
	case av < bv:
		return -1
	case av > bv:
		return 1
	default:
		return 0
	}
}

func recnoValue(k []byte) uint64 {
	if len(k) < 8 {
		return 0
	}
	return binary.LittleEndian.Uint64(k[len(k)-8:])
}

func EncodeRecno(n uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, n)
	return buf
}

func DecodeRecno(k []byte) (uint64, error) {
	if len(k) != 8 {
		return 0, kverrors.New(kverrors.InvalidKey, "recno key must be 8 bytes")
	}
	return binary.LittleEndian.Uint64(k), nil
}

// PrefixThenFull runs the prefix-then-full compare protocol §4.7 describes.
func PrefixThenFull(cmp Comparator, a, b []byte) int {
	switch cmp.Prefix(a, b) {
	case PrefixLess:
		return -1
	case PrefixGreater:
		return 1
	case PrefixEqual:
		return 0
	default:
		return cmp.Full(a, b)
	}
}
