// ABOUTME: Page is the fixed-size unit of I/O and caching
// ABOUTME: Carries a small in-memory header plus a typed persistent payload

package page

import "encoding/binary"

// Type identifies the persisted kind of a page, stored in the page's flags
// field. The header page (address 0) uses TypeHeader; pages continuing a
// multi-page BLOB carry no on-disk header at all (a non-persistent marker,
// TypeBlobContinuation, is used only in memory).
type Type uint32

const (
	TypeHeader Type = 1 << iota
	TypeBRoot
	TypeBIndex
	TypeFreelist
	TypeBlob
	TypeDupeTable
	TypeExtKey
	TypeRecordData
	TypeBlobContinuation // in-memory only, never persisted
)

// HeaderSize is the size of the on-disk page header: flags:u32, reserved:u64.
const HeaderSize = 12

// Page is a cached, fixed-size unit of storage. Buf always has length
// exactly Pagesize and Buf[0:HeaderSize] is the persisted header.
type Page struct {
	Rid uint64
	Buf []byte
	Typ Type

	OwnerDB uint16

	Dirty      bool
	DirtyTxnID uint64

	BeforeImgLSN uint64

	RefCount int32

	CacheCounter uint64
	HitFrequency uint32

	// InsertEMA / ChiSq hint B+tree split points: an exponential moving
	// average of the relative insert offset within the node (fixed point,
	// range [-1,+1] mapped onto int16), and a chi-square-like accumulator
	// of deviations from it. Both updated on every insert/erase of a leaf.
	InsertEMA int16
	ChiSq     uint32
}

// New allocates a fresh page buffer of the given size, with typ already
// written into the persisted header.
func New(rid uint64, size int, typ Type) *Page {
	p := &Page{Rid: rid, Buf: make([]byte, size), Typ: typ}
	p.writeHeader()
	return p
}

// Wrap adapts an existing page-sized buffer (e.g. just read from a Device)
// into a Page, reading its type back out of the persisted header.
func Wrap(rid uint64, buf []byte) *Page {
	p := &Page{Rid: rid, Buf: buf}
	p.Typ = Type(binary.LittleEndian.Uint32(buf[0:4]))
	return p
}

func (p *Page) writeHeader() {
	binary.LittleEndian.PutUint32(p.Buf[0:4], uint32(p.Typ))
	binary.LittleEndian.PutUint64(p.Buf[4:12], 0)
}

// Payload returns the portion of the buffer after the page header.
func (p *Page) Payload() []byte { return p.Buf[HeaderSize:] }

// SetType updates both the in-memory and persisted type tag.
func (p *Page) SetType(t Type) {
	p.Typ = t
	binary.LittleEndian.PutUint32(p.Buf[0:4], uint32(t))
}

// SetDirty records env's current transaction id as the page's dirty owner.
// Idempotent within a txn span: BeforeImgLSN is only meaningful the first
// time a txn dirties a page (callers check it before logging a before-image).
func (p *Page) SetDirty(txnID uint64) {
	p.Dirty = true
	p.DirtyTxnID = txnID
}

func (p *Page) ClearDirty() {
	p.Dirty = false
	p.DirtyTxnID = 0
}

func (p *Page) Pin()   { p.RefCount++ }
func (p *Page) Unpin() { p.RefCount-- }
func (p *Page) Pinned() bool { return p.RefCount > 0 }

// Touch bumps the cache statistics used for hit-frequency-weighted eviction.
func (p *Page) Touch(counter uint64) {
	p.CacheCounter = counter
	p.HitFrequency++
}

// UpdateSplitHint folds a new relative insert offset (in [-1,+1]) into the
// EMA and chi-square accumulator used to pick B+tree split points.
func (p *Page) UpdateSplitHint(relOffset float64) {
	const alpha = 0.25
	cur := float64(p.InsertEMA) / float64(1<<14)
	next := alpha*relOffset + (1-alpha)*cur
	p.InsertEMA = int16(next * float64(1<<14))

	dev := relOffset - cur
	p.ChiSq += uint32(dev * dev * float64(1<<14))
}

// SplitBias returns the recommended split fraction in [0,1]: 0.5 when the
// chi-square accumulator indicates the EMA is unreliable (too few samples or
// too scattered), pulled toward the recent insert cluster otherwise.
func (p *Page) SplitBias() float64 {
	const reliabilityThreshold = 1 << 10
	if p.ChiSq > reliabilityThreshold {
		return 0.5
	}
	ema := float64(p.InsertEMA) / float64(1<<14)
	bias := 0.5 + ema/2
	if bias < 0.1 {
		bias = 0.1
	}
	if bias > 0.9 {
		bias = 0.9
	}
	return bias
}
