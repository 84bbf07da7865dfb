// ABOUTME: Per-Environment allocator: walks a chain of freelist pages, extends the device on a full miss
// ABOUTME: Records a per-txn free-sequence horizon (ArmTxnHorizon); allocation does not consult it, so chunks freed within an open txn can be reused before commit

package freelist

import (
	"github.com/nainya/kvengine/pkg/kverrors"
	"github.com/nainya/kvengine/pkg/page"
)

// DAM is the data-access-mode hint, guiding allocation and split strategy.
type DAM int

const (
	DAMRandom DAM = iota
	DAMSequential
	DAMFastInsert
)

// Hints accompany an allocation request.
type Hints struct {
	DAM        DAM
	LowerBound uint64
	Database   uint16
}

// IO is the narrow page-level interface the freelist needs from its host
// Environment: fetch an existing page, allocate a brand new one backed by
// fresh device space, and write a dirtied page back.
type IO interface {
	FetchPage(rid uint64) (*page.Page, error)
	NewPage(typ page.Type, size int) (*page.Page, error)
	ExtendRaw(size int64) (uint64, error)
	WritePage(p *page.Page) error
}

// Freelist manages the chain of freelist pages rooted at Root.
type Freelist struct {
	io       IO
	pagesize int
	root     uint64 // 0 if no freelist page has been created yet

	// txnHorizon is the free-sequence number captured by ArmTxnHorizon.
	// AllocArea does not consult it: chunks freed within the current
	// transaction's window can be handed back out before it commits.
	txnHorizon   uint64
	freeSeq      uint64
	horizonArmed bool
}

func New(io IO, pagesize int, root uint64) *Freelist {
	return &Freelist{io: io, pagesize: pagesize, root: root}
}

func (f *Freelist) Root() uint64 { return f.root }

// ArmTxnHorizon records the current free-sequence number as the transaction
// horizon and marks it armed until DisarmTxnHorizon is called (on commit or
// abort). AllocArea/AllocPage do not check it; chunks marked free after this
// point stay available to them.
func (f *Freelist) ArmTxnHorizon() {
	f.txnHorizon = f.freeSeq
	f.horizonArmed = true
}

func (f *Freelist) DisarmTxnHorizon() {
	f.horizonArmed = false
}

func sizeRoundUp32(n int) int {
	return (n + ChunkSize - 1) / ChunkSize * ChunkSize
}

// AllocArea finds or creates `size` (rounded to 32) contiguous free bytes.
func (f *Freelist) AllocArea(size int, hints Hints) (uint64, error) {
	size = sizeRoundUp32(size)
	count := size / ChunkSize

	rid := f.root
	for rid != 0 {
		p, err := f.io.FetchPage(rid)
		if err != nil {
			return 0, err
		}
		fp := Wrap(p)
		hint := fp.HintBit(size)
		idx := fp.FindRun(count, hint)
		if idx >= 0 {
			addr := fp.StartAddress() + uint64(idx*ChunkSize)
			if addr >= hints.LowerBound {
				fp.MarkRange(idx, count, false)
				fp.recordHint(size, idx, true)
				p.SetDirty(p.DirtyTxnID)
				if err := f.io.WritePage(p); err != nil {
					return 0, err
				}
				return addr, nil
			}
		}
		fp.recordHint(size, 0, false)
		rid = fp.Overflow()
	}

	// Miss across the whole chain: extend the device by exactly `size`
	// bytes. This freshly-extended area is not yet tracked by any freelist
	// page bitmap; it becomes trackable the first time it is freed.
	return f.io.ExtendRaw(int64(size))
}

// AllocPage allocates one page-aligned, page-sized region.
func (f *Freelist) AllocPage(hints Hints) (uint64, error) {
	rid, err := f.AllocArea(f.pagesize, hints)
	if err != nil {
		return 0, err
	}
	return rid, nil
}

// MarkFree returns [rid, rid+size) to the freelist. overwrite asserts the
// area was previously allocated (kept as a documentation-only hint here,
// since the bitmap representation makes "merge adjacent free chunks" free:
// adjacent free bits are already free regardless of how they got that way).
func (f *Freelist) MarkFree(rid uint64, size int, overwrite bool) error {
	size = sizeRoundUp32(size)
	count := size / ChunkSize

	fpRid, bitIdx, err := f.findOrCreateTracking(rid, count)
	if err != nil {
		return err
	}
	p, err := f.io.FetchPage(fpRid)
	if err != nil {
		return err
	}
	fp := Wrap(p)
	fp.MarkRange(bitIdx, count, true)
	p.SetDirty(p.DirtyTxnID)
	if err := f.io.WritePage(p); err != nil {
		return err
	}
	f.freeSeq++
	return nil
}

// findOrCreateTracking locates the freelist page covering rid, creating a
// new chain link (and, if the chain is empty, the root) when no existing
// page covers that address range.
func (f *Freelist) findOrCreateTracking(rid uint64, count int) (fpRid uint64, bitIdx int, err error) {
	cur := f.root
	var lastRid uint64
	for cur != 0 {
		p, ferr := f.io.FetchPage(cur)
		if ferr != nil {
			return 0, 0, ferr
		}
		fp := Wrap(p)
		start := fp.StartAddress()
		end := start + uint64(fp.MaxBits()*ChunkSize)
		if rid >= start && rid < end {
			return cur, int((rid - start) / ChunkSize), nil
		}
		lastRid = cur
		cur = fp.Overflow()
	}

	// No existing page covers this address: create one, covering as many
	// chunks as its bitmap can hold (maxBits is a u16).
	newPage, nerr := f.io.NewPage(page.TypeFreelist, f.pagesize)
	if nerr != nil {
		return 0, 0, nerr
	}
	bitmapBits := BitsForPayload(len(newPage.Payload()))
	if bitmapBits > 0xFFFF {
		bitmapBits = 0xFFFF
	}
	Init(newPage, rid, bitmapBits)
	if werr := f.io.WritePage(newPage); werr != nil {
		return 0, 0, werr
	}

	if f.root == 0 {
		f.root = newPage.Rid
	} else if lastRid != 0 {
		lp, lerr := f.io.FetchPage(lastRid)
		if lerr != nil {
			return 0, 0, lerr
		}
		lfp := Wrap(lp)
		lfp.SetOverflow(newPage.Rid)
		lp.SetDirty(lp.DirtyTxnID)
		if werr := f.io.WritePage(lp); werr != nil {
			return 0, 0, werr
		}
	}

	return newPage.Rid, 0, nil
}

// Total reports the number of chunks currently marked free, for integrity
// checking and tests.
func (f *Freelist) Total() (int, error) {
	total := 0
	rid := f.root
	for rid != 0 {
		p, err := f.io.FetchPage(rid)
		if err != nil {
			return 0, err
		}
		fp := Wrap(p)
		for i := 0; i < fp.MaxBits(); i++ {
			if fp.IsFree(i) {
				total++
			}
		}
		rid = fp.Overflow()
	}
	return total, nil
}

var errUnreachable = kverrors.New(kverrors.InternalError, "unreachable")
