// ABOUTME: On-disk layout of a single freelist page: bitmap of 32-byte chunks plus per-size-class hint stats
// ABOUTME: Free-space tracking generalized from an unrolled pointer list to a bitmap

package freelist

import (
	"encoding/binary"

	"github.com/nainya/kvengine/pkg/page"
)

// ChunkSize is the granularity a single freelist bitmap bit represents.
const ChunkSize = 32

// MinSizeClassBits / MaxSizeClassBits bound the per-size-class statistics:
// log2(size) clamped to [5,16], i.e. chunk sizes from 32 bytes to 64KiB.
const (
	MinSizeClassBits = 5
	MaxSizeClassBits = 16
	NumSizeClasses   = MaxSizeClassBits - MinSizeClassBits + 1
)

// classStatsSize is the on-disk size of one sizeClassStats record:
// count,allocs,fails,hints (u32 x4) + firstFreeOffset,lastAllocOffset (u64 x2) + ema (u32).
const classStatsSize = 4*4 + 8*2 + 4

// flHeaderSize: overflow:u64, maxBits:u16, allocatedBits:u16, startAddress:u64.
const flHeaderSize = 8 + 2 + 2 + 8

const statsAreaSize = NumSizeClasses * classStatsSize

// sizeClass maps a byte size to a stats-array index in [0, NumSizeClasses).
func sizeClass(size int) int {
	bits := MinSizeClassBits
	for (1 << uint(bits)) < size && bits < MaxSizeClassBits {
		bits++
	}
	return bits - MinSizeClassBits
}

// Page wraps a page.Page payload as a freelist page (format v2: bitmap plus
// per-size-class allocation-hint statistics).
type Page struct {
	p   *page.Page
	buf []byte // payload view
}

func Wrap(p *page.Page) *Page {
	return &Page{p: p, buf: p.Payload()}
}

func Init(p *page.Page, startAddress uint64, bitmapBits int) *Page {
	p.SetType(page.TypeFreelist)
	fp := &Page{p: p, buf: p.Payload()}
	fp.SetOverflow(0)
	fp.setMaxBits(uint16(bitmapBits))
	fp.setAllocatedBits(0)
	fp.SetStartAddress(startAddress)
	// zero stats + bitmap (all-zero bitmap means "all allocated" initially).
	for i := flHeaderSize; i < len(fp.buf); i++ {
		fp.buf[i] = 0
	}
	return fp
}

func (fp *Page) Rid() uint64 { return fp.p.Rid }
func (fp *Page) Underlying() *page.Page { return fp.p }

func (fp *Page) Overflow() uint64 { return binary.LittleEndian.Uint64(fp.buf[0:8]) }
func (fp *Page) SetOverflow(rid uint64) {
	binary.LittleEndian.PutUint64(fp.buf[0:8], rid)
	fp.p.SetDirty(fp.p.DirtyTxnID)
}

func (fp *Page) maxBits() uint16  { return binary.LittleEndian.Uint16(fp.buf[8:10]) }
func (fp *Page) setMaxBits(v uint16) { binary.LittleEndian.PutUint16(fp.buf[8:10], v) }

func (fp *Page) allocatedBits() uint16    { return binary.LittleEndian.Uint16(fp.buf[10:12]) }
func (fp *Page) setAllocatedBits(v uint16) { binary.LittleEndian.PutUint16(fp.buf[10:12], v) }

func (fp *Page) StartAddress() uint64 { return binary.LittleEndian.Uint64(fp.buf[12:20]) }
func (fp *Page) SetStartAddress(v uint64) { binary.LittleEndian.PutUint64(fp.buf[12:20], v) }

func (fp *Page) bitmap() []byte { return fp.buf[flHeaderSize+statsAreaSize:] }

// MaxBits is the number of 32-byte chunks this page tracks.
func (fp *Page) MaxBits() int { return int(fp.maxBits()) }

// IsFree reports whether bit i (1 = free) is set.
func (fp *Page) IsFree(i int) bool {
	b := fp.bitmap()
	return b[i/8]&(1<<uint(i%8)) != 0
}

func (fp *Page) setBit(i int, free bool) {
	b := fp.bitmap()
	mask := byte(1 << uint(i%8))
	if free {
		b[i/8] |= mask
	} else {
		b[i/8] &^= mask
	}
}

// MarkRange flips count consecutive bits starting at i to free/allocated,
// maintaining the allocatedBits counter.
func (fp *Page) MarkRange(i, count int, free bool) {
	for j := 0; j < count; j++ {
		wasFree := fp.IsFree(i + j)
		fp.setBit(i+j, free)
		if free && !wasFree {
			fp.setAllocatedBits(fp.allocatedBits() - 1)
		} else if !free && wasFree {
			fp.setAllocatedBits(fp.allocatedBits() + 1)
		}
	}
}

// FindRun scans for `count` consecutive free bits starting at hint (wrapping
// to 0 once), returning the starting bit index or -1.
func (fp *Page) FindRun(count int, hint int) int {
	max := fp.MaxBits()
	if hint < 0 || hint >= max {
		hint = 0
	}
	run := 0
	start := -1
	for pass := 0; pass < 2; pass++ {
		from, to := 0, max
		if pass == 0 {
			from, to = hint, max
		}
		for i := from; i < to; i++ {
			if fp.IsFree(i) {
				if run == 0 {
					start = i
				}
				run++
				if run == count {
					return start
				}
			} else {
				run = 0
				start = -1
			}
		}
		if pass == 0 {
			run = 0
			start = -1
		}
	}
	return -1
}

// classStats returns the byte offset of size class c's stats record.
func (fp *Page) classOffset(c int) int { return flHeaderSize + c*classStatsSize }

func (fp *Page) ClassCount(c int) uint32 {
	return binary.LittleEndian.Uint32(fp.buf[fp.classOffset(c):])
}
func (fp *Page) setClassCount(c int, v uint32) {
	binary.LittleEndian.PutUint32(fp.buf[fp.classOffset(c):], v)
}
func (fp *Page) ClassAllocs(c int) uint32 {
	return binary.LittleEndian.Uint32(fp.buf[fp.classOffset(c)+4:])
}
func (fp *Page) setClassAllocs(c int, v uint32) {
	binary.LittleEndian.PutUint32(fp.buf[fp.classOffset(c)+4:], v)
}
func (fp *Page) ClassFails(c int) uint32 {
	return binary.LittleEndian.Uint32(fp.buf[fp.classOffset(c)+8:])
}
func (fp *Page) setClassFails(c int, v uint32) {
	binary.LittleEndian.PutUint32(fp.buf[fp.classOffset(c)+8:], v)
}
func (fp *Page) ClassHints(c int) uint32 {
	return binary.LittleEndian.Uint32(fp.buf[fp.classOffset(c)+12:])
}
func (fp *Page) setClassHints(c int, v uint32) {
	binary.LittleEndian.PutUint32(fp.buf[fp.classOffset(c)+12:], v)
}
func (fp *Page) ClassFirstFreeOffset(c int) uint64 {
	return binary.LittleEndian.Uint64(fp.buf[fp.classOffset(c)+16:])
}
func (fp *Page) setClassFirstFreeOffset(c int, v uint64) {
	binary.LittleEndian.PutUint64(fp.buf[fp.classOffset(c)+16:], v)
}
func (fp *Page) ClassLastAllocOffset(c int) uint64 {
	return binary.LittleEndian.Uint64(fp.buf[fp.classOffset(c)+24:])
}
func (fp *Page) setClassLastAllocOffset(c int, v uint64) {
	binary.LittleEndian.PutUint64(fp.buf[fp.classOffset(c)+24:], v)
}

// recordHint updates per-size-class statistics after an allocation attempt
// for a request of `size` bytes at bit index `bitIdx` (success) or a miss.
func (fp *Page) recordHint(size int, bitIdx int, success bool) {
	c := sizeClass(size)
	if success {
		fp.setClassCount(c, fp.ClassCount(c)+1)
		fp.setClassAllocs(c, fp.ClassAllocs(c)+1)
		fp.setClassLastAllocOffset(c, fp.StartAddress()+uint64(bitIdx*ChunkSize))
		fp.setClassHints(c, fp.ClassHints(c)+1)
	} else {
		fp.setClassFails(c, fp.ClassFails(c)+1)
	}
}

// HintBit returns the bit index to start searching from for a given size,
// based on this page's last successful allocation in that size class.
func (fp *Page) HintBit(size int) int {
	c := sizeClass(size)
	last := fp.ClassLastAllocOffset(c)
	if last == 0 {
		return 0
	}
	start := fp.StartAddress()
	if last < start {
		return 0
	}
	return int((last - start) / ChunkSize)
}

// PageBytesNeeded computes the payload size required to track a page
// carrying `bitmapBits` bits of bitmap on top of the fixed header+stats area.
func PayloadFor(bitmapBits int) int {
	return flHeaderSize + statsAreaSize + (bitmapBits+7)/8
}

// BitsForPayload inverts PayloadFor: how many bits fit in a payload of this size.
func BitsForPayload(payloadSize int) int {
	avail := payloadSize - flHeaderSize - statsAreaSize
	if avail <= 0 {
		return 0
	}
	return avail * 8
}
