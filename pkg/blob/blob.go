// ABOUTME: BLOB store: inline tiny/small/empty encoding plus out-of-line extents with a header
// ABOUTME: BLOB-header layout; allocation routed through Freelist, bytes through the page IO the Environment supplies

package blob

import (
	"encoding/binary"

	"github.com/nainya/kvengine/pkg/freelist"
	"github.com/nainya/kvengine/pkg/kverrors"
	"github.com/nainya/kvengine/pkg/page"
)

// Flag bits describing how a Handle's bytes are represented. These are the
// same bits a Key record's flags field carries, since for tiny/small/empty
// records the Handle *is* the on-node encoding.
type Flag uint8

const (
	FlagNone Flag = 0
	Tiny     Flag = 1 << (iota - 1)
	Small
	Empty
)

// Handle is what callers store in a Key record (or a duplicate-table entry)
// in place of a raw RID: for Tiny/Small/Empty records the record's bytes are
// packed directly into Rid; otherwise Rid is a real out-of-line extent address.
type Handle struct {
	Flags Flag
	Rid   uint64
}

// PartialRange restricts a Read/Overwrite to [Offset, Offset+Size).
type PartialRange struct {
	Offset int
	Size   int
}

// headerSize: self_rid:u64, allocated_size:u64, actual_size:u64, flags:u32.
const headerSize = 8 + 8 + 8 + 4

// IO is the page-level dependency the blob store needs from its host.
type IO interface {
	FetchPage(rid uint64) (*page.Page, error)
	NewPage(typ page.Type, size int) (*page.Page, error)
	WritePage(p *page.Page) error
	// ReadRaw/WriteRaw operate on byte ranges that may span page boundaries
	// (BLOB extents are not necessarily page-aligned internally).
	ReadRaw(offset uint64, size int) ([]byte, error)
	WriteRaw(offset uint64, data []byte) error
}

// Store is the BLOB store for one Environment.
type Store struct {
	io IO
	fl *freelist.Freelist
}

func New(io IO, fl *freelist.Freelist) *Store {
	return &Store{io: io, fl: fl}
}

// Allocate stores record, choosing the cheapest representation.
func (s *Store) Allocate(record []byte) (Handle, error) {
	switch {
	case len(record) == 0:
		return Handle{Flags: Empty}, nil
	case len(record) <= 7:
		var rid uint64
		buf := make([]byte, 8)
		copy(buf, record)
		buf[7] = byte(len(record))
		rid = binary.LittleEndian.Uint64(buf)
		return Handle{Flags: Tiny, Rid: rid}, nil
	case len(record) == 8:
		return Handle{Flags: Small, Rid: binary.LittleEndian.Uint64(record)}, nil
	default:
		return s.allocateOutOfLine(record, nil)
	}
}

func (s *Store) allocateOutOfLine(record []byte, existing *Handle) (Handle, error) {
	total := headerSize + len(record)
	addr, err := s.fl.AllocArea(total, freelist.Hints{})
	if err != nil {
		return Handle{}, err
	}
	h := Handle{Flags: FlagNone, Rid: addr}
	if err := s.writeHeader(addr, addr, uint64(total-headerSize), uint64(len(record)), 0); err != nil {
		return Handle{}, err
	}
	if err := s.io.WriteRaw(addr+headerSize, record); err != nil {
		return Handle{}, err
	}
	return h, nil
}

func (s *Store) writeHeader(at, selfRid, allocatedSize, actualSize uint64, flags uint32) error {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint64(buf[0:8], selfRid)
	binary.LittleEndian.PutUint64(buf[8:16], allocatedSize)
	binary.LittleEndian.PutUint64(buf[16:24], actualSize)
	binary.LittleEndian.PutUint32(buf[24:28], flags)
	return s.io.WriteRaw(at, buf)
}

func (s *Store) readHeader(at uint64) (selfRid, allocatedSize, actualSize uint64, flags uint32, err error) {
	buf, err := s.io.ReadRaw(at, headerSize)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	selfRid = binary.LittleEndian.Uint64(buf[0:8])
	allocatedSize = binary.LittleEndian.Uint64(buf[8:16])
	actualSize = binary.LittleEndian.Uint64(buf[16:24])
	flags = binary.LittleEndian.Uint32(buf[24:28])
	return
}

func decodeTinyLen(rid uint64) int {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, rid)
	return int(buf[7])
}

func decodeTinyBytes(rid uint64) []byte {
	n := decodeTinyLen(rid)
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, rid)
	return buf[:n]
}

// Read returns h's bytes, optionally clipped to a partial window.
func (s *Store) Read(h Handle, partial *PartialRange) ([]byte, error) {
	var full []byte
	switch {
	case h.Flags&Empty != 0:
		full = nil
	case h.Flags&Tiny != 0:
		full = decodeTinyBytes(h.Rid)
	case h.Flags&Small != 0:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, h.Rid)
		full = buf
	default:
		_, _, actualSize, _, err := s.readHeader(h.Rid)
		if err != nil {
			return nil, kverrors.Wrap(kverrors.BlobNotFound, "blob header", err)
		}
		full, err = s.io.ReadRaw(h.Rid+headerSize, int(actualSize))
		if err != nil {
			return nil, err
		}
	}

	if partial == nil {
		return full, nil
	}
	if partial.Offset > len(full) {
		return nil, nil
	}
	end := partial.Offset + partial.Size
	if end > len(full) {
		end = len(full)
	}
	return full[partial.Offset:end], nil
}

// Overwrite replaces h's bytes with record (or a partial window of it),
// reusing the existing allocation when it still fits.
func (s *Store) Overwrite(h Handle, record []byte, partial *PartialRange) (Handle, error) {
	if partial == nil {
		if len(record) <= 7 || len(record) == 8 || (h.Flags&(Tiny|Small|Empty)) != 0 {
			if err := s.Free(h); err != nil {
				return Handle{}, err
			}
			return s.Allocate(record)
		}
		selfRid, allocatedSize, _, flags, err := s.readHeader(h.Rid)
		if err != nil {
			return Handle{}, err
		}
		if uint64(len(record)) <= allocatedSize {
			if err := s.writeHeader(h.Rid, selfRid, allocatedSize, uint64(len(record)), flags); err != nil {
				return Handle{}, err
			}
			if err := s.io.WriteRaw(h.Rid+headerSize, record); err != nil {
				return Handle{}, err
			}
			return h, nil
		}
		if err := s.Free(h); err != nil {
			return Handle{}, err
		}
		return s.allocateOutOfLine(record, nil)
	}

	// Partial overwrite: merge into the existing full record, preserving
	// bytes outside [Offset,Offset+Size) and zero-filling any newly created
	// gap past the previous size.
	existing, err := s.Read(h, nil)
	if err != nil {
		return Handle{}, err
	}
	end := partial.Offset + partial.Size
	merged := existing
	if end > len(merged) {
		grown := make([]byte, end)
		copy(grown, merged)
		merged = grown
	}
	if partial.Offset > len(existing) {
		// gap between old end and new partial window is zero by construction
		// of the grow above.
	}
	copy(merged[partial.Offset:end], record)
	return s.Overwrite(h, merged, nil)
}

// Free returns h's out-of-line extent (if any) to the freelist. Tiny/Small/
// Empty handles own no storage and are a no-op.
func (s *Store) Free(h Handle) error {
	if h.Flags&(Tiny|Small|Empty) != 0 {
		return nil
	}
	if h.Rid == 0 {
		return nil
	}
	_, allocatedSize, _, _, err := s.readHeader(h.Rid)
	if err != nil {
		return err
	}
	return s.fl.MarkFree(h.Rid, headerSize+int(allocatedSize), true)
}
