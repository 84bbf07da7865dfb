// ABOUTME: Environment header page: magic/version/pagesize plus the dense array of per-Database index slots
// ABOUTME: Fixed-offset marshal style, laid out to the on-disk byte layout fixed by the format

package env

import (
	"encoding/binary"

	"github.com/nainya/kvengine/pkg/freelist"
	"github.com/nainya/kvengine/pkg/kverrors"
)

var fileMagic = [4]byte{'H', 'A', 'M', 0}

const fileVersion = 1

// headerFixedSize is everything before the dense DB-index-slot array:
// magic(4) + version(4) + serial(4) + pagesize(4) + max_databases(2) +
// dam(4) + file_mode(4) + reserved(8) + freelist_root(8), padded to an
// 8-byte boundary.
const headerFixedSize = 4 + 4 + 4 + 4 + 2 + 4 + 4 + 8 + 8 + 6 // = 48

// dbSlotSize is one DB index slot: dbname(2) + max_keys(2) + keysize(2) +
// reserved(2) + self_rid(8) + flags(4) + recno(8) + reserved(4) = 32 bytes.
const dbSlotSize = 2 + 2 + 2 + 2 + 8 + 4 + 8 + 4

// dbFlag bits packed into a DBIndexSlot's Flags field.
type dbFlag uint32

const (
	dbFlagRecordNumber dbFlag = 1 << iota
	dbFlagDuplicates
)

// DBIndexSlot describes one open Database's identity and B+tree parameters.
// A slot with DBName == 0 is unused.
type DBIndexSlot struct {
	DBName  uint16
	MaxKeys uint16
	Keysize uint16
	SelfRid uint64 // root page of this Database's B+tree, 0 until first insert
	Flags   uint32
	Recno   uint64 // last assigned RECNO value (the next insert uses Recno+1), RECNO databases only
}

func (s DBIndexSlot) recordNumber() bool { return s.Flags&uint32(dbFlagRecordNumber) != 0 }
func (s DBIndexSlot) duplicates() bool   { return s.Flags&uint32(dbFlagDuplicates) != 0 }

func (s DBIndexSlot) encode(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], s.DBName)
	binary.LittleEndian.PutUint16(buf[2:4], s.MaxKeys)
	binary.LittleEndian.PutUint16(buf[4:6], s.Keysize)
	binary.LittleEndian.PutUint64(buf[8:16], s.SelfRid)
	binary.LittleEndian.PutUint32(buf[16:20], s.Flags)
	binary.LittleEndian.PutUint64(buf[20:28], s.Recno)
}

func decodeDBSlot(buf []byte) DBIndexSlot {
	return DBIndexSlot{
		DBName:  binary.LittleEndian.Uint16(buf[0:2]),
		MaxKeys: binary.LittleEndian.Uint16(buf[2:4]),
		Keysize: binary.LittleEndian.Uint16(buf[4:6]),
		SelfRid: binary.LittleEndian.Uint64(buf[8:16]),
		Flags:   binary.LittleEndian.Uint32(buf[16:20]),
		Recno:   binary.LittleEndian.Uint64(buf[20:28]),
	}
}

// Header is the Environment header page's content, unmarshaled.
type Header struct {
	Version      uint32
	Serial       uint32
	Pagesize     uint32
	MaxDatabases uint16
	DAM          freelist.DAM
	FileMode     uint32
	FreelistRoot uint64
	DBs          []DBIndexSlot
}

func newHeader(pagesize uint32, maxDatabases uint16, dam freelist.DAM) Header {
	return Header{
		Version:      fileVersion,
		Pagesize:     pagesize,
		MaxDatabases: maxDatabases,
		DAM:          dam,
		DBs:          make([]DBIndexSlot, maxDatabases),
	}
}

func (h Header) byteSize() int {
	return headerFixedSize + int(h.MaxDatabases)*dbSlotSize
}

// encode marshals h into buf, which must be at least h.byteSize() bytes.
func (h Header) encode(buf []byte) {
	copy(buf[0:4], fileMagic[:])
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint32(buf[8:12], h.Serial)
	binary.LittleEndian.PutUint32(buf[12:16], h.Pagesize)
	binary.LittleEndian.PutUint16(buf[16:18], h.MaxDatabases)
	binary.LittleEndian.PutUint32(buf[18:22], uint32(h.DAM))
	binary.LittleEndian.PutUint32(buf[22:26], h.FileMode)
	binary.LittleEndian.PutUint64(buf[34:42], h.FreelistRoot)
	off := headerFixedSize
	for _, slot := range h.DBs {
		slot.encode(buf[off : off+dbSlotSize])
		off += dbSlotSize
	}
}

// decodeHeader unmarshals a header page, validating the magic and version.
func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < headerFixedSize {
		return Header{}, kverrors.New(kverrors.InvalidFileHeader, "header page too small")
	}
	if string(buf[0:3]) != "HAM" {
		return Header{}, kverrors.New(kverrors.InvalidFileHeader, "bad magic")
	}
	h := Header{
		Version:      binary.LittleEndian.Uint32(buf[4:8]),
		Serial:       binary.LittleEndian.Uint32(buf[8:12]),
		Pagesize:     binary.LittleEndian.Uint32(buf[12:16]),
		MaxDatabases: binary.LittleEndian.Uint16(buf[16:18]),
		DAM:          freelist.DAM(binary.LittleEndian.Uint32(buf[18:22])),
		FileMode:     binary.LittleEndian.Uint32(buf[22:26]),
		FreelistRoot: binary.LittleEndian.Uint64(buf[34:42]),
	}
	if h.Version != fileVersion {
		return Header{}, kverrors.New(kverrors.InvalidFileVersion, "unsupported header version")
	}
	need := headerFixedSize + int(h.MaxDatabases)*dbSlotSize
	if len(buf) < need {
		return Header{}, kverrors.New(kverrors.InvalidFileHeader, "header page truncated")
	}
	h.DBs = make([]DBIndexSlot, h.MaxDatabases)
	off := headerFixedSize
	for i := range h.DBs {
		h.DBs[i] = decodeDBSlot(buf[off : off+dbSlotSize])
		off += dbSlotSize
	}
	return h, nil
}

// findSlot returns the index of name's slot, or -1.
func (h Header) findSlot(name uint16) int {
	for i, s := range h.DBs {
		if s.DBName == name {
			return i
		}
	}
	return -1
}

// firstFreeSlot returns the index of an unused slot, or -1 if the
// Environment has reached MaxDatabases.
func (h Header) firstFreeSlot() int {
	return h.findSlot(0)
}
