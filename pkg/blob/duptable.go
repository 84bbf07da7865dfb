// ABOUTME: Duplicate-record tables: a BLOB of {count,capacity,entries[]} with capacity doubling
// ABOUTME: Entries carry the same tiny/small/empty/out-of-line tagging as ordinary Handles

package blob

import (
	"encoding/binary"

	"github.com/nainya/kvengine/pkg/kverrors"
)

// DupeFlag selects placement when inserting into a duplicate table.
type DupeFlag int

const (
	DupeInsertLast DupeFlag = iota
	DupeInsertFirst
	DupeInsertBefore
	DupeInsertAfter
)

// EraseFlag selects whether Erase removes one entry or the whole table.
type EraseFlag int

const (
	EraseOne EraseFlag = iota
	EraseAll
)

const dupeEntrySize = 7 + 1 + 8 // pad[7], flags:u8, rid_or_inline:u64

func entryOffset(i int) int { return 8 + i*dupeEntrySize }

func encodeEntry(h Handle) []byte {
	buf := make([]byte, dupeEntrySize)
	buf[7] = byte(h.Flags)
	binary.LittleEndian.PutUint64(buf[8:16], h.Rid)
	return buf
}

func decodeEntry(buf []byte) Handle {
	return Handle{Flags: Flag(buf[7]), Rid: binary.LittleEndian.Uint64(buf[8:16])}
}

func readTable(buf []byte) (count, capacity uint32) {
	count = binary.LittleEndian.Uint32(buf[0:4])
	capacity = binary.LittleEndian.Uint32(buf[4:8])
	return
}

func writeTableHeader(buf []byte, count, capacity uint32) {
	binary.LittleEndian.PutUint32(buf[0:4], count)
	binary.LittleEndian.PutUint32(buf[4:8], capacity)
}

func newTableBytes(capacity uint32) []byte {
	buf := make([]byte, 8+int(capacity)*dupeEntrySize)
	writeTableHeader(buf, 0, capacity)
	return buf
}

// DupeInsert inserts one entry into the duplicate table at tableRid (or
// creates a fresh 2-entry table if tableRid is zero, seeded with `seed`),
// growing the table by capacity doubling when full. Returns the table's
// (possibly new, since overwrite may relocate it) Handle and the index the
// new entry landed at.
func (s *Store) DupeInsert(tableHandle Handle, seed *Handle, h Handle, pos int, flag DupeFlag) (Handle, int, error) {
	var buf []byte
	var err error

	if tableHandle.Rid == 0 {
		buf = newTableBytes(2)
		writeTableHeader(buf, 1, 2)
		copy(buf[entryOffset(0):], encodeEntry(*seed))
	} else {
		buf, err = s.Read(tableHandle, nil)
		if err != nil {
			return Handle{}, 0, err
		}
	}

	count, capacity := readTable(buf)
	if count >= capacity {
		capacity *= 2
		grown := make([]byte, 8+int(capacity)*dupeEntrySize)
		copy(grown, buf)
		writeTableHeader(grown, count, capacity)
		buf = grown
	}

	insertAt := int(count)
	switch flag {
	case DupeInsertFirst:
		insertAt = 0
	case DupeInsertBefore:
		insertAt = pos
	case DupeInsertAfter:
		insertAt = pos + 1
	}
	if insertAt > int(count) {
		insertAt = int(count)
	}

	// shift entries [insertAt, count) right by one
	for i := int(count); i > insertAt; i-- {
		copy(buf[entryOffset(i):entryOffset(i)+dupeEntrySize], buf[entryOffset(i-1):entryOffset(i-1)+dupeEntrySize])
	}
	copy(buf[entryOffset(insertAt):], encodeEntry(h))
	writeTableHeader(buf, count+1, capacity)

	newHandle, err := s.writeTable(tableHandle, buf)
	if err != nil {
		return Handle{}, 0, err
	}
	return newHandle, insertAt, nil
}

func (s *Store) writeTable(existing Handle, buf []byte) (Handle, error) {
	if existing.Rid == 0 {
		return s.allocateOutOfLine(buf, nil)
	}
	return s.Overwrite(existing, buf, nil)
}

// DupeErase removes one entry (or the whole table with EraseAll).
func (s *Store) DupeErase(tableHandle Handle, pos int, flag EraseFlag) (Handle, error) {
	if flag == EraseAll {
		if err := s.freeTableEntries(tableHandle); err != nil {
			return Handle{}, err
		}
		return Handle{}, s.Free(tableHandle)
	}

	buf, err := s.Read(tableHandle, nil)
	if err != nil {
		return Handle{}, err
	}
	count, capacity := readTable(buf)
	if pos < 0 || uint32(pos) >= count {
		return Handle{}, kverrors.New(kverrors.InvalidParameter, "duplicate position out of range")
	}
	freed := decodeEntry(buf[entryOffset(pos):])
	if err := s.Free(freed); err != nil {
		return Handle{}, err
	}
	for i := pos; i < int(count)-1; i++ {
		copy(buf[entryOffset(i):entryOffset(i)+dupeEntrySize], buf[entryOffset(i+1):entryOffset(i+1)+dupeEntrySize])
	}
	writeTableHeader(buf, count-1, capacity)

	if count-1 == 0 {
		return Handle{}, s.Free(tableHandle)
	}
	return s.writeTable(tableHandle, buf)
}

func (s *Store) freeTableEntries(tableHandle Handle) error {
	buf, err := s.Read(tableHandle, nil)
	if err != nil {
		return err
	}
	count, _ := readTable(buf)
	for i := 0; i < int(count); i++ {
		if err := s.Free(decodeEntry(buf[entryOffset(i):])); err != nil {
			return err
		}
	}
	return nil
}

// DupeGet returns the entry at position pos.
func (s *Store) DupeGet(tableHandle Handle, pos int) (Handle, error) {
	buf, err := s.Read(tableHandle, nil)
	if err != nil {
		return Handle{}, err
	}
	count, _ := readTable(buf)
	if pos < 0 || uint32(pos) >= count {
		return Handle{}, kverrors.New(kverrors.KeyNotFound, "duplicate position out of range")
	}
	return decodeEntry(buf[entryOffset(pos):]), nil
}

// DupeCount returns the number of live entries in the table.
func (s *Store) DupeCount(tableHandle Handle) (int, error) {
	buf, err := s.Read(tableHandle, nil)
	if err != nil {
		return 0, err
	}
	count, _ := readTable(buf)
	return int(count), nil
}

// DupeGetTable returns every live entry, in table (insertion/placement) order.
func (s *Store) DupeGetTable(tableHandle Handle) ([]Handle, error) {
	buf, err := s.Read(tableHandle, nil)
	if err != nil {
		return nil, err
	}
	count, _ := readTable(buf)
	out := make([]Handle, count)
	for i := range out {
		out[i] = decodeEntry(buf[entryOffset(i):])
	}
	return out, nil
}
