// ABOUTME: Write-ahead log entry: physical before-image records plus txn boundary/checkpoint markers
// ABOUTME: Header+CRC32 framing; PageBeforeImage entries carry a page address plus its pre-mutation bytes

package wal

import (
	"encoding/binary"
	"hash/crc32"
)

// EntryType tags what kind of log record this is.
type EntryType uint32

const (
	TxnBegin        EntryType = 1
	TxnCommit       EntryType = 2
	TxnAbort        EntryType = 3
	PageBeforeImage EntryType = 4
	Checkpoint      EntryType = 5
)

// EntryHeaderSize: lsn:u64, txn_id:u64, flags(entry type):u32, data_size:u32.
const EntryHeaderSize = 8 + 8 + 4 + 4

// Entry is one physical log record. For PageBeforeImage, Data is
// [rid:u64][pagesize bytes of before-image]; for the other types Data is empty.
type Entry struct {
	LSN   uint64
	TxnID uint64
	Type  EntryType
	Data  []byte
}

// Encode serializes the entry as [header][data][crc32].
func (e *Entry) Encode() []byte {
	total := EntryHeaderSize + len(e.Data) + 4
	buf := make([]byte, total)
	binary.LittleEndian.PutUint64(buf[0:8], e.LSN)
	binary.LittleEndian.PutUint64(buf[8:16], e.TxnID)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(e.Type))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(len(e.Data)))
	copy(buf[EntryHeaderSize:], e.Data)
	crc := crc32.ChecksumIEEE(buf[:EntryHeaderSize+len(e.Data)])
	binary.LittleEndian.PutUint32(buf[total-4:], crc)
	return buf
}

// DecodeEntry reads one entry out of data (which must hold at least a full
// record); returns the entry and the number of bytes consumed.
func DecodeEntry(data []byte) (*Entry, int, error) {
	if len(data) < EntryHeaderSize+4 {
		return nil, 0, ErrTruncated
	}
	dataSize := int(binary.LittleEndian.Uint32(data[20:24]))
	total := EntryHeaderSize + dataSize + 4
	if len(data) < total {
		return nil, 0, ErrTruncated
	}
	crc := binary.LittleEndian.Uint32(data[total-4 : total])
	if crc32.ChecksumIEEE(data[:total-4]) != crc {
		return nil, 0, ErrCorrupted
	}
	e := &Entry{
		LSN:   binary.LittleEndian.Uint64(data[0:8]),
		TxnID: binary.LittleEndian.Uint64(data[8:16]),
		Type:  EntryType(binary.LittleEndian.Uint32(data[16:20])),
	}
	if dataSize > 0 {
		e.Data = append([]byte(nil), data[EntryHeaderSize:EntryHeaderSize+dataSize]...)
	}
	return e, total, nil
}

// PageRid extracts the page address from a PageBeforeImage entry's Data.
func (e *Entry) PageRid() uint64 {
	if len(e.Data) < 8 {
		return 0
	}
	return binary.LittleEndian.Uint64(e.Data[0:8])
}

// PageImage extracts the before-image bytes from a PageBeforeImage entry's Data.
func (e *Entry) PageImage() []byte {
	if len(e.Data) < 8 {
		return nil
	}
	return e.Data[8:]
}

// NewBeforeImageEntry builds a PageBeforeImage entry's Data from a rid and
// the page's pre-mutation bytes.
func NewBeforeImageEntry(lsn, txnID, rid uint64, before []byte) *Entry {
	data := make([]byte, 8+len(before))
	binary.LittleEndian.PutUint64(data[0:8], rid)
	copy(data[8:], before)
	return &Entry{LSN: lsn, TxnID: txnID, Type: PageBeforeImage, Data: data}
}
