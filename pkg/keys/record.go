// ABOUTME: On-node Key record: {rid, keysize, flags, inline_bytes} plus the blob/dupe/extkey glue that set_record/erase_record need
// ABOUTME: Fixed-width node records, extended with extended-key and duplicate flags

package keys

import (
	"encoding/binary"

	"github.com/nainya/kvengine/pkg/blob"
	"github.com/nainya/kvengine/pkg/extkey"
	"github.com/nainya/kvengine/pkg/kverrors"
)

// Flag bits carried by a Key record.
type Flag uint8

const (
	FlagTiny Flag = 1 << iota
	FlagSmall
	FlagEmpty
	FlagExtended
	FlagHasDuplicates
)

// RecordSize returns the fixed on-disk size of a Key record for a given
// configured inline keysize: rid:u64 + keysize:u16 + flags:u8 + reserved:u8 + inline_bytes.
func RecordSize(keysize int) int { return 8 + 2 + 1 + 1 + keysize }

// Record is the decoded view of one on-node key record.
type Record struct {
	Rid     uint64
	KeySize uint16
	Flags   Flag
	Inline  []byte // length == configured keysize
}

// Encode writes r into buf (len(buf) must equal RecordSize(len(r.Inline))).
func (r Record) Encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], r.Rid)
	binary.LittleEndian.PutUint16(buf[8:10], r.KeySize)
	buf[10] = byte(r.Flags)
	buf[11] = 0
	copy(buf[12:], r.Inline)
}

// Decode reads a Record out of buf (len(buf) == RecordSize(keysize)).
func Decode(buf []byte) Record {
	inline := make([]byte, len(buf)-12)
	copy(inline, buf[12:])
	return Record{
		Rid:     binary.LittleEndian.Uint64(buf[0:8]),
		KeySize: binary.LittleEndian.Uint16(buf[8:10]),
		Flags:   Flag(buf[10]),
		Inline:  inline,
	}
}

// BlobHandle views a Record's rid/flags as a blob.Handle (valid when the
// record is not HasDuplicates and not Extended).
func (r Record) BlobHandle() blob.Handle {
	var f blob.Flag
	if r.Flags&FlagTiny != 0 {
		f |= blob.Tiny
	}
	if r.Flags&FlagSmall != 0 {
		f |= blob.Small
	}
	if r.Flags&FlagEmpty != 0 {
		f |= blob.Empty
	}
	return blob.Handle{Flags: f, Rid: r.Rid}
}

func fromBlobHandle(h blob.Handle, keysize int, inline []byte) Record {
	var f Flag
	if h.Flags&blob.Tiny != 0 {
		f |= FlagTiny
	}
	if h.Flags&blob.Small != 0 {
		f |= FlagSmall
	}
	if h.Flags&blob.Empty != 0 {
		f |= FlagEmpty
	}
	return Record{Rid: h.Rid, KeySize: uint16(len(inline)), Flags: f, Inline: append([]byte(nil), inline...)}
}

// MaterializeKey resolves a record's logical key bytes: the inline prefix
// directly, or the full key fetched (and cached) from the extended-key store
// when FlagExtended is set.
func MaterializeKey(r Record, ext *extkey.Store, dbID uint16) ([]byte, error) {
	if r.Flags&FlagExtended == 0 {
		return r.Inline[:r.KeySize], nil
	}
	if len(r.Inline) < 8 {
		return nil, kverrors.New(kverrors.InternalError, "extended key slot too small")
	}
	rid := binary.LittleEndian.Uint64(r.Inline[len(r.Inline)-8:])
	return ext.GetExtended(dbID, rid)
}

// MakeKeyRecord builds the on-node Record for a (possibly oversized) user
// key, storing the overflow via ext when it exceeds keysize.
func MakeKeyRecord(userKey []byte, keysize int, ext *extkey.Store, dbID uint16) (Record, error) {
	if len(userKey) <= keysize {
		inline := make([]byte, keysize)
		copy(inline, userKey)
		return Record{KeySize: uint16(len(userKey)), Inline: inline}, nil
	}
	rid, err := ext.StoreExtended(dbID, userKey)
	if err != nil {
		return Record{}, err
	}
	inline := make([]byte, keysize)
	copy(inline, userKey[:keysize-8])
	binary.LittleEndian.PutUint64(inline[keysize-8:], rid)
	return Record{KeySize: uint16(len(userKey)), Flags: FlagExtended, Inline: inline}, nil
}
