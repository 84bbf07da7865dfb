// ABOUTME: set_record/erase_record: the glue between a node's Key record and the BLOB/duplicate-table machinery
// ABOUTME: Mirrors spec.md §4.7 exactly: overwrite-in-place, promote-to-duplicates, delegate-to-dupe-table, free-on-erase

package keys

import (
	"github.com/nainya/kvengine/pkg/blob"
	"github.com/nainya/kvengine/pkg/kverrors"
)

// SetFlag mirrors the insert-time record flags relevant to set_record.
type SetFlag int

const (
	SetOverwrite SetFlag = iota
	SetDuplicate
	SetDuplicateOnlyIfNew // fails with DuplicateKey if the key already exists and isn't a duplicate insert
	SetDuplicateFirst     // DUPLICATE_INSERT_FIRST: new entry becomes duplicate 0
	SetDuplicateBefore    // DUPLICATE_INSERT_BEFORE: new entry lands just before the cursor's current duplicate
	SetDuplicateAfter     // DUPLICATE_INSERT_AFTER: new entry lands just after the cursor's current duplicate
)

// isDuplicateInsert reports whether flag requests any form of duplicate
// insertion (as opposed to an overwrite).
func isDuplicateInsert(flag SetFlag) bool {
	switch flag {
	case SetDuplicate, SetDuplicateFirst, SetDuplicateBefore, SetDuplicateAfter:
		return true
	default:
		return false
	}
}

// SetRecord implements §4.7 set_record. store services BLOB allocation,
// enableDuplicates reports whether the Database was opened with
// ENABLE_DUPLICATES (without it, SetDuplicate is rejected).
//
// existing is the record's current Flags/Rid (ignored when isNewKey is true).
// partial, when non-nil and flag is SetOverwrite on an existing key, merges
// record into [partial.Offset, partial.Offset+partial.Size) of the stored
// bytes instead of replacing them outright (see blob.Store.Overwrite).
// Returns the updated Flags/Rid to store back into the node's Key record,
// and (for duplicates) the position the new entry landed at.
func SetRecord(store *blob.Store, existing Record, isNewKey bool, record []byte, position int, flag SetFlag, partial *blob.PartialRange, enableDuplicates bool) (Record, int, error) {
	if !isNewKey && existing.Flags&FlagHasDuplicates != 0 {
		if !isDuplicateInsert(flag) {
			return Record{}, 0, kverrors.New(kverrors.InvalidParameter, "key already has duplicates; use a SetDuplicate* flag")
		}
		h, pos, err := store.DupeInsert(existing.BlobHandle(), nil, blobHandleFor(store, record), position, duplicateFlagFor(flag))
		if err != nil {
			return Record{}, 0, err
		}
		out := existing
		out.Rid = h.Rid
		return out, pos, nil
	}

	switch flag {
	case SetOverwrite:
		if !isNewKey && partial != nil {
			h, err := store.Overwrite(existing.BlobHandle(), record, partial)
			if err != nil {
				return Record{}, 0, err
			}
			out := existing
			applyBlobFlags(&out, h)
			out.Rid = h.Rid
			return out, 0, nil
		}
		if !isNewKey {
			if err := store.Free(existing.BlobHandle()); err != nil {
				return Record{}, 0, err
			}
		}
		h, err := store.Allocate(record)
		if err != nil {
			return Record{}, 0, err
		}
		out := existing
		applyBlobFlags(&out, h)
		out.Rid = h.Rid
		return out, 0, nil

	case SetDuplicate, SetDuplicateFirst, SetDuplicateBefore, SetDuplicateAfter:
		if !enableDuplicates {
			return Record{}, 0, kverrors.New(kverrors.InvalidParameter, "database does not allow duplicates")
		}
		if isNewKey {
			h, err := store.Allocate(record)
			if err != nil {
				return Record{}, 0, err
			}
			out := existing
			applyBlobFlags(&out, h)
			out.Rid = h.Rid
			return out, 0, nil
		}
		// First duplicate for this key: build a 2-entry table from the
		// current record and the new one, and switch the key to HAS_DUPLICATES.
		seed := existing.BlobHandle()
		h, err := store.Allocate(record)
		if err != nil {
			return Record{}, 0, err
		}
		tbl, pos, err := store.DupeInsert(blob.Handle{}, &seed, h, position, duplicateFlagFor(flag))
		if err != nil {
			return Record{}, 0, err
		}
		out := existing
		out.Flags &^= FlagTiny | FlagSmall | FlagEmpty
		out.Flags |= FlagHasDuplicates
		out.Rid = tbl.Rid
		return out, pos, nil

	default:
		if !isNewKey {
			return Record{}, 0, kverrors.New(kverrors.DuplicateKey, "key already exists")
		}
		h, err := store.Allocate(record)
		if err != nil {
			return Record{}, 0, err
		}
		out := existing
		applyBlobFlags(&out, h)
		out.Rid = h.Rid
		return out, 0, nil
	}
}

func blobHandleFor(store *blob.Store, record []byte) blob.Handle {
	h, _ := store.Allocate(record)
	return h
}

func duplicateFlagFor(f SetFlag) blob.DupeFlag {
	switch f {
	case SetDuplicateFirst:
		return blob.DupeInsertFirst
	case SetDuplicateBefore:
		return blob.DupeInsertBefore
	case SetDuplicateAfter:
		return blob.DupeInsertAfter
	default:
		return blob.DupeInsertLast
	}
}

func applyBlobFlags(r *Record, h blob.Handle) {
	r.Flags &^= FlagTiny | FlagSmall | FlagEmpty
	if h.Flags&blob.Tiny != 0 {
		r.Flags |= FlagTiny
	}
	if h.Flags&blob.Small != 0 {
		r.Flags |= FlagSmall
	}
	if h.Flags&blob.Empty != 0 {
		r.Flags |= FlagEmpty
	}
}

// EraseFlag mirrors erase_record's FREE_ALL_DUPES option.
type EraseFlag int

const (
	EraseSingle EraseFlag = iota
	EraseAllDupes
)

// EraseRecord implements §4.7 erase_record. dupeID selects which duplicate
// to remove when the key HasDuplicates and flag is EraseSingle.
func EraseRecord(store *blob.Store, rec Record, dupeID int, flag EraseFlag) (Record, error) {
	if rec.Flags&FlagHasDuplicates == 0 {
		if err := store.Free(rec.BlobHandle()); err != nil {
			return Record{}, err
		}
		out := rec
		out.Rid = 0
		out.Flags = 0
		return out, nil
	}

	tableHandle := blob.Handle{Rid: rec.Rid}
	if flag == EraseAllDupes {
		if _, err := store.DupeErase(tableHandle, 0, blob.EraseAll); err != nil {
			return Record{}, err
		}
		out := rec
		out.Rid = 0
		out.Flags &^= FlagHasDuplicates
		return out, nil
	}

	newHandle, err := store.DupeErase(tableHandle, dupeID, blob.EraseOne)
	if err != nil {
		return Record{}, err
	}
	out := rec
	if newHandle.Rid == 0 {
		// table emptied: reset HAS_DUPLICATES per §4.7.
		out.Flags &^= FlagHasDuplicates
		out.Rid = 0
	} else {
		out.Rid = newHandle.Rid
	}
	return out, nil
}
