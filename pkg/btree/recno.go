// ABOUTME: RECNO auto-increment key assignment for record-number databases
// ABOUTME: The caller (env.Database) supplies the next value and persists the assigned recno into the DB index slot's recno field

package btree

import (
	"github.com/nainya/kvengine/pkg/keys"
	"github.com/nainya/kvengine/pkg/kverrors"
)

// InsertRecno inserts record under the next sequence value (nextRecno),
// rejecting a caller-supplied key outright: RECNO databases assign keys
// themselves. Returns the assigned recno.
func (t *Tree) InsertRecno(nextRecno uint64, record []byte, flag keys.SetFlag) (uint64, error) {
	if _, ok := t.cfg.Comparator.(keys.Recno); !ok {
		return 0, kverrors.New(kverrors.InvalidParameter, "InsertRecno requires a RECNO database")
	}
	key := keys.EncodeRecno(nextRecno)
	if err := t.Insert(key, record, flag); err != nil {
		return 0, err
	}
	return nextRecno, nil
}

// InsertRecnoAt inserts record under a caller-specified recno (used only by
// recovery/import paths, never by the ordinary insert API: explicit RECNO
// keys are rejected at the Database.Insert boundary).
func (t *Tree) InsertRecnoAt(recno uint64, record []byte, flag keys.SetFlag) error {
	return t.Insert(keys.EncodeRecno(recno), record, flag)
}
