// ABOUTME: Crash recovery: undo every page touched by a transaction that never reached TxnCommit
// ABOUTME: Groups entries by transaction, undoing before-images for transactions with no commit record

package wal

import (
	"os"
)

// PageWriter is the narrow dependency Recover needs from its host
// Environment: write a page's raw bytes back, bypassing the cache's dirty
// tracking (recovery runs before the Environment is otherwise usable).
type PageWriter interface {
	RestorePage(rid uint64, before []byte) error
}

type pendingWrite struct {
	rid    uint64
	before []byte
}

// Recover reads the log files in the order given (callers pass the older,
// inactive file first, then the active one) and undoes every
// PageBeforeImage belonging to a transaction that has no TxnCommit record,
// applying images in reverse per transaction. Needs no special-casing for a
// missing log file chain: a fresh environment's Open already created both
// files with just their header.
func Recover(files []string, pw PageWriter) (entriesRead, pagesUndone int, err error) {
	existing := files[:0:0]
	for _, f := range files {
		if _, statErr := os.Stat(f); statErr == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return 0, 0, nil
	}

	entries, err := ReadAll(existing)
	if err != nil {
		return 0, 0, err
	}
	entriesRead = len(entries)

	committed := make(map[uint64]bool)
	pending := make(map[uint64][]pendingWrite)

	for _, e := range entries {
		switch e.Type {
		case TxnCommit:
			committed[e.TxnID] = true
			delete(pending, e.TxnID)
		case TxnAbort:
			n, uerr := undoPending(pw, pending[e.TxnID])
			pagesUndone += n
			if uerr != nil {
				return entriesRead, pagesUndone, uerr
			}
			delete(pending, e.TxnID)
		case PageBeforeImage:
			pending[e.TxnID] = append(pending[e.TxnID], pendingWrite{rid: e.PageRid(), before: e.PageImage()})
		case TxnBegin, Checkpoint:
			// no action
		}
	}

	for _, writes := range pending {
		n, uerr := undoPending(pw, writes)
		pagesUndone += n
		if uerr != nil {
			return entriesRead, pagesUndone, uerr
		}
	}
	return entriesRead, pagesUndone, nil
}

func undoPending(pw PageWriter, writes []pendingWrite) (int, error) {
	for i := len(writes) - 1; i >= 0; i-- {
		if err := pw.RestorePage(writes[i].rid, writes[i].before); err != nil {
			return len(writes) - 1 - i, err
		}
	}
	return len(writes), nil
}
