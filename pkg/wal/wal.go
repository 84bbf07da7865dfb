// ABOUTME: Write-ahead log over exactly two alternating files (.log0/.log1), each starting with a "HAML0001" magic plus generation id
// ABOUTME: Checkpoint rotates to the other file and truncates it, moving the recovery horizon forward

package wal

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// FileMagic is the 8-byte log file header: 'H','A','M','L','0','0','0','1'.
var FileMagic = [8]byte{'H', 'A', 'M', 'L', '0', '0', '0', '1'}

// fileHeaderSize is FileMagic (8 bytes) plus a 16-byte generation id,
// freshly minted every time a log file is (re)created from scratch so a
// reader can tell two files it's holding apart even if rotation reused the
// same path.
const fileHeaderSize = 8 + 16

func newFileHeader() []byte {
	buf := make([]byte, fileHeaderSize)
	copy(buf, FileMagic[:])
	gen := uuid.New()
	copy(buf[8:], gen[:])
	return buf
}

// WAL is the write-ahead log for one Environment: exactly two files,
// `<path>.log0` and `<path>.log1`, written to in turn. A checkpoint flips to
// the other file and truncates it, so at most one file's worth of
// before-images needs replaying after a crash.
type WAL struct {
	basePath string
	mu       sync.Mutex
	fd       *os.File
	active   int // 0 or 1: which of .log0/.log1 is being written
	size     int64
	lsn      uint64
	closed   bool
}

func New(basePath string) *WAL {
	return &WAL{basePath: basePath}
}

func (w *WAL) pathFor(idx int) string {
	return fmt.Sprintf("%s.log%d", w.basePath, idx%2)
}

// Open opens (creating if necessary) both log files, picks up the most
// recently written one as active, and resumes the LSN counter.
func (w *WAL) Open() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var newest int
	var newestLSN uint64
	var newestSize int64
	anyExisted := false

	for i := 0; i < 2; i++ {
		path := w.pathFor(i)
		existed := true
		if _, err := os.Stat(path); os.IsNotExist(err) {
			existed = false
		}
		fd, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return err
		}
		if !existed {
			if _, err := fd.Write(newFileHeader()); err != nil {
				fd.Close()
				return err
			}
		}
		stat, err := fd.Stat()
		if err != nil {
			fd.Close()
			return err
		}
		maxLSN, _ := w.scanMaxLSN(fd)
		if existed {
			anyExisted = true
		}
		if maxLSN >= newestLSN {
			newestLSN = maxLSN
			newest = i
			newestSize = stat.Size()
		}
		fd.Close()
	}

	fd, err := os.OpenFile(w.pathFor(newest), os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	w.fd = fd
	w.active = newest
	w.size = newestSize
	if anyExisted {
		atomic.StoreUint64(&w.lsn, newestLSN)
	}
	w.closed = false
	return nil
}

func (w *WAL) scanMaxLSN(fd *os.File) (uint64, error) {
	if _, err := fd.Seek(fileHeaderSize, io.SeekStart); err != nil {
		return 0, err
	}
	var maxLSN uint64
	for {
		e, err := readOneEntry(fd)
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		if e.LSN > maxLSN {
			maxLSN = e.LSN
		}
	}
	return maxLSN, nil
}

func readOneEntry(r io.Reader) (*Entry, error) {
	header := make([]byte, EntryHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	dataSize := int(binary.LittleEndian.Uint32(header[20:24]))
	rest := make([]byte, dataSize+4)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, ErrTruncated
	}
	full := append(header, rest...)
	e, _, err := DecodeEntry(full)
	return e, err
}

// NextLSN returns a freshly allocated, monotonically increasing LSN.
func (w *WAL) NextLSN() uint64 { return atomic.AddUint64(&w.lsn, 1) }

// Append writes entry to the active file.
func (w *WAL) Append(e *Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrLogClosed
	}
	data := e.Encode()
	n, err := w.fd.Write(data)
	if err != nil {
		return err
	}
	w.size += int64(n)
	return nil
}

func (w *WAL) Fsync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrLogClosed
	}
	return w.fd.Sync()
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	err := w.fd.Close()
	w.closed = true
	return err
}

// ActivePath/OtherPath expose the two alternating files for recovery.
func (w *WAL) ActivePath() string { return w.pathFor(w.active) }
func (w *WAL) OtherPath() string  { return w.pathFor(w.active + 1) }

// Checkpoint writes a Checkpoint marker, fsyncs, then flips to the other
// file (truncating it to just the file header) and makes it active.
func (w *WAL) Checkpoint(txnID uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrLogClosed
	}
	e := &Entry{LSN: atomic.AddUint64(&w.lsn, 1), TxnID: txnID, Type: Checkpoint}
	if _, err := w.fd.Write(e.Encode()); err != nil {
		return err
	}
	if err := w.fd.Sync(); err != nil {
		return err
	}
	if err := w.fd.Close(); err != nil {
		return err
	}

	next := (w.active + 1) % 2
	path := w.pathFor(next)
	fd, err := os.OpenFile(path, os.O_RDWR|os.O_TRUNC|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	if _, err := fd.Write(newFileHeader()); err != nil {
		fd.Close()
		return err
	}
	w.fd = fd
	w.active = next
	w.size = fileHeaderSize
	return nil
}
