// ABOUTME: Device turns (offset, size) requests into reads/writes against a backing store
// ABOUTME: File-backed (pread/pwrite, no mmap) and pure heap variants both implement Device

package device

import "github.com/nainya/kvengine/pkg/kverrors"

// Flags controls how a Device is opened.
type Flags uint32

const (
	FlagReadOnly Flags = 1 << iota
	FlagCreate
	FlagExclusive // acquire an exclusive OS lock, failing with would-block on contention
	FlagMmap      // accepted but has no effect: neither variant memory-maps its store
)

// Device is the storage-engine's abstraction over a backing store: a plain
// file or a pure in-memory buffer. All operations may
// fail with IOError or LimitsReached (the device refused another mapping or
// extension; the caller should free unpinned pages and retry).
type Device interface {
	// Close releases the device. Flush should be called first if dirty.
	Close() error

	// Flush ensures previously written bytes are durable.
	Flush() error

	// Truncate grows or shrinks the backing store to exactly newSize bytes.
	Truncate(newSize int64) error

	// Filesize reports the current backing-store size.
	Filesize() (int64, error)

	// Read copies size bytes starting at offset into a new buffer.
	Read(offset int64, size int) ([]byte, error)

	// Write writes buf at offset.
	Write(offset int64, buf []byte) error

	// ReadPage reads a single page-sized region.
	ReadPage(rid uint64, pagesize int) ([]byte, error)

	// WritePage writes a full page-sized buffer at the given address.
	WritePage(rid uint64, buf []byte) error

	// Allocate extends the backing store by size bytes and returns the
	// offset of the newly allocated region (always the prior end-of-file).
	Allocate(size int64) (uint64, error)

	// Pagesize/SetPagesize record the configured page size for ReadPage bounds
	// checks; they carry no on-disk meaning by themselves.
	Pagesize() int
	SetPagesize(n int)

	// TryLockExclusive attempts a single, non-blocking exclusive lock
	// acquisition. On contention it returns kverrors.ErrWouldBlock.
	TryLockExclusive() error

	// Unlock releases a lock acquired via TryLockExclusive.
	Unlock() error
}

// ErrLimitsReached is returned when the OS refuses another mapping/extension.
var ErrLimitsReached = kverrors.New(kverrors.LimitsReached, "device: limits reached")
