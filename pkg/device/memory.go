// ABOUTME: Pure in-memory Device, for in-memory Environments and tests
// ABOUTME: A heap buffer stands in for the backing file; locking is a no-op

package device

import (
	"sync"

	"github.com/nainya/kvengine/pkg/kverrors"
)

// MemoryDevice is a Device backed entirely by a heap buffer. There is no
// cross-process lock to take: TryLockExclusive always succeeds.
type MemoryDevice struct {
	mu       sync.Mutex
	buf      []byte
	pagesize int
}

// NewMemoryDevice returns an empty in-memory device.
func NewMemoryDevice() *MemoryDevice {
	return &MemoryDevice{}
}

func (d *MemoryDevice) Pagesize() int     { return d.pagesize }
func (d *MemoryDevice) SetPagesize(n int) { d.pagesize = n }

func (d *MemoryDevice) Close() error { return nil }
func (d *MemoryDevice) Flush() error { return nil }

func (d *MemoryDevice) Truncate(newSize int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if newSize < 0 {
		return kverrors.New(kverrors.InvalidParameter, "negative size")
	}
	if int64(len(d.buf)) >= newSize {
		d.buf = d.buf[:newSize]
		return nil
	}
	grown := make([]byte, newSize)
	copy(grown, d.buf)
	d.buf = grown
	return nil
}

func (d *MemoryDevice) Filesize() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.buf)), nil
}

func (d *MemoryDevice) Read(offset int64, size int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if offset < 0 || offset+int64(size) > int64(len(d.buf)) {
		return nil, kverrors.New(kverrors.IOError, "read out of range")
	}
	out := make([]byte, size)
	copy(out, d.buf[offset:offset+int64(size)])
	return out, nil
}

func (d *MemoryDevice) Write(offset int64, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	end := offset + int64(len(buf))
	if end > int64(len(d.buf)) {
		return kverrors.New(kverrors.IOError, "write out of range")
	}
	copy(d.buf[offset:end], buf)
	return nil
}

func (d *MemoryDevice) ReadPage(rid uint64, pagesize int) ([]byte, error) {
	return d.Read(int64(rid), pagesize)
}

func (d *MemoryDevice) WritePage(rid uint64, buf []byte) error {
	return d.Write(int64(rid), buf)
}

func (d *MemoryDevice) Allocate(size int64) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := int64(len(d.buf))
	grown := make([]byte, start+size)
	copy(grown, d.buf)
	d.buf = grown
	return uint64(start), nil
}

func (d *MemoryDevice) TryLockExclusive() error { return nil }
func (d *MemoryDevice) Unlock() error           { return nil }
