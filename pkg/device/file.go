// ABOUTME: File-backed Device using pread/pwrite and an advisory exclusive flock
// ABOUTME: Directory fsync on fresh create, matching fsync-then-rename style durability

package device

import (
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/nainya/kvengine/pkg/kverrors"
)

// FileDevice is a Device backed by a single OS file, opened via raw syscalls
// so pread/pwrite can be issued without disturbing a shared file offset.
type FileDevice struct {
	mu       sync.Mutex
	path     string
	fd       int
	file     *os.File // kept for Close/Stat convenience only
	readOnly bool
	pagesize int
	locked   bool
}

// OpenFile opens or creates path according to flags. Directory fsync is
// performed after a fresh create to make the new file durably visible.
func OpenFile(path string, flags Flags, mode os.FileMode) (*FileDevice, error) {
	osFlags := os.O_RDWR
	if flags&FlagReadOnly != 0 {
		osFlags = os.O_RDONLY
	}
	created := false
	if flags&FlagCreate != 0 {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			created = true
		}
		osFlags |= os.O_CREATE
	}

	f, err := os.OpenFile(path, osFlags, mode)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, kverrors.Wrap(kverrors.FileNotFound, path, err)
		}
		return nil, kverrors.Wrap(kverrors.IOError, "open "+path, err)
	}

	if created {
		if dir, derr := os.Open(dirOf(path)); derr == nil {
			_ = dir.Sync()
			_ = dir.Close()
		}
	}

	d := &FileDevice{
		path:     path,
		fd:       int(f.Fd()),
		file:     f,
		readOnly: flags&FlagReadOnly != 0,
	}

	if flags&FlagExclusive != 0 {
		if err := d.TryLockExclusive(); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	return d, nil
}

func dirOf(path string) string {
	i := len(path) - 1
	for i >= 0 && path[i] != '/' {
		i--
	}
	if i < 0 {
		return "."
	}
	if i == 0 {
		return "/"
	}
	return path[:i]
}

func (d *FileDevice) Pagesize() int     { return d.pagesize }
func (d *FileDevice) SetPagesize(n int) { d.pagesize = n }

func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.locked {
		_ = unix.Flock(d.fd, unix.LOCK_UN)
		d.locked = false
	}
	return d.file.Close()
}

func (d *FileDevice) Flush() error {
	return d.file.Sync()
}

func (d *FileDevice) Truncate(newSize int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := unix.Ftruncate(d.fd, newSize); err != nil {
		return kverrors.Wrap(kverrors.IOError, "truncate", err)
	}
	return nil
}

func (d *FileDevice) Filesize() (int64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(d.fd, &st); err != nil {
		return 0, kverrors.Wrap(kverrors.IOError, "fstat", err)
	}
	return st.Size, nil
}

func (d *FileDevice) Read(offset int64, size int) ([]byte, error) {
	buf := make([]byte, size)
	n, err := unix.Pread(d.fd, buf, offset)
	if err != nil {
		return nil, kverrors.Wrap(kverrors.IOError, "pread", err)
	}
	return buf[:n], nil
}

func (d *FileDevice) Write(offset int64, buf []byte) error {
	if d.readOnly {
		return kverrors.New(kverrors.DBReadOnly, "write to read-only device")
	}
	n, err := unix.Pwrite(d.fd, buf, offset)
	if err != nil {
		return kverrors.Wrap(kverrors.IOError, "pwrite", err)
	}
	if n != len(buf) {
		return kverrors.New(kverrors.IOError, "short write")
	}
	return nil
}

func (d *FileDevice) ReadPage(rid uint64, pagesize int) ([]byte, error) {
	return d.Read(int64(rid), pagesize)
}

func (d *FileDevice) WritePage(rid uint64, buf []byte) error {
	return d.Write(int64(rid), buf)
}

func (d *FileDevice) Allocate(size int64) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var st unix.Stat_t
	if err := unix.Fstat(d.fd, &st); err != nil {
		return 0, kverrors.Wrap(kverrors.IOError, "fstat", err)
	}
	newEnd := st.Size + size
	if err := unix.Ftruncate(d.fd, newEnd); err != nil {
		return 0, kverrors.Wrap(kverrors.LimitsReached, "extend", err)
	}
	return uint64(st.Size), nil
}

// TryLockExclusive performs exactly one non-blocking LOCK_EX attempt: a
// second opener receives would-block immediately, with no retry loop.
func (d *FileDevice) TryLockExclusive() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := unix.Flock(d.fd, unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		if err == unix.EWOULDBLOCK || err == unix.EAGAIN {
			return kverrors.New(kverrors.WouldBlock, "environment already locked")
		}
		return kverrors.Wrap(kverrors.IOError, "flock", err)
	}
	d.locked = true
	return nil
}

func (d *FileDevice) Unlock() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.locked {
		return nil
	}
	d.locked = false
	if err := unix.Flock(d.fd, unix.LOCK_UN); err != nil {
		return kverrors.Wrap(kverrors.IOError, "funlock", err)
	}
	return nil
}
