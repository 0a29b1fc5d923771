// Package storage defines the backend contract the filesystem adaptor
// drives: a flat set of file-descriptor-style operations (open, create,
// read, write, seek, size, close, dir_create, dir_next, delete, rename,
// free_space, total_space) that any backend exposing this operation set can
// implement, whether it is a real disk, an in-memory map, or an object
// store. Every call to a Backend is serialized through a single global
// mutex with a bounded wait, matching how the original firmware drives a
// single FAT32 card that cannot service concurrent operations.
package storage

import (
	"context"
	"time"

	storageerrors "github.com/ninep-go/ninepd/internal/ninepfs/storage/errors"
)

// Handle identifies an open file or directory within a Backend. Zero is
// never a valid handle.
type Handle uint64

// EntryInfo describes one filesystem entry: the fields the fs adaptor needs
// to build a QID and a Stat record.
type EntryInfo struct {
	Name     string
	IsDir    bool
	Size     int64
	ModTime  time.Time
	ReadOnly bool
}

// Backend is the operation set a storage implementation must provide.
// Every method is safe to call from any goroutine; implementations are
// expected to be wrapped in Serialized before being handed to the
// filesystem adaptor, which assumes exclusive access per call.
type Backend interface {
	// Open opens an existing file or directory for reading/writing and
	// returns a handle positioned at offset 0.
	Open(ctx context.Context, path string) (Handle, EntryInfo, error)

	// Create creates a new file (isDir=false) or directory (isDir=true) at
	// path and returns a handle to it. Returns ErrAlreadyExists if an
	// entry already occupies path.
	Create(ctx context.Context, path string, isDir bool) (Handle, EntryInfo, error)

	// Read reads up to len(buf) bytes from h's current position into buf,
	// advancing the position by the number of bytes read. Returns (0, nil)
	// at end of file, never io.EOF.
	Read(ctx context.Context, h Handle, buf []byte) (int, error)

	// Write writes buf to h's current position, advancing the position and
	// extending the file if necessary.
	Write(ctx context.Context, h Handle, buf []byte) (int, error)

	// Seek repositions h's cursor to an absolute byte offset.
	Seek(ctx context.Context, h Handle, offset int64) error

	// Size returns the current size in bytes of h's entry.
	Size(ctx context.Context, h Handle) (int64, error)

	// Close releases h. Closing an already-closed handle is an error.
	Close(ctx context.Context, h Handle) error

	// DirNext returns the next entry of a directory handle opened with
	// Open/Create, in a stable backend-defined order, and ok=false once
	// every entry has been returned.
	DirNext(ctx context.Context, h Handle) (info EntryInfo, ok bool, err error)

	// Delete removes the entry at path. Returns ErrNotEmpty for a
	// non-empty directory.
	Delete(ctx context.Context, path string) error

	// Rename moves the entry at oldPath to newPath, which must not already
	// exist.
	Rename(ctx context.Context, oldPath, newPath string) error

	// FreeSpace returns the number of bytes currently available.
	FreeSpace(ctx context.Context) (uint64, error)

	// TotalSpace returns the total capacity of the backing volume.
	TotalSpace(ctx context.Context) (uint64, error)
}

// DefaultLockTimeout is the bound Serialized waits for the global mutex
// before giving up and reporting the backend as busy.
const DefaultLockTimeout = 5 * time.Second

// Serialized wraps a Backend so that every call is mutually exclusive,
// matching a single FAT32 card's inability to service overlapping
// operations. A call that cannot acquire the lock within Timeout fails
// with storageerrors.ErrBusy instead of blocking indefinitely, so a wedged
// operation on one session cannot starve every other session forever.
type Serialized struct {
	inner   Backend
	mu      chan struct{} // 1-buffered channel used as a non-blocking-acquire mutex
	Timeout time.Duration
}

// NewSerialized wraps inner with the given acquire timeout. A zero timeout
// uses DefaultLockTimeout.
func NewSerialized(inner Backend, timeout time.Duration) *Serialized {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	mu := make(chan struct{}, 1)
	mu <- struct{}{}
	return &Serialized{inner: inner, mu: mu, Timeout: timeout}
}

func (s *Serialized) acquire(ctx context.Context) error {
	timer := time.NewTimer(s.Timeout)
	defer timer.Stop()
	select {
	case <-s.mu:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return storageerrors.NewBusyError()
	}
}

func (s *Serialized) release() {
	s.mu <- struct{}{}
}

func (s *Serialized) Open(ctx context.Context, path string) (Handle, EntryInfo, error) {
	if err := s.acquire(ctx); err != nil {
		return 0, EntryInfo{}, err
	}
	defer s.release()
	return s.inner.Open(ctx, path)
}

func (s *Serialized) Create(ctx context.Context, path string, isDir bool) (Handle, EntryInfo, error) {
	if err := s.acquire(ctx); err != nil {
		return 0, EntryInfo{}, err
	}
	defer s.release()
	return s.inner.Create(ctx, path, isDir)
}

func (s *Serialized) Read(ctx context.Context, h Handle, buf []byte) (int, error) {
	if err := s.acquire(ctx); err != nil {
		return 0, err
	}
	defer s.release()
	return s.inner.Read(ctx, h, buf)
}

func (s *Serialized) Write(ctx context.Context, h Handle, buf []byte) (int, error) {
	if err := s.acquire(ctx); err != nil {
		return 0, err
	}
	defer s.release()
	return s.inner.Write(ctx, h, buf)
}

func (s *Serialized) Seek(ctx context.Context, h Handle, offset int64) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	return s.inner.Seek(ctx, h, offset)
}

func (s *Serialized) Size(ctx context.Context, h Handle) (int64, error) {
	if err := s.acquire(ctx); err != nil {
		return 0, err
	}
	defer s.release()
	return s.inner.Size(ctx, h)
}

func (s *Serialized) Close(ctx context.Context, h Handle) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	return s.inner.Close(ctx, h)
}

func (s *Serialized) DirNext(ctx context.Context, h Handle) (EntryInfo, bool, error) {
	if err := s.acquire(ctx); err != nil {
		return EntryInfo{}, false, err
	}
	defer s.release()
	return s.inner.DirNext(ctx, h)
}

func (s *Serialized) Delete(ctx context.Context, path string) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	return s.inner.Delete(ctx, path)
}

func (s *Serialized) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	return s.inner.Rename(ctx, oldPath, newPath)
}

func (s *Serialized) FreeSpace(ctx context.Context) (uint64, error) {
	if err := s.acquire(ctx); err != nil {
		return 0, err
	}
	defer s.release()
	return s.inner.FreeSpace(ctx)
}

func (s *Serialized) TotalSpace(ctx context.Context) (uint64, error) {
	if err := s.acquire(ctx); err != nil {
		return 0, err
	}
	defer s.release()
	return s.inner.TotalSpace(ctx)
}

var _ Backend = (*Serialized)(nil)
