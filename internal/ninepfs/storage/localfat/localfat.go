// Package localfat implements storage.Backend against a real directory on
// disk, standing in for the FAT32 SD card the original firmware drives
// directly. It is grounded on the teacher's pkg/payload/store/fs block
// store: a base directory, a path-joining helper that rejects escapes, and
// real os.File handles kept in a map guarded by a mutex.
package localfat

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/ninep-go/ninepd/internal/ninepfs/storage"
	storageerrors "github.com/ninep-go/ninepd/internal/ninepfs/storage/errors"
)

type openEntry struct {
	path  string
	file  *os.File // nil for directory handles
	isDir bool
	names []string // directory: sorted child names, loaded on Open/Create
	idx   int
}

// Backend is a real-disk storage.Backend rooted at BasePath.
type Backend struct {
	mu       sync.Mutex
	basePath string
	open     map[storage.Handle]*openEntry
	next     uint64
}

// Config configures a localfat Backend.
type Config struct {
	// BasePath is the root directory every 9P path is resolved under.
	BasePath string

	// CreateDir creates BasePath if it doesn't already exist.
	CreateDir bool

	// DirMode is the permission mode CreateDir uses when it creates
	// BasePath. Default: 0755. Directories made by Create always get 0755.
	DirMode os.FileMode

	// FileMode defaults to 0644. Create does not consult it: files it
	// makes always get 0644.
	FileMode os.FileMode
}

// New opens a localfat backend rooted at cfg.BasePath.
func New(cfg Config) (*Backend, error) {
	if cfg.BasePath == "" {
		return nil, errors.New("localfat: base path is required")
	}
	if cfg.DirMode == 0 {
		cfg.DirMode = 0o755
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0o644
	}
	if cfg.CreateDir {
		if err := os.MkdirAll(cfg.BasePath, cfg.DirMode); err != nil {
			return nil, err
		}
	}
	info, err := os.Stat(cfg.BasePath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("localfat: base path is not a directory")
	}
	return &Backend{
		basePath: cfg.BasePath,
		open:     map[storage.Handle]*openEntry{},
	}, nil
}

// resolve maps a 9P-absolute path onto a real filesystem path, rejecting
// any attempt to escape BasePath.
func (b *Backend) resolve(path string) (string, error) {
	cleaned := filepath.Clean("/" + path)
	real := filepath.Join(b.basePath, filepath.FromSlash(cleaned))
	if !strings.HasPrefix(real, filepath.Clean(b.basePath)) {
		return "", storageerrors.NewInvalidPathError(path)
	}
	return real, nil
}

func (b *Backend) nextHandle() storage.Handle {
	b.next++
	return storage.Handle(b.next)
}

func toEntryInfo(path string, fi os.FileInfo) storage.EntryInfo {
	return storage.EntryInfo{
		Name:    filepath.Base(path),
		IsDir:   fi.IsDir(),
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
	}
}

func mapOSError(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return storageerrors.NewNotFoundError(path)
	case errors.Is(err, fs.ErrExist):
		return storageerrors.NewAlreadyExistsError(path)
	case errors.Is(err, syscall.ENOSPC):
		return storageerrors.NewNoSpaceError()
	case errors.Is(err, syscall.ENOTEMPTY):
		return storageerrors.NewNotEmptyError(path)
	case errors.Is(err, syscall.EISDIR):
		return storageerrors.NewIsDirectoryError(path)
	case errors.Is(err, syscall.ENOTDIR):
		return storageerrors.NewNotDirectoryError(path)
	default:
		return storageerrors.NewIOError(path, err)
	}
}

// Open opens an existing file or directory.
func (b *Backend) Open(ctx context.Context, path string) (storage.Handle, storage.EntryInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	real, err := b.resolve(path)
	if err != nil {
		return 0, storage.EntryInfo{}, err
	}
	fi, err := os.Stat(real)
	if err != nil {
		return 0, storage.EntryInfo{}, mapOSError(path, err)
	}

	h := b.nextHandle()
	entry := &openEntry{path: real, isDir: fi.IsDir()}
	if fi.IsDir() {
		names, err := readDirNames(real)
		if err != nil {
			return 0, storage.EntryInfo{}, mapOSError(path, err)
		}
		entry.names = names
	} else {
		f, err := os.OpenFile(real, os.O_RDWR, 0)
		if err != nil {
			return 0, storage.EntryInfo{}, mapOSError(path, err)
		}
		entry.file = f
	}
	b.open[h] = entry
	return h, toEntryInfo(real, fi), nil
}

func readDirNames(dirPath string) ([]string, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Create creates a new file or directory.
func (b *Backend) Create(ctx context.Context, path string, isDir bool) (storage.Handle, storage.EntryInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	real, err := b.resolve(path)
	if err != nil {
		return 0, storage.EntryInfo{}, err
	}

	h := b.nextHandle()
	entry := &openEntry{path: real, isDir: isDir}
	if isDir {
		if err := os.Mkdir(real, 0o755); err != nil {
			return 0, storage.EntryInfo{}, mapOSError(path, err)
		}
		entry.names = nil
	} else {
		f, err := os.OpenFile(real, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			return 0, storage.EntryInfo{}, mapOSError(path, err)
		}
		entry.file = f
	}
	fi, err := os.Stat(real)
	if err != nil {
		return 0, storage.EntryInfo{}, mapOSError(path, err)
	}
	b.open[h] = entry
	return h, toEntryInfo(real, fi), nil
}

func (b *Backend) lookup(h storage.Handle) (*openEntry, error) {
	entry, ok := b.open[h]
	if !ok {
		return nil, storageerrors.NewInvalidHandleError()
	}
	return entry, nil
}

// Read reads from the handle's current file position.
func (b *Backend) Read(ctx context.Context, h storage.Handle, buf []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, err := b.lookup(h)
	if err != nil {
		return 0, err
	}
	if entry.isDir {
		return 0, storageerrors.NewIsDirectoryError(entry.path)
	}
	n, err := entry.file.Read(buf)
	if err != nil {
		if errors.Is(err, os.ErrClosed) {
			return 0, storageerrors.NewInvalidHandleError()
		}
		if n == 0 {
			return 0, nil // EOF surfaces as a zero-length read, never an error
		}
	}
	return n, nil
}

// Write writes at the handle's current file position.
func (b *Backend) Write(ctx context.Context, h storage.Handle, buf []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, err := b.lookup(h)
	if err != nil {
		return 0, err
	}
	if entry.isDir {
		return 0, storageerrors.NewIsDirectoryError(entry.path)
	}
	n, err := entry.file.Write(buf)
	if err != nil {
		return n, mapOSError(entry.path, err)
	}
	return n, nil
}

// Seek repositions the handle to an absolute offset.
func (b *Backend) Seek(ctx context.Context, h storage.Handle, offset int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, err := b.lookup(h)
	if err != nil {
		return err
	}
	if entry.isDir {
		entry.idx = 0
		return nil
	}
	if _, err := entry.file.Seek(offset, 0); err != nil {
		return mapOSError(entry.path, err)
	}
	return nil
}

// Size returns the current size of the handle's file.
func (b *Backend) Size(ctx context.Context, h storage.Handle) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, err := b.lookup(h)
	if err != nil {
		return 0, err
	}
	if entry.isDir {
		return 0, storageerrors.NewIsDirectoryError(entry.path)
	}
	fi, err := entry.file.Stat()
	if err != nil {
		return 0, mapOSError(entry.path, err)
	}
	return fi.Size(), nil
}

// Close releases the handle, closing its underlying os.File if any.
func (b *Backend) Close(ctx context.Context, h storage.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, err := b.lookup(h)
	if err != nil {
		return err
	}
	delete(b.open, h)
	if entry.file != nil {
		return entry.file.Close()
	}
	return nil
}

// DirNext returns the next child name of a directory handle.
func (b *Backend) DirNext(ctx context.Context, h storage.Handle) (storage.EntryInfo, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, err := b.lookup(h)
	if err != nil {
		return storage.EntryInfo{}, false, err
	}
	if !entry.isDir {
		return storage.EntryInfo{}, false, storageerrors.NewNotDirectoryError(entry.path)
	}
	if entry.idx >= len(entry.names) {
		return storage.EntryInfo{}, false, nil
	}
	name := entry.names[entry.idx]
	entry.idx++
	childPath := filepath.Join(entry.path, name)
	fi, err := os.Stat(childPath)
	if err != nil {
		return storage.EntryInfo{}, false, mapOSError(childPath, err)
	}
	return toEntryInfo(childPath, fi), true, nil
}

// Delete removes a file, or an empty directory.
func (b *Backend) Delete(ctx context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	real, err := b.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(real); err != nil {
		return mapOSError(path, err)
	}
	return nil
}

// Rename moves an entry within the backend's root.
func (b *Backend) Rename(ctx context.Context, oldPath, newPath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldReal, err := b.resolve(oldPath)
	if err != nil {
		return err
	}
	newReal, err := b.resolve(newPath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(newReal); err == nil {
		return storageerrors.NewAlreadyExistsError(newPath)
	}
	if err := os.Rename(oldReal, newReal); err != nil {
		return mapOSError(oldPath, err)
	}
	return nil
}

// FreeSpace reports the free bytes on BasePath's filesystem.
func (b *Backend) FreeSpace(ctx context.Context) (uint64, error) {
	return diskFree(b.basePath)
}

// TotalSpace reports the total bytes on BasePath's filesystem.
func (b *Backend) TotalSpace(ctx context.Context) (uint64, error) {
	return diskTotal(b.basePath)
}

var _ storage.Backend = (*Backend)(nil)
