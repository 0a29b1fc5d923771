// Package memfs implements storage.Backend entirely in memory, for tests
// and for "no disk" development deployments. It is grounded on the
// teacher's pkg/store/metadata/memory in-memory store: a single RWMutex
// guarding a map of entries, step-numbered operation bodies, and StoreError
// returns instead of sentinel errors.
package memfs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ninep-go/ninepd/internal/ninepfs/storage"
	storageerrors "github.com/ninep-go/ninepd/internal/ninepfs/storage/errors"
)

type node struct {
	name    string
	isDir   bool
	data    []byte
	modTime time.Time
	// children is nil for files; for directories it maps child name to path.
	children map[string]string
}

type openHandle struct {
	path   string
	pos    int64
	dirIdx int // next index into the sorted child-name list for DirNext
}

// Backend is an in-memory storage.Backend. The zero value is not usable;
// construct with New.
type Backend struct {
	mu    sync.RWMutex
	nodes map[string]*node // path -> node, "/" always present
	open  map[storage.Handle]*openHandle
	alloc uint64

	capacity uint64 // TotalSpace; FreeSpace is capacity - sum(file sizes)
}

// New returns an empty in-memory backend with the given total capacity in
// bytes. 0 selects a 1Gi capacity, which Write enforces like any other.
func New(capacity uint64) *Backend {
	if capacity == 0 {
		capacity = 1 << 30 // 1Gi default, matches a plausible SD card size
	}
	return &Backend{
		nodes: map[string]*node{
			"/": {name: "/", isDir: true, modTime: time.Time{}, children: map[string]string{}},
		},
		open:     map[storage.Handle]*openHandle{},
		capacity: capacity,
	}
}

func (b *Backend) nextHandle() storage.Handle {
	b.alloc++
	return storage.Handle(b.alloc)
}

func parentOf(path string) string {
	if path == "/" {
		return "/"
	}
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

func baseOf(path string) string {
	if path == "/" {
		return "/"
	}
	idx := strings.LastIndex(path, "/")
	return path[idx+1:]
}

func (b *Backend) info(n *node) storage.EntryInfo {
	return storage.EntryInfo{
		Name:    n.name,
		IsDir:   n.isDir,
		Size:    int64(len(n.data)),
		ModTime: n.modTime,
	}
}

// Open opens an existing entry.
func (b *Backend) Open(ctx context.Context, path string) (storage.Handle, storage.EntryInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n, ok := b.nodes[path]
	if !ok {
		return 0, storage.EntryInfo{}, storageerrors.NewNotFoundError(path)
	}
	h := b.nextHandle()
	b.open[h] = &openHandle{path: path}
	return h, b.info(n), nil
}

// Create creates a new file or directory.
func (b *Backend) Create(ctx context.Context, path string, isDir bool) (storage.Handle, storage.EntryInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.nodes[path]; exists {
		return 0, storage.EntryInfo{}, storageerrors.NewAlreadyExistsError(path)
	}
	parentPath := parentOf(path)
	parent, ok := b.nodes[parentPath]
	if !ok || !parent.isDir {
		return 0, storage.EntryInfo{}, storageerrors.NewNotFoundError(parentPath)
	}

	n := &node{name: baseOf(path), isDir: isDir, modTime: time.Now()}
	if isDir {
		n.children = map[string]string{}
	}
	b.nodes[path] = n
	parent.children[n.name] = path

	h := b.nextHandle()
	b.open[h] = &openHandle{path: path}
	return h, b.info(n), nil
}

func (b *Backend) lookupOpen(h storage.Handle) (*openHandle, *node, error) {
	oh, ok := b.open[h]
	if !ok {
		return nil, nil, storageerrors.NewInvalidHandleError()
	}
	n, ok := b.nodes[oh.path]
	if !ok {
		return nil, nil, storageerrors.NewInvalidHandleError()
	}
	return oh, n, nil
}

// Read reads from the handle's current position.
func (b *Backend) Read(ctx context.Context, h storage.Handle, buf []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	oh, n, err := b.lookupOpen(h)
	if err != nil {
		return 0, err
	}
	if n.isDir {
		return 0, storageerrors.NewIsDirectoryError(oh.path)
	}
	if oh.pos >= int64(len(n.data)) {
		return 0, nil
	}
	count := copy(buf, n.data[oh.pos:])
	oh.pos += int64(count)
	return count, nil
}

// Write writes at the handle's current position, growing the file as
// needed.
func (b *Backend) Write(ctx context.Context, h storage.Handle, buf []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	oh, n, err := b.lookupOpen(h)
	if err != nil {
		return 0, err
	}
	if n.isDir {
		return 0, storageerrors.NewIsDirectoryError(oh.path)
	}

	end := oh.pos + int64(len(buf))
	growBy := end - int64(len(n.data))
	if growBy > 0 {
		if uint64(growBy) > b.freeSpaceLocked() {
			return 0, storageerrors.NewNoSpaceError()
		}
		n.data = append(n.data, make([]byte, growBy)...)
	}
	copy(n.data[oh.pos:end], buf)
	oh.pos = end
	n.modTime = time.Now()
	return len(buf), nil
}

// Seek repositions the handle.
func (b *Backend) Seek(ctx context.Context, h storage.Handle, offset int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	oh, _, err := b.lookupOpen(h)
	if err != nil {
		return err
	}
	if offset < 0 {
		return storageerrors.NewInvalidArgumentError("negative seek offset")
	}
	oh.pos = offset
	oh.dirIdx = 0
	return nil
}

// Size returns the entry's current size.
func (b *Backend) Size(ctx context.Context, h storage.Handle) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	oh, n, err := b.lookupOpen(h)
	if err != nil {
		return 0, err
	}
	if n.isDir {
		return 0, storageerrors.NewIsDirectoryError(oh.path)
	}
	return int64(len(n.data)), nil
}

// Close releases the handle.
func (b *Backend) Close(ctx context.Context, h storage.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.open[h]; !ok {
		return storageerrors.NewInvalidHandleError()
	}
	delete(b.open, h)
	return nil
}

// DirNext returns the next child of a directory handle in name-sorted
// order, which is stable across calls as long as no sibling is added or
// removed mid-iteration.
func (b *Backend) DirNext(ctx context.Context, h storage.Handle) (storage.EntryInfo, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	oh, n, err := b.lookupOpen(h)
	if err != nil {
		return storage.EntryInfo{}, false, err
	}
	if !n.isDir {
		return storage.EntryInfo{}, false, storageerrors.NewNotDirectoryError(oh.path)
	}

	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)

	if oh.dirIdx >= len(names) {
		return storage.EntryInfo{}, false, nil
	}
	childPath := n.children[names[oh.dirIdx]]
	oh.dirIdx++
	child, ok := b.nodes[childPath]
	if !ok {
		return storage.EntryInfo{}, false, storageerrors.NewIOError(childPath, fmt.Errorf("dangling child entry"))
	}
	return b.info(child), true, nil
}

// Delete removes a file, or an empty directory.
func (b *Backend) Delete(ctx context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if path == "/" {
		return storageerrors.NewInvalidArgumentError("cannot delete the root directory")
	}
	n, ok := b.nodes[path]
	if !ok {
		return storageerrors.NewNotFoundError(path)
	}
	if n.isDir && len(n.children) > 0 {
		return storageerrors.NewNotEmptyError(path)
	}
	parent := b.nodes[parentOf(path)]
	delete(parent.children, n.name)
	delete(b.nodes, path)
	return nil
}

// Rename moves an entry, including every descendant path of a directory.
func (b *Backend) Rename(ctx context.Context, oldPath, newPath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	n, ok := b.nodes[oldPath]
	if !ok {
		return storageerrors.NewNotFoundError(oldPath)
	}
	if _, exists := b.nodes[newPath]; exists {
		return storageerrors.NewAlreadyExistsError(newPath)
	}
	newParent, ok := b.nodes[parentOf(newPath)]
	if !ok || !newParent.isDir {
		return storageerrors.NewNotFoundError(parentOf(newPath))
	}

	oldParent := b.nodes[parentOf(oldPath)]
	delete(oldParent.children, n.name)

	renamed := map[string]string{}
	for p, entry := range b.nodes {
		if p == oldPath || strings.HasPrefix(p, oldPath+"/") {
			np := newPath + strings.TrimPrefix(p, oldPath)
			renamed[np] = p
			entry.modTime = time.Now()
		}
	}
	for np, old := range renamed {
		entry := b.nodes[old]
		delete(b.nodes, old)
		b.nodes[np] = entry
	}
	// Every directory moved above still names its own children by their
	// pre-rename paths; rewrite those now that the subtree lives under
	// newPath, or DirNext on a moved directory would look up paths that no
	// longer exist in b.nodes.
	for np, entry := range b.nodes {
		if !entry.isDir || (np != newPath && !strings.HasPrefix(np, newPath+"/")) {
			continue
		}
		for childName, childPath := range entry.children {
			if childPath == oldPath || strings.HasPrefix(childPath, oldPath+"/") {
				entry.children[childName] = newPath + strings.TrimPrefix(childPath, oldPath)
			}
		}
	}
	n.name = baseOf(newPath)
	newParent.children[n.name] = newPath
	return nil
}

func (b *Backend) freeSpaceLocked() uint64 {
	var used uint64
	for _, n := range b.nodes {
		if !n.isDir {
			used += uint64(len(n.data))
		}
	}
	if used >= b.capacity {
		return 0
	}
	return b.capacity - used
}

// FreeSpace returns the bytes remaining under the configured capacity.
func (b *Backend) FreeSpace(ctx context.Context) (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.freeSpaceLocked(), nil
}

// TotalSpace returns the configured capacity.
func (b *Backend) TotalSpace(ctx context.Context) (uint64, error) {
	return b.capacity, nil
}

var _ storage.Backend = (*Backend)(nil)
