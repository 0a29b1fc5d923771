// Package fid implements the per-session FID table: the client-chosen
// handles that name an open file, directory, or auth channel for the
// lifetime of a walk/open/clunk sequence.
package fid

import (
	"sync"

	storageerrors "github.com/ninep-go/ninepd/internal/ninepfs/storage/errors"
	"github.com/ninep-go/ninepd/internal/wire"
)

// Kind classifies what a FID currently names.
type Kind int

const (
	// KindNone is the zero value; no real FID has this kind.
	KindNone Kind = iota
	KindFile
	KindDirectory
	KindAuth
)

// Entry is everything the session tracks for one allocated FID.
type Entry struct {
	Kind Kind
	QID  wire.QID
	// Path is the canonical, normalized absolute 9P path this FID names.
	Path string

	// Storage is set once the FID has been opened (Topen/Tcreate); zero
	// value means "walked but not yet opened."
	Storage   uint64 // storage.Handle, stored as uint64 to avoid an import cycle surface
	HasHandle bool

	// Mode is the open mode requested on Topen/Tcreate (OREAD, OWRITE, ...).
	Mode uint8

	// IOUnit is the maximum size this server will ever return from a
	// single Tread/Twrite reply for this FID, reported in Ropen/Rcreate.
	IOUnit uint32

	// DirLookahead holds one already-encoded Stat record pulled from the
	// directory handle but not yet delivered, because it didn't fit in a
	// prior Tread's count. The backend's directory cursor has already
	// advanced past it, so the next Tread for this fid must emit it before
	// asking the backend for any further entries.
	DirLookahead []byte
}

// Table is a session's FID → Entry map, capacity-bounded and guarded by a
// mutex since the session core calls it only from its own single-threaded
// dispatch loop but cleanup (on connection close) can race a final flush.
type Table struct {
	mu       sync.Mutex
	entries  map[uint32]*Entry
	capacity int
}

// NewTable creates an empty table that rejects allocation once it holds
// capacity FIDs simultaneously.
func NewTable(capacity int) *Table {
	return &Table{entries: make(map[uint32]*Entry), capacity: capacity}
}

// ErrFIDInUse is returned by Alloc when fid already names something.
var ErrFIDInUse = storageerrors.NewInvalidArgumentError("fid already in use")

// ErrTableFull is returned by Alloc when the table is at capacity.
var ErrTableFull = storageerrors.NewInvalidArgumentError("too many open fids")

// ErrUnknownFID is returned by Lookup/Remove for an fid with no entry.
var ErrUnknownFID = storageerrors.NewInvalidArgumentError("unknown fid")

// Alloc creates a new entry for fid. Allocating an already-used fid, or
// exceeding capacity, is a protocol error: both mean the client has
// violated the FID lifecycle contract rather than hit a transient
// condition.
func (t *Table) Alloc(fid uint32, e Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[fid]; exists {
		return ErrFIDInUse
	}
	if len(t.entries) >= t.capacity {
		return ErrTableFull
	}
	cp := e
	t.entries[fid] = &cp
	return nil
}

// Lookup returns a copy of the entry for fid.
func (t *Table) Lookup(fid uint32) (Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[fid]
	if !ok {
		return Entry{}, ErrUnknownFID
	}
	return *e, nil
}

// Update replaces the entry for fid in place. The fid must already exist.
func (t *Table) Update(fid uint32, e Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[fid]; !ok {
		return ErrUnknownFID
	}
	cp := e
	t.entries[fid] = &cp
	return nil
}

// Remove deletes fid's entry unconditionally (clunk always frees the fid,
// even if the underlying storage handle failed to close cleanly; remove
// behaves the same way after attempting delete).
func (t *Table) Remove(fid uint32) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[fid]
	if !ok {
		return Entry{}, false
	}
	delete(t.entries, fid)
	return *e, true
}

// Len reports how many FIDs are currently allocated.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// AllOpenHandles returns the storage handles of every FID that has been
// opened, for cleanup when a session terminates uncleanly (the client
// vanished without clunking).
func (t *Table) AllOpenHandles() []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []uint64
	for _, e := range t.entries {
		if e.HasHandle {
			out = append(out, e.Storage)
		}
	}
	return out
}
