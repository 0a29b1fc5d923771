// Package ring keeps the most recently terminated sessions available for
// the control plane's /sessions endpoint even across a restart, by
// write-through persisting an in-memory ring buffer to an embedded
// Badger database — the same db.Update/txn.Set and JSON value encoding
// the teacher's pkg/metadata/store/badger package uses, scoped down to a
// single fixed-capacity keyspace instead of a full metadata store.
package ring

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// Entry is one terminated session, as kept in the ring.
type Entry struct {
	ClientAddr string    `json:"client_addr"`
	Cause      string    `json:"cause"`
	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `json:"closed_at"`
	BytesRead  int64     `json:"bytes_read"`
	BytesWritten int64   `json:"bytes_written"`
}

var entryPrefix = []byte("entry:")
var cursorKey = []byte("cursor")

// storedEntry envelopes an Entry with the monotonic write sequence number it
// was pushed at, so replay can recover true insertion order even after a
// slot has been overwritten one or more times across restarts.
type storedEntry struct {
	Seq   uint64 `json:"seq"`
	Entry Entry  `json:"entry"`
}

// Ring is a fixed-capacity, write-through ring buffer of recently
// terminated sessions.
type Ring struct {
	db       *badger.DB
	capacity int

	mu      sync.RWMutex
	entries []Entry // logical order, oldest first
	cursor  uint64  // next slot to write, wrapping at capacity
}

// Open opens (or creates) the Badger database at dir and replays any
// persisted entries into memory.
func Open(dir string, capacity int) (*Ring, error) {
	if capacity <= 0 {
		capacity = 256
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("ring: failed to open badger database: %w", err)
	}

	r := &Ring{db: db, capacity: capacity}
	if err := r.replay(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Ring) replay() error {
	entries := make([]Entry, 0, r.capacity)
	err := r.db.View(func(txn *badger.Txn) error {
		if item, err := txn.Get(cursorKey); err == nil {
			if err := item.Value(func(val []byte) error {
				r.cursor = binary.BigEndian.Uint64(val)
				return nil
			}); err != nil {
				return err
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = entryPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		var stored []storedEntry
		for it.Seek(entryPrefix); it.ValidForPrefix(entryPrefix); it.Next() {
			item := it.Item()
			var se storedEntry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &se)
			}); err != nil {
				return err
			}
			stored = append(stored, se)
		}
		// Sort by write sequence, not by slot: a slot's current occupant may
		// be several wraparounds newer than another slot's, so slot index
		// alone does not recover insertion order.
		for i := 0; i < len(stored); i++ {
			for j := i + 1; j < len(stored); j++ {
				if stored[j].Seq < stored[i].Seq {
					stored[i], stored[j] = stored[j], stored[i]
				}
			}
		}
		for _, se := range stored {
			entries = append(entries, se.Entry)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ring: failed to replay entries: %w", err)
	}
	r.entries = entries
	return nil
}

// Push records a newly terminated session, evicting the oldest entry once
// the ring is at capacity, and persists the write.
func (r *Ring) Push(ctx context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := r.cursor % uint64(r.capacity)
	seq := r.cursor
	r.cursor++

	err := r.db.Update(func(txn *badger.Txn) error {
		data, err := json.Marshal(storedEntry{Seq: seq, Entry: e})
		if err != nil {
			return err
		}
		if err := txn.Set(entryKey(slot), data); err != nil {
			return err
		}
		cursorBuf := make([]byte, 8)
		binary.BigEndian.PutUint64(cursorBuf, r.cursor)
		return txn.Set(cursorKey, cursorBuf)
	})
	if err != nil {
		return fmt.Errorf("ring: failed to persist entry: %w", err)
	}

	if len(r.entries) < r.capacity {
		r.entries = append(r.entries, e)
	} else {
		copy(r.entries, r.entries[1:])
		r.entries[len(r.entries)-1] = e
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (r *Ring) Recent(limit int) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Entry, limit)
	for i := 0; i < limit; i++ {
		out[i] = r.entries[n-1-i]
	}
	return out
}

// Close releases the underlying Badger database.
func (r *Ring) Close() error {
	return r.db.Close()
}

func entryKey(slot uint64) []byte {
	key := make([]byte, len(entryPrefix)+8)
	copy(key, entryPrefix)
	binary.BigEndian.PutUint64(key[len(entryPrefix):], slot)
	return key
}
