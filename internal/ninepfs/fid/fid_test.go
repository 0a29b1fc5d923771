package fid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocAndLookup(t *testing.T) {
	tbl := NewTable(4)
	require.NoError(t, tbl.Alloc(1, Entry{Kind: KindFile, Path: "/a.txt"}))

	e, err := tbl.Lookup(1)
	require.NoError(t, err)
	assert.Equal(t, "/a.txt", e.Path)
}

func TestAllocDuplicateFails(t *testing.T) {
	tbl := NewTable(4)
	require.NoError(t, tbl.Alloc(1, Entry{Kind: KindFile}))
	assert.ErrorIs(t, tbl.Alloc(1, Entry{Kind: KindFile}), ErrFIDInUse)
}

func TestAllocBeyondCapacityFails(t *testing.T) {
	tbl := NewTable(1)
	require.NoError(t, tbl.Alloc(1, Entry{Kind: KindFile}))
	assert.ErrorIs(t, tbl.Alloc(2, Entry{Kind: KindFile}), ErrTableFull)
}

func TestLookupUnknownFails(t *testing.T) {
	tbl := NewTable(4)
	_, err := tbl.Lookup(99)
	assert.ErrorIs(t, err, ErrUnknownFID)
}

func TestRemoveAlwaysSucceedsOnce(t *testing.T) {
	tbl := NewTable(4)
	require.NoError(t, tbl.Alloc(1, Entry{Kind: KindFile}))

	_, ok := tbl.Remove(1)
	assert.True(t, ok)
	_, ok = tbl.Remove(1)
	assert.False(t, ok)
}

func TestCloneDoesNotShareOpenHandle(t *testing.T) {
	tbl := NewTable(4)
	require.NoError(t, tbl.Alloc(1, Entry{Kind: KindFile, HasHandle: true, Storage: 7}))

	src, err := tbl.Lookup(1)
	require.NoError(t, err)

	cloned := src
	cloned.HasHandle = false
	cloned.Storage = 0
	require.NoError(t, tbl.Alloc(2, cloned))

	clonedEntry, err := tbl.Lookup(2)
	require.NoError(t, err)
	assert.False(t, clonedEntry.HasHandle)
}

func TestAllOpenHandlesOnlyReturnsOpenedFIDs(t *testing.T) {
	tbl := NewTable(4)
	require.NoError(t, tbl.Alloc(1, Entry{Kind: KindFile, HasHandle: true, Storage: 5}))
	require.NoError(t, tbl.Alloc(2, Entry{Kind: KindFile, HasHandle: false}))

	handles := tbl.AllOpenHandles()
	assert.Equal(t, []uint64{5}, handles)
}
