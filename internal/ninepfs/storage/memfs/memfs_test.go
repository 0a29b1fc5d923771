package memfs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storageerrors "github.com/ninep-go/ninepd/internal/ninepfs/storage/errors"
)

func TestCreateAndOpenFile(t *testing.T) {
	ctx := context.Background()
	b := New(0)

	h, info, err := b.Create(ctx, "/foo.txt", false)
	require.NoError(t, err)
	assert.False(t, info.IsDir)
	require.NoError(t, b.Close(ctx, h))

	h2, info2, err := b.Open(ctx, "/foo.txt")
	require.NoError(t, err)
	assert.Equal(t, info.Name, info2.Name)
	require.NoError(t, b.Close(ctx, h2))
}

func TestCreateDuplicateFails(t *testing.T) {
	ctx := context.Background()
	b := New(0)
	_, _, err := b.Create(ctx, "/foo.txt", false)
	require.NoError(t, err)

	_, _, err = b.Create(ctx, "/foo.txt", false)
	require.Error(t, err)
	kind, ok := storageerrors.Kind(err)
	require.True(t, ok)
	assert.Equal(t, storageerrors.ErrAlreadyExists, kind)
}

func TestOpenMissingFails(t *testing.T) {
	ctx := context.Background()
	b := New(0)
	_, _, err := b.Open(ctx, "/nope.txt")
	require.Error(t, err)
	kind, _ := storageerrors.Kind(err)
	assert.Equal(t, storageerrors.ErrNotFound, kind)
}

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := New(0)
	h, _, err := b.Create(ctx, "/data.bin", false)
	require.NoError(t, err)

	n, err := b.Write(ctx, h, []byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	require.NoError(t, b.Seek(ctx, h, 0))
	buf := make([]byte, 11)
	n, err = b.Read(ctx, h, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(buf[:n]))
}

func TestReadPastEndReturnsZeroNoError(t *testing.T) {
	ctx := context.Background()
	b := New(0)
	h, _, err := b.Create(ctx, "/empty.txt", false)
	require.NoError(t, err)

	buf := make([]byte, 10)
	n, err := b.Read(ctx, h, buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestWriteToDirectoryFails(t *testing.T) {
	ctx := context.Background()
	b := New(0)
	h, _, err := b.Create(ctx, "/sub", true)
	require.NoError(t, err)

	_, err = b.Write(ctx, h, []byte("x"))
	require.Error(t, err)
	kind, _ := storageerrors.Kind(err)
	assert.Equal(t, storageerrors.ErrIsDirectory, kind)
}

func TestDirNextEnumeratesChildrenInOrder(t *testing.T) {
	ctx := context.Background()
	b := New(0)
	for _, name := range []string{"/b.txt", "/a.txt", "/c.txt"} {
		_, _, err := b.Create(ctx, name, false)
		require.NoError(t, err)
	}

	h, _, err := b.Open(ctx, "/")
	require.NoError(t, err)

	var names []string
	for {
		info, ok, err := b.DirNext(ctx, h)
		require.NoError(t, err)
		if !ok {
			break
		}
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, names)
}

func TestDeleteNonEmptyDirectoryFails(t *testing.T) {
	ctx := context.Background()
	b := New(0)
	_, _, err := b.Create(ctx, "/sub", true)
	require.NoError(t, err)
	_, _, err = b.Create(ctx, "/sub/file.txt", false)
	require.NoError(t, err)

	err = b.Delete(ctx, "/sub")
	require.Error(t, err)
	kind, _ := storageerrors.Kind(err)
	assert.Equal(t, storageerrors.ErrNotEmpty, kind)
}

func TestRenameMovesDescendants(t *testing.T) {
	ctx := context.Background()
	b := New(0)
	_, _, err := b.Create(ctx, "/sub", true)
	require.NoError(t, err)
	_, _, err = b.Create(ctx, "/sub/file.txt", false)
	require.NoError(t, err)

	require.NoError(t, b.Rename(ctx, "/sub", "/renamed"))

	_, _, err = b.Open(ctx, "/renamed/file.txt")
	require.NoError(t, err)
	_, _, err = b.Open(ctx, "/sub/file.txt")
	require.Error(t, err)

	h, _, err := b.Open(ctx, "/renamed")
	require.NoError(t, err)
	info, ok, err := b.DirNext(ctx, h)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "file.txt", info.Name)
}

func TestFreeSpaceShrinksAsDataIsWritten(t *testing.T) {
	ctx := context.Background()
	b := New(1024)
	before, err := b.FreeSpace(ctx)
	require.NoError(t, err)

	h, _, err := b.Create(ctx, "/f.bin", false)
	require.NoError(t, err)
	_, err = b.Write(ctx, h, make([]byte, 100))
	require.NoError(t, err)

	after, err := b.FreeSpace(ctx)
	require.NoError(t, err)
	assert.Equal(t, before-100, after)
}

func TestWriteExceedingCapacityFails(t *testing.T) {
	ctx := context.Background()
	b := New(10)
	h, _, err := b.Create(ctx, "/f.bin", false)
	require.NoError(t, err)

	_, err = b.Write(ctx, h, make([]byte, 11))
	require.Error(t, err)
	kind, _ := storageerrors.Kind(err)
	assert.Equal(t, storageerrors.ErrNoSpace, kind)
}

func TestCloseInvalidHandleFails(t *testing.T) {
	ctx := context.Background()
	b := New(0)
	err := b.Close(ctx, 9999)
	require.Error(t, err)
	kind, _ := storageerrors.Kind(err)
	assert.Equal(t, storageerrors.ErrInvalidHandle, kind)
}
