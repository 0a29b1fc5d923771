package fs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ninep-go/ninepd/internal/ninepfs/storage"
	"github.com/ninep-go/ninepd/internal/wire"
)

func TestNormalizeDotIsNoOp(t *testing.T) {
	assert.Equal(t, "/a/b", Normalize("/a/b", "."))
}

func TestNormalizeDotDotMovesToParent(t *testing.T) {
	assert.Equal(t, "/a", Normalize("/a/b", ".."))
}

func TestNormalizeDotDotClampsAtRoot(t *testing.T) {
	assert.Equal(t, RootPath, Normalize(RootPath, ".."))
}

func TestNormalizeAppendsName(t *testing.T) {
	assert.Equal(t, "/a/b", Normalize("/a", "b"))
}

func TestNormalizeSequenceMatchesWalkedResult(t *testing.T) {
	// Simulates walking ["a", "..", "b"] from root: the original firmware's
	// bug would instead concatenate raw names onto the start path and land
	// on "/a/../b" unresolved; normalized walking must land on "/b".
	p := RootPath
	for _, name := range []string{"a", "..", "b"} {
		p = Normalize(p, name)
	}
	assert.Equal(t, "/b", p)
}

func TestDeriveQIDPathIsDeterministic(t *testing.T) {
	a := DeriveQIDPath("/foo/bar")
	b := DeriveQIDPath("/foo/bar")
	assert.Equal(t, a, b)
}

func TestDeriveQIDPathDiffersAcrossPaths(t *testing.T) {
	assert.NotEqual(t, DeriveQIDPath("/foo"), DeriveQIDPath("/bar"))
}

func TestRootAlwaysGetsReservedQIDPath(t *testing.T) {
	assert.EqualValues(t, RootQIDPath, DeriveQIDPath(RootPath))
}

func TestQIDForSetsDirectoryBit(t *testing.T) {
	q := QIDFor("/sub", true)
	assert.True(t, q.IsDir())
	f := QIDFor("/file.txt", false)
	assert.False(t, f.IsDir())
}

func TestModeForDirectoryHasHighBit(t *testing.T) {
	m := ModeFor(true, false)
	assert.NotZero(t, m&DirectoryCreateBit)
	assert.EqualValues(t, 0o755, m&0o777)
}

func TestModeForReadOnlyFile(t *testing.T) {
	assert.EqualValues(t, 0o444, ModeFor(false, true))
}

func TestModeForWritableFile(t *testing.T) {
	assert.EqualValues(t, 0o644, ModeFor(false, false))
}

func TestQuantizeToFATResolutionTruncatesToTwoSeconds(t *testing.T) {
	odd := time.Date(2024, 1, 1, 0, 0, 1, 500_000_000, time.UTC)
	got := QuantizeToFATResolution(odd)
	assert.Equal(t, 0, got.Second()%2)
	assert.True(t, got.Before(odd) || got.Equal(odd))
}

func TestStatFromEntryUsesDerivedQIDAndName(t *testing.T) {
	info := storage.EntryInfo{Name: "report.txt", IsDir: false, Size: 128, ModTime: time.Unix(1000, 0)}
	s := StatFromEntry("/docs/report.txt", info, false)
	assert.Equal(t, "report.txt", s.Name)
	assert.EqualValues(t, 128, s.Length)
	assert.Equal(t, wire.QTFile, s.QID.Type)
	assert.EqualValues(t, ModeFor(false, false), s.Mode)
}
