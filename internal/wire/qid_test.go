package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQIDRoundTrip(t *testing.T) {
	cases := []QID{
		{Type: QTDir, Version: 0, Path: 1},
		{Type: QTFile, Version: 7, Path: 0xFFFFFFFFFFFFFFFF},
		{Type: 0, Version: 0, Path: 0},
	}

	for _, want := range cases {
		buf := make([]byte, qidSize)
		WriteQID(NewCursor(buf), want)
		got := ReadQID(NewCursor(buf))
		assert.Equal(t, want, got)
	}
}

func TestQIDIsDir(t *testing.T) {
	assert.True(t, QID{Type: QTDir}.IsDir())
	assert.False(t, QID{Type: QTFile}.IsDir())
}

func TestQIDEncodedLength(t *testing.T) {
	c := NewCursor(make([]byte, qidSize))
	WriteQID(c, QID{Type: QTDir, Version: 1, Path: 2})
	require.NoError(t, c.Err())
	assert.Equal(t, qidSize, c.Pos())
}
