package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMsize = 64

// ============================================================================
// PeekFrame boundary behavior
// ============================================================================

func TestPeekFrameNeedsMoreForShortBuffer(t *testing.T) {
	status, _ := PeekFrame([]byte{1, 2, 3}, testMsize)
	assert.Equal(t, FrameNeedMore, status)
}

func TestPeekFrameHeaderOnlyIsComplete(t *testing.T) {
	b := NewBuilder(HeaderSize, Tflush, 1)
	frame, err := b.Finish()
	require.NoError(t, err)
	require.Len(t, frame, HeaderSize)

	status, size := PeekFrame(frame, testMsize)
	assert.Equal(t, FrameComplete, status)
	assert.EqualValues(t, HeaderSize, size)
}

func TestPeekFrameIncompleteWaitsForRest(t *testing.T) {
	b := NewBuilder(20, Tversion, NoTag)
	b.Cursor().WriteString("9P2000.u")
	frame, err := b.Finish()
	require.NoError(t, err)

	status, size := PeekFrame(frame[:10], testMsize)
	assert.Equal(t, FrameIncomplete, status)
	assert.EqualValues(t, len(frame), size)
}

func TestPeekFrameExactlyMsizeIsComplete(t *testing.T) {
	buf := make([]byte, testMsize)
	c := NewCursor(buf)
	c.WriteU32(testMsize)
	status, size := PeekFrame(buf, testMsize)
	assert.Equal(t, FrameComplete, status)
	assert.EqualValues(t, testMsize, size)
}

func TestPeekFrameOneByteOverMsizeIsMalformed(t *testing.T) {
	buf := make([]byte, testMsize+1)
	c := NewCursor(buf)
	c.WriteU32(testMsize + 1)
	status, _ := PeekFrame(buf, testMsize)
	assert.Equal(t, FrameMalformed, status)
}

func TestPeekFrameBelowHeaderSizeIsMalformed(t *testing.T) {
	buf := make([]byte, HeaderSize)
	c := NewCursor(buf)
	c.WriteU32(6)
	status, _ := PeekFrame(buf, testMsize)
	assert.Equal(t, FrameMalformed, status)
}

// ============================================================================
// Header decode
// ============================================================================

func TestDecodeHeaderRoundTrip(t *testing.T) {
	b := NewBuilder(HeaderSize+2, Tattach, 0x1234)
	b.Cursor().WriteU16(9)
	frame, err := b.Finish()
	require.NoError(t, err)

	h, err := DecodeHeader(frame)
	require.NoError(t, err)
	assert.Equal(t, uint32(len(frame)), h.Size)
	assert.Equal(t, Tattach, h.Type)
	assert.Equal(t, uint16(0x1234), h.Tag)
}

func TestDecodeHeaderRejectsShortFrame(t *testing.T) {
	_, err := DecodeHeader([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestBodyStripsHeader(t *testing.T) {
	b := NewBuilder(HeaderSize+3, Twrite, 1)
	b.Cursor().WriteBytes([]byte{0xAA, 0xBB, 0xCC})
	frame, err := b.Finish()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, Body(frame))
}

// ============================================================================
// Builder / Rerror
// ============================================================================

func TestBuilderPatchesSize(t *testing.T) {
	b := NewBuilder(HeaderSize+4, Rread, 5)
	b.Cursor().WriteU32(0)
	frame, err := b.Finish()
	require.NoError(t, err)

	h, err := DecodeHeader(frame)
	require.NoError(t, err)
	assert.EqualValues(t, len(frame), h.Size)
	assert.Equal(t, Rread, h.Type)
	assert.Equal(t, uint16(5), h.Tag)
}

func TestBuilderFinishPropagatesCursorError(t *testing.T) {
	b := NewBuilder(HeaderSize, Rread, 1)
	b.Cursor().WriteU32(1) // exceeds the 0-byte body capacity
	_, err := b.Finish()
	assert.Error(t, err)
}

func TestNewRerrorIsAlwaysType107(t *testing.T) {
	frame, err := NewRerror(64, 42, "no such file")
	require.NoError(t, err)

	h, err := DecodeHeader(frame)
	require.NoError(t, err)
	assert.Equal(t, Rerror, h.Type)
	assert.EqualValues(t, 107, h.Type)
	assert.Equal(t, uint16(42), h.Tag)

	msg := NewCursor(Body(frame)).ReadString()
	assert.Equal(t, "no such file", msg)
}
