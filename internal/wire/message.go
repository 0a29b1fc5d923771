package wire

import (
	"encoding/binary"
	"fmt"
)

// Header is the fixed 7-byte prefix of every 9P2000.u message: the total
// message size (including these 7 bytes), the message type, and the tag
// pairing a reply to its request.
type Header struct {
	Size uint32
	Type MessageType
	Tag  uint16
}

// FrameStatus describes what PeekFrame determined about a candidate
// message length against a connection's negotiated msize.
type FrameStatus int

const (
	// FrameNeedMore means fewer than HeaderSize bytes are buffered yet;
	// the caller must read more from the connection before re-checking.
	FrameNeedMore FrameStatus = iota
	// FrameIncomplete means the header is readable and names a size
	// larger than what's buffered so far; the caller must read
	// (Header.Size - buffered) more bytes before the frame is complete.
	FrameIncomplete
	// FrameComplete means the full message (Header.Size bytes) is
	// present in the buffer, starting at offset 0.
	FrameComplete
	// FrameMalformed means the header names a size outside the legal
	// range (less than HeaderSize, or greater than the session's
	// negotiated msize); the connection must be closed.
	FrameMalformed
)

// PeekFrame inspects buffered bytes against msize (the negotiated maximum
// message size) and reports how much more, if anything, the caller needs to
// read before a full message is available. It never consumes from buf.
func PeekFrame(buf []byte, msize uint32) (FrameStatus, uint32) {
	if len(buf) < HeaderSize {
		return FrameNeedMore, 0
	}
	size := binary.LittleEndian.Uint32(buf[0:4])
	if size < HeaderSize || size > msize {
		return FrameMalformed, size
	}
	if uint32(len(buf)) < size {
		return FrameIncomplete, size
	}
	return FrameComplete, size
}

// DecodeHeader reads the 7-byte header from the start of a complete frame.
// Callers must have already established the frame is FrameComplete (or are
// decoding a response they built themselves).
func DecodeHeader(frame []byte) (Header, error) {
	if len(frame) < HeaderSize {
		return Header{}, fmt.Errorf("wire: frame shorter than header: %d bytes", len(frame))
	}
	return Header{
		Size: binary.LittleEndian.Uint32(frame[0:4]),
		Type: MessageType(frame[4]),
		Tag:  binary.LittleEndian.Uint16(frame[5:7]),
	}, nil
}

// Body returns the portion of a complete frame after the 7-byte header.
func Body(frame []byte) []byte {
	if len(frame) < HeaderSize {
		return nil
	}
	return frame[HeaderSize:]
}

// Builder accumulates a response message body and finalizes it into a
// complete frame by back-patching the size field once the body is known.
// This mirrors how the session core assembles every R-message: write the
// placeholder header, encode the typed payload, then patch Size in place.
type Builder struct {
	cur *Cursor
}

// NewBuilder allocates a response buffer of the given capacity (normally
// msize) and reserves the header for later patching.
func NewBuilder(capacity int, msgType MessageType, tag uint16) *Builder {
	cur := NewCursor(make([]byte, capacity))
	cur.WriteU32(0) // placeholder, patched in Finish
	cur.WriteU8(uint8(msgType))
	cur.WriteU16(tag)
	return &Builder{cur: cur}
}

// Cursor exposes the underlying cursor so handlers can encode the
// message-specific payload after the header.
func (b *Builder) Cursor() *Cursor {
	return b.cur
}

// Finish back-patches the size field with the number of bytes written and
// returns the complete frame. It returns an error if any prior write on the
// cursor failed (e.g. the response didn't fit in the allocated capacity).
func (b *Builder) Finish() ([]byte, error) {
	if err := b.cur.Err(); err != nil {
		return nil, err
	}
	frame := b.cur.Bytes()
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(frame)))
	return frame, nil
}

// NewRerror builds a complete Rerror frame for the given tag and message.
// Per 9P2000.u, Rerror always carries a single string (the .u numeric errno
// companion field is omitted here; this server reports only the string,
// consistent with spec's error-mapping policy of always answering with a
// human-readable Rerror string).
func NewRerror(capacity int, tag uint16, message string) ([]byte, error) {
	b := NewBuilder(capacity, Rerror, tag)
	b.Cursor().WriteString(message)
	return b.Finish()
}
