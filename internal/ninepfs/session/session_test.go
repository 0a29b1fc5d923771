package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ninep-go/ninepd/internal/ninepfs/storage/memfs"
	"github.com/ninep-go/ninepd/internal/wire"
)

// harness wires a Session to one end of an in-process pipe and drives the
// other end like a 9P client would, one request/reply pair at a time.
type harness struct {
	t      *testing.T
	client net.Conn
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	sess := New(serverConn, memfs.New(0), Config{MaxFIDs: 16, MSizeCeiling: 8192})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sess.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		_ = clientConn.Close()
		<-done
	})
	return &harness{t: t, client: clientConn}
}

// roundTrip sends one request frame and returns the decoded reply header
// plus its body cursor.
func (h *harness) roundTrip(msgType wire.MessageType, tag uint16, encode func(*wire.Cursor)) (wire.Header, *wire.Cursor) {
	h.t.Helper()
	b := wire.NewBuilder(8192, msgType, tag)
	encode(b.Cursor())
	frame, err := b.Finish()
	require.NoError(h.t, err)

	require.NoError(h.t, h.client.SetDeadline(time.Now().Add(5*time.Second)))
	_, err = h.client.Write(frame)
	require.NoError(h.t, err)

	header, body := h.readReply()
	return header, wire.NewCursor(body)
}

func (h *harness) readReply() (wire.Header, []byte) {
	h.t.Helper()
	sizeBuf := make([]byte, 4)
	_, err := readFull(h.client, sizeBuf)
	require.NoError(h.t, err)
	size := uint32(sizeBuf[0]) | uint32(sizeBuf[1])<<8 | uint32(sizeBuf[2])<<16 | uint32(sizeBuf[3])<<24
	rest := make([]byte, size-4)
	_, err = readFull(h.client, rest)
	require.NoError(h.t, err)

	frame := append(sizeBuf, rest...)
	header, err := wire.DecodeHeader(frame)
	require.NoError(h.t, err)
	return header, wire.Body(frame)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (h *harness) version(t *testing.T) {
	header, body := h.roundTrip(wire.Tversion, wire.NoTag, func(c *wire.Cursor) {
		c.WriteU32(8192)
		c.WriteString(wire.VersionString)
	})
	require.Equal(t, wire.Rversion, header.Type)
	msize := body.ReadU32()
	version := body.ReadString()
	assert.EqualValues(t, 8192, msize)
	assert.Equal(t, wire.VersionString, version)
}

func (h *harness) attach(t *testing.T, fid uint32) wire.QID {
	header, body := h.roundTrip(wire.Tattach, 1, func(c *wire.Cursor) {
		c.WriteU32(fid)
		c.WriteU32(wire.NoFID)
		c.WriteString("user")
		c.WriteString("")
	})
	require.Equal(t, wire.Rattach, header.Type)
	return wire.ReadQID(body)
}

func TestVersionNegotiationSucceeds(t *testing.T) {
	h := newHarness(t)
	h.version(t)
}

func TestVersionRejectsUnknownProtocol(t *testing.T) {
	h := newHarness(t)
	header, body := h.roundTrip(wire.Tversion, wire.NoTag, func(c *wire.Cursor) {
		c.WriteU32(8192)
		c.WriteString("9P3000")
	})
	require.Equal(t, wire.Rversion, header.Type)
	_ = body.ReadU32()
	assert.Equal(t, "unknown", body.ReadString())
}

func TestAttachBeforeVersionFails(t *testing.T) {
	h := newHarness(t)
	header, body := h.roundTrip(wire.Tattach, 1, func(c *wire.Cursor) {
		c.WriteU32(0)
		c.WriteU32(wire.NoFID)
		c.WriteString("user")
		c.WriteString("")
	})
	assert.Equal(t, wire.Rerror, header.Type)
	assert.NotEmpty(t, body.ReadString())
}

func TestAttachAfterVersionSucceeds(t *testing.T) {
	h := newHarness(t)
	h.version(t)
	q := h.attach(t, 0)
	assert.True(t, q.IsDir())
}

func TestCreateWriteReadRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.version(t)
	h.attach(t, 0)

	// Walk with nwname=0 clones fid 0 into fid 1 without sharing its handle.
	header, body := h.roundTrip(wire.Twalk, 2, func(c *wire.Cursor) {
		c.WriteU32(0)
		c.WriteU32(1)
		c.WriteU16(0)
	})
	require.Equal(t, wire.Rwalk, header.Type)
	assert.EqualValues(t, 0, body.ReadU16())

	header, body = h.roundTrip(wire.Tcreate, 3, func(c *wire.Cursor) {
		c.WriteU32(1)
		c.WriteString("hello.txt")
		c.WriteU32(0)
		c.WriteU8(ORDWR)
	})
	require.Equal(t, wire.Rcreate, header.Type)
	q := wire.ReadQID(body)
	assert.False(t, q.IsDir())
	ioUnit := body.ReadU32()
	assert.Greater(t, ioUnit, uint32(0))

	payload := []byte("hello world")
	header, body = h.roundTrip(wire.Twrite, 4, func(c *wire.Cursor) {
		c.WriteU32(1)
		c.WriteU64(0)
		c.WriteU32(uint32(len(payload)))
		c.WriteBytes(payload)
	})
	require.Equal(t, wire.Rwrite, header.Type)
	assert.EqualValues(t, len(payload), body.ReadU32())

	header, body = h.roundTrip(wire.Tread, 5, func(c *wire.Cursor) {
		c.WriteU32(1)
		c.WriteU64(0)
		c.WriteU32(1024)
	})
	require.Equal(t, wire.Rread, header.Type)
	n := body.ReadU32()
	assert.EqualValues(t, len(payload), n)
	assert.Equal(t, payload, body.ReadBytes(int(n)))
}

func TestWriteToUnopenedFIDFails(t *testing.T) {
	h := newHarness(t)
	h.version(t)
	h.attach(t, 0)

	header, body := h.roundTrip(wire.Twrite, 2, func(c *wire.Cursor) {
		c.WriteU32(0)
		c.WriteU64(0)
		c.WriteU32(0)
	})
	assert.Equal(t, wire.Rerror, header.Type)
	assert.NotEmpty(t, body.ReadString())
}

func TestClunkFreesFIDEvenForUnopenedEntry(t *testing.T) {
	h := newHarness(t)
	h.version(t)
	h.attach(t, 0)

	header, _ := h.roundTrip(wire.Tclunk, 2, func(c *wire.Cursor) {
		c.WriteU32(0)
	})
	require.Equal(t, wire.Rclunk, header.Type)

	header, body := h.roundTrip(wire.Tclunk, 3, func(c *wire.Cursor) {
		c.WriteU32(0)
	})
	assert.Equal(t, wire.Rerror, header.Type)
	assert.NotEmpty(t, body.ReadString())
}

func TestWalkMissingChildReportsZeroQIDsAndError(t *testing.T) {
	h := newHarness(t)
	h.version(t)
	h.attach(t, 0)

	header, body := h.roundTrip(wire.Twalk, 2, func(c *wire.Cursor) {
		c.WriteU32(0)
		c.WriteU32(1)
		c.WriteU16(1)
		c.WriteString("nope")
	})
	assert.Equal(t, wire.Rerror, header.Type)
	assert.NotEmpty(t, body.ReadString())
}

func TestFlushAlwaysSucceeds(t *testing.T) {
	h := newHarness(t)
	header, _ := h.roundTrip(wire.Tflush, 7, func(c *wire.Cursor) {
		c.WriteU16(1)
	})
	assert.Equal(t, wire.Rflush, header.Type)
}

func TestWalkOnOpenedFIDFails(t *testing.T) {
	h := newHarness(t)
	h.version(t)
	h.attach(t, 0)

	header, _ := h.roundTrip(wire.Topen, 2, func(c *wire.Cursor) {
		c.WriteU32(0)
		c.WriteU8(OREAD)
	})
	require.Equal(t, wire.Ropen, header.Type)

	header, body := h.roundTrip(wire.Twalk, 3, func(c *wire.Cursor) {
		c.WriteU32(0)
		c.WriteU32(1)
		c.WriteU16(0)
	})
	assert.Equal(t, wire.Rerror, header.Type)
	assert.NotEmpty(t, body.ReadString())
}

func TestWalkCloneOntoSameFIDRewritesInPlace(t *testing.T) {
	h := newHarness(t)
	h.version(t)
	root := h.attach(t, 0)

	header, body := h.roundTrip(wire.Twalk, 2, func(c *wire.Cursor) {
		c.WriteU32(0)
		c.WriteU32(0)
		c.WriteU16(0)
	})
	require.Equal(t, wire.Rwalk, header.Type)
	assert.EqualValues(t, 0, body.ReadU16())

	// fid 0 must still resolve to the root and still be usable: the
	// self-clone must rewrite its entry in place, not reject it as
	// already-allocated.
	header, body = h.roundTrip(wire.Tstat, 3, func(c *wire.Cursor) {
		c.WriteU32(0)
	})
	require.Equal(t, wire.Rstat, header.Type)
	st, err := wire.ReadStat(body)
	require.NoError(t, err)
	assert.Equal(t, root, st.QID)
}

func TestWalkNewFIDAlreadyInUseFails(t *testing.T) {
	h := newHarness(t)
	h.version(t)
	h.attach(t, 0)

	// fid 1 clone succeeds first...
	header, _ := h.roundTrip(wire.Twalk, 2, func(c *wire.Cursor) {
		c.WriteU32(0)
		c.WriteU32(1)
		c.WriteU16(0)
	})
	require.Equal(t, wire.Rwalk, header.Type)

	// ...so walking fid 0 onto the already-live fid 1 must fail.
	header, body := h.roundTrip(wire.Twalk, 3, func(c *wire.Cursor) {
		c.WriteU32(0)
		c.WriteU32(1)
		c.WriteU16(0)
	})
	assert.Equal(t, wire.Rerror, header.Type)
	assert.NotEmpty(t, body.ReadString())
}

func TestCreateRejectsDotAndDotDotNames(t *testing.T) {
	h := newHarness(t)
	h.version(t)
	h.attach(t, 0)

	for _, name := range []string{".", "..", ""} {
		header, body := h.roundTrip(wire.Tcreate, 2, func(c *wire.Cursor) {
			c.WriteU32(0)
			c.WriteString(name)
			c.WriteU32(0)
			c.WriteU8(ORDWR)
		})
		assert.Equal(t, wire.Rerror, header.Type, "name %q", name)
		assert.NotEmpty(t, body.ReadString())
	}
}

func TestOpenRejectsImpossibleModeBits(t *testing.T) {
	h := newHarness(t)
	h.version(t)
	h.attach(t, 0)

	header, body := h.roundTrip(wire.Topen, 2, func(c *wire.Cursor) {
		c.WriteU32(0)
		c.WriteU8(0x80) // reserved bit, not any recognized mode flag
	})
	assert.Equal(t, wire.Rerror, header.Type)
	assert.NotEmpty(t, body.ReadString())
}

func TestPipelinedRequestsAreBothServed(t *testing.T) {
	h := newHarness(t)

	versionFrame := func() []byte {
		b := wire.NewBuilder(8192, wire.Tversion, wire.NoTag)
		b.Cursor().WriteU32(8192)
		b.Cursor().WriteString(wire.VersionString)
		frame, err := b.Finish()
		require.NoError(h.t, err)
		return frame
	}()
	attachFrame := func() []byte {
		b := wire.NewBuilder(8192, wire.Tattach, 1)
		b.Cursor().WriteU32(0)
		b.Cursor().WriteU32(wire.NoFID)
		b.Cursor().WriteString("user")
		b.Cursor().WriteString("")
		frame, err := b.Finish()
		require.NoError(h.t, err)
		return frame
	}()

	// Write both requests in a single syscall, as a client that doesn't
	// wait for each reply before sending the next would: the bytes of
	// Tattach arrive bundled with Tversion's frame in one Read on the
	// session side.
	both := append(append([]byte{}, versionFrame...), attachFrame...)
	require.NoError(h.t, h.client.SetDeadline(time.Now().Add(5*time.Second)))
	_, err := h.client.Write(both)
	require.NoError(h.t, err)

	header, _ := h.readReply()
	assert.Equal(t, wire.Rversion, header.Type)

	header, _ = h.readReply()
	assert.Equal(t, wire.Rattach, header.Type)
	assert.EqualValues(t, 1, header.Tag)
}

func TestDirectoryReadEnumeratesCreatedFiles(t *testing.T) {
	h := newHarness(t)
	h.version(t)
	h.attach(t, 0)

	h.roundTrip(wire.Twalk, 2, func(c *wire.Cursor) {
		c.WriteU32(0)
		c.WriteU32(1)
		c.WriteU16(0)
	})
	h.roundTrip(wire.Tcreate, 3, func(c *wire.Cursor) {
		c.WriteU32(1)
		c.WriteString("a.txt")
		c.WriteU32(0)
		c.WriteU8(ORDWR)
	})
	h.roundTrip(wire.Tclunk, 4, func(c *wire.Cursor) {
		c.WriteU32(1)
	})

	header, body := h.roundTrip(wire.Topen, 5, func(c *wire.Cursor) {
		c.WriteU32(0)
		c.WriteU8(OREAD)
	})
	require.Equal(t, wire.Ropen, header.Type)

	header, body = h.roundTrip(wire.Tread, 6, func(c *wire.Cursor) {
		c.WriteU32(0)
		c.WriteU64(0)
		c.WriteU32(4096)
	})
	require.Equal(t, wire.Rread, header.Type)
	n := body.ReadU32()
	require.Greater(t, n, uint32(0))
	inner := wire.NewCursor(body.ReadBytes(int(n)))
	st, err := wire.ReadStat(inner)
	require.NoError(t, err)
	assert.Equal(t, "a.txt", st.Name)
}
