// Package session implements one 9P2000.u connection end to end: the
// connected/versioned/attached/terminated state machine, strictly
// sequential request dispatch, and the thirteen T-message handlers.
//
// Every session processes its requests one at a time, in the order they
// arrive on the wire, the same way the teacher's NFS connection handler
// processes one request inline before reading the next. Unlike that
// handler, a session carries no semaphore or wait-group scaffolding at
// all: every 9P handler can read or mutate the shared FID table, so no
// subset of requests is safe to run in parallel within one session.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/ninep-go/ninepd/internal/logger"
	"github.com/ninep-go/ninepd/internal/ninepfs/fid"
	"github.com/ninep-go/ninepd/internal/ninepfs/storage"
	"github.com/ninep-go/ninepd/internal/wire"
	"github.com/ninep-go/ninepd/pkg/bufpool"
)

// State is the session's position in the connected/versioned/attached/
// terminated lifecycle.
type State int

const (
	StateConnected State = iota
	StateVersioned
	StateAttached
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateVersioned:
		return "versioned"
	case StateAttached:
		return "attached"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// DefaultInitialMsize is offered implicitly before any Tversion has been
// negotiated (used only to size the very first read buffer).
const DefaultInitialMsize = 8192

// Metrics is the subset of observability hooks the session core drives.
// A no-op implementation is used when the caller doesn't wire one.
type Metrics interface {
	RecordMessage(msgType wire.MessageType, bytesIn, bytesOut int)
	RecordError(msgType wire.MessageType)
	SessionOpened()
	SessionClosed(reason string)
}

type noopMetrics struct{}

func (noopMetrics) RecordMessage(wire.MessageType, int, int) {}
func (noopMetrics) RecordError(wire.MessageType)             {}
func (noopMetrics) SessionOpened()                           {}
func (noopMetrics) SessionClosed(string)                     {}

// Tracer wraps one dispatched request in a span. A no-op implementation is
// used when the caller doesn't wire OpenTelemetry.
type Tracer interface {
	StartDispatch(ctx context.Context, msgType wire.MessageType) (context.Context, func())
}

type noopTracer struct{}

func (noopTracer) StartDispatch(ctx context.Context, _ wire.MessageType) (context.Context, func()) {
	return ctx, func() {}
}

// Config configures one Session.
type Config struct {
	MaxFIDs      int
	MSizeCeiling uint32
	LockTimeout  time.Duration
	IdleTimeout  time.Duration
	Metrics      Metrics
	Tracer       Tracer
}

func (c *Config) applyDefaults() {
	if c.MaxFIDs <= 0 {
		c.MaxFIDs = 64
	}
	if c.MSizeCeiling <= 0 {
		c.MSizeCeiling = 65536
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = 5 * time.Second
	}
	if c.Metrics == nil {
		c.Metrics = noopMetrics{}
	}
	if c.Tracer == nil {
		c.Tracer = noopTracer{}
	}
}

// Session drives one client connection from accept to termination.
type Session struct {
	conn       net.Conn
	clientAddr string
	backend    storage.Backend
	cfg        Config

	state   State
	msize   uint32 // negotiated; DefaultInitialMsize until Tversion succeeds
	fids    *fid.Table
	closed  atomic.Bool

	// pending holds bytes already read off the wire that belong to the
	// next frame: a client is free to pipeline several requests into one
	// TCP write before reading any reply, and the read syscall that
	// completes frame N commonly delivers a few bytes of frame N+1 in the
	// same buffer. Those bytes must carry over to the next readFrame
	// call rather than being discarded with the buffer they arrived in.
	pending []byte
}

// New constructs a Session around an already-accepted connection and a
// storage backend serving its attach point.
func New(conn net.Conn, backend storage.Backend, cfg Config) *Session {
	cfg.applyDefaults()
	return &Session{
		conn:       conn,
		clientAddr: conn.RemoteAddr().String(),
		backend:    backend,
		cfg:        cfg,
		state:      StateConnected,
		msize:      DefaultInitialMsize,
		fids:       fid.NewTable(cfg.MaxFIDs),
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State { return s.state }

// ClientAddr returns the remote address this session was accepted from.
func (s *Session) ClientAddr() string { return s.clientAddr }

// OpenFIDCount reports how many FIDs are currently allocated, for the
// control-plane /sessions endpoint.
func (s *Session) OpenFIDCount() int { return s.fids.Len() }

// Serve reads, dispatches, and replies to requests until the connection
// closes, the context is cancelled, or an unrecoverable framing error
// occurs. It never returns an error: every failure is either turned into
// an Rerror reply or ends the session; the caller only needs to know when
// Serve returns that the connection is done.
func (s *Session) Serve(ctx context.Context) {
	defer s.handleSessionClose()
	s.cfg.Metrics.SessionOpened()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if s.cfg.IdleTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}

		frame, err := s.readFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Debug("session closed by client", "address", s.clientAddr)
			} else if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				logger.Debug("session idle timeout", "address", s.clientAddr)
			} else {
				logger.Debug("session framing error", "address", s.clientAddr, "error", err)
			}
			return
		}

		reply := s.processOneFrame(ctx, frame)
		bufpool.Put(frame)
		if reply == nil {
			continue
		}

		if _, err := s.conn.Write(reply); err != nil {
			logger.Debug("session write error", "address", s.clientAddr, "error", err)
			bufpool.Put(reply)
			return
		}
		bufpool.Put(reply)
	}
}

// processOneFrame recovers from a handler panic so one malformed or
// unexpectedly-shaped message never takes the whole server down, matching
// the teacher's per-request panic boundary in pkg/adapter/nfs/connection.go.
func (s *Session) processOneFrame(ctx context.Context, frame []byte) (reply []byte) {
	header, err := wire.DecodeHeader(frame)
	if err != nil {
		logger.Debug("malformed header", "address", s.clientAddr, "error", err)
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic handling request", "address", s.clientAddr, "type", header.Type.String(), "panic", r, "stack", string(debug.Stack()))
			reply, _ = wire.NewRerror(int(s.msize), header.Tag, "internal error")
		}
	}()

	ctx, end := s.cfg.Tracer.StartDispatch(ctx, header.Type)
	defer end()

	logger.DebugCtx(ctx, "dispatch", "type", header.Type.String(), "tag", header.Tag, "fids", s.fids.Len())

	body := wire.Body(frame)
	out, herr := s.dispatch(ctx, header, body)
	if herr != nil {
		s.cfg.Metrics.RecordError(header.Type)
		out, _ = wire.NewRerror(int(s.msize), header.Tag, rerrorMessage(herr))
	}
	s.cfg.Metrics.RecordMessage(header.Type, len(frame), len(out))
	return out
}

// dispatch routes one decoded request to its handler. Each handler builds
// and returns its own response frame via wire.Builder.
func (s *Session) dispatch(ctx context.Context, h wire.Header, body []byte) ([]byte, error) {
	cur := wire.NewCursor(body)

	switch h.Type {
	case wire.Tversion:
		return s.handleVersion(cur, h.Tag)
	case wire.Tauth:
		return nil, fmt.Errorf("authentication not supported")
	case wire.Tattach:
		return s.handleAttach(cur, h.Tag)
	case wire.Twalk:
		return s.handleWalk(cur, h.Tag)
	case wire.Topen:
		return s.handleOpen(ctx, cur, h.Tag)
	case wire.Tcreate:
		return s.handleCreate(ctx, cur, h.Tag)
	case wire.Tread:
		return s.handleRead(ctx, cur, h.Tag)
	case wire.Twrite:
		return s.handleWrite(ctx, cur, h.Tag)
	case wire.Tclunk:
		return s.handleClunk(ctx, cur, h.Tag)
	case wire.Tremove:
		return s.handleRemove(ctx, cur, h.Tag)
	case wire.Tstat:
		return s.handleStat(ctx, cur, h.Tag)
	case wire.Twstat:
		return s.handleWstat(ctx, cur, h.Tag)
	case wire.Tflush:
		return s.handleFlush(cur, h.Tag)
	default:
		return nil, fmt.Errorf("unknown or illegal message type %d", h.Type)
	}
}

// readFrame blocks until one complete message is buffered, growing the
// read buffer as needed up to the negotiated msize. Bytes read past the
// end of the returned frame (the start of the next pipelined request) are
// saved in s.pending rather than discarded, since a client may write
// several requests to the socket before reading any reply.
func (s *Session) readFrame() ([]byte, error) {
	buf := bufpool.Get(int(s.msize))
	n := copy(buf, s.pending)
	s.pending = nil

	for {
		status, size := wire.PeekFrame(buf[:n], s.msize)
		switch status {
		case wire.FrameComplete:
			if int(size) < n {
				s.pending = append([]byte(nil), buf[size:n]...)
			}
			return buf[:size], nil
		case wire.FrameMalformed:
			bufpool.Put(buf)
			return nil, fmt.Errorf("malformed frame: declared size %d outside [%d, %d]", size, wire.HeaderSize, s.msize)
		}

		if n == len(buf) {
			grown := bufpool.Get(len(buf) * 2)
			copy(grown, buf[:n])
			bufpool.Put(buf)
			buf = grown
		}
		read, err := s.conn.Read(buf[n:])
		n += read
		if err != nil {
			if n == 0 {
				bufpool.Put(buf)
				return nil, err
			}
			// Partial frame buffered but the connection errored (timeout,
			// reset, EOF mid-message): nothing left to retry with, so
			// surface the error rather than spin re-reading a dead socket.
			bufpool.Put(buf)
			return nil, err
		}
	}
}

func (s *Session) handleSessionClose() {
	if s.closed.Swap(true) {
		return
	}
	for _, h := range s.fids.AllOpenHandles() {
		_ = s.backend.Close(context.Background(), storage.Handle(h))
	}
	_ = s.conn.Close()
	s.cfg.Metrics.SessionClosed(s.state.String())
	s.state = StateTerminated
}
