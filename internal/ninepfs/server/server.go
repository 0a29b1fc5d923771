// Package server implements the 9P2000.u TCP listener: the accept loop,
// connection admission, and graceful shutdown that wraps one Session per
// accepted connection. It mirrors the shape (not the multi-protocol
// breadth) of the teacher's pkg/adapter.BaseAdapter — a bare TCP listener
// serving exactly one protocol has no need for the teacher's
// ConnectionFactory abstraction, so this collapses straight to
// session.New.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ninep-go/ninepd/internal/logger"
	"github.com/ninep-go/ninepd/internal/ninepfs/session"
	"github.com/ninep-go/ninepd/internal/ninepfs/storage"
)

// Config configures one Server.
type Config struct {
	BindAddress       string
	Port              int
	MaxSessions       int
	MaxFIDsPerSession int
	MSizeCeiling      uint32
	LockTimeout       time.Duration
	ShutdownTimeout   time.Duration

	Metrics session.Metrics
	Tracer  session.Tracer
}

func (c *Config) applyDefaults() {
	if c.MaxSessions <= 0 {
		c.MaxSessions = 3
	}
	if c.MaxFIDsPerSession <= 0 {
		c.MaxFIDsPerSession = 64
	}
	if c.MSizeCeiling <= 0 {
		c.MSizeCeiling = 65536
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = 5 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// SessionInfo is a snapshot of one active session, for the control plane's
// /sessions endpoint.
type SessionInfo struct {
	ClientAddr string
	State      string
	OpenFIDs   int
}

// SessionObserver is notified as sessions open and close, letting the ring
// cache and audit store stay up to date without the Server importing them
// directly.
type SessionObserver interface {
	SessionOpened(addr string)
	SessionClosed(addr string, state string)
}

type noopObserver struct{}

func (noopObserver) SessionOpened(string)       {}
func (noopObserver) SessionClosed(string, string) {}

// Server accepts TCP connections and serves one Session per connection,
// bounded by MaxSessions, with a graceful-then-forced shutdown sequence
// grounded on BaseAdapter.ServeWithFactory/gracefulShutdown/
// forceCloseConnections.
type Server struct {
	cfg     Config
	backend storage.Backend

	listener   net.Listener
	listenerMu sync.RWMutex
	ready      chan struct{}

	sem          chan struct{}
	activeConns  sync.Map // net.Conn -> *session.Session
	activeWG     sync.WaitGroup
	connCount    atomic.Int32
	shutdownOnce sync.Once
	shutdown     chan struct{}

	observer SessionObserver
}

// New constructs a Server. backend is expected to already be wrapped in
// storage.NewSerialized if the caller wants cross-session serialization
// (every concrete backend in this module is driven that way in
// production).
func New(cfg Config, backend storage.Backend, observer SessionObserver) *Server {
	cfg.applyDefaults()
	if observer == nil {
		observer = noopObserver{}
	}
	return &Server{
		cfg:      cfg,
		backend:  backend,
		ready:    make(chan struct{}),
		sem:      make(chan struct{}, cfg.MaxSessions),
		shutdown: make(chan struct{}),
		observer: observer,
	}
}

// Serve listens on cfg.BindAddress:cfg.Port and accepts connections until
// ctx is cancelled or Stop is called. It blocks until every connection has
// drained (or been force-closed after ShutdownTimeout).
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: failed to listen on %s: %w", addr, err)
	}

	s.listenerMu.Lock()
	s.listener = ln
	s.listenerMu.Unlock()
	close(s.ready)

	logger.Info("ninepd listening", "address", addr)

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Stop(context.Background())
		case <-s.shutdown:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
				return fmt.Errorf("server: accept failed: %w", err)
			}
		}

		select {
		case s.sem <- struct{}{}:
		case <-s.shutdown:
			_ = conn.Close()
			return s.gracefulShutdown()
		default:
			// At MaxSessions already: reject immediately rather than
			// queuing the connection behind a slot that may never free.
			_ = conn.Close()
			continue
		}

		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}

		s.connCount.Add(1)
		s.activeWG.Add(1)
		go s.serveOne(ctx, conn)
	}
}

func (s *Server) serveOne(ctx context.Context, conn net.Conn) {
	defer func() {
		s.activeConns.Delete(conn)
		s.activeWG.Done()
		s.connCount.Add(-1)
		<-s.sem
	}()

	addr := conn.RemoteAddr().String()
	sess := session.New(conn, s.backend, session.Config{
		MaxFIDs:      s.cfg.MaxFIDsPerSession,
		MSizeCeiling: s.cfg.MSizeCeiling,
		LockTimeout:  s.cfg.LockTimeout,
		Metrics:      s.cfg.Metrics,
		Tracer:       s.cfg.Tracer,
	})
	s.activeConns.Store(conn, sess)
	s.observer.SessionOpened(addr)

	sess.Serve(ctx)

	s.observer.SessionClosed(addr, sess.State().String())
}

// Sessions returns a snapshot of every currently active session, for the
// control plane's /sessions endpoint.
func (s *Server) Sessions() []SessionInfo {
	var out []SessionInfo
	s.activeConns.Range(func(_, value any) bool {
		sess := value.(*session.Session)
		out = append(out, SessionInfo{
			ClientAddr: sess.ClientAddr(),
			State:      sess.State().String(),
			OpenFIDs:   sess.OpenFIDCount(),
		})
		return true
	})
	return out
}

// ActiveCount returns the number of connections currently being served.
func (s *Server) ActiveCount() int32 { return s.connCount.Load() }

// Addr blocks until the listener is bound and returns its address.
func (s *Server) Addr() net.Addr {
	<-s.ready
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	return s.listener.Addr()
}

// Stop begins graceful shutdown: the listener is closed immediately so no
// new connections are admitted, then Serve's accept loop waits up to
// ShutdownTimeout for in-flight sessions to finish before force-closing
// what remains — the same two-phase shutdown as
// BaseAdapter.initiateShutdown/gracefulShutdown/forceCloseConnections.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		s.listenerMu.RLock()
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.listenerMu.RUnlock()
		s.interruptBlockingReads()
	})
	return nil
}

func (s *Server) interruptBlockingReads() {
	deadline := time.Now().Add(100 * time.Millisecond)
	s.activeConns.Range(func(key, _ any) bool {
		if conn, ok := key.(net.Conn); ok {
			_ = conn.SetReadDeadline(deadline)
		}
		return true
	})
}

func (s *Server) gracefulShutdown() error {
	done := make(chan struct{})
	go func() {
		s.activeWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(s.cfg.ShutdownTimeout):
		s.forceCloseConnections()
		return nil
	}
}

func (s *Server) forceCloseConnections() {
	s.activeConns.Range(func(key, _ any) bool {
		if conn, ok := key.(net.Conn); ok {
			_ = conn.Close()
		}
		return true
	})
}
