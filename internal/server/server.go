package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/life-stream-dev/life-stream-go-chat-server/internal/auth"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/config"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/connection"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/logger"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/metrics"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/router"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/utils"
)

// Server accepts chat clients and runs one session goroutine per connection.
type Server struct {
	cfg           config.ServerConfig
	router        *router.Router
	authenticator *auth.Authenticator
	metrics       *metrics.Metrics
	connOpts      connection.Options

	// nil when max_connections is 0
	sem  chan struct{}
	done chan struct{}

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	active   map[connection.Conn]struct{}
	sessions sync.WaitGroup
}

func New(cfg config.ServerConfig, r *router.Router, a *auth.Authenticator, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:           cfg,
		router:        r,
		authenticator: a,
		metrics:       m,
		connOpts: connection.Options{
			Framing:      cfg.Framing,
			BufferSize:   cfg.BufferSize,
			WriteTimeout: utils.ParseStringTime(cfg.WriteTimeout),
		},
		active: make(map[connection.Conn]struct{}),
		done:   make(chan struct{}),
	}
	if cfg.MaxConnections > 0 {
		s.sem = make(chan struct{}, cfg.MaxConnections)
	}
	return s
}

func (s *Server) Address() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// ListenAndServe binds the configured TCP address and serves on it.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.Address())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Address(), err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Close is called. Each accepted
// connection is handed to its own goroutine; Serve never waits for them.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return net.ErrClosed
	}
	s.listener = ln
	s.mu.Unlock()

	logger.InfoF("Chat Server Listen On %s", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.ErrorF("Accept connection error: %v", err)
			continue
		}

		logger.DebugF("Accepted new connection from %s", conn.RemoteAddr().String())

		if !s.acquire() {
			_ = conn.Close()
			return nil
		}
		tcpConn := connection.NewTCPConn(conn, s.connOpts)
		if !s.track(tcpConn) {
			s.release()
			_ = conn.Close()
			continue
		}
		go func() {
			defer s.release()
			defer s.untrack(tcpConn)
			s.handle(tcpConn)
		}()
	}
}

// acquire waits for a free session slot. It gives up once Close is called.
func (s *Server) acquire() bool {
	if s.sem == nil {
		return true
	}
	select {
	case s.sem <- struct{}{}:
		return true
	case <-s.done:
		return false
	}
}

func (s *Server) release() {
	if s.sem != nil {
		<-s.sem
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// track records a live connection and counts its session. It refuses once
// Close has run, so no session starts after Invoke begins waiting.
func (s *Server) track(conn connection.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.active[conn] = struct{}{}
	s.sessions.Add(1)
	return true
}

func (s *Server) untrack(conn connection.Conn) {
	s.mu.Lock()
	delete(s.active, conn)
	s.mu.Unlock()
	s.sessions.Done()
}

func (s *Server) handle(conn connection.Conn) {
	handler := &ConnectionHandler{
		conn:          conn,
		connId:        conn.ID(),
		router:        s.router,
		authenticator: s.authenticator,
		metrics:       s.metrics,
	}
	handler.handleConnection()
}

// Close stops accepting and closes every live connection. Each session
// loop then fails its read and unregisters itself.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	ln := s.listener
	conns := make([]connection.Conn, 0, len(s.active))
	for conn := range s.active {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	for _, conn := range conns {
		if cerr := conn.Close(); cerr != nil && !connection.IsNetClosedError(cerr) {
			logger.WarnF("[%s] Error occured while closing connection, details: %v", conn.ID(), cerr)
		}
	}
	return err
}

// Invoke closes the server and waits for session goroutines to finish or
// for ctx to expire. It lets the shutdown cleaner own the server.
func (s *Server) Invoke(ctx context.Context) error {
	logger.Info("Stopping chat server")
	if err := s.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		logger.ErrorF("Server close error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("All sessions closed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for sessions: %w", ctx.Err())
	}
}
