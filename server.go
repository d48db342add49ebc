package nonblock

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Handler serves messages received by a Server.
type Handler interface {
	// ServeMessage is called for every message received on conn, from the
	// connection's read goroutine. Returning an error closes the connection.
	ServeMessage(conn *Conn, message *Message) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(conn *Conn, message *Message) error

// ServeMessage calls f(conn, message).
func (f HandlerFunc) ServeMessage(conn *Conn, message *Message) error {
	return f(conn, message)
}

// Server represents a TCP server that listens for incoming connections and
// runs a Conn for each of them.
type Server struct {
	listener        *net.TCPListener
	logger          Logger
	shutdownTimeout time.Duration
	connOpts        []Option

	mu          sync.Mutex
	shutdown    bool
	conns       map[*Conn]struct{}
	wg          sync.WaitGroup
	shutdownNow chan struct{} // signals immediate shutdown, bypassing timeout
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLoggerOption sets the logger for the server.
func ServerLoggerOption(logger Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// ServerShutdownTimeoutOption sets the graceful shutdown timeout.
// When the context is canceled, the server stops accepting and waits up to
// this duration for open connections to finish before closing them.
// Default is 0 (immediate shutdown).
func ServerShutdownTimeoutOption(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.shutdownTimeout = timeout
	}
}

// ServerConnOption sets the options applied to every accepted connection.
// OnMessageOption is always overridden by the Handler passed to Serve.
func ServerConnOption(opts ...Option) ServerOption {
	return func(s *Server) {
		s.connOpts = append(s.connOpts, opts...)
	}
}

// New creates a new TCP server bound to the specified address.
// Returns an error if the address cannot be bound.
func New(addr *net.TCPAddr, opts ...ServerOption) (*Server, error) {
	listener, err := net.ListenTCP(addr.Network(), addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		listener:    listener,
		logger:      slog.Default(),
		conns:       make(map[*Conn]struct{}),
		shutdownNow: make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Serve accepts connections and runs them until the context is canceled or
// an unrecoverable error occurs. After cancellation it waits for open
// connections as configured by ServerShutdownTimeoutOption, closes the rest,
// and returns ctx.Err().
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	s.logger.Info("server started", "addr", s.listener.Addr())

	connCtx, cancelConns := context.WithCancel(context.Background())
	defer cancelConns()

	served := make(chan struct{})
	defer close(served)

	go func() {
		select {
		case <-ctx.Done():
		case <-served:
			return
		}
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		// Set a deadline to unblock Accept
		_ = s.listener.SetDeadline(time.Now())
	}()

	for {
		tcpConn, err := s.listener.AcceptTCP()
		if err != nil {
			s.mu.Lock()
			isShutdown := s.shutdown
			s.mu.Unlock()

			if isShutdown {
				s.drain(cancelConns)
				_ = s.listener.Close()
				s.logger.Info("server stopped", "addr", s.listener.Addr())
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return nil
			}

			// Check if it's a temporary error
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Error("accept error", "error", err)
			s.drain(cancelConns)
			return err
		}

		s.logger.Debug("accepted connection", "remote_addr", tcpConn.RemoteAddr())
		_ = tcpConn.SetNoDelay(true)

		var conn *Conn
		opts := append(append([]Option(nil), s.connOpts...), OnMessageOption(func(m *Message) error {
			return handler.ServeMessage(conn, m)
		}))
		conn, err = NewConn(tcpConn, opts...)
		if err != nil {
			s.logger.Error("connection setup failed", "remote_addr", tcpConn.RemoteAddr(), "error", err)
			_ = tcpConn.Close()
			continue
		}
		s.track(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(conn, false)
			_ = conn.Run(connCtx)
		}()
	}
}

// drain waits for open connections, up to the shutdown timeout, and then
// cancels whatever is left.
func (s *Server) drain(cancelConns context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	if s.shutdownTimeout > 0 {
		s.logger.Info("graceful shutdown initiated", "timeout", s.shutdownTimeout, "connections", s.Connections())
		timer := time.NewTimer(s.shutdownTimeout)
		defer timer.Stop()
		select {
		case <-done:
			return
		case <-timer.C:
			// Timeout expired, proceed with shutdown
		case <-s.shutdownNow:
			s.logger.Debug("shutdown timeout bypassed via Close()")
		}
	}

	cancelConns()
	<-done
}

func (s *Server) track(conn *Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// Connections returns the number of open connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close stops the server by closing the underlying listener.
// If a shutdown timeout is in progress, Close bypasses the remaining timeout.
// Any blocked Accept calls will return with an error.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	// Signal to bypass any pending shutdown timeout
	select {
	case s.shutdownNow <- struct{}{}:
	default:
		// Channel already has a signal
	}

	return s.listener.Close()
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
