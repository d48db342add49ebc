package eventloop

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/pborman/uuid"
	pkgerrors "github.com/pkg/errors"

	"github.com/Zereker/nonblock"
	"github.com/Zereker/nonblock/metrics"
)

// Default server configuration.
const (
	defaultMaxConnections = 1024
	defaultPollInterval   = 100 * time.Millisecond
)

// ErrConnectionLimit is logged when a connection is refused because the server
// already holds the maximum number of connections.
var ErrConnectionLimit = errors.New("connection limit reached")

// Handler serves messages received by a Server. It runs on the event loop
// goroutine and must not block.
type Handler interface {
	ServeMessage(s *Session, message *nonblock.Message) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(s *Session, message *nonblock.Message) error

// ServeMessage calls f(s, message).
func (f HandlerFunc) ServeMessage(s *Session, message *nonblock.Message) error {
	return f(s, message)
}

// Session is one accepted connection.
type Session struct {
	id       string
	fd       *FD
	addr     net.Addr
	stream   *nonblock.MessageStream
	interest Interest
	flushed  int
}

// ID returns the unique session id.
func (s *Session) ID() string {
	return s.id
}

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() net.Addr {
	return s.addr
}

// Send queues message for the peer and writes as much of it as the socket
// accepts now. The rest is flushed when the socket becomes writable.
func (s *Session) Send(message *nonblock.Message) error {
	return s.stream.WriteMessage(message)
}

// Pending returns the number of outbound messages not yet fully written.
func (s *Session) Pending() int {
	return s.stream.Outbound()
}

// Server runs the event loop for one Listener.
type Server struct {
	listener *Listener
	poller   *Poller
	handler  Handler
	sessions map[int]*Session

	logger         nonblock.Logger
	metrics        *metrics.Metrics
	streamOpts     []nonblock.Option
	maxConnections int
	pollInterval   time.Duration
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// LoggerOption sets the server logger. Defaults to slog.Default().
func LoggerOption(logger nonblock.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// MetricsOption sets the collectors updated by the server.
func MetricsOption(m *metrics.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// StreamOption sets options for every connection's MessageStream, such as
// limits and outbound queue size.
func StreamOption(opts ...nonblock.Option) ServerOption {
	return func(s *Server) {
		s.streamOpts = append(s.streamOpts, opts...)
	}
}

// MaxConnectionsOption sets the maximum number of open connections. Further
// connections are accepted and closed immediately.
func MaxConnectionsOption(n int) ServerOption {
	return func(s *Server) {
		s.maxConnections = n
	}
}

// PollIntervalOption sets how often the loop wakes up to check for
// cancellation when no socket is ready.
func PollIntervalOption(d time.Duration) ServerOption {
	return func(s *Server) {
		s.pollInterval = d
	}
}

// NewServer returns a Server dispatching messages from l to handler.
func NewServer(l *Listener, handler Handler, opts ...ServerOption) (*Server, error) {
	s := &Server{
		listener:       l,
		handler:        handler,
		sessions:       make(map[int]*Session),
		logger:         slog.Default(),
		maxConnections: defaultMaxConnections,
		pollInterval:   defaultPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxConnections <= 0 {
		s.maxConnections = defaultMaxConnections
	}
	if s.pollInterval <= 0 {
		s.pollInterval = defaultPollInterval
	}

	poller, err := NewPoller(s.maxConnections + 1)
	if err != nil {
		return nil, err
	}
	if err = poller.Add(l.Fd(), Readable); err != nil {
		poller.Close()
		return nil, err
	}
	s.poller = poller
	return s, nil
}

// Addr returns the listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Sessions returns the number of open sessions.
func (s *Server) Sessions() int {
	return len(s.sessions)
}

// Serve runs the event loop until ctx is canceled or polling fails. It closes
// every session, the poller and the listener before returning.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("server started", "addr", s.listener.Addr())
	defer s.shutdown()

	for {
		if err := ctx.Err(); err != nil {
			s.logger.Info("server stopped", "addr", s.listener.Addr())
			return err
		}

		events, err := s.poller.Wait(s.pollInterval)
		if err != nil {
			s.logger.Error("poll error", "error", err)
			return err
		}

		for _, ev := range events {
			if ev.Fd == s.listener.Fd() {
				s.acceptAll()
				continue
			}
			sess, ok := s.sessions[ev.Fd]
			if !ok {
				continue
			}
			if err := s.ready(sess, ev); err != nil {
				s.reset(sess, err)
			}
		}
	}
}

// acceptAll accepts until the listener has no pending connections.
func (s *Server) acceptAll() {
	for {
		fd, addr, err := s.listener.Accept()
		if err != nil {
			if !nonblock.IsWouldBlock(err) {
				s.logger.Warn("unable to accept connection", "error", err)
			}
			return
		}

		if len(s.sessions) >= s.maxConnections {
			s.logger.Warn("dropping connection", "remote_addr", addr, "error", ErrConnectionLimit)
			fd.Close()
			continue
		}

		sess := &Session{
			id:       uuid.New(),
			fd:       fd,
			addr:     addr,
			interest: Readable,
		}
		opts := append([]nonblock.Option{nonblock.LoggerOption(s.logger)}, s.streamOpts...)
		sess.stream = nonblock.NewMessageStream(fd, opts...)

		if err = s.poller.Add(fd.Fd(), sess.interest); err != nil {
			s.logger.Warn("unable to register connection", "remote_addr", addr, "error", err)
			fd.Close()
			continue
		}
		s.sessions[fd.Fd()] = sess
		s.metrics.ConnectionOpened()
		s.logger.Info("new connection registered", "session", sess.id, "remote_addr", addr)
	}
}

// ready handles one readiness event and updates the session's interest.
func (s *Server) ready(sess *Session, ev Event) error {
	if ev.Error {
		return pkgerrors.New("socket error")
	}

	if ev.Readable || ev.Hangup {
		if err := s.readable(sess); err != nil {
			return err
		}
	}

	if ev.Writable {
		if err := sess.stream.Flush(); err != nil {
			return err
		}
	}

	s.observeFlushed(sess)
	return s.reregister(sess)
}

// readable serves every complete message available on the session.
func (s *Server) readable(sess *Session) error {
	for {
		msg, err := sess.stream.ReadMessage()
		if err != nil {
			if nonblock.IsWouldBlock(err) {
				return nil
			}
			return err
		}

		s.metrics.ObserveRead(msg)
		start := time.Now()
		err = s.handler.ServeMessage(sess, msg)
		s.metrics.ObserveHandler(start)
		if err != nil {
			return pkgerrors.Wrap(err, "handler")
		}
	}
}

// reregister watches for writability only while output is queued.
func (s *Server) reregister(sess *Session) error {
	want := Readable
	if sess.stream.HasQueuedOutbound() {
		want |= Writable
	}
	if want == sess.interest {
		return nil
	}
	if err := s.poller.Modify(sess.fd.Fd(), want); err != nil {
		return err
	}
	sess.interest = want
	return nil
}

func (s *Server) observeFlushed(sess *Session) {
	flushed := sess.stream.Flushed()
	s.metrics.ObserveWritten(flushed - sess.flushed)
	sess.flushed = flushed
}

// reset closes a session after err. A peer closing between frames is logged
// as a normal close.
func (s *Server) reset(sess *Session, err error) {
	if err == io.EOF {
		s.logger.Info("connection closed", "session", sess.id, "remote_addr", sess.addr)
	} else {
		s.metrics.ObserveError(err)
		s.logger.Warn("connection error", "session", sess.id, "remote_addr", sess.addr, "error", err)
	}
	s.closeSession(sess)
}

func (s *Server) closeSession(sess *Session) {
	_ = s.poller.Remove(sess.fd.Fd())
	delete(s.sessions, sess.fd.Fd())
	sess.fd.Close()
	s.metrics.ConnectionClosed()
}

func (s *Server) shutdown() {
	for _, sess := range s.sessions {
		s.closeSession(sess)
	}
	s.poller.Close()
	s.listener.Close()
}
