package nonblock

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Errors returned by connection operations.
var (
	// ErrInvalidOnMessage is returned when no message handler is provided.
	ErrInvalidOnMessage = errors.New("invalid on message callback")
	// ErrIdleTimeout is returned when a connection makes no progress for the idle timeout.
	ErrIdleTimeout = errors.New("connection idle timeout")
)

// ErrConnectionClosed is returned when operating on a closed connection.
var ErrConnectionClosed = errors.New("connection closed")

// Conn runs framed messages over a TCP connection with one goroutine reading
// and one writing.
//
// Reads are bounded by a short deadline (the heartbeat). When it expires the
// FrameReader reports ErrWouldBlock and keeps the partial frame, so the read
// loop can observe cancellation and then continue the same frame. Writes use
// the same mechanism through a FrameWriter.
type Conn struct {
	rawConn *net.TCPConn
	reader  *FrameReader
	logger  Logger

	opts options

	sendMsg chan *Message
	closed  atomic.Bool
}

// NewConn creates a new connection wrapper around the given TCP connection.
// It applies the provided options and validates them before returning.
// Returns an error if the required onMessage option is missing.
func NewConn(conn *net.TCPConn, opt ...Option) (*Conn, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}

	err := checkOptions(&opts)
	if err != nil {
		return nil, err
	}

	return newConnWithOptions(conn, opts), nil
}

// checkOptions validates and sets default values for connection options.
func checkOptions(opts *options) error {
	if opts.onMessage == nil {
		return ErrInvalidOnMessage
	}

	applyDefaults(opts)
	return nil
}

// newConnWithOptions creates a new Conn with the given options.
func newConnWithOptions(c *net.TCPConn, opts options) *Conn {
	return &Conn{
		rawConn: c,
		reader:  NewFrameReader(LimitsOption(opts.limits)),
		logger:  withArgs(opts.logger, "addr", c.RemoteAddr()),
		opts:    opts,
		sendMsg: make(chan *Message, opts.bufferSize),
	}
}

// Run starts the connection's read and write loops.
// It creates two goroutines for concurrent reading and writing,
// and blocks until an error occurs or the context is canceled.
// The connection is automatically closed when Run returns.
// A peer closing the connection between frames is not an error.
func (c *Conn) Run(ctx context.Context) error {
	c.logger.Info("connection established")
	c.logger.Debug("connection options",
		"buffer_size", c.opts.bufferSize,
		"max_segments", c.opts.limits.MaxSegments,
		"max_message_size", c.opts.limits.MaxMessageSize,
		"heartbeat", c.opts.heartbeat,
		"idle_timeout", c.opts.idleTimeout)

	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return c.readLoop(child)
	})

	group.Go(func() error {
		return c.writeLoop(child)
	})

	err := group.Wait()
	c.closeConn()

	if errors.Is(err, io.EOF) || errors.Is(err, ErrConnectionClosed) {
		err = nil
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Info("connection closed with error", "error", err)
	} else {
		c.logger.Info("connection closed")
	}

	return err
}

// Close closes the underlying TCP connection, which stops a running Run.
// Safe to call multiple times.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil // already closed
	}
	return c.rawConn.Close()
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Write queues a message without blocking (fire-and-forget).
//
// Returns:
//   - nil: message was queued (not yet sent)
//   - ErrBufferFull: send queue is full, message was NOT queued
//   - ErrConnectionClosed: connection is closed
//   - ErrNoSegments: message is nil
func (c *Conn) Write(message *Message) error {
	if err := c.checkWrite(message); err != nil {
		return err
	}

	select {
	case c.sendMsg <- message:
		return nil
	default:
		return ErrBufferFull
	}
}

// WriteBlocking queues a message, blocking until there is room in the send
// queue or the context is canceled.
func (c *Conn) WriteBlocking(ctx context.Context, message *Message) error {
	if err := c.checkWrite(message); err != nil {
		return err
	}

	select {
	case c.sendMsg <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WriteTimeout queues a message, waiting at most timeout for room in the
// send queue. It returns ErrBufferFull when the timeout expires.
func (c *Conn) WriteTimeout(message *Message, timeout time.Duration) error {
	if err := c.checkWrite(message); err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c.sendMsg <- message:
		return nil
	case <-timer.C:
		return ErrBufferFull
	}
}

func (c *Conn) checkWrite(message *Message) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	if message == nil {
		return ErrNoSegments
	}
	return nil
}

// Addr returns the remote address of the connection.
func (c *Conn) Addr() net.Addr {
	return c.rawConn.RemoteAddr()
}

// readLoop reads frames until the context is canceled or an unrecoverable
// error occurs. Deadline expiries only interrupt the FrameReader; the frame in
// progress survives them.
func (c *Conn) readLoop(ctx context.Context) error {
	lastProgress := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_ = c.rawConn.SetReadDeadline(time.Now().Add(c.opts.heartbeat))

		state, pending := c.reader.State(), c.reader.Pending()
		message, err := c.reader.Advance(c.rawConn)
		if err == nil {
			lastProgress = time.Now()
			if err = c.opts.onMessage(message); err != nil {
				return err
			}
			continue
		}

		if IsWouldBlock(err) {
			if c.reader.State() != state || c.reader.Pending() != pending {
				lastProgress = time.Now()
			} else if time.Since(lastProgress) > c.opts.idleTimeout {
				return pkgerrors.Wrapf(ErrIdleTimeout, "no data for %s", c.opts.idleTimeout)
			}
			continue
		}

		if err == io.EOF {
			return err
		}
		if c.closed.Load() {
			return ErrConnectionClosed
		}

		c.logger.Debug("read error", "state", c.reader.State(), "error", err)
		if c.opts.onError(err) == Disconnect || isFramingError(err) {
			return err
		}
		c.reader.Reset()
	}
}

// writeLoop sends queued messages until the context is canceled or an
// unrecoverable error occurs.
func (c *Conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case message := <-c.sendMsg:
			if err := c.write(ctx, message); err != nil {
				return err
			}
		}
	}
}

// write drives a FrameWriter for message to completion. If an error occurs
// and onError returns Continue, the message is dropped and writing continues.
func (c *Conn) write(ctx context.Context, message *Message) error {
	w := NewFrameWriter(message)
	lastProgress := time.Now()
	for {
		_ = c.rawConn.SetWriteDeadline(time.Now().Add(c.opts.heartbeat))

		written := w.Written()
		done, err := w.Advance(c.rawConn)
		if done {
			return nil
		}

		if IsWouldBlock(err) {
			if w.Written() != written {
				lastProgress = time.Now()
			} else if time.Since(lastProgress) > c.opts.idleTimeout {
				err = pkgerrors.Wrapf(ErrIdleTimeout, "peer accepted nothing for %s", c.opts.idleTimeout)
			}
			if IsWouldBlock(err) {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				continue
			}
		}

		if c.closed.Load() {
			return ErrConnectionClosed
		}
		c.logger.Debug("write error", "written", w.Written(), "frame_size", w.Len(), "error", err)
		if c.opts.onError(err) == Disconnect {
			return err
		}
		return nil
	}
}

// closeConn marks the connection as closed and closes the underlying TCP connection.
func (c *Conn) closeConn() {
	c.closed.Store(true)
	c.rawConn.Close()
}
