package nonblock

import (
	"errors"
	"io"
)

// ErrBufferFull is returned when the outbound queue is full and cannot accept
// more messages. The caller decides whether to drop the message, wait for
// the stream to become writable, or stop reading from the peer.
var ErrBufferFull = errors.New("send buffer full")

// MessageStream pairs a FrameReader with a queue of outbound messages over one
// non-blocking io.ReadWriter. Outbound messages are written in order, one
// FrameWriter at a time; the next message is not started until the previous
// one is fully flushed.
//
// A MessageStream is driven by a single goroutine, typically an event loop
// that calls ReadMessage when the transport is readable and Flush when it is
// writable.
type MessageStream struct {
	rw      io.ReadWriter
	reader  *FrameReader
	writer  *FrameWriter
	queue   []*Message
	flushed int
	logger  Logger
	opts    options
}

// NewMessageStream returns a MessageStream over rw.
func NewMessageStream(rw io.ReadWriter, opt ...Option) *MessageStream {
	opts := newOptions(opt...)
	return &MessageStream{
		rw:     rw,
		reader: NewFrameReader(LimitsOption(opts.limits)),
		logger: opts.logger,
		opts:   opts,
	}
}

// Inner returns the underlying transport.
func (s *MessageStream) Inner() io.ReadWriter {
	return s.rw
}

// ReadMessage returns the next complete inbound message. It returns
// ErrWouldBlock when the transport has no more bytes for now; the partial
// frame is kept for the next call.
func (s *MessageStream) ReadMessage() (*Message, error) {
	msg, err := s.reader.Advance(s.rw)
	if err != nil && !IsWouldBlock(err) && err != io.EOF {
		s.logger.Debug("read message failed", "state", s.reader.State(), "error", err)
	}
	return msg, err
}

// WriteMessage queues msg and writes as much of the queue as the transport
// accepts. It returns ErrBufferFull without queueing msg when the queue
// already holds the configured number of messages. A fatal write error is
// returned as is.
func (s *MessageStream) WriteMessage(msg *Message) error {
	if msg == nil {
		return ErrNoSegments
	}
	if s.Outbound() >= s.opts.bufferSize {
		return ErrBufferFull
	}
	s.queue = append(s.queue, msg)
	return s.Flush()
}

// Flush writes queued messages until the queue is empty or the transport
// stops accepting bytes. Running out of room is not an error.
func (s *MessageStream) Flush() error {
	for {
		if s.writer == nil {
			if len(s.queue) == 0 {
				return nil
			}
			s.writer = NewFrameWriter(s.queue[0])
			s.queue[0] = nil
			s.queue = s.queue[1:]
		}

		done, err := s.writer.Advance(s.rw)
		if err != nil {
			if IsWouldBlock(err) {
				return nil
			}
			s.logger.Debug("write message failed", "written", s.writer.Written(), "remaining", s.writer.Remaining(), "error", err)
			return err
		}
		if done {
			s.writer = nil
			s.flushed++
		}
	}
}

// HasQueuedOutbound reports whether any outbound bytes are waiting for the
// transport to become writable.
func (s *MessageStream) HasQueuedOutbound() bool {
	return s.writer != nil || len(s.queue) > 0
}

// Outbound returns the number of messages not yet fully written, including
// the one in progress.
func (s *MessageStream) Outbound() int {
	n := len(s.queue)
	if s.writer != nil {
		n++
	}
	return n
}

// Flushed returns how many messages have been completely written.
func (s *MessageStream) Flushed() int {
	return s.flushed
}
