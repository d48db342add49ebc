package nonblock

import (
	"io"
)

// WriteState is the phase a FrameWriter is in.
type WriteState int

const (
	// Idle has not touched the message yet.
	Idle WriteState = iota
	// Serializing is building the frame buffer.
	Serializing
	// Flushing is writing the frame buffer to the sink.
	Flushing
	// Done has written every byte and reported completion.
	Done
	// Failed stopped on a fatal error.
	Failed
)

func (s WriteState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Serializing:
		return "serializing"
	case Flushing:
		return "flushing"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// FrameWriter writes one message to a non-blocking sink.
//
// The frame is serialized once, on the first call to Advance; later calls
// only move the flush cursor forward. A FrameWriter is used by a single
// goroutine and cannot be reused: create a new one for every message.
type FrameWriter struct {
	msg   *Message
	state WriteState
	buf   []byte
	off   int
	err   error
}

// NewFrameWriter returns a FrameWriter for msg.
func NewFrameWriter(msg *Message) *FrameWriter {
	return &FrameWriter{msg: msg}
}

// State returns the current phase.
func (w *FrameWriter) State() WriteState {
	return w.state
}

// Len returns the size of the frame in bytes.
func (w *FrameWriter) Len() int {
	if w.buf != nil {
		return len(w.buf)
	}
	if w.msg == nil {
		return 0
	}
	return w.msg.FrameSize()
}

// Written returns how many bytes of the frame the sink has accepted.
func (w *FrameWriter) Written() int {
	return w.off
}

// Remaining returns how many bytes of the frame are still to be written.
func (w *FrameWriter) Remaining() int {
	return w.Len() - w.off
}

// Advance writes as much of the frame to dst as dst accepts.
//
// It returns true exactly once, on the call that writes the last byte. If
// dst stops accepting bytes first, Advance returns false and ErrWouldBlock;
// bytes already accepted are never written again. Any other error is fatal
// and returned by every later call. Calling Advance after completion returns
// ErrWriterDone.
func (w *FrameWriter) Advance(dst io.Writer) (bool, error) {
	switch w.state {
	case Done:
		return false, ErrWriterDone
	case Failed:
		return false, w.err
	case Idle:
		w.state = Serializing
		if err := w.serialize(); err != nil {
			return false, w.fail(err)
		}
		w.state = Flushing
	}

	for w.off < len(w.buf) {
		remaining := len(w.buf) - w.off
		n, err := dst.Write(w.buf[w.off:])
		if n < 0 || n > remaining {
			return false, w.fail(ErrInvalidCount)
		}
		w.off += n

		if err != nil {
			if IsWouldBlock(err) {
				return false, ErrWouldBlock
			}
			return false, w.fail(err)
		}
		if n == 0 {
			return false, ErrWouldBlock
		}
	}

	w.state = Done
	w.buf = nil
	return true, nil
}

func (w *FrameWriter) serialize() error {
	if w.msg == nil {
		return ErrNoSegments
	}
	buf, err := w.msg.appendFrame(make([]byte, 0, w.msg.FrameSize()))
	if err != nil {
		return err
	}
	w.buf = buf
	return nil
}

func (w *FrameWriter) fail(err error) error {
	w.state = Failed
	w.err = err
	w.buf = nil
	return err
}
