package nonblock

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// ErrWouldBlock is returned by a non-blocking source or sink that cannot
// transfer any bytes right now. It is a control-flow signal, not a failure:
// FrameReader and FrameWriter keep their state and resume exactly where they
// stopped on the next call.
var ErrWouldBlock = errors.New("operation would block")

// Errors describing a frame that cannot be accepted.
var (
	// ErrMalformedHeader is returned when the segment table cannot be decoded.
	// ErrTooManySegments and ErrMessageTooLarge also match it with errors.Is.
	ErrMalformedHeader = errors.New("malformed segment table")
	// ErrTooManySegments is returned when the declared segment count exceeds
	// the configured maximum.
	ErrTooManySegments = &headerError{msg: "too many segments"}
	// ErrMessageTooLarge is returned when the declared segment lengths add up
	// to more than the configured maximum message size.
	ErrMessageTooLarge = &headerError{msg: "message too large"}
)

// Errors returned when building messages.
var (
	// ErrNoSegments is returned when a message is built without segments.
	ErrNoSegments = errors.New("message has no segments")
	// ErrUnalignedSegment is returned when a segment length is not a multiple of WordSize.
	ErrUnalignedSegment = errors.New("segment is not word aligned")
)

// Errors returned by FrameWriter, and by FrameReader for misbehaving sources.
var (
	// ErrWriterDone is returned when a FrameWriter is advanced after it already
	// reported completion.
	ErrWriterDone = errors.New("frame writer already done")
	// ErrInvalidCount is returned when a source or sink reports a byte count
	// outside the buffer it was given.
	ErrInvalidCount = errors.New("invalid byte count")
)

type headerError struct {
	msg string
}

func (e *headerError) Error() string { return e.msg }

func (e *headerError) Is(target error) bool { return target == ErrMalformedHeader }

// Phase names the part of a frame being processed when an error occurred.
type Phase string

const (
	PhaseHeader   Phase = "header"
	PhaseSegments Phase = "segments"
)

// FrameError carries the context of a fatal framing error: which phase of the
// frame was in progress and how many bytes of it were expected and received.
type FrameError struct {
	Phase    Phase
	Expected int
	Received int
	Err      error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("%s: %v (received %d of %d bytes)", e.Phase, e.Err, e.Received, e.Expected)
}

func (e *FrameError) Unwrap() error { return e.Err }

// IsWouldBlock reports whether err is a transient not-ready condition.
// Besides ErrWouldBlock, an expired I/O deadline and EAGAIN count as not-ready,
// so a net.Conn polled with short deadlines or a raw non-blocking descriptor
// can be used as a source or sink directly.
func IsWouldBlock(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrWouldBlock) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, syscall.EAGAIN)
}

// isFramingError reports whether err left the stream somewhere other than a
// frame boundary. Reading cannot continue after it.
func isFramingError(err error) bool {
	var fe *FrameError
	return errors.Is(err, ErrMalformedHeader) || errors.As(err, &fe)
}
