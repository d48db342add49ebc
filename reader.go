package nonblock

import (
	"io"
)

// ReadState is the phase a FrameReader is in.
type ReadState int

const (
	// AwaitingHeaderLength waits for the 4-byte segment count.
	AwaitingHeaderLength ReadState = iota
	// AwaitingHeaderBody waits for the segment length table and its padding.
	AwaitingHeaderBody
	// AwaitingSegments waits for segment bytes.
	AwaitingSegments
	// Ready holds a complete message about to be handed to the caller.
	Ready
)

func (s ReadState) String() string {
	switch s {
	case AwaitingHeaderLength:
		return "awaiting header length"
	case AwaitingHeaderBody:
		return "awaiting header body"
	case AwaitingSegments:
		return "awaiting segments"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// FrameReader reassembles frames from a non-blocking source.
//
// A FrameReader is used by a single goroutine. It is created once per stream
// and yields one message per completed frame; after a message is returned the
// next call to Advance starts reading a new segment table.
type FrameReader struct {
	limits Limits
	state  ReadState

	head   [WordSize]byte // backing store for short segment tables
	header []byte         // segment table being filled, sized to its final length
	hdrOff int            // bytes of header received
	count  int            // segment count, once decoded

	body     []byte   // single allocation backing every segment
	segments [][]byte // capacity-capped views into body
	ends     []int    // end offset of each segment within body
	off      int      // bytes of body received
	seg      int      // index of the segment being filled

	err error // sticky fatal error
}

// NewFrameReader returns a FrameReader waiting for the first frame.
// Only the limit options apply; other options are ignored.
func NewFrameReader(opt ...Option) *FrameReader {
	opts := newOptions(opt...)
	r := &FrameReader{limits: opts.limits}
	r.reset()
	return r
}

// Limits returns the validation limits the reader enforces.
func (r *FrameReader) Limits() Limits {
	return r.limits
}

// State returns the current phase.
func (r *FrameReader) State() ReadState {
	return r.state
}

// Pending returns how many more bytes the current phase needs. While
// awaiting segments it is the number of message bytes still missing.
func (r *FrameReader) Pending() int {
	switch r.state {
	case AwaitingHeaderLength, AwaitingHeaderBody:
		return len(r.header) - r.hdrOff
	case AwaitingSegments:
		return len(r.body) - r.off
	default:
		return 0
	}
}

// Progress returns the index of the segment being filled and how many of
// its bytes have arrived. It returns (0, 0) outside AwaitingSegments.
func (r *FrameReader) Progress() (segment, received int) {
	if r.state != AwaitingSegments || r.seg >= len(r.segments) {
		return 0, 0
	}
	start := r.ends[r.seg] - len(r.segments[r.seg])
	return r.seg, r.off - start
}

// Reset discards any partially read frame and clears a fatal error. The
// caller is responsible for the stream being positioned at a frame boundary.
func (r *FrameReader) Reset() {
	r.err = nil
	r.reset()
}

// Advance reads as many bytes from src as are available and needed.
//
// It returns the message once its last byte has arrived. If src runs out of
// bytes before that, Advance returns ErrWouldBlock and keeps every byte read
// so far; calling it again later continues the same frame. io.EOF is
// returned when src ends cleanly between frames. Any other error is fatal:
// it is returned by this and every later call until Reset. An error that src
// returns together with the last bytes of a frame is held back: the frame is
// returned first and the error comes from the next call.
func (r *FrameReader) Advance(src io.Reader) (*Message, error) {
	if r.err != nil {
		return nil, r.err
	}

	for {
		if r.complete() {
			return r.finish(), nil
		}

		buf := r.region()
		n, err := src.Read(buf)
		if n < 0 || n > len(buf) {
			return nil, r.fail(&FrameError{Phase: r.phase(), Expected: r.expected(), Received: r.received(), Err: ErrInvalidCount})
		}
		if perr := r.consume(n); perr != nil {
			return nil, r.fail(perr)
		}
		if r.complete() {
			msg := r.finish()
			if err != nil && !IsWouldBlock(err) {
				// Reported by the next call.
				r.err = err
			}
			return msg, nil
		}

		if err != nil {
			switch {
			case IsWouldBlock(err):
				return nil, ErrWouldBlock
			case err == io.EOF && r.idle():
				return nil, io.EOF
			case err == io.EOF:
				return nil, r.fail(&FrameError{Phase: r.phase(), Expected: r.expected(), Received: r.received(), Err: io.ErrUnexpectedEOF})
			default:
				return nil, r.fail(err)
			}
		}
		if n == 0 {
			return nil, ErrWouldBlock
		}
	}
}

// region returns the part of the current buffer still to be filled.
// It never extends past the end of the current frame.
func (r *FrameReader) region() []byte {
	if r.state == AwaitingSegments {
		return r.body[r.off:]
	}
	return r.header[r.hdrOff:]
}

// consume accounts for n bytes just read into region and moves to the next
// phase when the current one is full.
func (r *FrameReader) consume(n int) error {
	switch r.state {
	case AwaitingHeaderLength:
		r.hdrOff += n
		if r.hdrOff < countFieldSize {
			return nil
		}
		count, err := DecodeSegmentCount(r.header, r.limits)
		if err != nil {
			return err
		}
		r.count = count
		if size := HeaderLength(count); size <= len(r.head) {
			r.header = r.head[:size]
		} else {
			header := make([]byte, size)
			copy(header, r.header)
			r.header = header
		}
		r.state = AwaitingHeaderBody
		return nil

	case AwaitingHeaderBody:
		r.hdrOff += n
		if r.hdrOff < len(r.header) {
			return nil
		}
		lengths, err := decodeLengths(r.header, r.count, r.limits)
		if err != nil {
			return err
		}
		r.allocate(lengths)
		r.state = AwaitingSegments
		return nil

	case AwaitingSegments:
		r.off += n
		// A single read may finish several segments, including empty ones.
		for r.seg < len(r.segments) && r.off >= r.ends[r.seg] {
			r.seg++
		}
		return nil
	}
	return nil
}

// allocate sizes the body from validated segment lengths.
func (r *FrameReader) allocate(lengths []int) {
	total := 0
	for _, n := range lengths {
		total += n
	}
	r.body = make([]byte, total)
	r.segments = make([][]byte, len(lengths))
	r.ends = make([]int, len(lengths))

	start := 0
	for i, n := range lengths {
		end := start + n
		r.segments[i] = r.body[start:end:end]
		r.ends[i] = end
		start = end
	}
	r.off = 0
	r.seg = 0
	for r.seg < len(r.segments) && r.ends[r.seg] == 0 {
		r.seg++
	}
}

func (r *FrameReader) complete() bool {
	return r.state == AwaitingSegments && r.off == len(r.body)
}

// idle reports whether no byte of the next frame has been read yet.
func (r *FrameReader) idle() bool {
	return r.state == AwaitingHeaderLength && r.hdrOff == 0
}

// finish hands the segments over and prepares for the next frame.
func (r *FrameReader) finish() *Message {
	r.state = Ready
	msg := &Message{segments: r.segments}
	r.reset()
	return msg
}

func (r *FrameReader) fail(err error) error {
	r.err = err
	r.reset()
	return err
}

func (r *FrameReader) reset() {
	r.state = AwaitingHeaderLength
	r.header = r.head[:countFieldSize]
	r.hdrOff = 0
	r.count = 0
	r.body = nil
	r.segments = nil
	r.ends = nil
	r.off = 0
	r.seg = 0
}

func (r *FrameReader) phase() Phase {
	if r.state == AwaitingSegments {
		return PhaseSegments
	}
	return PhaseHeader
}

func (r *FrameReader) expected() int {
	if r.state == AwaitingSegments {
		return len(r.body)
	}
	return len(r.header)
}

func (r *FrameReader) received() int {
	if r.state == AwaitingSegments {
		return r.off
	}
	return r.hdrOff
}
