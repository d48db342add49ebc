package nonblock

import (
	"io"

	"github.com/pkg/errors"
)

// Message is an ordered list of word-aligned segments. The first segment
// conventionally holds the root of the encoded structure.
type Message struct {
	segments [][]byte
}

// NewMessage builds a message from segments. The message takes ownership of
// the slices; callers must not modify them afterwards.
func NewMessage(segments ...[]byte) (*Message, error) {
	if len(segments) == 0 {
		return nil, ErrNoSegments
	}
	for i, seg := range segments {
		if len(seg)%WordSize != 0 {
			return nil, errors.Wrapf(ErrUnalignedSegment, "segment %d has length %d", i, len(seg))
		}
	}
	return &Message{segments: segments}, nil
}

// Segments returns the message segments in order.
func (m *Message) Segments() [][]byte {
	return m.segments
}

// Segment returns segment i.
func (m *Message) Segment(i int) []byte {
	return m.segments[i]
}

// NumSegments returns the number of segments.
func (m *Message) NumSegments() int {
	return len(m.segments)
}

// Size returns the total segment length in bytes, excluding the segment table.
func (m *Message) Size() int {
	n := 0
	for _, seg := range m.segments {
		n += len(seg)
	}
	return n
}

// FrameSize returns the encoded length of the message: segment table plus segments.
func (m *Message) FrameSize() int {
	return HeaderLength(len(m.segments)) + m.Size()
}

// Bytes returns the complete frame encoding of the message.
func (m *Message) Bytes() ([]byte, error) {
	return m.appendFrame(make([]byte, 0, m.FrameSize()))
}

func (m *Message) appendFrame(dst []byte) ([]byte, error) {
	lengths := make([]int, len(m.segments))
	for i, seg := range m.segments {
		lengths[i] = len(seg)
	}
	dst, err := AppendHeader(dst, lengths)
	if err != nil {
		return nil, err
	}
	for _, seg := range m.segments {
		dst = append(dst, seg...)
	}
	return dst, nil
}

// ParseFrame splits a complete in-memory frame into a Message. The segments
// alias frame. Bytes after the last segment are an error.
func ParseFrame(frame []byte, limits Limits) (*Message, error) {
	lengths, err := DecodeHeader(frame, limits)
	if err != nil {
		return nil, err
	}

	off := HeaderLength(len(lengths))
	total := off
	for _, n := range lengths {
		total += n
	}
	if len(frame) < total {
		return nil, &FrameError{Phase: PhaseSegments, Expected: total - off, Received: len(frame) - off, Err: io.ErrUnexpectedEOF}
	}
	if len(frame) > total {
		return nil, errors.Wrapf(ErrMalformedHeader, "%d trailing bytes after frame", len(frame)-total)
	}

	segments := make([][]byte, len(lengths))
	for i, n := range lengths {
		segments[i] = frame[off : off+n : off+n]
		off += n
	}
	return &Message{segments: segments}, nil
}
