// Package nonblock frames segmented messages over non-blocking byte streams.
//
// A frame is a segment table followed by the segments themselves:
//
//	uint32 LE   segment count - 1
//	uint32 LE   length of each segment, in 8-byte words
//	[4 bytes]   zero padding when the table is not a multiple of 8 bytes
//	...         segment bytes, concatenated in order
//
// FrameReader and FrameWriter move frames across an io.Reader or io.Writer
// that may transfer only part of a buffer per call, or return ErrWouldBlock.
// Neither blocks; both resume exactly where the previous call stopped.
package nonblock

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// WordSize is the unit segment lengths are expressed in on the wire.
const WordSize = 8

// Default validation limits.
const (
	// DefaultMaxSegments is the largest segment count accepted by default.
	DefaultMaxSegments = 512
	// DefaultMaxMessageSize is the largest total segment size accepted by default (64MB).
	DefaultMaxMessageSize = 64 << 20
)

const (
	countFieldSize  = 4
	lengthFieldSize = 4
	maxWireWords    = 1<<32 - 1
)

// Limits bounds what a decoder accepts from the wire. Both limits are checked
// before any buffer sized from a declared length is allocated. A zero or
// negative field means the default for that field.
type Limits struct {
	// MaxSegments is the maximum number of segments in one message.
	MaxSegments int
	// MaxMessageSize is the maximum sum of segment lengths in bytes.
	MaxMessageSize int64
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{MaxSegments: DefaultMaxSegments, MaxMessageSize: DefaultMaxMessageSize}
}

// orDefault replaces zero or negative fields with the defaults.
func (l Limits) orDefault() Limits {
	if l.MaxSegments <= 0 {
		l.MaxSegments = DefaultMaxSegments
	}
	if l.MaxMessageSize <= 0 {
		l.MaxMessageSize = DefaultMaxMessageSize
	}
	return l
}

// HeaderLength returns the size in bytes of the segment table for
// segmentCount segments, padding included.
func HeaderLength(segmentCount int) int {
	n := countFieldSize + lengthFieldSize*segmentCount
	return (n + WordSize - 1) &^ (WordSize - 1)
}

// EncodeHeader returns the segment table for segments of the given byte lengths.
func EncodeHeader(segmentLengths []int) ([]byte, error) {
	return AppendHeader(make([]byte, 0, HeaderLength(len(segmentLengths))), segmentLengths)
}

// AppendHeader appends the segment table for segments of the given byte
// lengths to dst.
func AppendHeader(dst []byte, segmentLengths []int) ([]byte, error) {
	if len(segmentLengths) == 0 {
		return dst, ErrNoSegments
	}
	if uint64(len(segmentLengths)) > maxWireWords {
		return dst, errors.Wrapf(ErrTooManySegments, "%d segments", len(segmentLengths))
	}
	for i, n := range segmentLengths {
		if n < 0 || n%WordSize != 0 {
			return dst, errors.Wrapf(ErrUnalignedSegment, "segment %d has length %d", i, n)
		}
		if uint64(n/WordSize) > maxWireWords {
			return dst, errors.Wrapf(ErrMessageTooLarge, "segment %d has %d words", i, n/WordSize)
		}
	}

	start := len(dst)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(segmentLengths)-1))
	for _, n := range segmentLengths {
		dst = binary.LittleEndian.AppendUint32(dst, uint32(n/WordSize))
	}
	for len(dst)-start < HeaderLength(len(segmentLengths)) {
		dst = append(dst, 0)
	}
	return dst, nil
}

// DecodeSegmentCount decodes the segment count from the first four bytes of
// a segment table and checks it against limits.
func DecodeSegmentCount(b []byte, limits Limits) (int, error) {
	if len(b) < countFieldSize {
		return 0, errors.Wrapf(ErrMalformedHeader, "segment count needs %d bytes, have %d", countFieldSize, len(b))
	}
	limits = limits.orDefault()
	count := uint64(binary.LittleEndian.Uint32(b)) + 1
	if count > maxWireWords {
		return 0, errors.Wrap(ErrMalformedHeader, "segment count is zero")
	}
	if count > uint64(limits.MaxSegments) {
		return 0, errors.Wrapf(ErrTooManySegments, "%d segments, limit %d", count, limits.MaxSegments)
	}
	return int(count), nil
}

// DecodeHeader decodes a complete segment table and returns the length of
// every segment in bytes.
func DecodeHeader(b []byte, limits Limits) ([]int, error) {
	count, err := DecodeSegmentCount(b, limits)
	if err != nil {
		return nil, err
	}
	if want := HeaderLength(count); len(b) < want {
		return nil, errors.Wrapf(ErrMalformedHeader, "segment table needs %d bytes, have %d", want, len(b))
	}
	return decodeLengths(b, count, limits)
}

// decodeLengths reads count segment lengths following the count field and
// checks their sum against limits before returning them.
func decodeLengths(b []byte, count int, limits Limits) ([]int, error) {
	limits = limits.orDefault()
	var total uint64
	for i := 0; i < count; i++ {
		off := countFieldSize + lengthFieldSize*i
		total += uint64(binary.LittleEndian.Uint32(b[off:])) * WordSize
	}
	if total > uint64(limits.MaxMessageSize) {
		return nil, errors.Wrapf(ErrMessageTooLarge, "%d bytes, limit %d", total, limits.MaxMessageSize)
	}

	lengths := make([]int, count)
	for i := range lengths {
		off := countFieldSize + lengthFieldSize*i
		lengths[i] = int(binary.LittleEndian.Uint32(b[off:])) * WordSize
	}
	return lengths, nil
}
