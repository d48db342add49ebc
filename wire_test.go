package nonblock

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderLength(t *testing.T) {
	tests := []struct {
		segments int
		want     int
	}{
		{1, 8},
		{2, 16},
		{3, 16},
		{4, 24},
		{5, 24},
		{16, 72},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HeaderLength(tt.segments), "segments=%d", tt.segments)
	}
}

func TestEncodeHeader(t *testing.T) {
	header, err := EncodeHeader([]int{8, 16})
	require.NoError(t, err)
	assert.Equal(t, []byte{
		1, 0, 0, 0,
		1, 0, 0, 0,
		2, 0, 0, 0,
		0, 0, 0, 0,
	}, header)

	header, err = EncodeHeader([]int{0})
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0}, header)
}

func TestEncodeHeader_Invalid(t *testing.T) {
	_, err := EncodeHeader(nil)
	assert.ErrorIs(t, err, ErrNoSegments)

	_, err = EncodeHeader([]int{8, 12})
	assert.ErrorIs(t, err, ErrUnalignedSegment)

	_, err = EncodeHeader([]int{-8})
	assert.ErrorIs(t, err, ErrUnalignedSegment)
}

func TestAppendHeader(t *testing.T) {
	dst := []byte{0xAA}
	dst, err := AppendHeader(dst, []int{8, 8, 2048})
	require.NoError(t, err)
	assert.Equal(t, 1+HeaderLength(3), len(dst))
	assert.Equal(t, byte(0xAA), dst[0])
}

func TestDecodeHeader(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want []int
	}{
		{
			name: "one empty segment",
			in:   []byte{0, 0, 0, 0, 0, 0, 0, 0},
			want: []int{0},
		},
		{
			name: "one segment",
			in:   []byte{0, 0, 0, 0, 1, 0, 0, 0},
			want: []int{8},
		},
		{
			name: "two segments with padding",
			in: []byte{
				1, 0, 0, 0,
				1, 0, 0, 0,
				1, 0, 0, 0,
				0, 0, 0, 0,
			},
			want: []int{8, 8},
		},
		{
			name: "three segments",
			in: []byte{
				2, 0, 0, 0,
				1, 0, 0, 0,
				1, 0, 0, 0,
				0, 1, 0, 0,
			},
			want: []int{8, 8, 256 * 8},
		},
		{
			name: "four segments",
			in: []byte{
				3, 0, 0, 0,
				77, 0, 0, 0,
				23, 0, 0, 0,
				1, 0, 0, 0,
				99, 0, 0, 0,
				0, 0, 0, 0,
			},
			want: []int{77 * 8, 23 * 8, 8, 99 * 8},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeHeader(tt.in, DefaultLimits())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeHeader_Incomplete(t *testing.T) {
	for _, in := range [][]byte{
		{0, 0, 0},
		{0, 0, 0, 0},
		{0, 0, 0, 0, 0, 0, 0},
		{1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
	} {
		_, err := DecodeHeader(in, DefaultLimits())
		assert.ErrorIs(t, err, ErrMalformedHeader, "input %v", in)
	}
}

func TestDecodeSegmentCount_Zero(t *testing.T) {
	// 0xFFFFFFFF + 1 wraps to a count of zero.
	_, err := DecodeSegmentCount([]byte{255, 255, 255, 255}, DefaultLimits())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedHeader)
	assert.False(t, errors.Is(err, ErrTooManySegments))
}

func TestDecodeSegmentCount_Limit(t *testing.T) {
	// 0x1FF + 1 = 512 segments.
	in := []byte{255, 1, 0, 0}

	count, err := DecodeSegmentCount(in, DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, 512, count)

	_, err = DecodeSegmentCount(in, Limits{MaxSegments: 511, MaxMessageSize: DefaultMaxMessageSize})
	assert.ErrorIs(t, err, ErrTooManySegments)
	assert.ErrorIs(t, err, ErrMalformedHeader)

	_, err = DecodeSegmentCount([]byte{0, 2, 0, 0}, DefaultLimits())
	assert.ErrorIs(t, err, ErrTooManySegments)
}

func TestDecodeHeader_ZeroLimitsUseDefaults(t *testing.T) {
	header, err := EncodeHeader([]int{8, 16})
	require.NoError(t, err)

	lengths, err := DecodeHeader(header, Limits{})
	require.NoError(t, err)
	assert.Equal(t, []int{8, 16}, lengths)

	_, err = DecodeSegmentCount([]byte{0, 2, 0, 0}, Limits{MaxSegments: -1})
	assert.ErrorIs(t, err, ErrTooManySegments)

	assert.Equal(t, DefaultLimits(), Limits{}.orDefault())
	assert.Equal(t, Limits{MaxSegments: 3, MaxMessageSize: DefaultMaxMessageSize}, Limits{MaxSegments: 3}.orDefault())
}

func TestDecodeHeader_MessageTooLarge(t *testing.T) {
	in := []byte{
		1, 0, 0, 0,
		0, 0, 0, 128, // 2^31 words
		0, 0, 0, 128,
		0, 0, 0, 0,
	}
	_, err := DecodeHeader(in, DefaultLimits())
	assert.ErrorIs(t, err, ErrMessageTooLarge)
	assert.ErrorIs(t, err, ErrMalformedHeader)

	limits := Limits{MaxSegments: 4, MaxMessageSize: 16}
	_, err = DecodeHeader([]byte{0, 0, 0, 0, 2, 0, 0, 0}, limits)
	assert.NoError(t, err)
	_, err = DecodeHeader([]byte{0, 0, 0, 0, 3, 0, 0, 0}, limits)
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestEncodeDecodeHeader(t *testing.T) {
	lengths := make([]int, 16)
	for i := range lengths {
		lengths[i] = i * WordSize
	}
	header, err := EncodeHeader(lengths)
	require.NoError(t, err)
	require.Len(t, header, 72)

	got, err := DecodeHeader(header, DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, lengths, got)

	// Decoding ignores whatever follows the table.
	got, err = DecodeHeader(append(header, bytes.Repeat([]byte{1}, 8)...), DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, lengths, got)
}
