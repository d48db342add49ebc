package nonblock

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestIsWouldBlock(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrWouldBlock, true},
		{fmt.Errorf("read: %w", ErrWouldBlock), true},
		{pkgerrors.Wrap(ErrWouldBlock, "read"), true},
		{os.ErrDeadlineExceeded, true},
		{&os.SyscallError{Syscall: "read", Err: syscall.EAGAIN}, true},
		{io.EOF, false},
		{ErrMalformedHeader, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsWouldBlock(tt.err), "%v", tt.err)
	}
}

func TestHeaderErrors(t *testing.T) {
	assert.ErrorIs(t, ErrTooManySegments, ErrMalformedHeader)
	assert.ErrorIs(t, ErrMessageTooLarge, ErrMalformedHeader)
	assert.ErrorIs(t, pkgerrors.Wrap(ErrMessageTooLarge, "decode"), ErrMalformedHeader)

	assert.False(t, errors.Is(ErrMalformedHeader, ErrTooManySegments))
	assert.False(t, errors.Is(ErrTooManySegments, ErrMessageTooLarge))
}

func TestFrameError(t *testing.T) {
	err := &FrameError{Phase: PhaseHeader, Expected: 16, Received: 10, Err: io.ErrUnexpectedEOF}

	assert.Equal(t, "header: unexpected EOF (received 10 of 16 bytes)", err.Error())
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.ErrorIs(t, pkgerrors.Wrap(err, "read"), io.ErrUnexpectedEOF)
}

func TestIsFramingError(t *testing.T) {
	assert.True(t, isFramingError(pkgerrors.Wrap(ErrTooManySegments, "decode")))
	assert.True(t, isFramingError(&FrameError{Phase: PhaseSegments, Err: io.ErrUnexpectedEOF}))
	assert.True(t, isFramingError(&FrameError{Phase: PhaseHeader, Err: ErrInvalidCount}))
	assert.False(t, isFramingError(errors.New("connection reset by peer")))
	assert.False(t, isFramingError(io.EOF))
}
