package eventloop

import (
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/Zereker/nonblock"
)

// FD is a non-blocking file descriptor usable as a nonblock source and sink.
// Read and Write return nonblock.ErrWouldBlock instead of waiting.
type FD struct {
	fd int
}

// NewFD puts fd in non-blocking mode and wraps it. The FD takes ownership of fd.
func NewFD(fd int) (*FD, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, os.NewSyscallError("setnonblock", err)
	}
	return &FD{fd: fd}, nil
}

// Socketpair returns two connected non-blocking stream sockets.
func Socketpair() (*FD, *FD, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, os.NewSyscallError("socketpair", err)
	}
	return &FD{fd: fds[0]}, &FD{fd: fds[1]}, nil
}

// Fd returns the descriptor number.
func (f *FD) Fd() int {
	return f.fd
}

// Read reads up to len(p) bytes. It returns io.EOF when the peer has closed
// its end and nonblock.ErrWouldBlock when nothing is available yet.
func (f *FD) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Read(f.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, nonblock.ErrWouldBlock
		case err != nil:
			return 0, os.NewSyscallError("read", err)
		case n == 0:
			return 0, io.EOF
		}
		return n, nil
	}
}

// Write writes as much of p as the socket buffer accepts. A short write
// returns nonblock.ErrWouldBlock along with the count.
func (f *FD) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := unix.Write(f.fd, p[written:])
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return written, nonblock.ErrWouldBlock
		case err != nil:
			return written, os.NewSyscallError("write", err)
		case n == 0:
			return written, nonblock.ErrWouldBlock
		}
		written += n
	}
	return written, nil
}

// Close closes the descriptor.
func (f *FD) Close() error {
	return unix.Close(f.fd)
}
