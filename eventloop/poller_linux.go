package eventloop

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Interest is the set of readiness conditions a descriptor is watched for.
type Interest uint32

const (
	Readable Interest = 1 << iota
	Writable
)

// Event reports the readiness of one descriptor.
type Event struct {
	Fd       int
	Readable bool
	Writable bool
	Hangup   bool
	Error    bool
}

// Poller is a level-triggered epoll instance.
type Poller struct {
	epfd   int
	events []unix.EpollEvent
}

// NewPoller creates an epoll instance reporting up to maxEvents per Wait.
func NewPoller(maxEvents int) (*Poller, error) {
	if maxEvents <= 0 {
		maxEvents = 128
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	return &Poller{epfd: epfd, events: make([]unix.EpollEvent, maxEvents)}, nil
}

// Add starts watching fd.
func (p *Poller) Add(fd int, in Interest) error {
	ev := unix.EpollEvent{Events: mask(in), Fd: int32(fd)}
	return os.NewSyscallError("epoll_ctl", unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev))
}

// Modify replaces the interest set of fd.
func (p *Poller) Modify(fd int, in Interest) error {
	ev := unix.EpollEvent{Events: mask(in), Fd: int32(fd)}
	return os.NewSyscallError("epoll_ctl", unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev))
}

// Remove stops watching fd.
func (p *Poller) Remove(fd int) error {
	return os.NewSyscallError("epoll_ctl", unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, &unix.EpollEvent{}))
}

// Wait blocks for at most timeout and returns the ready descriptors. The
// returned slice is only valid until the next call. A negative timeout waits
// indefinitely.
func (p *Poller) Wait(timeout time.Duration) ([]Event, error) {
	msec := -1
	if timeout >= 0 {
		msec = int(timeout / time.Millisecond)
	}
	n, err := unix.EpollWait(p.epfd, p.events, msec)
	if err == unix.EINTR {
		return nil, nil
	}
	if err != nil {
		return nil, os.NewSyscallError("epoll_wait", err)
	}

	events := make([]Event, n)
	for i := 0; i < n; i++ {
		e := p.events[i].Events
		events[i] = Event{
			Fd:       int(p.events[i].Fd),
			Readable: e&(unix.EPOLLIN|unix.EPOLLPRI) != 0,
			Writable: e&unix.EPOLLOUT != 0,
			Hangup:   e&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0,
			Error:    e&unix.EPOLLERR != 0,
		}
	}
	return events, nil
}

// Close closes the epoll instance.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}

func mask(in Interest) uint32 {
	var m uint32 = unix.EPOLLRDHUP
	if in&Readable != 0 {
		m |= unix.EPOLLIN
	}
	if in&Writable != 0 {
		m |= unix.EPOLLOUT
	}
	return m
}
