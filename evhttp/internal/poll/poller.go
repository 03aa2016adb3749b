//go:build linux

// Package poll wraps the Linux readiness primitives the reactor runs on:
// an edge-triggered one-shot epoll set, an eventfd waker, non-blocking
// sockets and the listening socket.
package poll

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned by Accept when no connection is pending.
var ErrWouldBlock = errors.New("poll: operation would block")

// Interest is the readiness direction a descriptor is registered for.
// Errors and hangups are always reported.
type Interest uint8

const (
	InterestNone Interest = iota
	InterestRead
	InterestWrite
)

func (i Interest) String() string {
	switch i {
	case InterestNone:
		return "none"
	case InterestRead:
		return "read"
	case InterestWrite:
		return "write"
	default:
		return "unknown"
	}
}

func (i Interest) events() uint32 {
	ev := uint32(unix.EPOLLRDHUP | unix.EPOLLET | unix.EPOLLONESHOT)
	switch i {
	case InterestRead:
		ev |= unix.EPOLLIN
	case InterestWrite:
		ev |= unix.EPOLLOUT
	}
	return ev
}

// Event is one readiness notification.
type Event struct {
	Fd       int
	Readable bool
	Writable bool
	Error    bool
	Hangup   bool
}

// Poller is an epoll instance.
type Poller struct {
	epfd int
	raw  []unix.EpollEvent
}

// NewPoller creates an epoll set able to return up to maxEvents
// notifications per Wait.
func NewPoller(maxEvents int) (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	if maxEvents <= 0 {
		maxEvents = 256
	}
	return &Poller{epfd: epfd, raw: make([]unix.EpollEvent, maxEvents)}, nil
}

// AddLevel registers fd for level-triggered read readiness. The listener
// uses it so connections left pending after a failed accept are reported
// again.
func (p *Poller) AddLevel(fd int) error {
	return p.add(fd, unix.EPOLLIN)
}

// AddEdge registers fd for edge-triggered read readiness without one-shot;
// the waker uses it and drains to EAGAIN.
func (p *Poller) AddEdge(fd int) error {
	return p.add(fd, unix.EPOLLIN|unix.EPOLLET)
}

func (p *Poller) add(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl add %d: %w", fd, err)
	}
	return nil
}

// Register adds fd with a one-shot interest.
func (p *Poller) Register(fd int, i Interest) error {
	ev := unix.EpollEvent{Events: i.events(), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl add %d: %w", fd, err)
	}
	return nil
}

// Rearm replaces the interest of a registered fd and re-enables it.
func (p *Poller) Rearm(fd int, i Interest) error {
	ev := unix.EpollEvent{Events: i.events(), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl mod %d: %w", fd, err)
	}
	return nil
}

// Deregister removes fd from the set.
func (p *Poller) Deregister(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll_ctl del %d: %w", fd, err)
	}
	return nil
}

// Wait blocks for at most msec milliseconds (-1 forever) and appends the
// ready events to dst. EINTR is reported as zero events.
func (p *Poller) Wait(dst []Event, msec int) ([]Event, error) {
	n, err := unix.EpollWait(p.epfd, p.raw, msec)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, fmt.Errorf("epoll_wait: %w", err)
	}
	for _, e := range p.raw[:n] {
		dst = append(dst, Event{
			Fd:       int(e.Fd),
			Readable: e.Events&unix.EPOLLIN != 0,
			Writable: e.Events&unix.EPOLLOUT != 0,
			Error:    e.Events&unix.EPOLLERR != 0,
			Hangup:   e.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0,
		})
	}
	return dst, nil
}

// Close releases the epoll descriptor.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}
