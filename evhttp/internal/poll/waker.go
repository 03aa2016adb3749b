//go:build linux

package poll

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Waker interrupts a Poller.Wait from any goroutine through an eventfd.
// Wake after Close is a no-op, so a late producer never writes to a
// descriptor number that was reused.
type Waker struct {
	mu     sync.RWMutex
	fd     int
	closed bool
}

func NewWaker() (*Waker, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	return &Waker{fd: fd}, nil
}

func (w *Waker) Fd() int { return w.fd }

// Wake is safe for concurrent use. A saturated counter already guarantees
// a pending wakeup, so EAGAIN is not an error.
func (w *Waker) Wake() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return nil
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], 1)
	if _, err := unix.Write(w.fd, b[:]); err != nil && err != unix.EAGAIN {
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

// Drain resets the counter so the next Wake produces a fresh edge.
func (w *Waker) Drain() {
	var b [8]byte
	for {
		if _, err := unix.Read(w.fd, b[:]); err != nil {
			return
		}
	}
}

func (w *Waker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return unix.Close(w.fd)
}
