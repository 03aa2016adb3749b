//go:build linux

package poll

import (
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

// Socket is a non-blocking connected stream socket.
type Socket struct {
	fd int
}

// NewSocket adopts an already non-blocking descriptor.
func NewSocket(fd int) *Socket { return &Socket{fd: fd} }

func (s *Socket) Fd() int { return s.fd }

// TryRead reads at most len(p) bytes without blocking. It returns (0, nil)
// when the read would block and (0, io.EOF) when the peer closed.
func (s *Socket) TryRead(p []byte) (int, error) {
	for {
		n, err := unix.Read(s.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, nil
		case err != nil:
			return 0, fmt.Errorf("read: %w", err)
		case n == 0 && len(p) > 0:
			return 0, io.EOF
		}
		return n, nil
	}
}

// TryWrite writes at most len(p) bytes without blocking. It returns (0, nil)
// when the write would block.
func (s *Socket) TryWrite(p []byte) (int, error) {
	for {
		n, err := unix.Write(s.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, nil
		case err != nil:
			return 0, fmt.Errorf("write: %w", err)
		}
		return n, nil
	}
}

// Close releases the descriptor; later calls are no-ops.
func (s *Socket) Close() error {
	if s.fd < 0 {
		return nil
	}
	fd := s.fd
	s.fd = -1
	return unix.Close(fd)
}
