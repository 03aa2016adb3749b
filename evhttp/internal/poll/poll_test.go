//go:build linux

package poll

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func socketPair(t *testing.T) (*Socket, *Socket) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	a, b := NewSocket(fds[0]), NewSocket(fds[1])
	t.Cleanup(func() { a.Close(); b.Close() })
	return a, b
}

func newPoller(t *testing.T) *Poller {
	t.Helper()
	p, err := NewPoller(16)
	if err != nil {
		t.Fatalf("poller: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestSocket_TryReadWrite(t *testing.T) {
	a, b := socketPair(t)
	buf := make([]byte, 16)
	if n, err := a.TryRead(buf); n != 0 || err != nil {
		t.Fatalf("empty read: n=%d err=%v", n, err)
	}
	if n, err := b.TryWrite([]byte("ping")); n != 4 || err != nil {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	n, err := a.TryRead(buf)
	if err != nil || string(buf[:n]) != "ping" {
		t.Fatalf("read %q err=%v", buf[:n], err)
	}
	b.Close()
	if _, err := a.TryRead(buf); err != io.EOF {
		t.Fatalf("after peer close: %v", err)
	}
}

func TestPoller_OneShot(t *testing.T) {
	p := newPoller(t)
	a, b := socketPair(t)
	if err := p.Register(a.Fd(), InterestRead); err != nil {
		t.Fatal(err)
	}
	b.TryWrite([]byte("x"))

	evs, err := p.Wait(nil, 1000)
	if err != nil || len(evs) != 1 || evs[0].Fd != a.Fd() || !evs[0].Readable {
		t.Fatalf("events=%+v err=%v", evs, err)
	}
	// Disarmed until re-armed, even with unread data.
	b.TryWrite([]byte("y"))
	if evs, _ := p.Wait(nil, 50); len(evs) != 0 {
		t.Fatalf("one-shot fired twice: %+v", evs)
	}
	if err := p.Rearm(a.Fd(), InterestRead); err != nil {
		t.Fatal(err)
	}
	if evs, _ := p.Wait(nil, 1000); len(evs) != 1 {
		t.Fatalf("re-armed events=%+v", evs)
	}

	if err := p.Rearm(a.Fd(), InterestWrite); err != nil {
		t.Fatal(err)
	}
	evs, _ = p.Wait(nil, 1000)
	if len(evs) != 1 || !evs[0].Writable || evs[0].Readable {
		t.Fatalf("write interest events=%+v", evs)
	}
	if err := p.Deregister(a.Fd()); err != nil {
		t.Fatal(err)
	}
}

func TestPoller_Hangup(t *testing.T) {
	p := newPoller(t)
	a, b := socketPair(t)
	p.Register(a.Fd(), InterestNone)
	b.Close()
	evs, _ := p.Wait(nil, 1000)
	if len(evs) != 1 || !evs[0].Hangup {
		t.Fatalf("events=%+v", evs)
	}
}

func TestWaker(t *testing.T) {
	p := newPoller(t)
	w, err := NewWaker()
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := p.AddEdge(w.Fd()); err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		w.Wake()
		w.Wake()
	}()
	evs, _ := p.Wait(nil, 2000)
	if len(evs) != 1 || evs[0].Fd != w.Fd() {
		t.Fatalf("events=%+v", evs)
	}
	w.Drain()
	w.Wake()
	if evs, _ := p.Wait(nil, 1000); len(evs) != 1 {
		t.Fatalf("no edge after drain: %+v", evs)
	}
}

func TestWaker_WakeAfterClose(t *testing.T) {
	w, err := NewWaker()
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Wake(); err != nil {
		t.Fatalf("wake after close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestListener_Accept(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", 0)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	if ln.Addr().Port == 0 {
		t.Fatal("no port assigned")
	}
	if _, _, err := ln.Accept(); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("empty accept: %v", err)
	}

	p := newPoller(t)
	p.AddLevel(ln.Fd())
	c, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if evs, _ := p.Wait(nil, 1000); len(evs) != 1 {
		t.Fatalf("events=%+v", evs)
	}
	// Level-triggered: a connection left pending is reported again.
	if evs, _ := p.Wait(nil, 1000); len(evs) != 1 {
		t.Fatalf("pending connection not reported again: %+v", evs)
	}
	s, peer, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer s.Close()
	if !peer.IP.IsLoopback() {
		t.Fatalf("peer=%v", peer)
	}
	c.Write([]byte("hi"))
	buf := make([]byte, 8)
	deadline := time.Now().Add(time.Second)
	for {
		n, err := s.TryRead(buf)
		if err != nil {
			t.Fatal(err)
		}
		if n > 0 {
			if string(buf[:n]) != "hi" {
				t.Fatalf("read %q", buf[:n])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("no data")
		}
		time.Sleep(time.Millisecond)
	}
}
