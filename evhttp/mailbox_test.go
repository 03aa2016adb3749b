package evhttp

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

func TestMailbox_OrderAcrossOverflow(t *testing.T) {
	var wakes atomic.Int32
	mb := newMailbox(2, func() error { wakes.Add(1); return nil })
	for i := 1; i <= 10; i++ {
		if !mb.post(message{kind: msgRespond, id: ConnID(i)}) {
			t.Fatalf("post %d refused", i)
		}
	}
	if wakes.Load() != 10 {
		t.Fatalf("wakes=%d", wakes.Load())
	}
	var got []ConnID
	n := mb.drain(func(m message) { got = append(got, m.id) })
	if n != 10 {
		t.Fatalf("drained %d", n)
	}
	for i, id := range got {
		if id != ConnID(i+1) {
			t.Fatalf("order=%v", got)
		}
	}
	// The fast path is usable again once the overflow is gone.
	mb.post(message{kind: msgRespond, id: 11})
	if mb.spilled.Load() {
		t.Fatal("still spilling after drain")
	}
}

func TestMailbox_DrainSeesMessagesPostedByConsumer(t *testing.T) {
	mb := newMailbox(4, nil)
	mb.post(message{kind: msgRespond, id: 1})
	var got []ConnID
	mb.drain(func(m message) {
		got = append(got, m.id)
		if m.id == 1 {
			mb.post(message{kind: msgRespond, id: 2})
		}
	})
	if len(got) != 2 || got[1] != 2 {
		t.Fatalf("got=%v", got)
	}
}

func TestMailbox_ConcurrentProducers(t *testing.T) {
	const producers, each = 8, 500
	mb := newMailbox(16, nil)
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				// id encodes producer and sequence.
				mb.post(message{kind: msgRespond, id: ConnID(p*each + i)})
			}
		}(p)
	}
	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	total := 0
	consume := func(m message) {
		p, i := int(m.id)/each, int(m.id)%each
		if i <= last[p] {
			t.Errorf("producer %d: %d after %d", p, i, last[p])
		}
		last[p] = i
		total++
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	for {
		select {
		case <-done:
			mb.drain(consume)
			if total != producers*each {
				t.Fatalf("total=%d", total)
			}
			return
		default:
			mb.drain(consume)
		}
	}
}

func TestMailbox_Closed(t *testing.T) {
	mb := newMailbox(4, nil)
	mb.post(message{kind: msgRespond, id: 1})
	rest := mb.close()
	if len(rest) != 1 {
		t.Fatalf("rest=%d", len(rest))
	}
	if mb.post(message{kind: msgRespond, id: 2}) {
		t.Fatal("post accepted after close")
	}

	s := Sender{mb: mb}
	called, ok := 0, true
	s.RegisterPostCallback(3, func(b []byte, o bool) { called++; ok = o })
	if called != 1 || ok {
		t.Fatalf("called=%d ok=%v", called, ok)
	}
}

func TestSender_Zero(t *testing.T) {
	var s Sender
	s.Send(1, NewTextResponse(StatusOK, "x"))
	ok := true
	s.RegisterPostCallback(1, func(b []byte, o bool) { ok = o })
	if ok {
		t.Fatal("zero Sender accepted a callback")
	}
}

func TestMailbox_WakeErrorLogged(t *testing.T) {
	mb := newMailbox(4, func() error { return errors.New("eventfd write: bad file descriptor") })
	var lines []string
	mb.log = logFunc(func(line string) { lines = append(lines, line) })
	if !mb.post(message{kind: msgRespond, id: 1}) {
		t.Fatal("post refused")
	}
	if len(lines) != 1 || !strings.Contains(lines[0], "bad file descriptor") {
		t.Fatalf("lines=%q", lines)
	}
}
