package evhttp

import (
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"dqx0.com/go/reactor/internal/obs"
)

// PostCallback receives a request body. ok is false when the body could
// not be read in full (timeout, short read, or the connection is gone).
// It is called exactly once, on the reactor goroutine unless the
// connection no longer exists.
type PostCallback func(body []byte, ok bool)

type msgKind uint8

const (
	msgRespond msgKind = iota + 1
	msgRegisterPost
	msgShutdown
	// msgOrphaned asks for a 500 on behalf of a request collected unanswered.
	msgOrphaned
)

type message struct {
	kind msgKind
	id   ConnID
	seq  uint64
	resp *Response
	cb   PostCallback
}

// abandon settles a message that will never reach the reactor.
func (m message) abandon() {
	if m.cb != nil {
		m.cb(nil, false)
	}
}

// mailbox is the multi-producer, single-consumer queue between application
// goroutines and the reactor. Producers never block: when the bounded
// queue is full, messages spill into a locked overflow list, and keep
// spilling until the consumer empties it so per-producer order holds.
type mailbox struct {
	q       *xsync.MPMCQueueOf[message]
	spilled atomic.Bool
	mu      sync.Mutex
	over    []message
	wake    func() error
	closed  atomic.Bool
	log     obs.Logger
}

func newMailbox(capacity int, wake func() error) *mailbox {
	if capacity <= 0 {
		capacity = 4096
	}
	return &mailbox{q: xsync.NewMPMCQueueOf[message](capacity), wake: wake}
}

// post enqueues m and wakes the consumer. It reports false once the
// consumer has stopped.
func (mb *mailbox) post(m message) bool {
	if mb.closed.Load() {
		return false
	}
	if mb.spilled.Load() || !mb.q.TryEnqueue(m) {
		mb.mu.Lock()
		mb.over = append(mb.over, m)
		mb.spilled.Store(true)
		mb.mu.Unlock()
	}
	if mb.closed.Load() {
		// Lost the race with close; nobody else will consume it.
		for _, m := range mb.close() {
			m.abandon()
		}
		return true
	}
	if mb.wake != nil {
		if err := mb.wake(); err != nil && mb.log != nil {
			mb.log.Logf(obs.Error, "evhttp: wake reactor: %v", err)
		}
	}
	return true
}

// drain hands every queued message to fn in arrival order. Messages posted
// by fn itself are picked up before drain returns.
func (mb *mailbox) drain(fn func(message)) int {
	n := 0
	for {
		for {
			m, ok := mb.q.TryDequeue()
			if !ok {
				break
			}
			fn(m)
			n++
		}
		if !mb.spilled.Load() {
			return n
		}
		mb.mu.Lock()
		batch := mb.over
		mb.over = nil
		mb.spilled.Store(false)
		mb.mu.Unlock()
		for _, m := range batch {
			fn(m)
			n++
		}
	}
}

// close stops accepting messages and returns whatever was still queued.
func (mb *mailbox) close() []message {
	mb.closed.Store(true)
	var rest []message
	mb.drain(func(m message) { rest = append(rest, m) })
	return rest
}

// Sender delivers responses and body callbacks to connections by id. It is
// safe for concurrent use. Messages for connections that have already
// closed are dropped by the reactor.
type Sender struct {
	mb *mailbox
}

// Send queues resp for connection id.
func (s Sender) Send(id ConnID, resp *Response) {
	if s.mb == nil || resp == nil {
		return
	}
	s.mb.post(message{kind: msgRespond, id: id, resp: resp})
}

// orphaned asks for a 500 on connection id if it is still waiting on
// request seq.
func (s Sender) orphaned(id ConnID, seq uint64) {
	if s.mb == nil {
		return
	}
	s.mb.post(message{kind: msgOrphaned, id: id, seq: seq})
}

// RegisterPostCallback asks the reactor to deliver the body of the request
// waiting on connection id to cb. Registering on a connection without a
// pending body, or twice, is a caller error: cb then receives ok=false.
func (s Sender) RegisterPostCallback(id ConnID, cb PostCallback) {
	if cb == nil {
		return
	}
	if s.mb == nil || !s.mb.post(message{kind: msgRegisterPost, id: id, cb: cb}) {
		cb(nil, false)
	}
}
