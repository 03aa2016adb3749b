package evhttp

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"dqx0.com/go/reactor/internal/obs"
)

// Request is one parsed HTTP/1.1 request. Exactly one Response is sent
// for every Request: when the handler (or the body callback it registered)
// returns or panics without answering, the server answers 500 on its
// behalf.
type Request struct {
	Method string
	Path   string
	Proto  string
	Header Header
	// ConnID is the connection the request arrived on; use it with Sender
	// to answer from anywhere.
	ConnID ConnID
	// ID is a random identifier generated per request for log correlation.
	ID string

	ctx     context.Context
	sender  Sender
	hasBody bool
	inline  bool
	// seq numbers the request on its connection.
	seq uint64

	answered atomic.Bool
	bodyOnce atomic.Bool
	// deferred is set when the body callback took over the answer.
	deferred atomic.Bool
	log      obs.Logger
	onForced func(*Request)
	// orphan is set by Detach and cleared by the first answer.
	orphan atomic.Pointer[atomic.Bool]
}

// Context returns the request's context. If nil, returns Background.
func (r *Request) Context() context.Context {
	if r == nil || r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// HasBody reports whether the request announced a body that can be read
// with ReadBody or Body.
func (r *Request) HasBody() bool { return r.hasBody }

// Answered reports whether a response was already sent.
func (r *Request) Answered() bool { return r.answered.Load() }

// Respond sends resp for this request. Only the first call has an effect;
// later calls return ErrAlreadyResponded. Safe for concurrent use.
func (r *Request) Respond(resp *Response) error {
	if resp == nil {
		return ErrNilResponse
	}
	if !r.answered.CompareAndSwap(false, true) {
		return ErrAlreadyResponded
	}
	if p := r.orphan.Load(); p != nil {
		p.Store(false)
	}
	r.sender.Send(r.ConnID, resp)
	return nil
}

// Detach releases the handler from the response guard: returning without
// an answer no longer sends 500 right away. The request should then be
// answered later through Respond. If it is garbage collected while still
// unanswered, the server answers 500 on its behalf.
func (r *Request) Detach() {
	pending := new(atomic.Bool)
	pending.Store(true)
	if !r.orphan.CompareAndSwap(nil, pending) {
		return
	}
	r.deferred.Store(true)
	if r.answered.Load() {
		pending.Store(false)
		return
	}
	runtime.AddCleanup(r, orphaned, orphan{
		pending: pending,
		sender:  r.sender,
		id:      r.ConnID,
		seq:     r.seq,
		log:     r.log,
		label:   r.String(),
	})
}

// orphan is what the cleanup of a detached request needs; it must not
// reference the Request itself.
type orphan struct {
	pending *atomic.Bool
	sender  Sender
	id      ConnID
	seq     uint64
	log     obs.Logger
	label   string
}

func orphaned(o orphan) {
	if !o.pending.CompareAndSwap(true, false) {
		return
	}
	if o.log != nil {
		o.log.Logf(obs.Warn, "%s dropped without a response", o.label)
	}
	o.sender.orphaned(o.id, o.seq)
}

// ReadBody registers cb to receive the request body once it has fully
// arrived. The duty to answer moves to cb: if cb returns without calling
// Respond, the request is answered 500.
func (r *Request) ReadBody(cb func(req *Request, body []byte, ok bool)) error {
	if err := r.claimBody(); err != nil {
		return err
	}
	r.deferred.Store(true)
	r.sender.RegisterPostCallback(r.ConnID, func(body []byte, ok bool) {
		r.guard(false, func() { cb(r, body, ok) })
	})
	return nil
}

// Body waits for the request body. It must not be called from a handler
// running on the reactor goroutine (Server.Workers == 0); such calls fail
// with ErrInlineBody.
func (r *Request) Body(ctx context.Context) ([]byte, error) {
	if r.inline {
		return nil, ErrInlineBody
	}
	if err := r.claimBody(); err != nil {
		return nil, err
	}
	type result struct {
		body []byte
		ok   bool
	}
	ch := make(chan result, 1)
	r.sender.RegisterPostCallback(r.ConnID, func(body []byte, ok bool) {
		ch <- result{body, ok}
	})
	select {
	case res := <-ch:
		if !res.ok {
			return nil, ErrBodyTimeout
		}
		return res.body, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Request) claimBody() error {
	if !r.hasBody {
		return ErrNoBody
	}
	if !r.bodyOnce.CompareAndSwap(false, true) {
		return ErrBodyRequested
	}
	return nil
}

// guard runs fn and answers 500 if fn panicked, or returned while the
// request is still unanswered. In the handler stage (handler true) a
// registered body callback takes the duty over instead.
func (r *Request) guard(handler bool, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			if r.log != nil {
				r.log.Logf(obs.Error, "panic serving %s: %v", r, p)
			}
			r.finish()
			return
		}
		if handler && r.deferred.Load() {
			return
		}
		r.finish()
	}()
	fn()
}

// finish answers 500 if nothing was sent yet.
func (r *Request) finish() {
	if r.Respond(Respond500()) == nil && r.onForced != nil {
		r.onForced(r)
	}
}

func (r *Request) String() string {
	return fmt.Sprintf("%s %s %s (conn %d)", r.Method, r.Path, r.Proto, r.ConnID)
}
