package evhttp

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"testing"
	"time"

	"dqx0.com/go/reactor/internal/obs"
)

type logFunc func(line string)

func (f logFunc) Logf(level obs.Level, format string, args ...interface{}) {
	f(fmt.Sprintf(format, args...))
}

func newTestRequest(hasBody bool) (*Request, *mailbox, *int) {
	mb := newMailbox(64, nil)
	forced := 0
	r := &Request{
		Method:   "POST",
		Path:     "/",
		Proto:    "HTTP/1.1",
		ConnID:   9,
		sender:   Sender{mb: mb},
		hasBody:  hasBody,
		onForced: func(*Request) { forced++ },
	}
	return r, mb, &forced
}

func pending(mb *mailbox) []message {
	var out []message
	mb.drain(func(m message) { out = append(out, m) })
	return out
}

func TestRequest_RespondOnce(t *testing.T) {
	r, mb, _ := newTestRequest(false)
	if err := r.Respond(nil); !errors.Is(err, ErrNilResponse) {
		t.Fatalf("nil response: %v", err)
	}
	if err := r.Respond(NewTextResponse(StatusOK, "a")); err != nil {
		t.Fatalf("first respond: %v", err)
	}
	if err := r.Respond(NewTextResponse(StatusOK, "b")); !errors.Is(err, ErrAlreadyResponded) {
		t.Fatalf("second respond: %v", err)
	}
	msgs := pending(mb)
	if len(msgs) != 1 || msgs[0].id != 9 || string(msgs[0].resp.Body) != "a" {
		t.Fatalf("msgs=%+v", msgs)
	}
}

func TestRequest_UnansweredGets500(t *testing.T) {
	r, mb, forced := newTestRequest(false)
	r.guard(true, func() {})
	msgs := pending(mb)
	if len(msgs) != 1 || msgs[0].resp.Code != StatusInternalServerError {
		t.Fatalf("msgs=%+v", msgs)
	}
	if *forced != 1 {
		t.Fatalf("forced=%d", *forced)
	}
}

func TestRequest_AnsweredNo500(t *testing.T) {
	r, mb, forced := newTestRequest(false)
	r.guard(true, func() { r.Respond(NewTextResponse(StatusOK, "ok")) })
	msgs := pending(mb)
	if len(msgs) != 1 || msgs[0].resp.Code != StatusOK || *forced != 0 {
		t.Fatalf("msgs=%+v forced=%d", msgs, *forced)
	}
}

// detachAndDrop serves a request whose handler detaches it and never
// answers, and lets the request go.
func detachAndDrop(mb *mailbox) {
	r := &Request{Method: "GET", Path: "/", Proto: "HTTP/1.1", ConnID: 4, seq: 3, sender: Sender{mb: mb}}
	r.guard(true, func() { r.Detach() })
}

func TestRequest_DetachedDroppedGets500(t *testing.T) {
	mb := newMailbox(64, nil)
	detachAndDrop(mb)
	if msgs := pending(mb); len(msgs) != 0 {
		t.Fatalf("answered while still detached: %+v", msgs)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		runtime.GC()
		msgs := pending(mb)
		if len(msgs) > 0 {
			if len(msgs) != 1 || msgs[0].kind != msgOrphaned || msgs[0].id != 4 || msgs[0].seq != 3 {
				t.Fatalf("msgs=%+v", msgs)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("dropped request never answered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRequest_DetachedAnswered(t *testing.T) {
	r, mb, forced := newTestRequest(false)
	r.guard(true, func() { r.Detach() })
	if msgs := pending(mb); len(msgs) != 0 || *forced != 0 {
		t.Fatalf("msgs=%+v forced=%d", msgs, *forced)
	}
	if err := r.Respond(NewTextResponse(StatusOK, "late")); err != nil {
		t.Fatal(err)
	}
	p := r.orphan.Load()
	if p == nil || p.Load() {
		t.Fatal("answered request still marked pending")
	}
	orphaned(orphan{pending: p, sender: r.sender, id: r.ConnID})
	msgs := pending(mb)
	if len(msgs) != 1 || msgs[0].kind != msgRespond {
		t.Fatalf("msgs=%+v", msgs)
	}
}

func TestRequest_DetachAfterRespond(t *testing.T) {
	r, mb, _ := newTestRequest(false)
	r.Respond(NewTextResponse(StatusOK, "ok"))
	r.Detach()
	if p := r.orphan.Load(); p == nil || p.Load() {
		t.Fatal("detach after respond left the request pending")
	}
	if msgs := pending(mb); len(msgs) != 1 {
		t.Fatalf("msgs=%+v", msgs)
	}
}

func TestRequest_PanicGets500(t *testing.T) {
	r, mb, _ := newTestRequest(false)
	var logged bool
	r.log = logFunc(func(string) { logged = true })
	r.guard(true, func() { panic("boom") })
	msgs := pending(mb)
	if len(msgs) != 1 || msgs[0].resp.Code != StatusInternalServerError {
		t.Fatalf("msgs=%+v", msgs)
	}
	if !logged {
		t.Fatal("panic not logged")
	}
}

func TestRequest_ReadBodyDefersAnswer(t *testing.T) {
	r, mb, _ := newTestRequest(true)
	var got string
	r.guard(true, func() {
		if err := r.ReadBody(func(req *Request, body []byte, ok bool) {
			got = string(body)
		}); err != nil {
			t.Fatalf("ReadBody: %v", err)
		}
	})
	msgs := pending(mb)
	if len(msgs) != 1 || msgs[0].kind != msgRegisterPost {
		t.Fatalf("msgs=%+v", msgs)
	}
	// The callback stage did not answer either.
	msgs[0].cb([]byte("payload"), true)
	if got != "payload" {
		t.Fatalf("body=%q", got)
	}
	msgs = pending(mb)
	if len(msgs) != 1 || msgs[0].resp.Code != StatusInternalServerError {
		t.Fatalf("msgs=%+v", msgs)
	}
}

func TestRequest_ReadBodyCallbackAnswers(t *testing.T) {
	r, mb, forced := newTestRequest(true)
	r.ReadBody(func(req *Request, body []byte, ok bool) {
		req.Respond(NewResponse(StatusOK, ApplicationJSON, body))
	})
	pending(mb)[0].cb([]byte(`{}`), true)
	msgs := pending(mb)
	if len(msgs) != 1 || msgs[0].resp.Code != StatusOK || *forced != 0 {
		t.Fatalf("msgs=%+v forced=%d", msgs, *forced)
	}
}

func TestRequest_BodyErrors(t *testing.T) {
	r, _, _ := newTestRequest(false)
	if err := r.ReadBody(func(*Request, []byte, bool) {}); !errors.Is(err, ErrNoBody) {
		t.Fatalf("no body: %v", err)
	}

	r, _, _ = newTestRequest(true)
	if err := r.ReadBody(func(*Request, []byte, bool) {}); err != nil {
		t.Fatal(err)
	}
	if err := r.ReadBody(func(*Request, []byte, bool) {}); !errors.Is(err, ErrBodyRequested) {
		t.Fatalf("twice: %v", err)
	}

	r, _, _ = newTestRequest(true)
	r.inline = true
	if _, err := r.Body(context.Background()); !errors.Is(err, ErrInlineBody) {
		t.Fatalf("inline: %v", err)
	}
}

func TestRequest_BodyBlocking(t *testing.T) {
	r, mb, _ := newTestRequest(true)
	type result struct {
		body []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		b, err := r.Body(context.Background())
		done <- result{b, err}
	}()

	deadline := time.Now().Add(2 * time.Second)
	var msgs []message
	for len(msgs) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no registration")
		}
		msgs = pending(mb)
		time.Sleep(time.Millisecond)
	}
	msgs[0].cb([]byte("abc"), true)
	res := <-done
	if res.err != nil || string(res.body) != "abc" {
		t.Fatalf("body=%q err=%v", res.body, res.err)
	}
}

func TestRequest_BodyTimeoutAndCancel(t *testing.T) {
	r, mb, _ := newTestRequest(true)
	done := make(chan error, 1)
	go func() {
		_, err := r.Body(context.Background())
		done <- err
	}()
	var msgs []message
	for len(msgs) == 0 {
		msgs = pending(mb)
		time.Sleep(time.Millisecond)
	}
	msgs[0].cb(nil, false)
	if err := <-done; !errors.Is(err, ErrBodyTimeout) {
		t.Fatalf("err=%v", err)
	}

	r, _, _ = newTestRequest(true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Body(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
}

func TestRequest_Context(t *testing.T) {
	var r *Request
	if r.Context() == nil {
		t.Fatal("nil context")
	}
	ctx := WithConnID(WithRequestID(context.Background(), "abc"), 4)
	if id, ok := RequestIDFrom(ctx); !ok || id != "abc" {
		t.Fatalf("request id=%q", id)
	}
	if id, ok := ConnIDFrom(ctx); !ok || id != 4 {
		t.Fatalf("conn id=%d", id)
	}
}
