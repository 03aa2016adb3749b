package evhttp

import (
	"errors"
	"fmt"
	"io"
	"time"

	"dqx0.com/go/reactor/evhttp/internal/http1"
	"dqx0.com/go/reactor/internal/obs"
)

// headBufferSize bounds the request head: a head that does not fit is
// answered 400.
const headBufferSize = 2048

// postChunk is the largest single read while collecting a body.
const postChunk = 2048

// socket is the non-blocking stream a conn drives. Try operations return
// (0, nil) when they would block; TryRead returns io.EOF once the peer
// has closed.
type socket interface {
	Fd() int
	TryRead(p []byte) (int, error)
	TryWrite(p []byte) (int, error)
	Close() error
}

type connMode uint8

const (
	modeReadingRequest connMode = iota
	modeWaitingForResponse
	modeSendingResponse
	modeClosed
)

func (m connMode) String() string {
	switch m {
	case modeReadingRequest:
		return "ReadingRequest"
	case modeWaitingForResponse:
		return "WaitingForResponse"
	case modeSendingResponse:
		return "SendingResponse"
	case modeClosed:
		return "Closed"
	default:
		return "unknown"
	}
}

type postMode uint8

const (
	postNone postMode = iota
	// postBuffered: body bytes are being collected, nobody asked for them yet.
	postBuffered
	// postStreaming: a callback waits for the rest of the body.
	postStreaming
	postComplete
)

func (m postMode) String() string {
	switch m {
	case postNone:
		return "none"
	case postBuffered:
		return "buffered"
	case postStreaming:
		return "streaming"
	case postComplete:
		return "complete"
	default:
		return "unknown"
	}
}

type postState struct {
	mode     postMode
	body     []byte
	target   int
	callback PostCallback
	// truncated is set when the body was abandoned before it fully arrived.
	truncated bool
}

// reading reports whether more body bytes are expected from the socket.
func (p *postState) reading() bool {
	switch p.mode {
	case postBuffered:
		return len(p.body) < p.target
	case postStreaming:
		return true
	}
	return false
}

type interest uint8

const (
	interestNone interest = iota
	interestRead
	interestWrite
)

type timerKind uint8

const (
	timerNone timerKind = iota
	timerRead
	timerWrite
	timerPost
)

func (k timerKind) String() string {
	switch k {
	case timerRead:
		return "read"
	case timerWrite:
		return "write"
	case timerPost:
		return "post"
	default:
		return "none"
	}
}

// readiness is what the poller reported for a connection.
type readiness struct {
	readable bool
	writable bool
	failed   bool
	hangup   bool
}

// conn is the per-connection state machine. It never blocks and never
// touches the poller; the reactor reads interest() and timer() after every
// transition and closes the socket once the mode is modeClosed.
type conn struct {
	id      ConnID
	sock    socket
	log     obs.Logger
	maxBody int
	now     func() time.Time

	mode connMode

	// ReadingRequest
	buf    []byte
	filled int

	// WaitingForResponse and SendingResponse
	keepAlive bool
	post      postState

	// SendingResponse
	out  []byte
	sent int

	// draining disables keep-alive during shutdown.
	draining bool
	// rejected counts requests answered 400 by the connection itself.
	rejected int
}

func newConn(id ConnID, sock socket, log obs.Logger, maxBody int) *conn {
	if log == nil {
		log = obs.NopLogger{}
	}
	return &conn{
		id:      id,
		sock:    sock,
		log:     log,
		maxBody: maxBody,
		now:     time.Now,
		buf:     make([]byte, headBufferSize),
	}
}

func (c *conn) name() string {
	if c.mode == modeWaitingForResponse {
		return fmt.Sprintf("%s (post %s)", c.mode, c.post.mode)
	}
	return c.mode.String()
}

func (c *conn) interest() interest {
	switch c.mode {
	case modeReadingRequest:
		return interestRead
	case modeWaitingForResponse:
		if c.post.reading() {
			return interestRead
		}
	case modeSendingResponse:
		return interestWrite
	}
	return interestNone
}

func (c *conn) timer() timerKind {
	switch c.mode {
	case modeReadingRequest:
		return timerRead
	case modeWaitingForResponse:
		if c.post.reading() {
			return timerPost
		}
	case modeSendingResponse:
		return timerWrite
	}
	return timerNone
}

// ready advances the connection on a readiness notification. It returns the
// parsed head when a request is complete and must be handed to the
// application.
func (c *conn) ready(ev readiness) *http1.Head {
	if ev.failed || ev.hangup {
		c.log.Logf(obs.Error, "ready error in %s (failed=%v hangup=%v)", c.name(), ev.failed, ev.hangup)
		c.close()
		return nil
	}
	switch c.mode {
	case modeReadingRequest:
		if ev.readable {
			return c.readRequest()
		}
	case modeWaitingForResponse:
		if ev.readable && c.post.reading() {
			c.readPost()
		}
	case modeSendingResponse:
		if ev.writable {
			c.writeResponse()
		}
	}
	return nil
}

func (c *conn) readRequest() *http1.Head {
	free := c.buf[c.filled:]
	n, err := c.sock.TryRead(free)
	if n > len(free) {
		panic(fmt.Sprintf("evhttp: read %d bytes into %d-byte buffer", n, len(free)))
	}
	if err == io.EOF {
		return nil
	}
	if err != nil {
		c.log.Logf(obs.Error, "error read from socket, %v", err)
		c.close()
		return nil
	}
	if n == 0 {
		return nil
	}
	c.filled += n

	head, err := http1.Parse(c.buf[:c.filled])
	if errors.Is(err, http1.ErrIncomplete) {
		if c.filled == len(c.buf) {
			c.reject(http1.ErrHeaderTooLarge, Respond400())
		}
		return nil
	}
	if err != nil {
		c.reject(err, Respond400())
		return nil
	}

	excess := c.buf[head.Size:c.filled]
	post := postState{mode: postNone}
	if head.HasBody() {
		target, err := head.Framing(len(excess))
		if err != nil {
			c.reject(err, Respond400())
			return nil
		}
		if c.maxBody > 0 && target > c.maxBody {
			c.reject(fmt.Errorf("body of %d bytes exceeds limit %d", target, c.maxBody),
				NewResponse(StatusContentTooLarge, TextHTML, []byte("413 Content Too Large")))
			return nil
		}
		post = postState{mode: postBuffered, body: append([]byte(nil), excess...), target: target}
	} else if len(excess) > 0 {
		// Pipelined bytes are not served; the connection closes after the answer.
		c.log.Logf(obs.Warn, "dropping %d pipelined bytes", len(excess))
		post.truncated = true
	}

	c.mode = modeWaitingForResponse
	c.keepAlive = head.KeepAlive()
	c.post = post
	c.filled = 0
	return head
}

// reject answers a request the connection could not accept and closes
// after the answer.
func (c *conn) reject(err error, resp *Response) {
	c.log.Logf(obs.Warn, "bad request: %v", err)
	c.rejected++
	c.post = postState{}
	c.startSending(resp, false)
}

func (c *conn) readPost() {
	var chunk [postChunk]byte
	for len(c.post.body) < c.post.target {
		want := min(c.post.target-len(c.post.body), len(chunk))
		n, err := c.sock.TryRead(chunk[:want])
		if n > want {
			panic(fmt.Sprintf("evhttp: read %d bytes into %d-byte buffer", n, want))
		}
		if err != nil {
			if err == io.EOF {
				c.log.Logf(obs.Warn, "peer closed with %d of %d body bytes", len(c.post.body), c.post.target)
			} else {
				c.log.Logf(obs.Error, "error read post data, %v", err)
			}
			c.abandonPost()
			return
		}
		if n == 0 {
			break
		}
		c.post.body = append(c.post.body, chunk[:n]...)
	}
	c.checkPost()
}

// checkPost fires the pending callback once the body is complete.
func (c *conn) checkPost() {
	if c.post.mode != postStreaming || len(c.post.body) < c.post.target {
		return
	}
	cb, body := c.post.callback, c.post.body
	c.post = postState{mode: postComplete}
	cb(body, true)
}

// abandonPost gives up on the body without closing the socket, so the
// application can still answer.
func (c *conn) abandonPost() {
	cb := c.post.callback
	c.post = postState{mode: postComplete, truncated: true}
	if cb != nil {
		cb(nil, false)
	}
}

// registerPost attaches the callback that receives the request body.
func (c *conn) registerPost(cb PostCallback) {
	if c.mode != modeWaitingForResponse || c.post.mode != postBuffered {
		c.log.Logf(obs.Error, "post callback rejected in %s", c.name())
		cb(nil, false)
		return
	}
	c.post.mode = postStreaming
	c.post.callback = cb
	c.checkPost()
}

// respond moves a waiting connection to SendingResponse. It reports false
// when the connection is not waiting for a response.
func (c *conn) respond(resp *Response) bool {
	if c.mode != modeWaitingForResponse {
		c.log.Logf(obs.Error, "response %s dropped in %s", resp.Code, c.name())
		return false
	}
	unread := false
	switch c.post.mode {
	case postBuffered:
		unread = c.post.target > 0
	case postStreaming:
		// Answered before the body arrived; the callback still gets its one call.
		unread = true
		c.abandonPost()
	}
	keepAlive := c.keepAlive && !resp.ForcedClose() && !unread && !c.post.truncated && !c.draining
	c.post = postState{}
	c.startSending(resp, keepAlive)
	return true
}

func (c *conn) startSending(resp *Response, keepAlive bool) {
	c.keepAlive = keepAlive
	c.out = resp.appendTo(c.out[:0], keepAlive, c.now())
	c.sent = 0
	c.mode = modeSendingResponse
}

func (c *conn) writeResponse() {
	rest := c.out[c.sent:]
	n, err := c.sock.TryWrite(rest)
	if n > len(rest) {
		panic(fmt.Sprintf("evhttp: wrote %d bytes of %d", n, len(rest)))
	}
	if err != nil {
		c.log.Logf(obs.Error, "error write to socket, %v", err)
		return
	}
	if n == 0 {
		return
	}
	c.sent += n
	if c.sent < len(c.out) {
		return
	}
	if c.keepAlive && !c.draining {
		c.log.Logf(obs.Debug, "keep alive")
		c.reset()
		return
	}
	c.close()
}

// timeout handles the expiry of the connection's timer.
func (c *conn) timeout() {
	switch c.mode {
	case modeReadingRequest:
		c.log.Logf(obs.Info, "timeout trigger - reading request")
		c.close()
	case modeWaitingForResponse:
		if c.post.reading() {
			c.log.Logf(obs.Info, "timeout trigger - reading post data (%d of %d bytes)", len(c.post.body), c.post.target)
			c.abandonPost()
			return
		}
		c.log.Logf(obs.Error, "timeout trigger in %s ignored", c.name())
	case modeSendingResponse:
		c.log.Logf(obs.Info, "timeout trigger - sending response (%d of %d bytes)", c.sent, len(c.out))
		c.close()
	}
}

// reset reopens a kept-alive connection for the next request.
func (c *conn) reset() {
	c.mode = modeReadingRequest
	c.filled = 0
	c.keepAlive = false
	c.post = postState{}
	c.out = c.out[:0]
	c.sent = 0
}

// close marks the connection dead; a pending body callback is told the
// body will never come.
func (c *conn) close() {
	cb := c.post.callback
	c.mode = modeClosed
	c.post = postState{}
	c.out = nil
	if cb != nil {
		cb(nil, false)
	}
}
