//go:build linux

package evhttp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dqx0.com/go/reactor/evhttp/internal/http1"
	"dqx0.com/go/reactor/evhttp/internal/poll"
	"dqx0.com/go/reactor/evhttp/internal/timer"
	"dqx0.com/go/reactor/internal/obs"
)

// record is a connection table entry: the state machine plus what the
// reactor last told the poller and the timer heap about it.
type record struct {
	c          *conn
	interest   interest
	registered bool
	// armed is false once a one-shot event was delivered and not re-armed.
	armed bool
	timer *timer.Timer
	kind  timerKind
	// served counts requests dispatched; since is when the last one was.
	served uint64
	since  time.Time
}

// eventSet is the part of poll.Poller the reactor drives.
type eventSet interface {
	AddLevel(fd int) error
	AddEdge(fd int) error
	Register(fd int, i poll.Interest) error
	Rearm(fd int, i poll.Interest) error
	Deregister(fd int) error
	Wait(dst []poll.Event, msec int) ([]poll.Event, error)
	Close() error
}

type reactorConfig struct {
	readTimeout  time.Duration
	writeTimeout time.Duration
	maxBody      int
	queueSize    int
	log          obs.Logger
	meter        obs.Meter
}

// reactor is the single goroutine that owns the listener, every connection
// and the timers. Other goroutines reach it only through the mailbox.
type reactor struct {
	cfg    reactorConfig
	ln     *poll.Listener
	poller eventSet
	waker  *poll.Waker
	mb     *mailbox

	conns  map[ConnID]*record
	byFd   map[int]*record
	ids    idGen
	timers timer.Heap
	events []poll.Event
	now    func() time.Time

	deliver  func(*Request)
	draining bool
}

func newReactor(ln *poll.Listener, cfg reactorConfig) (*reactor, error) {
	if cfg.log == nil {
		cfg.log = obs.NopLogger{}
	}
	if cfg.meter == nil {
		cfg.meter = obs.NopMeter{}
	}
	p, err := poll.NewPoller(256)
	if err != nil {
		return nil, err
	}
	w, err := poll.NewWaker()
	if err != nil {
		p.Close()
		return nil, err
	}
	r := &reactor{
		cfg:    cfg,
		ln:     ln,
		poller: p,
		waker:  w,
		mb:     newMailbox(cfg.queueSize, w.Wake),
		conns:  make(map[ConnID]*record),
		byFd:   make(map[int]*record),
		events: make([]poll.Event, 0, 256),
		now:    time.Now,
	}
	r.mb.log = cfg.log
	if err := p.AddEdge(w.Fd()); err != nil {
		r.release()
		return nil, err
	}
	if err := p.AddLevel(ln.Fd()); err != nil {
		r.release()
		return nil, err
	}
	return r, nil
}

// run is the event loop. It returns nil once shutdown was requested and
// the last connection has gone.
func (r *reactor) run() error {
	defer r.release()
	for {
		if r.draining && len(r.conns) == 0 {
			r.cfg.log.Logf(obs.Info, "evhttp: drained, loop exits")
			return nil
		}
		msec := -1
		if d, ok := r.timers.Until(r.now()); ok {
			msec = int((d + time.Millisecond - 1) / time.Millisecond)
		}
		events, err := r.poller.Wait(r.events[:0], msec)
		if err != nil {
			r.cfg.log.Logf(obs.Error, "evhttp: %v", err)
			r.abort()
			return err
		}
		r.events = events
		for _, ev := range events {
			switch {
			case r.ln != nil && ev.Fd == r.ln.Fd():
				r.accept()
			case ev.Fd == r.waker.Fd():
				r.waker.Drain()
			default:
				r.ready(ev)
			}
		}
		r.mb.drain(r.handle)
		r.timers.Expire(r.now(), r.expire)
	}
}

func (r *reactor) accept() {
	for r.ln != nil {
		sock, addr, err := r.ln.Accept()
		if errors.Is(err, poll.ErrWouldBlock) {
			return
		}
		if err != nil {
			// The listener is level-triggered: still pending connections are
			// reported again on the next Wait.
			r.cfg.log.Logf(obs.Error, "evhttp: accept: %v", err)
			return
		}
		rec := r.adopt(sock)
		rec.c.log.Logf(obs.Debug, "accepted %s", addr)
	}
}

// adopt enters a freshly accepted socket into the connection table.
func (r *reactor) adopt(sock socket) *record {
	id := r.ids.next()
	log := obs.Prefixed{L: r.cfg.log, Prefix: func() string {
		return fmt.Sprintf("evhttp %d / %d -> ", id, len(r.conns))
	}}
	c := newConn(id, sock, log, r.cfg.maxBody)
	c.now = r.now
	rec := &record{c: c}
	r.conns[id] = rec
	r.byFd[sock.Fd()] = rec
	r.cfg.meter.Counter("accepted", 1)
	r.settle(rec)
	return rec
}

func (r *reactor) ready(ev poll.Event) {
	rec := r.byFd[ev.Fd]
	if rec == nil {
		return
	}
	rec.armed = false
	c := rec.c
	rejected := c.rejected
	head := c.ready(readiness{
		readable: ev.Readable,
		writable: ev.Writable,
		failed:   ev.Error,
		hangup:   ev.Hangup,
	})
	if c.rejected != rejected {
		r.cfg.meter.Counter("bad_requests", 1)
	}
	if head != nil {
		r.dispatch(rec, head)
	}
	r.settle(rec)
}

// dispatch hands a parsed request to the application.
func (r *reactor) dispatch(rec *record, head *http1.Head) {
	c := rec.c
	rec.served++
	rec.since = r.now()
	req := &Request{
		Method:  head.Method,
		Path:    head.RequestURI,
		Proto:   head.Proto,
		Header:  Header(head.Header),
		ConnID:  c.id,
		ID:      randomHex(16),
		sender:  Sender{mb: r.mb},
		hasBody: c.post.mode == postBuffered,
		seq:     rec.served,
		log:     c.log,
		onForced: func(*Request) {
			r.cfg.meter.Counter("synthesized_500", 1)
		},
	}
	tr := traceFromHeader(req.Header)
	req.ctx = WithTrace(WithConnID(WithRequestID(context.Background(), req.ID), c.id), tr)
	r.cfg.meter.Counter("requests", 1)
	c.log.Logf(obs.Debug, "%s %s %s trace=%s", req.Method, req.Path, req.Proto, tr.TraceID)
	r.deliver(req)
}

func (r *reactor) handle(m message) {
	switch m.kind {
	case msgShutdown:
		r.shutdown()
	case msgRespond:
		rec := r.conns[m.id]
		if rec == nil {
			r.cfg.log.Logf(obs.Warn, "evhttp: response %s for closed connection %d dropped", m.resp.Code, m.id)
			return
		}
		if rec.c.respond(m.resp) {
			r.cfg.meter.Counter("responses", 1)
			r.cfg.meter.Histogram("response_latency_us", float64(r.now().Sub(rec.since).Microseconds()))
		}
		r.settle(rec)
	case msgOrphaned:
		rec := r.conns[m.id]
		if rec == nil || rec.served != m.seq || rec.c.mode != modeWaitingForResponse {
			return
		}
		if rec.c.respond(Respond500()) {
			r.cfg.meter.Counter("responses", 1)
			r.cfg.meter.Counter("synthesized_500", 1)
		}
		r.settle(rec)
	case msgRegisterPost:
		rec := r.conns[m.id]
		if rec == nil {
			r.cfg.log.Logf(obs.Warn, "evhttp: post callback for closed connection %d", m.id)
			m.cb(nil, false)
			return
		}
		rec.c.registerPost(m.cb)
		r.settle(rec)
	}
}

func (r *reactor) expire(t *timer.Timer) {
	rec := r.conns[ConnID(t.Key)]
	if rec == nil || rec.timer != t {
		return
	}
	rec.timer = nil
	rec.kind = timerNone
	r.cfg.meter.Counter("timeouts", 1)
	rec.c.timeout()
	r.settle(rec)
}

// settle brings the poller registration and the timer in line with the
// connection's new state, or removes a closed connection.
func (r *reactor) settle(rec *record) {
	c := rec.c
	if c.mode == modeClosed {
		r.remove(rec)
		return
	}

	want := c.interest()
	fd := c.sock.Fd()
	var err error
	switch {
	case !rec.registered:
		err = r.poller.Register(fd, pollInterest(want))
		rec.registered = err == nil
	case !rec.armed || want != rec.interest:
		err = r.poller.Rearm(fd, pollInterest(want))
	}
	if err != nil {
		c.log.Logf(obs.Error, "register %s interest: %v", pollInterest(want), err)
		c.close()
		r.remove(rec)
		return
	}
	rec.interest = want
	rec.armed = true

	kind := c.timer()
	if kind == rec.kind && rec.timer.Armed() {
		return
	}
	if rec.timer != nil {
		r.timers.Cancel(rec.timer)
		rec.timer = nil
	}
	rec.kind = kind
	if d := r.timeoutFor(kind); d > 0 {
		rec.timer = r.timers.Arm(uint64(c.id), r.now(), d)
	}
}

func (r *reactor) timeoutFor(k timerKind) time.Duration {
	switch k {
	case timerRead, timerPost:
		return r.cfg.readTimeout
	case timerWrite:
		return r.cfg.writeTimeout
	}
	return 0
}

func (r *reactor) remove(rec *record) {
	c := rec.c
	if rec.timer != nil {
		r.timers.Cancel(rec.timer)
		rec.timer = nil
	}
	fd := c.sock.Fd()
	if rec.registered {
		if err := r.poller.Deregister(fd); err != nil {
			c.log.Logf(obs.Warn, "%v", err)
		}
	}
	if err := c.sock.Close(); err != nil {
		c.log.Logf(obs.Warn, "close: %v", err)
	}
	delete(r.conns, c.id)
	if r.byFd[fd] == rec {
		delete(r.byFd, fd)
	}
	r.cfg.meter.Counter("closed", 1)
	c.log.Logf(obs.Debug, "closed")
}

// shutdown stops accepting; live connections finish or time out on their
// own.
func (r *reactor) shutdown() {
	if r.draining {
		r.cfg.log.Logf(obs.Error, "evhttp: %v", ErrDuplicateShutdown)
		return
	}
	r.draining = true
	if r.ln != nil {
		if err := r.poller.Deregister(r.ln.Fd()); err != nil {
			r.cfg.log.Logf(obs.Warn, "evhttp: %v", err)
		}
		if err := r.ln.Close(); err != nil {
			r.cfg.log.Logf(obs.Warn, "evhttp: close listener: %v", err)
		}
		r.ln = nil
	}
	for _, rec := range r.conns {
		rec.c.draining = true
	}
	r.cfg.log.Logf(obs.Info, "evhttp: shutdown, draining %d connections", len(r.conns))
}

// abort closes every connection after a fatal poller error.
func (r *reactor) abort() {
	for _, rec := range r.conns {
		rec.c.close()
		r.remove(rec)
	}
	if r.ln != nil {
		r.ln.Close()
		r.ln = nil
	}
}

// release frees the loop's descriptors and settles messages nobody will
// consume.
func (r *reactor) release() {
	for _, m := range r.mb.close() {
		m.abandon()
	}
	r.waker.Close()
	r.poller.Close()
}

func pollInterest(i interest) poll.Interest {
	switch i {
	case interestRead:
		return poll.InterestRead
	case interestWrite:
		return poll.InterestWrite
	}
	return poll.InterestNone
}
