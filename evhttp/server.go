//go:build linux

package evhttp

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"dqx0.com/go/reactor/evhttp/internal/poll"
	"dqx0.com/go/reactor/internal/obs"
)

const (
	defaultReadTimeout  = 5 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultMaxBodyBytes = 1 << 20
)

// Server runs one reactor goroutine serving HTTP/1.1 on a single listener.
// Handlers answer through Request.Respond or, from anywhere, through the
// Sender.
type Server struct {
	Addr    string
	Handler Handler
	// ReadTimeout bounds the wait for a request head and for each body. Zero
	// means 5s.
	ReadTimeout time.Duration
	// WriteTimeout bounds sending one response. Zero means 5s.
	WriteTimeout time.Duration
	// Workers is the size of the handler goroutine pool. Zero runs handlers
	// inline on the reactor goroutine; they must not block.
	Workers int
	// QueueSize bounds the pool queue and the lock-free part of the
	// response mailbox.
	QueueSize int
	// MaxBodyBytes rejects larger request bodies with 413. Zero means 1 MiB;
	// negative means no limit.
	MaxBodyBytes int
	// OnMessage receives log lines; isError is set for warnings and errors.
	OnMessage func(isError bool, text string)

	mu       sync.Mutex
	r        *reactor
	d        *dispatcher
	tally    *obs.Tally
	addr     net.Addr
	done     chan struct{}
	serving  atomic.Bool
	shutting atomic.Bool
}

func (s *Server) logger() obs.Logger {
	if s.OnMessage == nil {
		return obs.NopLogger{}
	}
	return obs.FuncLogger(s.OnMessage)
}

func (s *Server) meter() *obs.Tally {
	if s.tally == nil {
		s.tally = obs.NewTally()
	}
	return s.tally
}

// Listen binds the listening socket without serving yet, so the bound
// address is known before Serve. Serve calls it if needed.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenLocked()
}

func (s *Server) listenLocked() error {
	if s.r != nil {
		return nil
	}
	if s.shutting.Load() {
		return ErrServerClosed
	}
	addr := s.Addr
	if addr == "" {
		addr = ":8080"
	}
	ln, err := poll.Listen(addr, 0)
	if err != nil {
		return err
	}
	cfg := reactorConfig{
		readTimeout:  s.ReadTimeout,
		writeTimeout: s.WriteTimeout,
		maxBody:      s.MaxBodyBytes,
		queueSize:    s.QueueSize,
		log:          s.logger(),
		meter:        s.meter(),
	}
	if cfg.readTimeout <= 0 {
		cfg.readTimeout = defaultReadTimeout
	}
	if cfg.writeTimeout <= 0 {
		cfg.writeTimeout = defaultWriteTimeout
	}
	switch {
	case cfg.maxBody == 0:
		cfg.maxBody = defaultMaxBodyBytes
	case cfg.maxBody < 0:
		cfg.maxBody = 0
	}
	r, err := newReactor(ln, cfg)
	if err != nil {
		ln.Close()
		return err
	}
	d := newDispatcher(s.Handler, s.Workers, s.QueueSize)
	d.busy = func(req *Request) {
		req.log.Logf(obs.Warn, "worker queue full, %s refused", req)
	}
	r.deliver = d.dispatch
	s.r, s.d = r, d
	s.addr = ln.Addr()
	s.done = make(chan struct{})
	return nil
}

// ListenAddr returns the bound address, or nil before Listen.
func (s *Server) ListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Serve runs the reactor on the calling goroutine. After Shutdown it
// returns ErrServerClosed once every connection has finished.
func (s *Server) Serve() error {
	s.mu.Lock()
	if err := s.listenLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if !s.serving.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return ErrServerClosed
	}
	r, d, done := s.r, s.d, s.done
	s.mu.Unlock()

	err := r.run()
	d.stop()
	close(done)
	if err != nil {
		return err
	}
	return ErrServerClosed
}

// ListenAndServe binds Addr and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Shutdown stops accepting and waits until in-flight connections finish
// and the handler pool has exited, or ctx is done. Calling it twice panics.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.shutting.CompareAndSwap(false, true) {
		panic(ErrDuplicateShutdown)
	}
	s.mu.Lock()
	r, d, done := s.r, s.d, s.done
	s.mu.Unlock()
	if r == nil {
		return nil
	}
	r.mb.post(message{kind: msgShutdown})
	if !s.serving.Load() {
		// Never served: release what Listen acquired.
		s.mu.Lock()
		if s.serving.CompareAndSwap(false, true) {
			r.ln.Close()
			r.release()
			d.stop()
			close(done)
		}
		s.mu.Unlock()
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return d.wait(ctx)
}

// Sender returns a handle for answering requests from any goroutine. It is
// valid once Listen or Serve has been called.
func (s *Server) Sender() Sender {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.r == nil {
		return Sender{}
	}
	return Sender{mb: s.r.mb}
}

// Stats returns the server's counters. Response latency, from dispatch to
// the reactor taking the answer, is reported as a count and a sum in
// microseconds.
func (s *Server) Stats() map[string]int64 {
	s.mu.Lock()
	t := s.meter()
	s.mu.Unlock()
	out := map[string]int64{
		"accepted":        0,
		"requests":        0,
		"responses":       0,
		"timeouts":        0,
		"closed":          0,
		"bad_requests":    0,
		"synthesized_500": 0,

		"response_latency_us_count": 0,
		"response_latency_us_sum":   0,
	}
	for k, v := range t.Snapshot() {
		out[k] = v
	}
	return out
}
