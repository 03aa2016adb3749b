package evhttp

import (
	"context"
	"sync"
)

// Handler answers requests. A handler must eventually call Respond, either
// itself or from the body callback it registered with ReadBody; requests it
// leaves unanswered are answered 500.
type Handler interface {
	ServeRequest(*Request)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(*Request)

func (f HandlerFunc) ServeRequest(r *Request) {
	f(r)
}

// NotFoundHandler answers every request 404.
var NotFoundHandler Handler = HandlerFunc(func(r *Request) {
	r.Respond(NewResponse(StatusNotFound, TextHTML, []byte("404 Not Found")))
})

// dispatcher runs the handler for each delivered request, either inline on
// the reactor goroutine or on a fixed pool of workers.
type dispatcher struct {
	h    Handler
	jobs chan *Request
	wg   sync.WaitGroup
	once sync.Once
	// busy is called for requests refused because the pool queue is full.
	busy func(*Request)
}

func newDispatcher(h Handler, workers, queue int) *dispatcher {
	if h == nil {
		h = NotFoundHandler
	}
	d := &dispatcher{h: h}
	if workers <= 0 {
		return d
	}
	if queue <= 0 {
		queue = workers * 64
	}
	d.jobs = make(chan *Request, queue)
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.work()
	}
	return d
}

func (d *dispatcher) dispatch(r *Request) {
	if d.jobs == nil {
		r.inline = true
		d.serve(r)
		return
	}
	select {
	case d.jobs <- r:
	default:
		if d.busy != nil {
			d.busy(r)
		}
		r.Respond(NewResponse(StatusServiceUnavailable, TextHTML, []byte("503 Service Unavailable")))
	}
}

func (d *dispatcher) serve(r *Request) {
	r.guard(true, func() { d.h.ServeRequest(r) })
}

func (d *dispatcher) work() {
	defer d.wg.Done()
	for r := range d.jobs {
		d.serve(r)
	}
}

// stop lets the workers finish what is queued and exit.
func (d *dispatcher) stop() {
	d.once.Do(func() {
		if d.jobs != nil {
			close(d.jobs)
		}
	})
}

// wait blocks until every worker has exited or ctx is done.
func (d *dispatcher) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
