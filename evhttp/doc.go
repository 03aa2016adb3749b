// Package evhttp is a single-goroutine, readiness-driven HTTP/1.1 server
// core for Linux. One reactor goroutine owns the listening socket, every
// connection and every timeout; the application answers from any goroutine
// through a message channel.
//
// Highlights
//   - epoll in edge-triggered one-shot mode, eventfd wakeups, no goroutine
//     per connection.
//   - Keep-alive per HTTP/1.0 and HTTP/1.1 rules, Content-Length framed
//     bodies for POST, PUT and PATCH, 400 for anything it cannot parse.
//   - Every request gets exactly one response: an unanswered request is
//     answered 500 when its handler (or body callback) returns, or when a
//     detached request is collected.
//   - Read, write and body timeouts; graceful drain on Shutdown.
//
// Quick start:
//
//	s := &evhttp.Server{Addr: ":8080"}
//	s.Handler = evhttp.HandlerFunc(func(r *evhttp.Request) {
//	    r.Respond(evhttp.NewTextResponse(evhttp.StatusOK, "hello"))
//	})
//	if err := s.ListenAndServe(); err != evhttp.ErrServerClosed { log.Fatal(err) }
//
// A handler that keeps the request and answers from another goroutine
// calls r.Detach() first, then r.Respond when ready. Reading the body:
//
//	sender := s.Sender()
//	s.Handler = evhttp.HandlerFunc(func(r *evhttp.Request) {
//	    r.ReadBody(func(r *evhttp.Request, body []byte, ok bool) {
//	        if !ok {
//	            r.Respond(evhttp.Respond400())
//	            return
//	        }
//	        r.Respond(evhttp.NewResponse(evhttp.StatusOK, evhttp.ApplicationJSON, body))
//	    })
//	})
//	...
//	sender.Send(id, evhttp.NewTextResponse(evhttp.StatusOK, "done"))
package evhttp
