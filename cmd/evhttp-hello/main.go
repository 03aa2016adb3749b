//go:build linux

// evhttp-hello serves a greeting, or the files under --dir, from a single
// evhttp reactor.
//
// Run: ./evhttp-hello [--port 8082] [--dir ./www] [--workers 4]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"dqx0.com/go/reactor/evhttp"
	"dqx0.com/go/reactor/internal/obs"
)

func main() {
	port := flag.Int("port", 8082, "Listen port")
	dir := flag.String("dir", "", "Directory to serve (default: hello world mode)")
	workers := flag.Int("workers", 0, "Handler goroutines (0 runs handlers on the reactor; file mode defaults to 4)")
	readTimeout := flag.Duration("read-timeout", 5*time.Second, "Request read timeout")
	writeTimeout := flag.Duration("write-timeout", 5*time.Second, "Response write timeout")
	maxBody := flag.Int("max-body", 0, "Largest accepted request body in bytes (0 means 1 MiB, negative unlimited)")
	verbose := flag.Bool("v", false, "Log every connection event")
	flag.Parse()

	// Environment overrides CLI defaults.
	if v := os.Getenv("EVHTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			*port = p
		}
	}
	if v := os.Getenv("EVHTTP_DIR"); v != "" {
		*dir = v
	}

	minLevel := obs.Info
	if *verbose {
		minLevel = obs.Debug
	}
	logger := obs.StdLogger{L: log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds), Min: minLevel}

	s := &evhttp.Server{
		Addr:         fmt.Sprintf("0.0.0.0:%d", *port),
		ReadTimeout:  *readTimeout,
		WriteTimeout: *writeTimeout,
		Workers:      *workers,
		MaxBodyBytes: *maxBody,
		OnMessage: func(isError bool, text string) {
			level := obs.Debug
			if isError {
				level = obs.Error
			}
			logger.Logf(level, "%s", text)
		},
	}
	mode := "hello"
	if *dir != "" {
		mode = fmt.Sprintf("file(%s)", *dir)
		s.Handler = files(*dir)
		if s.Workers == 0 {
			s.Workers = 4
		}
	} else {
		s.Handler = evhttp.HandlerFunc(func(r *evhttp.Request) {
			r.Respond(evhttp.NewTextResponse(evhttp.StatusOK, "Hello from evhttp!\n"))
		})
	}

	if err := s.Listen(); err != nil {
		logger.Logf(obs.Error, "evhttp-hello: %v", err)
		os.Exit(1)
	}
	logger.Logf(obs.Info, "evhttp-hello: listening on http://%s/ mode=%s workers=%d", s.ListenAddr(), mode, s.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		logger.Logf(obs.Info, "evhttp-hello: shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 2*(*readTimeout))
		defer cancel()
		if err := s.Shutdown(sctx); err != nil {
			logger.Logf(obs.Error, "evhttp-hello: shutdown: %v", err)
		}
	}()
	go stats(ctx, s, logger)

	if err := s.Serve(); !errors.Is(err, evhttp.ErrServerClosed) {
		logger.Logf(obs.Error, "evhttp-hello: %v", err)
		os.Exit(1)
	}
}

func stats(ctx context.Context, s *evhttp.Server, logger obs.Logger) {
	start := time.Now()
	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		st := s.Stats()
		elapsed := time.Since(start).Seconds()
		var latency int64
		if n := st["response_latency_us_count"]; n > 0 {
			latency = st["response_latency_us_sum"] / n
		}
		logger.Logf(obs.Info, "[%.1fs] conn=%d req=%d resp=%d rps=%.0f avg=%dus timeouts=%d bad=%d 500=%d",
			elapsed, st["accepted"], st["requests"], st["responses"],
			float64(st["responses"])/elapsed, latency, st["timeouts"], st["bad_requests"], st["synthesized_500"])
	}
}

// files serves GET requests from root. Paths without an extension are
// served as HTML; a directory serves its index.html.
func files(root string) evhttp.Handler {
	return evhttp.HandlerFunc(func(r *evhttp.Request) {
		if r.Method != "GET" {
			r.Respond(evhttp.NewTextResponse(evhttp.StatusMethodNotAllowed, "405 Method Not Allowed\n"))
			return
		}
		p := r.Path
		if i := strings.IndexAny(p, "?#"); i >= 0 {
			p = p[:i]
		}
		p = path.Clean("/" + p)
		name := filepath.Join(root, filepath.FromSlash(p))
		if fi, err := os.Stat(name); err == nil && fi.IsDir() {
			name = filepath.Join(name, "index.html")
		}
		body, err := os.ReadFile(name)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			r.Respond(evhttp.NewResponse(evhttp.StatusNotFound, evhttp.TextHTML, []byte("404 Not Found")))
		case errors.Is(err, fs.ErrPermission):
			r.Respond(evhttp.NewResponse(evhttp.StatusForbidden, evhttp.TextHTML, []byte("403 Forbidden")))
		case err != nil:
			r.Respond(evhttp.Respond500())
		default:
			r.Respond(evhttp.NewResponse(evhttp.StatusOK, evhttp.MediaTypeFromPath(name), body))
		}
	})
}
