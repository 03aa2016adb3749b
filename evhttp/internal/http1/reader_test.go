package http1

import (
	"errors"
	"strings"
	"testing"
)

func parse(t *testing.T, raw string) (*Head, error) {
	t.Helper()
	return Parse([]byte(raw))
}

func TestParse_Complete(t *testing.T) {
	raw := "GET /index.html HTTP/1.1\r\nHost: x\r\nconnection: keep-alive\r\n\r\n"
	h, err := parse(t, raw)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if h.Method != "GET" || h.RequestURI != "/index.html" || h.Proto != "HTTP/1.1" || h.Minor != 1 {
		t.Fatalf("head=%+v", h)
	}
	if h.Size != len(raw) {
		t.Fatalf("Size=%d, want %d", h.Size, len(raw))
	}
	if got := h.Get("CONNECTION"); got != "keep-alive" {
		t.Fatalf("Connection=%q", got)
	}
	if !h.KeepAlive() {
		t.Fatal("expected keep-alive")
	}
}

func TestParse_SizeExcludesBody(t *testing.T) {
	head := "POST /up HTTP/1.1\r\nContent-Length: 10\r\n\r\n"
	h, err := parse(t, head+"abcd")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if h.Size != len(head) {
		t.Fatalf("Size=%d, want %d", h.Size, len(head))
	}
}

func TestParse_BareLF(t *testing.T) {
	h, err := parse(t, "GET / HTTP/1.0\nHost: x\n\n")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if h.Minor != 0 || h.KeepAlive() {
		t.Fatalf("HTTP/1.0 without keep-alive header: minor=%d keepAlive=%v", h.Minor, h.KeepAlive())
	}
}

func TestParse_Incomplete(t *testing.T) {
	for _, raw := range []string{
		"",
		"GE",
		"GET / HTTP/1.1\r\n",
		"GET / HTTP/1.1\r\nHost: x\r\n",
		"GET / HTTP/1.1\r\nHost: x\r\n\r",
	} {
		if _, err := parse(t, raw); !errors.Is(err, ErrIncomplete) {
			t.Fatalf("%q: err=%v, want ErrIncomplete", raw, err)
		}
	}
}

func TestParse_Malformed(t *testing.T) {
	cases := []struct {
		raw  string
		want error
	}{
		{"G(T / HTTP/1.1\r\n\r\n", ErrBadRequestLine},
		{"G{T", ErrBadRequestLine},
		{"GET /\r\n\r\n", ErrBadRequestLine},
		{"GET / HTTP/2.0\r\n\r\n", ErrBadVersion},
		{"GET / HTTP/1.7\r\n\r\n", ErrBadVersion},
		{"GET / HTTP/1.1\r\nBad( : v\r\n\r\n", ErrBadHeader},
		{"GET / HTTP/1.1\r\nNoColon\r\n\r\n", ErrBadHeader},
		{"GET / HTTP/1.1\r\nA: b\r\n folded\r\n\r\n", ErrBadHeader},
		{"GET / HTTP/1.1\r\nA: \xff\xfe\r\n\r\n", ErrBadHeaderValue},
		{"GET / HTTP/1.1\r\nA: b\x01\r\n\r\n", ErrBadHeaderValue},
		{"GET / HTTP/1.1\r\nX-Id: 1\r\nx-id: 2\r\n\r\n", ErrDuplicateHeader},
	}
	for _, c := range cases {
		if _, err := parse(t, c.raw); !errors.Is(err, c.want) {
			t.Fatalf("%q: err=%v, want %v", c.raw, err, c.want)
		}
	}
}

func TestParse_TooManyHeaders(t *testing.T) {
	var b strings.Builder
	b.WriteString("GET / HTTP/1.1\r\n")
	for i := 0; i <= MaxHeaders; i++ {
		b.WriteString("X-H")
		b.WriteString(strings.Repeat("a", i+1))
		b.WriteString(": v\r\n")
	}
	b.WriteString("\r\n")
	if _, err := parse(t, b.String()); !errors.Is(err, ErrTooManyHeaders) {
		t.Fatalf("err=%v", err)
	}
}

func TestHead_Framing(t *testing.T) {
	h, _ := parse(t, "POST / HTTP/1.1\r\nContent-Length: 10\r\n\r\n")
	n, err := h.Framing(4)
	if err != nil || n != 10 {
		t.Fatalf("Framing=%d,%v", n, err)
	}

	h, _ = parse(t, "POST / HTTP/1.1\r\nContent-Length: 3\r\n\r\n")
	if _, err := h.Framing(5); !errors.Is(err, ErrInconsistentContentLength) {
		t.Fatalf("err=%v", err)
	}

	h, _ = parse(t, "POST / HTTP/1.1\r\nHost: x\r\n\r\n")
	if _, err := h.Framing(0); !errors.Is(err, ErrMissingContentLength) {
		t.Fatalf("err=%v", err)
	}

	h, _ = parse(t, "POST / HTTP/1.1\r\nContent-Length: 5, 6\r\n\r\n")
	if _, err := h.Framing(0); !errors.Is(err, ErrBadContentLength) {
		t.Fatalf("err=%v", err)
	}

	h, _ = parse(t, "POST / HTTP/1.1\r\nContent-Length: 5, 5\r\n\r\n")
	if n, err := h.Framing(0); err != nil || n != 5 {
		t.Fatalf("Framing=%d,%v", n, err)
	}

	h, _ = parse(t, "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\nContent-Length: 5\r\n\r\n")
	if _, err := h.Framing(0); !errors.Is(err, ErrUnsupportedTransferEncoding) {
		t.Fatalf("err=%v", err)
	}
}

func TestHead_HasBody(t *testing.T) {
	for m, want := range map[string]bool{"GET": false, "HEAD": false, "POST": true, "PUT": true, "PATCH": true, "DELETE": false} {
		h := &Head{Method: m}
		if h.HasBody() != want {
			t.Fatalf("%s: HasBody=%v", m, !want)
		}
	}
}
