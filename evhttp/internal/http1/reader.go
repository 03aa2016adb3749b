package http1

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MaxHeaders bounds the number of header lines in one request head.
const MaxHeaders = 100

// Head is a request line plus header block parsed from the wire.
type Head struct {
	Method     string
	RequestURI string
	Proto      string
	Minor      int
	// Header keys are canonical; every key carries exactly one value.
	Header map[string][]string
	// Size is the number of bytes the head occupied, terminator included.
	Size int
}

// Parse parses a request head from the start of buf. It returns
// ErrIncomplete when buf does not yet hold the blank line ending the head.
// Parse keeps no state between calls; callers re-run it over the grown
// buffer after every read.
func Parse(buf []byte) (*Head, error) {
	line, rest, ok := cutLine(buf)
	if !ok {
		if err := checkRequestLinePrefix(buf); err != nil {
			return nil, err
		}
		return nil, ErrIncomplete
	}
	h := &Head{}
	if err := h.parseRequestLine(line); err != nil {
		return nil, err
	}
	h.Header = make(map[string][]string)
	for {
		line, rest, ok = cutLine(rest)
		if !ok {
			return nil, ErrIncomplete
		}
		if len(line) == 0 {
			break
		}
		if err := h.addHeaderLine(line); err != nil {
			return nil, err
		}
	}
	h.Size = len(buf) - len(rest)
	return h, nil
}

func (h *Head) parseRequestLine(line []byte) error {
	parts := strings.SplitN(string(line), " ", 3)
	if len(parts) != 3 {
		return ErrBadRequestLine
	}
	method, uri, proto := parts[0], parts[1], parts[2]
	if !isToken(method) {
		return fmt.Errorf("%w: method %q", ErrBadRequestLine, method)
	}
	if uri == "" || !validTarget(uri) {
		return fmt.Errorf("%w: target %q", ErrBadRequestLine, uri)
	}
	if len(proto) != len("HTTP/1.1") || !strings.HasPrefix(proto, "HTTP/1.") {
		return fmt.Errorf("%w: %q", ErrBadVersion, proto)
	}
	minor := proto[len(proto)-1]
	if minor != '0' && minor != '1' {
		return fmt.Errorf("%w: %q", ErrBadVersion, proto)
	}
	h.Method, h.RequestURI, h.Proto = method, uri, proto
	h.Minor = int(minor - '0')
	return nil
}

func (h *Head) addHeaderLine(line []byte) error {
	if line[0] == ' ' || line[0] == '\t' {
		// obs-fold
		return fmt.Errorf("%w: folded line", ErrBadHeader)
	}
	i := bytes.IndexByte(line, ':')
	if i <= 0 {
		return ErrBadHeader
	}
	k := string(line[:i])
	if SanitizeHeaderKey(k) == "" {
		return fmt.Errorf("%w: name %q", ErrBadHeader, k)
	}
	v := strings.Trim(string(line[i+1:]), " \t")
	if !validValue(v) {
		return fmt.Errorf("%w: %s", ErrBadHeaderValue, k)
	}
	if len(h.Header) == MaxHeaders {
		return ErrTooManyHeaders
	}
	hk := canonicalHeaderKey(k)
	if _, dup := h.Header[hk]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateHeader, hk)
	}
	h.Header[hk] = []string{v}
	return nil
}

// Get returns the value of header k, case-insensitively.
func (h *Head) Get(k string) string {
	return getHeader(h.Header, k)
}

// KeepAlive reports whether the client asked to reuse the connection.
// HTTP/1.1 defaults to persistent connections; HTTP/1.0 must opt in.
func (h *Head) KeepAlive() bool {
	conn := strings.ToLower(strings.TrimSpace(h.Get("Connection")))
	if h.Minor >= 1 {
		return conn != "close"
	}
	return conn == "keep-alive"
}

// HasBody reports whether the method carries a request body.
func (h *Head) HasBody() bool {
	switch h.Method {
	case "POST", "PUT", "PATCH":
		return true
	}
	return false
}

// Framing validates the body framing of a body-bearing request given the
// number of body bytes already received past the head, and returns the
// declared body length.
func (h *Head) Framing(buffered int) (int, error) {
	if h.Get("Transfer-Encoding") != "" {
		return 0, ErrUnsupportedTransferEncoding
	}
	v, ok := h.Header[canonicalHeaderKey("Content-Length")]
	if !ok {
		return 0, ErrMissingContentLength
	}
	n, err := parseContentLength(v[0])
	if err != nil {
		return 0, err
	}
	if n < buffered {
		return 0, fmt.Errorf("%w: declared %d, received %d", ErrInconsistentContentLength, n, buffered)
	}
	return n, nil
}

func parseContentLength(v string) (int, error) {
	// "5, 5" is tolerated, "5, 6" is not.
	first := -1
	for _, part := range strings.Split(v, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: %q", ErrBadContentLength, v)
		}
		if first >= 0 && n != first {
			return 0, fmt.Errorf("%w: %q", ErrBadContentLength, v)
		}
		first = n
	}
	return first, nil
}

// cutLine splits off one line ending in LF (CRLF or bare LF).
func cutLine(b []byte) (line, rest []byte, ok bool) {
	i := bytes.IndexByte(b, '\n')
	if i < 0 {
		return nil, b, false
	}
	line = b[:i]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line, b[i+1:], true
}

// checkRequestLinePrefix rejects garbage before the first line is complete,
// so a client streaming junk is answered without waiting for the buffer to fill.
func checkRequestLinePrefix(b []byte) error {
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		i = len(b)
	}
	for _, c := range b[:i] {
		if !isTokenByte(c) {
			return fmt.Errorf("%w: method", ErrBadRequestLine)
		}
	}
	return nil
}

func isToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isTokenByte(s[i]) {
			return false
		}
	}
	return true
}

func isTokenByte(c byte) bool {
	return SanitizeHeaderKey(string(c)) != ""
}

func validTarget(s string) bool {
	for i := 0; i < len(s); i++ {
		if c := s[i]; c <= ' ' || c == 0x7f {
			return false
		}
	}
	return true
}

func validValue(v string) bool {
	if !utf8.ValidString(v) {
		return false
	}
	for i := 0; i < len(v); i++ {
		c := v[i]
		if (c < 0x20 && c != '\t') || c == 0x7f {
			return false
		}
	}
	return true
}

func getHeader(h map[string][]string, k string) string {
	hk := canonicalHeaderKey(k)
	if vv, ok := h[hk]; ok && len(vv) > 0 {
		return vv[0]
	}
	return ""
}

// Very small canonicalizer to avoid importing textproto here.
func canonicalHeaderKey(s string) string {
	b := []byte(strings.ToLower(s))
	upper := true
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			if upper {
				b[i] = byte(c - 'a' + 'A')
			}
			upper = false
			continue
		}
		upper = c == '-'
	}
	return string(b)
}
