package evhttp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// maxTraceState is the W3C limit on tracestate list members.
const maxTraceState = 32

// Trace is the W3C trace context of a request. A request that arrives with
// a valid traceparent continues that trace; otherwise a new trace starts.
// SpanID always identifies the server's own span.
type Trace struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	Flags        string
	// State is the normalized tracestate carried by the request.
	State string
}

// Traceparent renders t as a traceparent header value.
func (t Trace) Traceparent() string {
	flags := t.Flags
	if flags == "" {
		flags = "01"
	}
	return "00-" + t.TraceID + "-" + t.SpanID + "-" + flags
}

type traceKey struct{}

// WithTrace stores trace context in ctx.
func WithTrace(ctx context.Context, tr Trace) context.Context {
	return context.WithValue(ctx, traceKey{}, tr)
}

// TraceFrom extracts trace context from ctx.
func TraceFrom(ctx context.Context) (Trace, bool) {
	tr, ok := ctx.Value(traceKey{}).(Trace)
	return tr, ok
}

// traceFromHeader continues the trace named by the request headers, or
// starts a new one.
func traceFromHeader(h Header) Trace {
	tr := Trace{SpanID: randomHex(8)}
	if tid, sid, flags, ok := parseTraceparent(h.Get("Traceparent")); ok {
		tr.TraceID, tr.ParentSpanID, tr.Flags = tid, sid, flags
		tr.State = normalizeTraceState(h.Get("Tracestate"))
		return tr
	}
	tr.TraceID = randomHex(16)
	tr.Flags = "01"
	return tr
}

// parseTraceparent extracts trace-id, span-id and flags; ok is false for
// malformed or all-zero ids.
func parseTraceparent(v string) (traceID, spanID, flags string, ok bool) {
	parts := strings.Split(strings.TrimSpace(v), "-")
	if len(parts) < 4 {
		return "", "", "", false
	}
	ver, tid, sid, fl := parts[0], parts[1], parts[2], parts[3]
	if len(ver) != 2 || len(tid) != 32 || len(sid) != 16 || len(fl) != 2 {
		return "", "", "", false
	}
	if ver == "ff" || !isHex(ver) || !isHex(tid) || !isHex(sid) || !isHex(fl) {
		return "", "", "", false
	}
	tid, sid = strings.ToLower(tid), strings.ToLower(sid)
	if strings.Trim(tid, "0") == "" || strings.Trim(sid, "0") == "" {
		return "", "", "", false
	}
	return tid, sid, strings.ToLower(fl), true
}

// normalizeTraceState drops invalid and duplicate members, keeping the
// first occurrence, and caps the list.
func normalizeTraceState(v string) string {
	var b strings.Builder
	seen := make(map[string]bool)
	for _, part := range strings.Split(v, ",") {
		if len(seen) == maxTraceState {
			break
		}
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		val = strings.TrimSpace(val)
		if !validTraceStateKey(k) || !validTraceStateValue(val) || seen[k] {
			continue
		}
		seen[k] = true
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(val)
	}
	return b.String()
}

// key or key@tenant, lower-case a-z0-9 and _-*./
func validTraceStateKey(k string) bool {
	tenant, vendor, multi := strings.Cut(k, "@")
	if multi && (vendor == "" || strings.Contains(vendor, "@")) {
		return false
	}
	for _, p := range []string{tenant, vendor} {
		for i := 0; i < len(p); i++ {
			c := p[i]
			if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || strings.IndexByte("_-*/.", c) >= 0 {
				continue
			}
			return false
		}
	}
	return tenant != ""
}

func validTraceStateValue(v string) bool {
	if v == "" {
		return false
	}
	for i := 0; i < len(v); i++ {
		if c := v[i]; c < 0x20 || c == 0x7f || c == ',' || c == '=' {
			return false
		}
	}
	return true
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
			continue
		}
		return false
	}
	return true
}

// randomHex returns n random bytes hex-encoded, never all zeros.
func randomHex(n int) string {
	b := make([]byte, n)
	for {
		if _, err := rand.Read(b); err != nil {
			continue
		}
		for _, c := range b {
			if c != 0 {
				return hex.EncodeToString(b)
			}
		}
	}
}
