package http1

import (
	"cmp"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"
)

// TimeFormat is the IMF-fixdate layout used for the Date header.
const TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// AppendResponse serializes a complete HTTP/1.1 response onto dst.
// Date, Content-Length and Connection are owned by the codec; any
// user-supplied values for them, in any letter case, are ignored, as is
// Transfer-Encoding since bodies are always sent with a length.
func AppendResponse(dst []byte, status int, reason string, hdr map[string][]string, body []byte, keepAlive bool, now time.Time) []byte {
	if reason == "" {
		reason = StatusText(status)
	}
	dst = append(dst, "HTTP/1.1 "...)
	dst = strconv.AppendInt(dst, int64(status), 10)
	dst = append(dst, ' ')
	dst = append(dst, reason...)
	dst = append(dst, "\r\n"...)

	dst = appendField(dst, "Date", now.UTC().Format(TimeFormat))
	keys := slices.Collect(maps.Keys(hdr))
	slices.SortFunc(keys, func(a, b string) int {
		return cmp.Or(strings.Compare(CanonicalHeaderKey(a), CanonicalHeaderKey(b)), strings.Compare(a, b))
	})
	for _, raw := range keys {
		k := CanonicalHeaderKey(raw)
		switch k {
		case "Date", "Content-Length", "Connection", "Transfer-Encoding":
			continue
		}
		if SanitizeHeaderKey(k) == "" {
			continue
		}
		for _, v := range hdr[raw] {
			dst = appendField(dst, k, SanitizeHeaderValue(v))
		}
	}
	dst = appendField(dst, "Content-Length", strconv.Itoa(len(body)))
	if keepAlive {
		dst = appendField(dst, "Connection", "keep-alive")
	} else {
		dst = appendField(dst, "Connection", "close")
	}
	dst = append(dst, "\r\n"...)
	return append(dst, body...)
}

func appendField(dst []byte, k, v string) []byte {
	dst = append(dst, k...)
	dst = append(dst, ": "...)
	dst = append(dst, v...)
	return append(dst, "\r\n"...)
}

// StatusText returns the reason phrase for a status code, or "" if unknown.
func StatusText(code int) string {
	switch code {
	case 100:
		return "Continue"
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 202:
		return "Accepted"
	case 204:
		return "No Content"
	case 301:
		return "Moved Permanently"
	case 302:
		return "Found"
	case 304:
		return "Not Modified"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 408:
		return "Request Timeout"
	case 411:
		return "Length Required"
	case 413:
		return "Content Too Large"
	case 431:
		return "Request Header Fields Too Large"
	case 500:
		return "Internal Server Error"
	case 501:
		return "Not Implemented"
	case 503:
		return "Service Unavailable"
	default:
		return ""
	}
}
