package http1

import "errors"

// ErrIncomplete means the head is not terminated yet; more bytes are needed.
var ErrIncomplete = errors.New("http1: incomplete request head")

var (
	ErrHeaderTooLarge  = errors.New("http1: request head too large")
	ErrBadRequestLine  = errors.New("http1: malformed request line")
	ErrBadVersion      = errors.New("http1: unsupported protocol version")
	ErrBadHeader       = errors.New("http1: malformed header line")
	ErrBadHeaderValue  = errors.New("http1: header value is not valid text")
	ErrDuplicateHeader = errors.New("http1: duplicate header")
	ErrTooManyHeaders  = errors.New("http1: too many headers")
)

var (
	ErrBadContentLength            = errors.New("http1: invalid Content-Length")
	ErrMissingContentLength        = errors.New("http1: body-bearing request without Content-Length")
	ErrInconsistentContentLength   = errors.New("http1: Content-Length smaller than received body")
	ErrUnsupportedTransferEncoding = errors.New("http1: Transfer-Encoding is not supported")
)
