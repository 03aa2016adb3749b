package evhttp

import (
	"time"

	"dqx0.com/go/reactor/evhttp/internal/http1"
)

// Response is an application answer to a Request. It is serialized once,
// on the reactor goroutine, when it reaches its connection.
type Response struct {
	Code   Code
	Header Header
	Body   []byte
}

// NewResponse builds a response with a Content-Type header.
func NewResponse(code Code, typ MediaType, body []byte) *Response {
	return &Response{
		Code:   code,
		Header: Header{"Content-Type": {typ.String()}},
		Body:   body,
	}
}

// NewTextResponse builds a text/plain response.
func NewTextResponse(code Code, body string) *Response {
	return NewResponse(code, TextPlain, []byte(body))
}

// Respond400 is the answer sent for requests that cannot be parsed.
func Respond400() *Response {
	return NewResponse(StatusBadRequest, TextHTML, []byte("400 Bad Request"))
}

// Respond500 is the answer sent on behalf of requests that were never answered.
func Respond500() *Response {
	return NewResponse(StatusInternalServerError, TextHTML, []byte("500 Internal Server Error"))
}

// ForcedClose reports whether the connection is closed after this response
// regardless of the client's keep-alive preference.
func (r *Response) ForcedClose() bool {
	return r.Code == StatusBadRequest || r.Code == StatusInternalServerError
}

func (r *Response) appendTo(dst []byte, keepAlive bool, now time.Time) []byte {
	return http1.AppendResponse(dst, int(r.Code), "", r.Header, r.Body, keepAlive, now)
}
