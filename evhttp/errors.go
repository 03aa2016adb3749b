package evhttp

import "errors"

var (
	ErrAlreadyResponded  = errors.New("evhttp: request already answered")
	ErrNilResponse       = errors.New("evhttp: nil response")
	ErrNoBody            = errors.New("evhttp: request has no body")
	ErrBodyRequested     = errors.New("evhttp: body already requested")
	ErrInlineBody        = errors.New("evhttp: Body called from an inline handler; use ReadBody")
	ErrBodyTimeout       = errors.New("evhttp: request body incomplete")
	ErrServerClosed      = errors.New("evhttp: server closed")
	ErrDuplicateShutdown = errors.New("evhttp: duplicate shutdown")
)
