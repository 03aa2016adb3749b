package evhttp

import "dqx0.com/go/reactor/evhttp/internal/http1"

// Header maps canonical header names to values. Lookups are
// case-insensitive. Parsed request headers carry exactly one value per key.
type Header map[string][]string

func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	if vv, ok := h[http1.CanonicalHeaderKey(key)]; ok && len(vv) > 0 {
		return vv[0]
	}
	return ""
}

func (h Header) Has(key string) bool {
	_, ok := h[http1.CanonicalHeaderKey(key)]
	return ok
}

func (h Header) Set(key, value string) {
	if h == nil {
		return
	}
	h[http1.CanonicalHeaderKey(key)] = []string{value}
}

func (h Header) Add(key, value string) {
	if h == nil {
		return
	}
	k := http1.CanonicalHeaderKey(key)
	h[k] = append(h[k], value)
}

func (h Header) Del(key string) {
	if h == nil {
		return
	}
	delete(h, http1.CanonicalHeaderKey(key))
}
