package evhttp

import "strconv"

// ConnID identifies one accepted connection for its whole lifetime.
type ConnID uint64

func (id ConnID) String() string { return strconv.FormatUint(uint64(id), 10) }

// idGen issues monotonically increasing ConnIDs, starting at 1. It is
// owned by the reactor goroutine.
type idGen struct {
	last ConnID
}

func (g *idGen) next() ConnID {
	g.last++
	return g.last
}
