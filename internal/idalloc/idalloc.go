package idalloc

import "sync/atomic"

// Allocator hands out challenge ids. Zero is reserved as "unset" and is never returned.
type Allocator struct {
	n atomic.Uint64
}

// New returns an Allocator whose first id is start+1 (or 1 if that wraps to zero).
func New(start uint64) *Allocator {
	a := &Allocator{}
	a.n.Store(start)
	return a
}

// Next returns the next id. Safe for concurrent use.
func (a *Allocator) Next() uint64 {
	for {
		if id := a.n.Add(1); id != 0 {
			return id
		}
	}
}
