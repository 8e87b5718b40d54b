package state

// Ring is a bounded, order-preserving buffer. Pushing into a full ring
// evicts the oldest item.
type Ring[T any] struct {
	items []T
	start int
	n     int
}

// NewRing creates a ring holding at most capacity items (minimum 1).
func NewRing[T any](capacity int) *Ring[T] {
	return &Ring[T]{items: make([]T, max(capacity, 1))}
}

// Push appends v. If the ring was full, the evicted item is returned.
func (r *Ring[T]) Push(v T) (evicted T, ok bool) {
	if r.n < len(r.items) {
		r.items[(r.start+r.n)%len(r.items)] = v
		r.n++
		return evicted, false
	}
	evicted = r.items[r.start]
	r.items[r.start] = v
	r.start = (r.start + 1) % len(r.items)
	return evicted, true
}

// Len returns the number of stored items.
func (r *Ring[T]) Len() int { return r.n }

// Cap returns the maximum number of stored items.
func (r *Ring[T]) Cap() int { return len(r.items) }

// Items returns a copy of the stored items, oldest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, r.n)
	for i := range out {
		out[i] = r.items[(r.start+i)%len(r.items)]
	}
	return out
}

// Last returns the newest item.
func (r *Ring[T]) Last() (T, bool) {
	var zero T
	if r.n == 0 {
		return zero, false
	}
	return r.items[(r.start+r.n-1)%len(r.items)], true
}

// Reset empties the ring.
func (r *Ring[T]) Reset() {
	clear(r.items)
	r.start, r.n = 0, 0
}
