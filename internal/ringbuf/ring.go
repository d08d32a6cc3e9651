// Package ringbuf provides a fixed-capacity FIFO that overwrites its oldest
// element once full.
package ringbuf

// Ring is not safe for concurrent use; callers hold their own lock.
type Ring[T any] struct {
	buf   []T
	start int
	size  int
}

// New creates a ring holding at most capacity elements (minimum 1).
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest element when the ring is full.
func (r *Ring[T]) Push(v T) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = v
		r.size++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

func (r *Ring[T]) Len() int { return r.size }
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Last returns up to n most recent elements, oldest first, in a new slice.
// n < 0 returns everything.
func (r *Ring[T]) Last(n int) []T {
	if n < 0 || n > r.size {
		n = r.size
	}
	out := make([]T, n)
	offset := r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.start+offset+i)%len(r.buf)]
	}
	return out
}

// Clear drops every element and releases references to them.
func (r *Ring[T]) Clear() {
	clear(r.buf)
	r.start = 0
	r.size = 0
}
