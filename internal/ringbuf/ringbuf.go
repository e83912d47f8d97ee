// Package ringbuf provides a fixed-capacity ring buffer that overwrites its
// oldest element when full. It is not safe for concurrent use; the owner
// (e.g. the tick aggregator) serialises access.
package ringbuf

// Ring is a bounded FIFO of T. Capacity is exact, not rounded.
type Ring[T any] struct {
	buf   []T
	head  int // index of the oldest element
	count int

	evicted uint64
}

// New creates a ring holding at most capacity items. Minimum capacity is 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v. When the ring is full the oldest element is dropped and
// Push returns true.
func (r *Ring[T]) Push(v T) (evicted bool) {
	if r.count == len(r.buf) {
		r.buf[r.head] = v
		r.head = (r.head + 1) % len(r.buf)
		r.evicted++
		return true
	}
	r.buf[(r.head+r.count)%len(r.buf)] = v
	r.count++
	return false
}

// Pop removes and returns the oldest element.
func (r *Ring[T]) Pop() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	v := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	return v, true
}

// Drain calls fn for every element oldest-first and leaves the ring empty.
func (r *Ring[T]) Drain(fn func(T)) {
	for r.count > 0 {
		v, _ := r.Pop()
		fn(v)
	}
	r.head = 0
}

// Each calls fn for every element oldest-first without removing them.
func (r *Ring[T]) Each(fn func(T)) {
	for i := 0; i < r.count; i++ {
		fn(r.buf[(r.head+i)%len(r.buf)])
	}
}

// Reset empties the ring without visiting its elements.
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head, r.count = 0, 0
}

// Len returns the current number of items in the buffer.
func (r *Ring[T]) Len() int { return r.count }

// Cap returns the buffer capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Evicted returns the total number of elements overwritten because the
// buffer was full.
func (r *Ring[T]) Evicted() uint64 { return r.evicted }
