// Package queue provides the bounded non-blocking queues that connect execution contexts
package queue

// Ring is a fixed-capacity FIFO with try-insert / try-remove semantics.
// Any number of goroutines may push concurrently; pops are expected from a
// single consumer, which keeps Len snapshots meaningful for batch draining.
type Ring[T any] struct {
	slots chan T
}

// New creates a ring holding at most capacity elements
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{slots: make(chan T, capacity)}
}

// TryPush inserts v if there is room. It never blocks and
// returns false when the ring is full.
func (r *Ring[T]) TryPush(v T) bool {
	select {
	case r.slots <- v:
		return true
	default:
		return false
	}
}

// TryPop removes the oldest element. ok is false when the ring is empty.
func (r *Ring[T]) TryPop() (v T, ok bool) {
	select {
	case v = <-r.slots:
		return v, true
	default:
		return v, false
	}
}

// Len returns the number of queued elements
func (r *Ring[T]) Len() int {
	return len(r.slots)
}

// Cap returns the ring capacity
func (r *Ring[T]) Cap() int {
	return cap(r.slots)
}

// Drain pops at most max elements that are queued right now and passes each
// to fn, stopping early if fn returns false. A negative max drains the
// snapshot taken on entry. It returns the number of elements handed to fn.
func (r *Ring[T]) Drain(max int, fn func(T) bool) int {
	n := len(r.slots)
	if max >= 0 && max < n {
		n = max
	}
	for i := 0; i < n; i++ {
		v, ok := r.TryPop()
		if !ok {
			return i
		}
		if !fn(v) {
			return i + 1
		}
	}
	return n
}
