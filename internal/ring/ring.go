// Package ring implements a fixed-capacity FIFO buffer that evicts the
// oldest entry on overflow.
package ring

// Buffer is not safe for concurrent use.
type Buffer[T any] struct {
	items []T
	head  int // index of the oldest element
	size  int
}

// New returns a buffer holding at most capacity items. A capacity below 1 is raised to 1.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Push appends v, evicting and returning the oldest item when full.
func (b *Buffer[T]) Push(v T) (evicted T, didEvict bool) {
	if b.size < len(b.items) {
		b.items[(b.head+b.size)%len(b.items)] = v
		b.size++
		return evicted, false
	}
	evicted = b.items[b.head]
	b.items[b.head] = v
	b.head = (b.head + 1) % len(b.items)
	return evicted, true
}

// Len reports the number of stored items.
func (b *Buffer[T]) Len() int { return b.size }

// Cap reports the capacity.
func (b *Buffer[T]) Cap() int { return len(b.items) }

// Snapshot copies the items oldest first.
func (b *Buffer[T]) Snapshot() []T {
	out := make([]T, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.items[(b.head+i)%len(b.items)]
	}
	return out
}

// Update rewrites items in place; fn returns false to stop early.
func (b *Buffer[T]) Update(fn func(*T) bool) {
	for i := b.size - 1; i >= 0; i-- {
		if !fn(&b.items[(b.head+i)%len(b.items)]) {
			return
		}
	}
}

// Reset drops all items and optionally resizes the buffer.
func (b *Buffer[T]) Reset(capacity int) {
	if capacity < 1 {
		capacity = len(b.items)
	}
	b.items = make([]T, capacity)
	b.head = 0
	b.size = 0
}
