package buffer

import "sync"

// RingBuffer is a thread-safe fixed-capacity ring. When the ring is full,
// Add overwrites the oldest element, so the ring always holds the most
// recent data. This is the backing store for sliding windows such as the
// CLI's captured log lines.
type RingBuffer[T any] struct {
	mu         sync.Mutex
	buf        []T
	head, tail int64
}

// RingN creates a ring holding at most size elements.
func RingN[T any](size int) *RingBuffer[T] {
	if size < 1 {
		size = 1
	}
	return &RingBuffer[T]{buf: make([]T, size)}
}

// Add appends one element, overwriting the oldest when full.
func (rb *RingBuffer[T]) Add(t T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.buf[rb.tail%int64(len(rb.buf))] = t
	rb.tail++
	if rb.tail-rb.head > int64(len(rb.buf)) {
		rb.head++
	}
}

// Len returns the number of buffered elements.
func (rb *RingBuffer[T]) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return int(rb.tail - rb.head)
}

// Cap returns the ring capacity.
func (rb *RingBuffer[T]) Cap() int {
	return len(rb.buf)
}

// Reset discards all buffered elements.
func (rb *RingBuffer[T]) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.head = 0
	rb.tail = 0
}

// Bytes returns a copy of the buffered elements, oldest first.
func (rb *RingBuffer[T]) Bytes() []T {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	n := int(rb.tail - rb.head)
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = rb.buf[(rb.head+int64(i))%int64(len(rb.buf))]
	}
	return out
}

// Last returns a copy of the newest n buffered elements, oldest first.
// If fewer than n are buffered, all of them are returned.
func (rb *RingBuffer[T]) Last(n int) []T {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	avail := int(rb.tail - rb.head)
	if n > avail {
		n = avail
	}
	out := make([]T, n)
	start := rb.tail - int64(n)
	for i := 0; i < n; i++ {
		out[i] = rb.buf[(start+int64(i))%int64(len(rb.buf))]
	}
	return out
}
