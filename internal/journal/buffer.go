package journal

import "sync"

// Buffer is a thread-safe FIFO that doubles its capacity when it reaches 70%
// full, up to a fixed limit. Once the limit is reached new items are dropped
// instead of blocking the sender.
type Buffer[T any] struct {
	mu    sync.Mutex
	buf   []T
	head  int // read position
	tail  int // write position
	count int
	limit int

	// Receives a value whenever an item is added; capacity 1.
	ready chan struct{}

	closed bool

	// Stats
	received int64
	drained  int64
	dropped  int64
	resizes  int
}

// BufferStats contains buffer statistics.
type BufferStats struct {
	Count    int
	Capacity int
	Received int64
	Drained  int64
	Dropped  int64
	Resizes  int
}

// NewBuffer creates a buffer with the given initial capacity that never grows
// beyond limit items. A limit below the initial capacity is raised to it.
func NewBuffer[T any](initialCapacity, limit int) *Buffer[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	if limit < initialCapacity {
		limit = initialCapacity
	}
	return &Buffer[T]{
		buf:   make([]T, initialCapacity),
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

// Send appends item. It returns false if the buffer is closed or full.
func (b *Buffer[T]) Send(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	if b.count == b.limit {
		b.dropped++
		return false
	}

	threshold := (len(b.buf) * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if b.count+1 >= threshold && len(b.buf) < b.limit {
		b.grow()
	}
	if b.count == len(b.buf) {
		b.dropped++
		return false
	}

	b.buf[b.tail] = item
	b.tail = (b.tail + 1) % len(b.buf)
	b.count++
	b.received++

	select {
	case b.ready <- struct{}{}:
	default:
	}
	return true
}

// Ready returns a channel that receives after items are added.
func (b *Buffer[T]) Ready() <-chan struct{} {
	return b.ready
}

// DrainTo removes and returns up to max items in FIFO order (all items if
// max <= 0). It returns nil when the buffer is empty.
func (b *Buffer[T]) DrainTo(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}

	n := b.count
	if max > 0 && max < n {
		n = max
	}

	var zero T
	result := make([]T, n)
	for i := 0; i < n; i++ {
		result[i] = b.buf[b.head]
		b.buf[b.head] = zero
		b.head = (b.head + 1) % len(b.buf)
	}
	b.count -= n
	b.drained += int64(n)

	return result
}

// Close stops accepting items. Items already queued can still be drained.
func (b *Buffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// Len returns the number of queued items.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Stats returns buffer statistics.
func (b *Buffer[T]) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Count:    b.count,
		Capacity: len(b.buf),
		Received: b.received,
		Drained:  b.drained,
		Dropped:  b.dropped,
		Resizes:  b.resizes,
	}
}

// grow doubles the capacity, capped at limit. Must be called with lock held.
func (b *Buffer[T]) grow() {
	newCapacity := len(b.buf) * 2
	if newCapacity > b.limit {
		newCapacity = b.limit
	}
	newBuf := make([]T, newCapacity)

	if b.count > 0 {
		if b.head < b.tail {
			copy(newBuf, b.buf[b.head:b.tail])
		} else {
			n := copy(newBuf, b.buf[b.head:])
			copy(newBuf[n:], b.buf[:b.tail])
		}
	}

	b.buf = newBuf
	b.head = 0
	b.tail = b.count % newCapacity
	b.resizes++
}
