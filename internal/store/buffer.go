// Package store holds the daemon's in-memory telemetry state.
package store

import "sync"

// Buffer is a thread-safe bounded append-only sequence.
// Once full, further appends are dropped; existing items are never
// evicted, which preserves the earliest observed traffic.
type Buffer[T any] struct {
	mu      sync.RWMutex
	items   []T
	max     int
	dropped int
}

// NewBuffer creates a buffer with the given capacity.
func NewBuffer[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer[T]{max: capacity}
}

// Append adds an item. Returns false when the buffer is full and the
// item was dropped.
func (b *Buffer[T]) Append(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) >= b.max {
		b.dropped++
		return false
	}
	b.items = append(b.items, item)
	return true
}

// Len returns the current number of items.
func (b *Buffer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

// Cap returns the buffer capacity.
func (b *Buffer[T]) Cap() int {
	return b.max
}

// Dropped returns the number of appends rejected because the buffer was full.
func (b *Buffer[T]) Dropped() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// All returns a copy of every item, oldest first.
func (b *Buffer[T]) All() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.items) == 0 {
		return nil
	}
	out := make([]T, len(b.items))
	copy(out, b.items)
	return out
}

// At returns the item at index i, oldest first.
func (b *Buffer[T]) At(i int) (T, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var zero T
	if i < 0 || i >= len(b.items) {
		return zero, false
	}
	return b.items[i], true
}

// Find returns the newest item matching pred.
func (b *Buffer[T]) Find(pred func(T) bool) (T, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for i := len(b.items) - 1; i >= 0; i-- {
		if pred(b.items[i]) {
			return b.items[i], true
		}
	}
	var zero T
	return zero, false
}

// Tail returns up to n items from the end, skipping offset items from
// the end first. hasMore reports whether older items remain.
func (b *Buffer[T]) Tail(n, offset int) ([]T, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || offset < 0 {
		return nil, len(b.items) > 0
	}

	end := len(b.items) - offset
	if end <= 0 {
		return nil, false
	}
	start := end - n
	if start < 0 {
		start = 0
	}

	out := make([]T, end-start)
	copy(out, b.items[start:end])
	return out, start > 0
}
