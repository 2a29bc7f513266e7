// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package ringbuffer provides a fixed-capacity FIFO that overwrites its oldest
// element once full.
//
// RingBuffer is NOT safe for concurrent use; callers provide their own locking.
package ringbuffer

import "fmt"

// RingBuffer holds up to Cap() elements in insertion order.
//
// Storage grows on demand up to the capacity, so a very large capacity does not
// allocate until it is actually used.
type RingBuffer[T any] struct {
	items    []T
	head     int // index of the oldest element once the buffer has wrapped
	capacity int
}

// New returns an empty ring buffer holding at most capacity elements.
func New[T any](capacity int) (*RingBuffer[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ring buffer capacity must be positive, got %d", capacity)
	}
	return &RingBuffer[T]{capacity: capacity}, nil
}

// Push appends item, evicting the oldest element when the buffer is full.
// It reports whether an element was evicted.
func (r *RingBuffer[T]) Push(item T) bool {
	if len(r.items) < r.capacity {
		r.items = append(r.items, item)
		return false
	}
	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	return true
}

// GetAll returns a copy of the elements, oldest first.
func (r *RingBuffer[T]) GetAll() []T {
	out := make([]T, 0, len(r.items))
	out = append(out, r.items[r.head:]...)
	out = append(out, r.items[:r.head]...)
	return out
}

// Oldest returns the oldest element.
func (r *RingBuffer[T]) Oldest() (T, bool) {
	var zero T
	if len(r.items) == 0 {
		return zero, false
	}
	return r.items[r.head], true
}

// Newest returns the most recently pushed element.
func (r *RingBuffer[T]) Newest() (T, bool) {
	var zero T
	if len(r.items) == 0 {
		return zero, false
	}
	idx := r.head - 1
	if idx < 0 {
		idx = len(r.items) - 1
	}
	return r.items[idx], true
}

// Clear drops every element and releases the backing storage.
func (r *RingBuffer[T]) Clear() {
	r.items = nil
	r.head = 0
}

// Len returns the number of stored elements.
func (r *RingBuffer[T]) Len() int {
	return len(r.items)
}

// Cap returns the maximum number of elements.
func (r *RingBuffer[T]) Cap() int {
	return r.capacity
}
