// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ringbuffer implements a fixed-capacity FIFO queue.
package ringbuffer

// Ring is a FIFO queue of at most Cap() elements, backed by a circular slice.
// Push and Pop are O(1).
//
// It is not safe for concurrent use.
type Ring[T any] struct {
	data        []T
	first, size int
}

// New creates a Ring with the given capacity. A capacity <= 0 creates a Ring that holds nothing.
func New[T any](capacity int) *Ring[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Ring[T]{data: make([]T, capacity)}
}

// Len returns the number of elements in the queue.
func (r *Ring[T]) Len() int { return r.size }

// Cap returns the maximum number of elements the queue holds.
func (r *Ring[T]) Cap() int { return len(r.data) }

// Push appends value to the end of the queue.
//
// If the queue is full, the oldest element is removed to make room, and it is returned with evicted=true.
// A zero capacity Ring immediately returns value as evicted.
func (r *Ring[T]) Push(value T) (oldest T, evicted bool) {
	if len(r.data) == 0 {
		return value, true
	}
	if r.size == len(r.data) {
		oldest, _ = r.Pop()
		evicted = true
	}
	r.data[(r.first+r.size)%len(r.data)] = value
	r.size++
	return
}

// Pop removes and returns the oldest element. ok is false if the queue is empty.
func (r *Ring[T]) Pop() (value T, ok bool) {
	if r.size == 0 {
		return
	}
	var zero T
	value, r.data[r.first] = r.data[r.first], zero
	r.first = (r.first + 1) % len(r.data)
	r.size--
	return value, true
}

// All returns the elements from oldest to newest.
func (r *Ring[T]) All() []T {
	values := make([]T, r.size)
	for i := range values {
		values[i] = r.data[(r.first+i)%len(r.data)]
	}
	return values
}
