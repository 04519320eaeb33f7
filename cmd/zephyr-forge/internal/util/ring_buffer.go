// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import (
	"sync"
	"sync/atomic"
)

// RingBuffer is a fixed-capacity circular buffer that overwrites the oldest
// item when full.
//
// # Description
//
// The orchestrator keeps one RingBuffer[string] per started container so the
// last lines a container printed are available when its bring-up fails,
// without holding an unbounded log in memory.
//
// # Thread Safety
//
// All methods are safe for concurrent use. The log streamer pushes while the
// main flow reads.
type RingBuffer[T any] struct {
	buffer   []T
	head     int
	tail     int
	size     int
	capacity int
	dropped  int64
	mu       sync.Mutex
}

// NewRingBuffer creates a buffer holding at most capacity items.
//
// Panics if capacity is not positive.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		panic("ring buffer capacity must be positive")
	}
	return &RingBuffer[T]{
		buffer:   make([]T, capacity),
		capacity: capacity,
	}
}

// Push appends item, evicting the oldest item when full. Returns true if an
// item was evicted.
func (r *RingBuffer[T]) Push(item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := false
	if r.size == r.capacity {
		r.head = (r.head + 1) % r.capacity
		r.size--
		atomic.AddInt64(&r.dropped, 1)
		dropped = true
	}

	r.buffer[r.tail] = item
	r.tail = (r.tail + 1) % r.capacity
	r.size++
	return dropped
}

// ToSlice returns a copy of all items, oldest first, without removing them.
func (r *RingBuffer[T]) ToSlice() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastLocked(r.size)
}

// Last returns a copy of the newest n items, oldest first.
func (r *RingBuffer[T]) Last(n int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastLocked(n)
}

func (r *RingBuffer[T]) lastLocked(n int) []T {
	if n <= 0 || r.size == 0 {
		return nil
	}
	if n > r.size {
		n = r.size
	}
	result := make([]T, n)
	start := (r.head + r.size - n) % r.capacity
	for i := 0; i < n; i++ {
		result[i] = r.buffer[(start+i)%r.capacity]
	}
	return result
}

// Size returns the number of items currently held.
func (r *RingBuffer[T]) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Capacity returns the fixed capacity.
func (r *RingBuffer[T]) Capacity() int {
	return r.capacity
}

// DroppedCount returns how many items were evicted since creation or Clear.
func (r *RingBuffer[T]) DroppedCount() int64 {
	return atomic.LoadInt64(&r.dropped)
}

// Clear removes all items and resets the dropped counter.
func (r *RingBuffer[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.buffer {
		r.buffer[i] = zero
	}
	r.head = 0
	r.tail = 0
	r.size = 0
	atomic.StoreInt64(&r.dropped, 0)
}
