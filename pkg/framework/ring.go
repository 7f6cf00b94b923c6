package framework

import "sync"

// Ring is a bounded FIFO safe for use between an interrupt-like producer
// and a task consumer. Put fails when full instead of overwriting.
type Ring[T any] struct {
	lock  sync.Mutex
	items []T
	head  int
	count int
}

// NewRing creates a Ring with the capacity.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Cap returns the capacity.
func (r *Ring[T]) Cap() int {
	return len(r.items)
}

// Len returns the number of queued items.
func (r *Ring[T]) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.count
}

// Put appends an item, returns false if full.
func (r *Ring[T]) Put(v T) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.count == len(r.items) {
		return false
	}
	r.items[(r.head+r.count)%len(r.items)] = v
	r.count++
	return true
}

// Get removes the oldest item.
func (r *Ring[T]) Get() (v T, ok bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.count == 0 {
		return v, false
	}
	v = r.items[r.head]
	var zero T
	r.items[r.head] = zero
	r.head = (r.head + 1) % len(r.items)
	r.count--
	return v, true
}

// Peek returns the oldest item without removing it.
func (r *Ring[T]) Peek() (v T, ok bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.count == 0 {
		return v, false
	}
	return r.items[r.head], true
}

// Clear drops all items.
func (r *Ring[T]) Clear() {
	r.lock.Lock()
	defer r.lock.Unlock()
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head, r.count = 0, 0
}
